package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	MainnetStreamURL = "wss://stream.bybit.com/realtime"
	TestnetStreamURL = "wss://stream-testnet.bybit.com/realtime"
)

type StreamConfig struct {
	URL              string
	Testnet          bool
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration // zero disables the read deadline
}

// Session is the authenticated realtime stream. It is driven from a single
// goroutine: ReadFrame blocks until one frame arrives, and writes (ping,
// resubscribe) happen between reads.
type Session struct {
	url         string
	readTimeout time.Duration
	dialer      *websocket.Dialer
	signer      *Signer
	topics      []string
	logger      *logrus.Entry

	conn          *websocket.Conn
	stopClose     func() bool
	connected     bool
	authenticated bool
	subscriptions map[string]bool
}

func NewSession(cfg StreamConfig, signer *Signer, logger *logrus.Logger) *Session {
	url := cfg.URL
	if url == "" {
		url = MainnetStreamURL
		if cfg.Testnet {
			url = TestnetStreamURL
		}
	}
	handshake := cfg.HandshakeTimeout
	if handshake <= 0 {
		handshake = 10 * time.Second
	}

	return &Session{
		url:           url,
		readTimeout:   cfg.ReadTimeout,
		dialer:        &websocket.Dialer{HandshakeTimeout: handshake, Proxy: http.ProxyFromEnvironment},
		signer:        signer,
		logger:        logger.WithField("component", "stream"),
		subscriptions: make(map[string]bool),
	}
}

// SetTopics fixes the topic set subscribed on every (re)connect.
func (s *Session) SetTopics(topics []string) {
	s.topics = append([]string(nil), topics...)
}

func (s *Session) Topics() []string {
	return append([]string(nil), s.topics...)
}

// Connect dials, authenticates and subscribes to all topics. Acks arrive
// later through ReadFrame. Cancelling ctx closes the connection, which
// unblocks a pending ReadFrame.
func (s *Session) Connect(ctx context.Context) error {
	if s.connected {
		return nil
	}

	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to websocket: %w", err)
	}

	s.conn = conn
	s.connected = true
	s.authenticated = false
	s.subscriptions = make(map[string]bool)
	s.stopClose = context.AfterFunc(ctx, func() { conn.Close() })

	expires, signature := s.signer.RealtimeAuth()
	if err := s.write(request{Op: "auth", Args: []interface{}{s.signer.APIKey(), expires, signature}}); err != nil {
		s.drop()
		return fmt.Errorf("send auth: %w", err)
	}
	if err := s.subscribe("subscribe", s.topics...); err != nil {
		s.drop()
		return fmt.Errorf("send subscribe: %w", err)
	}

	s.logger.WithFields(logrus.Fields{"url": s.url, "topics": s.topics}).Info("Stream connected")
	return nil
}

func (s *Session) Connected() bool {
	return s.connected
}

func (s *Session) Authenticated() bool {
	return s.authenticated
}

// Subscribed reports whether the exchange acknowledged the topic.
func (s *Session) Subscribed(topic string) bool {
	return s.subscriptions[topic]
}

// ReadFrame blocks for the next frame. Ack frames are consumed into session
// state and also returned. A read error kills the session; a frame that
// fails to decode returns ErrMalformedFrame and the session stays up.
func (s *Session) ReadFrame() (*Frame, error) {
	if !s.connected {
		return nil, ErrNotConnected
	}
	if s.readTimeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	}

	_, raw, err := s.conn.ReadMessage()
	if err != nil {
		s.drop()
		return nil, fmt.Errorf("read stream: %w", err)
	}

	frame, err := DecodeFrame(raw)
	if err != nil {
		return nil, err
	}
	if frame.IsAck() {
		s.handleAck(frame)
	}
	return frame, nil
}

func (s *Session) handleAck(f *Frame) {
	op := ""
	if f.Request != nil {
		op = f.Request.Op
	}
	args := f.Request.ArgStrings()
	log := s.logger.WithFields(logrus.Fields{"op": op, "ret_msg": f.RetMsg})

	if !*f.Success {
		switch op {
		case "auth":
			log.Error("Stream authentication rejected")
		case "subscribe":
			for _, topic := range args {
				delete(s.subscriptions, topic)
			}
			log.WithField("topics", args).Error("Subscription rejected, topics assumed missing")
		default:
			log.Warn("Stream request rejected")
		}
		return
	}

	switch op {
	case "auth":
		s.authenticated = true
		log.Info("Stream authenticated")
	case "subscribe":
		for _, topic := range args {
			s.subscriptions[topic] = true
		}
		log.WithField("topics", args).Info("Subscribed")
	case "unsubscribe":
		for _, topic := range args {
			delete(s.subscriptions, topic)
		}
		log.WithField("topics", args).Debug("Unsubscribed")
	case "ping":
		log.Debug("Pong")
	}
}

// Ping sends the application-level heartbeat.
func (s *Session) Ping() error {
	if !s.connected {
		return ErrNotConnected
	}
	if err := s.write(request{Op: "ping"}); err != nil {
		s.drop()
		return fmt.Errorf("send ping: %w", err)
	}
	return nil
}

// Resubscribe cycles a topic so the exchange sends a fresh snapshot.
func (s *Session) Resubscribe(topic string) error {
	if !s.connected {
		return ErrNotConnected
	}
	if err := s.subscribe("unsubscribe", topic); err != nil {
		s.drop()
		return err
	}
	if err := s.subscribe("subscribe", topic); err != nil {
		s.drop()
		return err
	}
	s.logger.WithField("topic", topic).Debug("Resubscribed")
	return nil
}

func (s *Session) subscribe(op string, topics ...string) error {
	if len(topics) == 0 {
		return nil
	}
	sorted := append([]string(nil), topics...)
	sort.Strings(sorted)
	args := make([]interface{}, len(sorted))
	for i, t := range sorted {
		args[i] = t
	}
	return s.write(request{Op: op, Args: args})
}

func (s *Session) write(msg request) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close shuts the connection down with a normal close frame.
func (s *Session) Close() error {
	if !s.connected {
		return nil
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	s.drop()
	return nil
}

func (s *Session) drop() {
	s.connected = false
	s.authenticated = false
	if s.stopClose != nil {
		s.stopClose()
		s.stopClose = nil
	}
	if s.conn != nil {
		s.conn.Close()
	}
}
