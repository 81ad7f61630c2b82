package trader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/gregtusar/perptrader/pkg/bybit"
	"github.com/gregtusar/perptrader/pkg/models"
	"github.com/gregtusar/perptrader/pkg/strategy"
)

type exchangeCall struct {
	Method  string
	OrderID string
	Price   float64
	Req     models.OrderRequest
}

type fakeExchange struct {
	calls    []exchangeCall
	position models.PositionSnapshot
	active   []models.ActiveOrder
	candles  []models.Candle
	nextID   int

	createErr   error
	createCode  int
	replaceErr  error
	replaceGone bool
	cancelErr   error
	cancelGone  bool
}

func (f *fakeExchange) record(c exchangeCall) {
	f.calls = append(f.calls, c)
}

func (f *fakeExchange) methods() []string {
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Method)
	}
	return out
}

func (f *fakeExchange) creates() []models.OrderRequest {
	var out []models.OrderRequest
	for _, c := range f.calls {
		if c.Method == "create" {
			out = append(out, c.Req)
		}
	}
	return out
}

func (f *fakeExchange) GetCandles(ctx context.Context, symbol string, tf models.TimeFrame) ([]models.Candle, error) {
	f.record(exchangeCall{Method: "candles"})
	return f.candles, nil
}

func (f *fakeExchange) GetPosition(ctx context.Context, symbol string) (models.PositionSnapshot, error) {
	f.record(exchangeCall{Method: "position"})
	return f.position, nil
}

func (f *fakeExchange) GetActiveOrders(ctx context.Context, symbol string) ([]models.ActiveOrder, error) {
	f.record(exchangeCall{Method: "active"})
	return f.active, nil
}

func (f *fakeExchange) CancelAllOrders(ctx context.Context, symbol string) error {
	f.record(exchangeCall{Method: "cancel_all"})
	f.active = nil
	return nil
}

func (f *fakeExchange) CreateOrder(ctx context.Context, req models.OrderRequest) (bybit.CreateResult, error) {
	f.record(exchangeCall{Method: "create", Req: req, Price: req.Price})
	if f.createErr != nil {
		return bybit.CreateResult{}, f.createErr
	}
	if f.createCode != 0 {
		return bybit.CreateResult{Code: f.createCode}, nil
	}
	f.nextID++
	return bybit.CreateResult{OrderID: fmt.Sprintf("id-%d", f.nextID)}, nil
}

func (f *fakeExchange) ReplaceOrder(ctx context.Context, symbol, orderID string, price float64) (bool, error) {
	f.record(exchangeCall{Method: "replace", OrderID: orderID, Price: price})
	return f.replaceGone, f.replaceErr
}

func (f *fakeExchange) CancelOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	f.record(exchangeCall{Method: "cancel", OrderID: orderID})
	return f.cancelGone, f.cancelErr
}

// fakeStream replays queued frames and read errors. Once the queue is empty
// it cancels the run context.
type fakeStream struct {
	queue     []streamItem
	stop      context.CancelFunc
	topics    []string
	connected bool
	connects  int
	pings     int
	resubs    []string
	closed    bool
}

type streamItem struct {
	frame *bybit.Frame
	err   error
}

func (s *fakeStream) SetTopics(topics []string) { s.topics = topics }

func (s *fakeStream) Connect(ctx context.Context) error {
	s.connects++
	s.connected = true
	return nil
}

func (s *fakeStream) Connected() bool { return s.connected }

func (s *fakeStream) ReadFrame() (*bybit.Frame, error) {
	if len(s.queue) == 0 {
		if s.stop != nil {
			s.stop()
		}
		s.connected = false
		return nil, io.EOF
	}
	item := s.queue[0]
	s.queue = s.queue[1:]
	if item.err != nil && !errors.Is(item.err, bybit.ErrMalformedFrame) {
		s.connected = false
	}
	return item.frame, item.err
}

func (s *fakeStream) Ping() error {
	s.pings++
	return nil
}

func (s *fakeStream) Resubscribe(topic string) error {
	s.resubs = append(s.resubs, topic)
	return nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	s.connected = false
	return nil
}

type stubStrategy struct {
	params      strategy.Parameters
	long, short bool
	exit        bool
	evaluations int
}

func (s *stubStrategy) Name() string                   { return "stub" }
func (s *stubStrategy) Parameters() strategy.Parameters { return s.params }
func (s *stubStrategy) CheckLongEntry(strategy.History) bool {
	s.evaluations++
	return s.long
}
func (s *stubStrategy) CheckShortEntry(strategy.History) bool { return s.short }
func (s *stubStrategy) CheckExit(strategy.History, models.Position) bool {
	s.evaluations++
	return s.exit
}

func newStub(t *testing.T, orderType models.OrderType) *stubStrategy {
	tf, err := models.NewTimeFrame("1", 10)
	require.NoError(t, err)
	return &stubStrategy{params: strategy.Parameters{
		Symbol:             "BTCUSD",
		TimeFrames:         []models.TimeFrame{tf},
		Qty:                100,
		OrderType:          orderType,
		Slippage:           5,
		StopLossPercentage: 0.03,
	}}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

var testClock = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

// newTestEngine builds an engine with a frozen clock whose periodic timers
// are not yet due.
func newTestEngine(t *testing.T, strat strategy.Strategy, ex *fakeExchange, st *fakeStream) *Engine {
	e, err := NewEngine(Config{}, ex, st, strat, quietLogger())
	require.NoError(t, err)
	e.now = func() time.Time { return testClock }
	e.lastPing, e.lastResync, e.lastPoll = testClock, testClock, testClock
	return e
}

func bookFrame(t *testing.T, kind string, data interface{}) *bybit.Frame {
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return &bybit.Frame{Topic: bybit.OrderBookTopic("BTCUSD"), Type: kind, Data: raw}
}

func twoSidedBook(t *testing.T, bid, ask float64) *bybit.Frame {
	return bookFrame(t, "snapshot", []map[string]interface{}{
		{"id": 1, "side": "Buy", "price": fmt.Sprint(bid), "size": 10},
		{"id": 2, "side": "Sell", "price": fmt.Sprint(ask), "size": 10},
	})
}

func rawFrame(topic, data string) *bybit.Frame {
	return &bybit.Frame{Topic: topic, Data: json.RawMessage(data)}
}
