package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gregtusar/perptrader/pkg/bybit"
	"github.com/gregtusar/perptrader/pkg/candles"
	"github.com/gregtusar/perptrader/pkg/models"
	"github.com/gregtusar/perptrader/pkg/orderbook"
	"github.com/gregtusar/perptrader/pkg/strategy"
)

// ErrOrphanOrders aborts startup when the account already has working orders
// and the engine is not allowed to cancel them.
var ErrOrphanOrders = errors.New("active orders exist on the account")

// Stream is the realtime session the engine reads frames from.
type Stream interface {
	SetTopics(topics []string)
	Connect(ctx context.Context) error
	Connected() bool
	ReadFrame() (*bybit.Frame, error)
	Ping() error
	Resubscribe(topic string) error
	Close() error
}

type Config struct {
	HeartbeatInterval    time.Duration
	BookResyncInterval   time.Duration
	PositionPollInterval time.Duration
	ReconnectDelay       time.Duration
	StopLossCooldown     time.Duration
	CancelOrphans        bool
	RetentionFactor      int
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 45 * time.Second
	}
	if c.BookResyncInterval <= 0 {
		c.BookResyncInterval = time.Hour
	}
	if c.PositionPollInterval <= 0 {
		c.PositionPollInterval = 5 * time.Minute
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.StopLossCooldown <= 0 {
		c.StopLossCooldown = 5 * time.Second
	}
	if c.RetentionFactor <= 0 {
		c.RetentionFactor = candles.DefaultRetentionFactor
	}
	return c
}

// Engine is the trading loop. All market and position state is owned by the
// goroutine running Run; other goroutines only see published Status values
// and may flip the halt flag.
type Engine struct {
	cfg      Config
	exchange Exchange
	stream   Stream
	strategy strategy.Strategy
	params   strategy.Parameters
	logger   *logrus.Entry
	now      func() time.Time

	book     *orderbook.Book
	position *models.Position
	candles  *candles.Store
	orders   *OrderManager

	newCandle     bool
	cancelPending bool
	lastPing      time.Time
	lastResync    time.Time
	lastPoll      time.Time
	stopLossUntil time.Time

	halted   atomic.Bool
	statusMu sync.RWMutex
	reason   string
	status   Status
}

func NewEngine(cfg Config, exchange Exchange, stream Stream, strat strategy.Strategy, logger *logrus.Logger) (*Engine, error) {
	cfg = cfg.withDefaults()
	params := strat.Parameters()

	store, err := candles.NewStore(params.TimeFrames, cfg.RetentionFactor)
	if err != nil {
		return nil, fmt.Errorf("candle store: %w", err)
	}
	position := models.NewPosition(params.Symbol, params.StopLossPercentage)

	return &Engine{
		cfg:      cfg,
		exchange: exchange,
		stream:   stream,
		strategy: strat,
		params:   params,
		logger:   logger.WithField("component", "engine"),
		now:      time.Now,
		book:     orderbook.New(),
		position: position,
		candles:  store,
		orders:   NewOrderManager(exchange, params.Symbol, position, logger),
	}, nil
}

// Topics returns the stream topics the engine needs.
func (e *Engine) Topics() []string {
	topics := []string{bybit.TopicPosition, bybit.TopicOrder, bybit.OrderBookTopic(e.params.Symbol)}
	for _, tf := range e.candles.TimeFrames() {
		topics = append(topics, bybit.KlineTopic(tf.Symbol, e.params.Symbol))
	}
	return topics
}

// Start loads candle history and resolves orders left over from a previous run.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.WithFields(logrus.Fields{
		"strategy":   e.strategy.Name(),
		"symbol":     e.params.Symbol,
		"qty":        e.params.Qty,
		"order_type": e.params.OrderType,
		"slippage":   e.params.Slippage,
		"stop_loss":  e.params.StopLossPercentage,
	}).Info("Starting engine")

	for _, tf := range e.candles.TimeFrames() {
		series, err := e.exchange.GetCandles(ctx, e.params.Symbol, tf)
		if err != nil {
			return fmt.Errorf("load %s candles: %w", tf, err)
		}
		if err := e.candles.Load(tf.Symbol, series); err != nil {
			return err
		}
		e.logger.WithFields(logrus.Fields{"timeframe": tf.String(), "candles": len(series)}).Info("Loaded candle history")
	}

	active, err := e.exchange.GetActiveOrders(ctx, e.params.Symbol)
	if err != nil {
		return fmt.Errorf("check active orders: %w", err)
	}
	if len(active) > 0 {
		if !e.cfg.CancelOrphans {
			return fmt.Errorf("%w: %d order(s) on %s, cancel them or enable trading.cancel_orphans", ErrOrphanOrders, len(active), e.params.Symbol)
		}
		e.logger.WithField("orders", len(active)).Warn("Cancelling orphaned orders")
		if err := e.exchange.CancelAllOrders(ctx, e.params.Symbol); err != nil {
			return fmt.Errorf("cancel orphaned orders: %w", err)
		}
	}

	e.stream.SetTopics(e.Topics())
	e.publishStatus()
	return nil
}

// Run starts the engine and processes frames until ctx is cancelled. Stream
// failures are retried after ReconnectDelay; only startup errors are returned.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	defer e.shutdown()

	for ctx.Err() == nil {
		if !e.stream.Connected() {
			if err := e.connect(ctx); err != nil {
				e.logger.WithError(err).Warn("Stream connect failed")
				e.backoff(ctx)
				continue
			}
		}

		frame, err := e.stream.ReadFrame()
		if err != nil {
			if errors.Is(err, bybit.ErrMalformedFrame) {
				e.logger.WithError(err).Warn("Dropping malformed frame")
				continue
			}
			if ctx.Err() != nil {
				break
			}
			e.logger.WithError(err).Warn("Stream lost")
			e.publishStatus()
			e.backoff(ctx)
			continue
		}

		e.Dispatch(frame)
		e.Tick(ctx)
	}
	return nil
}

// connect opens the stream and re-reads position state that may have changed
// while disconnected. The book is emptied until a fresh snapshot arrives.
func (e *Engine) connect(ctx context.Context) error {
	e.book.ApplySnapshot(nil)
	if err := e.stream.Connect(ctx); err != nil {
		return err
	}
	now := e.now()
	e.lastPing, e.lastResync = now, now

	if err := e.syncPosition(ctx); err != nil {
		e.logger.WithError(err).Error("Position resync failed")
	}
	e.reconcileOrder(ctx)
	e.publishStatus()
	return nil
}

func (e *Engine) backoff(ctx context.Context) {
	t := time.NewTimer(e.cfg.ReconnectDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (e *Engine) shutdown() {
	if o, ok := e.position.ActiveOrder(); ok {
		e.logger.WithFields(logrus.Fields{
			"order_id": o.ID,
			"qty":      o.Qty,
			"price":    o.Price,
		}).Warn("Shutting down with a live order on the exchange")
	}
	if !e.position.IsFlat() {
		e.logger.WithField("qty", e.position.Qty).Warn("Shutting down with an open position")
	}
	e.stream.Close()
	e.publishStatus()
	e.logger.Info("Engine stopped")
}

func (e *Engine) syncPosition(ctx context.Context) error {
	snap, err := e.exchange.GetPosition(ctx, e.params.Symbol)
	if err != nil {
		return err
	}
	e.position.Apply(snap)
	e.stopLossUntil = time.Time{}
	e.lastPoll = e.now()
	e.logPosition()
	return nil
}

// reconcileOrder drops the tracked order when the exchange no longer lists it.
// Order events missed during an outage cannot be replayed.
func (e *Engine) reconcileOrder(ctx context.Context) {
	o, ok := e.position.ActiveOrder()
	if !ok {
		return
	}
	active, err := e.exchange.GetActiveOrders(ctx, e.params.Symbol)
	if err != nil {
		e.logger.WithError(err).Error("Active order reconcile failed")
		return
	}
	for _, a := range active {
		if a.OrderID == o.ID {
			return
		}
	}
	e.logger.WithField("order_id", o.ID).Info("Tracked order no longer active, clearing")
	e.position.ClearActiveOrder()
}

func (e *Engine) logPosition() {
	e.logger.WithFields(logrus.Fields{
		"qty":         e.position.Qty,
		"entry_price": e.position.EntryPrice,
		"stop_loss":   e.position.StopLossPrice,
		"liq_price":   e.position.LiqPrice,
	}).Info("Position")
}

// Tick runs one decision pass: timers, the stop-loss backstop, then (unless
// halted) cancel handling, candle-edge evaluation and repricing.
func (e *Engine) Tick(ctx context.Context) {
	defer e.publishStatus()

	now := e.now()
	e.runTimers(ctx, now)

	if e.checkStopLoss(ctx, now) {
		e.newCandle = false
		e.cancelPending = false
		return
	}
	if e.halted.Load() {
		return
	}

	if e.cancelPending {
		e.cancelPending = false
		if o, ok := e.position.ActiveOrder(); ok {
			e.handle(e.orders.OnCancelled(ctx, e.book.BestPrice(o.Side())))
		}
	}

	if e.newCandle {
		e.newCandle = false
		e.evaluate(ctx)
	}

	if o, ok := e.position.ActiveOrder(); ok && !e.book.IsEmpty() {
		e.handle(e.orders.Reprice(ctx, e.book.BestPrice(o.Side())))
	}
}

func (e *Engine) runTimers(ctx context.Context, now time.Time) {
	if e.stream.Connected() && now.Sub(e.lastPing) >= e.cfg.HeartbeatInterval {
		e.lastPing = now
		if err := e.stream.Ping(); err != nil {
			e.logger.WithError(err).Warn("Heartbeat failed")
		}
	}
	if e.stream.Connected() && now.Sub(e.lastResync) >= e.cfg.BookResyncInterval {
		e.lastResync = now
		if err := e.stream.Resubscribe(bybit.OrderBookTopic(e.params.Symbol)); err != nil {
			e.logger.WithError(err).Warn("Order book resync failed")
		}
	}
	if now.Sub(e.lastPoll) >= e.cfg.PositionPollInterval {
		e.lastPoll = now
		if err := e.syncPosition(ctx); err != nil {
			e.logger.WithError(err).Error("Position poll failed")
		}
	}
}

// checkStopLoss closes the position at market when the book crosses the
// stop-loss price. It runs on every tick, halted or not. Returns true when it fired.
func (e *Engine) checkStopLoss(ctx context.Context, now time.Time) bool {
	if e.position.IsFlat() || now.Before(e.stopLossUntil) {
		return false
	}
	mid, ok := e.stopLossReference()
	if !ok || !e.position.StopLossHit(mid) {
		return false
	}

	e.logger.WithFields(logrus.Fields{
		"qty":        e.position.Qty,
		"entry":      e.position.EntryPrice,
		"stop_price": e.position.StopLossPrice,
		"mid":        mid,
	}).Warn("Stop-loss triggered")

	e.handle(e.orders.Cancel(ctx))
	e.handle(e.orders.PlaceMarket(ctx, -e.position.Qty, true))
	e.stopLossUntil = now.Add(e.cfg.StopLossCooldown)
	return true
}

// stopLossReference is the mid of a two-sided book. With one side wiped out
// the remaining best price stands in, so a long still stops out when only
// asks below the stop are left.
func (e *Engine) stopLossReference() (float64, bool) {
	bids, asks := e.book.Depth()
	switch {
	case bids > 0 && asks > 0:
		return e.book.Mid(), true
	case bids > 0:
		return e.book.BestBid(), true
	case asks > 0:
		return e.book.BestAsk(), true
	}
	return 0, false
}

// evaluate consults the strategy once per confirmed candle.
func (e *Engine) evaluate(ctx context.Context) {
	if !e.position.IsFlat() {
		if !e.strategy.CheckExit(e.candles, *e.position) {
			return
		}
		if o, ok := e.position.ActiveOrder(); ok {
			if o.Reduce {
				return
			}
			if err := e.orders.Cancel(ctx); err != nil {
				e.handle(err)
				return
			}
		}
		e.logger.WithField("qty", e.position.Qty).Info("Exit signal")
		e.order(ctx, -e.position.Qty, true)
		return
	}

	if e.position.HasActiveOrder() {
		return
	}
	var qty int64
	switch {
	case e.strategy.CheckLongEntry(e.candles):
		qty = e.params.Qty
	case e.strategy.CheckShortEntry(e.candles):
		qty = -e.params.Qty
	default:
		return
	}
	e.logger.WithField("qty", qty).Info("Entry signal")
	e.order(ctx, qty, false)
}

func (e *Engine) order(ctx context.Context, qty int64, reduce bool) {
	if e.params.OrderType == models.OrderTypeMarket {
		e.handle(e.orders.PlaceMarket(ctx, qty, reduce))
		return
	}
	if e.book.IsEmpty() {
		e.logger.Warn("Order book not ready, skipping limit order")
		return
	}
	side := models.SideBuy
	if qty < 0 {
		side = models.SideSell
	}
	price := e.book.BestPrice(side)
	e.handle(e.orders.Place(ctx, models.NewLimitOrder(price, qty, e.params.Slippage, reduce)))
}

// handle logs an order action failure. Unexpected exchange answers halt
// trading until an operator resumes it.
func (e *Engine) handle(err error) {
	if err == nil {
		return
	}
	if bybit.IsUnexpected(err) {
		e.logger.WithError(err).Error("Unexpected exchange response, halting trading")
		e.Halt(err.Error())
		return
	}
	e.logger.WithError(err).Error("Order action failed")
}

// Halt suspends order placement and repricing. The stop-loss keeps running.
func (e *Engine) Halt(reason string) {
	e.statusMu.Lock()
	e.reason = reason
	e.statusMu.Unlock()
	if !e.halted.Swap(true) {
		e.logger.WithField("reason", reason).Warn("Trading halted")
	}
}

func (e *Engine) Resume() {
	e.statusMu.Lock()
	e.reason = ""
	e.statusMu.Unlock()
	if e.halted.Swap(false) {
		e.logger.Info("Trading resumed")
	}
}

func (e *Engine) Halted() bool {
	return e.halted.Load()
}
