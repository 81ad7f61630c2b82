package trader

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/gregtusar/perptrader/pkg/bybit"
	"github.com/gregtusar/perptrader/pkg/models"
)

// Exchange is the REST surface the engine trades through.
type Exchange interface {
	GetCandles(ctx context.Context, symbol string, tf models.TimeFrame) ([]models.Candle, error)
	GetPosition(ctx context.Context, symbol string) (models.PositionSnapshot, error)
	GetActiveOrders(ctx context.Context, symbol string) ([]models.ActiveOrder, error)
	CancelAllOrders(ctx context.Context, symbol string) error
	CreateOrder(ctx context.Context, req models.OrderRequest) (bybit.CreateResult, error)
	ReplaceOrder(ctx context.Context, symbol, orderID string, price float64) (gone bool, err error)
	CancelOrder(ctx context.Context, symbol, orderID string) (gone bool, err error)
}

// OrderManager drives the single outstanding order held by the position:
// NONE -> LIVE -> NONE (cancelled or filled), LIVE -> LIVE (repriced).
type OrderManager struct {
	exchange Exchange
	symbol   string
	position *models.Position
	logger   *logrus.Entry
}

func NewOrderManager(exchange Exchange, symbol string, position *models.Position, logger *logrus.Logger) *OrderManager {
	return &OrderManager{
		exchange: exchange,
		symbol:   symbol,
		position: position,
		logger:   logger.WithField("component", "orders"),
	}
}

// Place submits o as a post-only limit order and makes it the active order
// once the exchange acknowledges it. Nothing changes on rejection.
func (m *OrderManager) Place(ctx context.Context, o models.Order) error {
	if m.position.HasActiveOrder() {
		return fmt.Errorf("order already live")
	}
	if o.Qty == 0 {
		return fmt.Errorf("zero quantity order")
	}

	res, err := m.exchange.CreateOrder(ctx, models.OrderRequest{
		Symbol:     m.symbol,
		Side:       o.Side(),
		Type:       models.OrderTypeLimit,
		Price:      o.Price,
		Qty:        abs(o.Qty),
		ReduceOnly: o.Reduce,
	})
	if err != nil {
		return fmt.Errorf("place limit order: %w", err)
	}

	o.ID = res.OrderID
	m.position.SetActiveOrder(o)
	m.logger.WithFields(logrus.Fields{
		"order_id": o.ID,
		"side":     o.Side(),
		"qty":      o.Qty,
		"price":    o.Price,
		"band_low": o.Band.Low,
		"band_hi":  o.Band.High,
		"reduce":   o.Reduce,
	}).Info("Limit order placed")
	return nil
}

// PlaceMarket submits a market order for the signed qty. Market orders are
// never tracked as the active order.
func (m *OrderManager) PlaceMarket(ctx context.Context, qty int64, reduce bool) error {
	if qty == 0 {
		return fmt.Errorf("zero quantity order")
	}
	side := models.SideBuy
	if qty < 0 {
		side = models.SideSell
	}

	res, err := m.exchange.CreateOrder(ctx, models.OrderRequest{
		Symbol:     m.symbol,
		Side:       side,
		Type:       models.OrderTypeMarket,
		Qty:        abs(qty),
		ReduceOnly: reduce,
	})
	if err != nil {
		return fmt.Errorf("place market order: %w", err)
	}

	log := m.logger.WithFields(logrus.Fields{
		"order_id": res.OrderID,
		"side":     side,
		"qty":      qty,
		"reduce":   reduce,
	})
	if res.Code != bybit.CodeOK {
		log.WithField("ret_code", res.Code).Info("Market close skipped, position already reduced")
		return nil
	}
	log.Info("Market order placed")
	return nil
}

// Reprice moves the live order to best while best stays inside the order's
// band. Once best drifts out of the band a reduce order is converted into a
// market close and an entry order is abandoned.
func (m *OrderManager) Reprice(ctx context.Context, best float64) error {
	o, ok := m.position.ActiveOrder()
	if !ok || best == o.Price {
		return nil
	}

	if !o.Band.Contains(best) {
		m.logger.WithFields(logrus.Fields{
			"order_id": o.ID,
			"price":    o.Price,
			"best":     best,
		}).Info("Best price left slippage band")
		return m.abandon(ctx, o, true)
	}

	gone, err := m.exchange.ReplaceOrder(ctx, m.symbol, o.ID, best)
	if err != nil {
		return fmt.Errorf("reprice order %s: %w", o.ID, err)
	}
	if gone {
		m.logger.WithField("order_id", o.ID).Info("Order already closed, clearing")
		m.position.ClearActiveOrder()
		return nil
	}

	m.logger.WithFields(logrus.Fields{
		"order_id": o.ID,
		"from":     o.Price,
		"to":       best,
	}).Debug("Order repriced")
	o.Price = best
	m.position.SetActiveOrder(o)
	return nil
}

// OnCancelled handles a server-side cancellation of the active order, e.g. a
// post-only order that would have crossed. The unexecuted remainder is
// re-placed at best if best is still inside the original band.
func (m *OrderManager) OnCancelled(ctx context.Context, best float64) error {
	o, ok := m.position.ActiveOrder()
	if !ok {
		return nil
	}
	m.position.ClearActiveOrder()

	remaining := o.Remaining()
	if remaining == 0 {
		m.logger.WithFields(logrus.Fields{"order_id": o.ID, "executed": o.Executed}).Info("Order cancelled after full execution")
		return nil
	}
	o.Qty = remaining

	if o.Band.Contains(best) {
		next := models.Order{Qty: remaining, Price: best, Band: o.Band, Reduce: o.Reduce}
		m.logger.WithFields(logrus.Fields{"order_id": o.ID, "price": best}).Info("Order cancelled by exchange, re-placing")
		return m.Place(ctx, next)
	}
	return m.abandon(ctx, o, false)
}

// OnExecuted records the cumulative executed quantity of the active order.
func (m *OrderManager) OnExecuted(executed int64) {
	o, ok := m.position.ActiveOrder()
	if !ok || executed <= o.Executed {
		return
	}
	o.Executed = executed
	m.position.SetActiveOrder(o)
	m.logger.WithFields(logrus.Fields{"order_id": o.ID, "executed": executed, "qty": abs(o.Qty)}).Debug("Order partially executed")
}

// OnFilled clears the active order.
func (m *OrderManager) OnFilled() {
	if o, ok := m.position.ActiveOrder(); ok {
		m.logger.WithField("order_id", o.ID).Info("Order filled")
	}
	m.position.ClearActiveOrder()
}

// Cancel cancels the live order. An order the exchange reports as already
// gone counts as cancelled.
func (m *OrderManager) Cancel(ctx context.Context) error {
	o, ok := m.position.ActiveOrder()
	if !ok {
		return nil
	}
	gone, err := m.exchange.CancelOrder(ctx, m.symbol, o.ID)
	if err != nil {
		return fmt.Errorf("cancel order %s: %w", o.ID, err)
	}
	m.position.ClearActiveOrder()
	m.logger.WithFields(logrus.Fields{"order_id": o.ID, "already_gone": gone}).Info("Order cancelled")
	return nil
}

// abandon takes o off the book (if still live) and, for a reduce order,
// closes the remaining position at market.
func (m *OrderManager) abandon(ctx context.Context, o models.Order, live bool) error {
	if live {
		if err := m.Cancel(ctx); err != nil {
			return err
		}
	}
	if !o.Reduce {
		m.logger.WithField("order_id", o.ID).Info("Entry order abandoned")
		return nil
	}

	qty := o.Qty
	if !m.position.IsFlat() {
		qty = -m.position.Qty
	}
	m.logger.WithFields(logrus.Fields{"order_id": o.ID, "qty": qty}).Warn("Escalating reduce order to market")
	return m.PlaceMarket(ctx, qty, true)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
