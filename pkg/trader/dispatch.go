package trader

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gregtusar/perptrader/pkg/bybit"
	"github.com/gregtusar/perptrader/pkg/models"
)

// Dispatch routes one inbound frame to the state it updates. Frames are
// handled strictly in arrival order; undecodable payloads are dropped.
func (e *Engine) Dispatch(f *bybit.Frame) {
	if f.IsAck() {
		return
	}

	var err error
	switch {
	case f.Topic == bybit.TopicPosition:
		err = e.onPosition(f)
	case f.Topic == bybit.TopicOrder:
		err = e.onOrder(f)
	case bybit.IsOrderBookTopic(f.Topic):
		err = e.onOrderBook(f)
	default:
		if interval, symbol, ok := bybit.ParseKlineTopic(f.Topic); ok {
			if symbol == e.params.Symbol {
				err = e.onKline(interval, f)
			}
			break
		}
		e.logger.WithField("topic", f.Topic).Debug("Ignoring frame")
	}

	if err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"topic": f.Topic,
			"type":  f.Type,
		}).Warn("Dropping frame")
	}
}

func (e *Engine) onPosition(f *bybit.Frame) error {
	snaps, err := bybit.DecodePositions(f.Data)
	if err != nil {
		return err
	}
	for _, s := range snaps {
		e.position.Apply(s)
		e.stopLossUntil = time.Time{}
		e.logPosition()
	}
	return nil
}

func (e *Engine) onOrder(f *bybit.Frame) error {
	events, err := bybit.DecodeOrders(f.Data)
	if err != nil {
		return err
	}
	for _, ev := range events {
		o, ok := e.position.ActiveOrder()
		if !ok || ev.OrderID != o.ID {
			continue
		}
		e.orders.OnExecuted(ev.CumExecQty.Int())
		switch ev.Status {
		case models.OrderStatusFilled:
			e.orders.OnFilled()
			e.cancelPending = false
		case models.OrderStatusCancelled, models.OrderStatusRejected:
			if e.halted.Load() {
				e.logger.WithField("order_id", o.ID).Info("Order cancelled while halted, clearing")
				e.position.ClearActiveOrder()
				continue
			}
			e.cancelPending = true
		}
	}
	return nil
}

func (e *Engine) onOrderBook(f *bybit.Frame) error {
	switch f.Type {
	case "snapshot":
		levels, err := bybit.DecodeBookSnapshot(f.Data)
		if err != nil {
			return err
		}
		e.book.ApplySnapshot(levels)
		bids, asks := e.book.Depth()
		e.logger.WithFields(logrus.Fields{"bids": bids, "asks": asks}).Debug("Order book snapshot")
	case "delta":
		d, err := bybit.DecodeBookDelta(f.Data)
		if err != nil {
			return err
		}
		e.book.ApplyDelta(d)
	default:
		e.logger.WithField("type", f.Type).Debug("Unknown order book frame type")
	}
	return nil
}

// onKline stores confirmed candles and raises the evaluation edge when a new
// one is accepted.
func (e *Engine) onKline(interval string, f *bybit.Frame) error {
	klines, err := bybit.DecodeKlines(f.Data)
	if err != nil {
		return err
	}
	for _, k := range klines {
		if !k.Confirm {
			continue
		}
		if e.candles.Add(interval, k.Candle) {
			e.newCandle = true
			e.logger.WithFields(logrus.Fields{
				"interval": interval,
				"close":    k.Candle.Close,
				"time":     k.Candle.Time(),
			}).Debug("New candle")
		}
	}
	e.candles.Trim()
	return nil
}
