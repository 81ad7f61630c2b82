package trader

import (
	"time"
)

type PositionStatus struct {
	Qty           int64   `json:"qty"`
	EntryPrice    float64 `json:"entry_price"`
	StopLossPrice float64 `json:"stop_loss_price"`
	LiqPrice      float64 `json:"liq_price"`
}

type OrderStatus struct {
	ID       string  `json:"id"`
	Qty      int64   `json:"qty"`
	Price    float64 `json:"price"`
	BandLow  float64 `json:"band_low"`
	BandHigh float64 `json:"band_high"`
	Reduce   bool    `json:"reduce"`
}

// Status is a point-in-time view of the engine for the operator API.
// BestBid and BestAsk are zero while the book side is empty.
type Status struct {
	Strategy    string               `json:"strategy"`
	Symbol      string               `json:"symbol"`
	Connected   bool                 `json:"connected"`
	Halted      bool                 `json:"halted"`
	HaltReason  string               `json:"halt_reason,omitempty"`
	Position    PositionStatus       `json:"position"`
	ActiveOrder *OrderStatus         `json:"active_order,omitempty"`
	BestBid     float64              `json:"best_bid"`
	BestAsk     float64              `json:"best_ask"`
	LastCandles map[string]time.Time `json:"last_candles"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// publishStatus copies loop-owned state into the shared snapshot.
func (e *Engine) publishStatus() {
	s := Status{
		Strategy:  e.strategy.Name(),
		Symbol:    e.params.Symbol,
		Connected: e.stream.Connected(),
		Position: PositionStatus{
			Qty:           e.position.Qty,
			EntryPrice:    e.position.EntryPrice,
			StopLossPrice: e.position.StopLossPrice,
			LiqPrice:      e.position.LiqPrice,
		},
		LastCandles: make(map[string]time.Time),
		UpdatedAt:   e.now(),
	}
	if o, ok := e.position.ActiveOrder(); ok {
		s.ActiveOrder = &OrderStatus{
			ID:       o.ID,
			Qty:      o.Qty,
			Price:    o.Price,
			BandLow:  o.Band.Low,
			BandHigh: o.Band.High,
			Reduce:   o.Reduce,
		}
	}
	bids, asks := e.book.Depth()
	if bids > 0 {
		s.BestBid = e.book.BestBid()
	}
	if asks > 0 {
		s.BestAsk = e.book.BestAsk()
	}
	for _, tf := range e.candles.TimeFrames() {
		if c, ok := e.candles.Last(tf.Symbol); ok {
			s.LastCandles[tf.Symbol] = c.Time()
		}
	}

	e.statusMu.Lock()
	e.status = s
	e.statusMu.Unlock()
}

// Status returns the last published snapshot. Safe for concurrent use.
func (e *Engine) Status() Status {
	e.statusMu.RLock()
	s := e.status
	s.HaltReason = e.reason
	e.statusMu.RUnlock()

	s.Halted = e.halted.Load()
	if !s.Halted {
		s.HaltReason = ""
	}
	if s.ActiveOrder != nil {
		o := *s.ActiveOrder
		s.ActiveOrder = &o
	}
	return s
}
