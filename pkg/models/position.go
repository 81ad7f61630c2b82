package models

import "time"

// Position mirrors the exchange-side position for the traded symbol. It is only
// mutated from exchange data (REST snapshot or pushed position events), never
// from a presumed fill.
type Position struct {
	Symbol             string
	Qty                int64
	EntryPrice         float64
	LiqPrice           float64
	Leverage           float64
	StopLossPercentage float64
	StopLossPrice      float64
	UpdatedAt          time.Time

	active Order
	live   bool
}

func NewPosition(symbol string, stopLossPercentage float64) *Position {
	return &Position{Symbol: symbol, StopLossPercentage: stopLossPercentage}
}

// PositionSnapshot is the exchange view of the position.
type PositionSnapshot struct {
	Side       Side
	Size       int64
	EntryPrice float64
	LiqPrice   float64
	Leverage   float64
}

// SignedQty converts the side/size pair into a signed quantity.
func (s PositionSnapshot) SignedQty() int64 {
	if s.Side == SideSell {
		return -s.Size
	}
	if s.Side == SideBuy {
		return s.Size
	}
	return 0
}

// Update replaces quantity and entry price and re-derives the stop-loss price.
func (p *Position) Update(qty int64, entryPrice float64) {
	p.Qty = qty
	p.EntryPrice = entryPrice
	p.UpdatedAt = time.Now()

	switch {
	case qty > 0:
		p.StopLossPrice = entryPrice * (1 - p.StopLossPercentage)
	case qty < 0:
		p.StopLossPrice = entryPrice * (1 + p.StopLossPercentage)
	default:
		p.StopLossPrice = 0
	}
}

// Apply updates the position from an exchange snapshot.
func (p *Position) Apply(s PositionSnapshot) {
	p.LiqPrice = s.LiqPrice
	p.Leverage = s.Leverage
	p.Update(s.SignedQty(), s.EntryPrice)
}

func (p *Position) IsLong() bool  { return p.Qty > 0 }
func (p *Position) IsShort() bool { return p.Qty < 0 }
func (p *Position) IsFlat() bool  { return p.Qty == 0 }

// StopLossHit reports whether mid breaches the stop-loss price. Always false when flat.
func (p *Position) StopLossHit(mid float64) bool {
	switch {
	case p.Qty > 0:
		return mid < p.StopLossPrice
	case p.Qty < 0:
		return mid > p.StopLossPrice
	}
	return false
}

// ActiveOrder returns the outstanding order, if any.
func (p *Position) ActiveOrder() (Order, bool) {
	return p.active, p.live
}

func (p *Position) HasActiveOrder() bool {
	return p.live
}

func (p *Position) SetActiveOrder(o Order) {
	p.active = o
	p.live = true
}

func (p *Position) ClearActiveOrder() {
	p.active = Order{}
	p.live = false
}
