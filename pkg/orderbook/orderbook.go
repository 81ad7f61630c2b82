// Package orderbook reconstructs the exchange L2 book from snapshot and delta messages.
package orderbook

import (
	"math"
	"time"

	"github.com/gregtusar/perptrader/pkg/models"
)

// Book holds both sides of the book keyed by the exchange-assigned level id.
type Book struct {
	bids      map[int64]models.OrderBookLevel
	asks      map[int64]models.OrderBookLevel
	UpdatedAt time.Time
}

// Delta is one incremental book update. It must be applied delete, update, insert,
// since a batch may delete and re-insert the same id.
type Delta struct {
	Delete []models.OrderBookLevel
	Update []models.OrderBookLevel
	Insert []models.OrderBookLevel
}

func New() *Book {
	return &Book{
		bids: make(map[int64]models.OrderBookLevel),
		asks: make(map[int64]models.OrderBookLevel),
	}
}

func (b *Book) side(s models.Side) map[int64]models.OrderBookLevel {
	switch s {
	case models.SideBuy:
		return b.bids
	case models.SideSell:
		return b.asks
	}
	return nil
}

// ApplySnapshot discards all prior state and loads the given levels.
func (b *Book) ApplySnapshot(levels []models.OrderBookLevel) {
	b.bids = make(map[int64]models.OrderBookLevel, len(levels)/2)
	b.asks = make(map[int64]models.OrderBookLevel, len(levels)/2)
	for _, lvl := range levels {
		b.insert(lvl)
	}
	b.UpdatedAt = time.Now()
}

// ApplyDelta mutates the book in place. Deleting or updating an unknown id is a no-op.
func (b *Book) ApplyDelta(d Delta) {
	for _, lvl := range d.Delete {
		if m := b.side(lvl.Side); m != nil {
			delete(m, lvl.ID)
		}
	}

	for _, lvl := range d.Update {
		m := b.side(lvl.Side)
		if m == nil {
			continue
		}
		existing, ok := m[lvl.ID]
		if !ok {
			continue
		}
		existing.Size = lvl.Size
		m[lvl.ID] = existing
	}

	for _, lvl := range d.Insert {
		b.insert(lvl)
	}
	b.UpdatedAt = time.Now()
}

func (b *Book) insert(lvl models.OrderBookLevel) {
	if m := b.side(lvl.Side); m != nil {
		m[lvl.ID] = lvl
	}
}

// BestBid is the highest bid price, or 0 when the bid side is empty.
// Depth is bounded by the subscription (25 levels), so a scan is fine.
func (b *Book) BestBid() float64 {
	best := 0.0
	for _, lvl := range b.bids {
		if lvl.Price > best {
			best = lvl.Price
		}
	}
	return best
}

// BestAsk is the lowest ask price, or +Inf when the ask side is empty.
func (b *Book) BestAsk() float64 {
	best := math.Inf(1)
	for _, lvl := range b.asks {
		if lvl.Price < best {
			best = lvl.Price
		}
	}
	return best
}

// BestPrice returns the price a resting order on the given side would join.
func (b *Book) BestPrice(s models.Side) float64 {
	if s == models.SideBuy {
		return b.BestBid()
	}
	return b.BestAsk()
}

func (b *Book) Mid() float64 {
	return (b.BestAsk() + b.BestBid()) / 2
}

// IsEmpty is true when either side has no levels. Limit orders are only
// placed or repriced against a two-sided book.
func (b *Book) IsEmpty() bool {
	return len(b.bids) == 0 || len(b.asks) == 0
}

// Level looks up a level by side and id.
func (b *Book) Level(s models.Side, id int64) (models.OrderBookLevel, bool) {
	m := b.side(s)
	if m == nil {
		return models.OrderBookLevel{}, false
	}
	lvl, ok := m[id]
	return lvl, ok
}

// Depth returns the number of levels on each side.
func (b *Book) Depth() (bids, asks int) {
	return len(b.bids), len(b.asks)
}
