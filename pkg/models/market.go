package models

import (
	"fmt"
	"time"
)

// Side of an order book level or order, as named by the exchange.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
	SideNone Side = "None"
)

// intervalMinutes maps the exchange interval symbols to bar length in minutes.
var intervalMinutes = map[string]int{
	"1":   1,
	"3":   3,
	"5":   5,
	"15":  15,
	"30":  30,
	"60":  60,
	"120": 120,
	"240": 240,
	"360": 360,
	"D":   1440,
	"W":   10080,
	"M":   43200,
}

// TimeFrame identifies one candle series requested by a strategy.
type TimeFrame struct {
	Symbol        string // exchange interval symbol, e.g. "1", "60", "D"
	TicksPerBar   int    // minutes per bar
	RequestedBars int
}

// NewTimeFrame validates the interval symbol and derives the bar length.
func NewTimeFrame(symbol string, bars int) (TimeFrame, error) {
	ticks, ok := intervalMinutes[symbol]
	if !ok {
		return TimeFrame{}, fmt.Errorf("invalid timeframe %q", symbol)
	}
	if bars <= 0 {
		return TimeFrame{}, fmt.Errorf("timeframe %q: requested bars must be positive, got %d", symbol, bars)
	}
	return TimeFrame{Symbol: symbol, TicksPerBar: ticks, RequestedBars: bars}, nil
}

// BarDuration is the wall-clock length of one bar.
func (tf TimeFrame) BarDuration() time.Duration {
	return time.Duration(tf.TicksPerBar) * time.Minute
}

func (tf TimeFrame) String() string {
	return fmt.Sprintf("%s x%d", tf.Symbol, tf.RequestedBars)
}

// Candle is one OHLCV bar. Timestamp is the bar open in epoch seconds.
type Candle struct {
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Timestamp int64
}

func (c Candle) Time() time.Time {
	return time.Unix(c.Timestamp, 0).UTC()
}

// OrderBookLevel is one aggregated price level of the L2 book.
type OrderBookLevel struct {
	ID    int64
	Side  Side
	Price float64
	Size  int64
}
