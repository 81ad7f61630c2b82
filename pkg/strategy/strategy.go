// Package strategy defines the entry/exit signal contract and its concrete variants.
package strategy

import (
	"fmt"
	"sort"

	"github.com/gregtusar/perptrader/pkg/models"
)

// History is the read-only candle view a strategy evaluates.
type History interface {
	Series(interval string) []models.Candle
	Closes(interval string) []float64
}

// Parameters are the trading parameters a strategy runs with.
type Parameters struct {
	Symbol             string
	TimeFrames         []models.TimeFrame
	Qty                int64
	OrderType          models.OrderType
	Slippage           float64
	StopLossPercentage float64
}

// Strategy supplies entry and exit signals. It is consulted once per newly
// confirmed candle.
type Strategy interface {
	Name() string
	Parameters() Parameters
	CheckLongEntry(h History) bool
	CheckShortEntry(h History) bool
	CheckExit(h History, position models.Position) bool
}

// Overrides replace strategy defaults; zero values keep the default.
type Overrides struct {
	Symbol             string
	Qty                int64
	OrderType          models.OrderType
	Slippage           float64
	StopLossPercentage float64
}

func (o Overrides) apply(p Parameters) Parameters {
	if o.Symbol != "" {
		p.Symbol = o.Symbol
	}
	if o.Qty > 0 {
		p.Qty = o.Qty
	}
	if o.OrderType != "" {
		p.OrderType = o.OrderType
	}
	if o.Slippage > 0 {
		p.Slippage = o.Slippage
	}
	if o.StopLossPercentage > 0 {
		p.StopLossPercentage = o.StopLossPercentage
	}
	return p
}

type constructor func(Parameters) Strategy

var registry = map[string]struct {
	defaults func() (Parameters, error)
	build    constructor
}{
	"rsi": {defaults: rsiDefaults, build: func(p Parameters) Strategy { return &RSIStrategy{params: p, length: 10} }},
	"ema": {defaults: emaDefaults, build: func(p Parameters) Strategy { return &EMAStrategy{params: p, fast: 20, slow: 50} }},
}

// Names lists the registered strategy keys.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the strategy registered under name.
func New(name string, o Overrides) (Strategy, error) {
	entry, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("invalid strategy %q (available: %v)", name, Names())
	}
	p, err := entry.defaults()
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", name, err)
	}
	p = o.apply(p)

	switch p.OrderType {
	case models.OrderTypeMarket, models.OrderTypeLimit:
	default:
		return nil, fmt.Errorf("strategy %s: invalid order type %q", name, p.OrderType)
	}
	if p.Qty <= 0 {
		return nil, fmt.Errorf("strategy %s: qty must be positive", name)
	}
	if len(p.TimeFrames) == 0 {
		return nil, fmt.Errorf("strategy %s: no timeframes", name)
	}
	return entry.build(p), nil
}
