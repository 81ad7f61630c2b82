package strategy

import (
	"github.com/gregtusar/perptrader/pkg/models"
)

// EMAStrategy trades the 20/50 EMA crossover: long when the fast EMA crosses
// above the slow one, short on the opposite cross, exit on the cross against
// the open position.
type EMAStrategy struct {
	params Parameters
	fast   int
	slow   int
}

func emaDefaults() (Parameters, error) {
	tf, err := models.NewTimeFrame("1", 1000)
	if err != nil {
		return Parameters{}, err
	}
	return Parameters{
		Symbol:             "BTCUSD",
		TimeFrames:         []models.TimeFrame{tf},
		Qty:                100,
		OrderType:          models.OrderTypeMarket,
		Slippage:           10.0,
		StopLossPercentage: 0.03,
	}, nil
}

func (s *EMAStrategy) Name() string           { return "EMA" }
func (s *EMAStrategy) Parameters() Parameters { return s.params }

// crossing returns +1 when fast crossed above slow on the last bar, -1 when it
// crossed below, 0 otherwise.
func (s *EMAStrategy) crossing(h History) int {
	tf := s.params.TimeFrames[0]
	closes := h.Closes(tf.Symbol)
	if len(closes) > tf.RequestedBars {
		closes = closes[len(closes)-tf.RequestedBars:]
	}

	fast := EMASeries(closes, s.fast)
	slow := EMASeries(closes, s.slow)
	if len(fast) < 2 || len(slow) < 2 {
		return 0
	}

	currFast, prevFast := fast[len(fast)-1], fast[len(fast)-2]
	currSlow, prevSlow := slow[len(slow)-1], slow[len(slow)-2]

	switch {
	case prevFast < prevSlow && currFast > currSlow:
		return 1
	case prevFast > prevSlow && currFast < currSlow:
		return -1
	}
	return 0
}

func (s *EMAStrategy) CheckLongEntry(h History) bool {
	return s.crossing(h) > 0
}

func (s *EMAStrategy) CheckShortEntry(h History) bool {
	return s.crossing(h) < 0
}

func (s *EMAStrategy) CheckExit(h History, position models.Position) bool {
	c := s.crossing(h)
	return (position.IsLong() && c < 0) || (position.IsShort() && c > 0)
}
