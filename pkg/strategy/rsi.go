package strategy

import (
	"github.com/gregtusar/perptrader/pkg/models"
)

// RSIStrategy buys oversold and sells overbought markets: long below 30,
// short above 70, exit when RSI crosses back through 50.
type RSIStrategy struct {
	params Parameters
	length int
}

func rsiDefaults() (Parameters, error) {
	tf, err := models.NewTimeFrame("1", 1000)
	if err != nil {
		return Parameters{}, err
	}
	return Parameters{
		Symbol:             "BTCUSD",
		TimeFrames:         []models.TimeFrame{tf},
		Qty:                100,
		OrderType:          models.OrderTypeLimit,
		Slippage:           5.0,
		StopLossPercentage: 0.03,
	}, nil
}

func (s *RSIStrategy) Name() string           { return "RSI" }
func (s *RSIStrategy) Parameters() Parameters { return s.params }

func (s *RSIStrategy) value(h History) (float64, bool) {
	tf := s.params.TimeFrames[0]
	closes := h.Closes(tf.Symbol)
	if len(closes) < s.length+1 {
		return 0, false
	}
	if len(closes) > tf.RequestedBars {
		closes = closes[len(closes)-tf.RequestedBars:]
	}
	return RSI(closes, s.length), true
}

func (s *RSIStrategy) CheckLongEntry(h History) bool {
	v, ok := s.value(h)
	return ok && v < 30
}

func (s *RSIStrategy) CheckShortEntry(h History) bool {
	v, ok := s.value(h)
	return ok && v > 70
}

func (s *RSIStrategy) CheckExit(h History, position models.Position) bool {
	v, ok := s.value(h)
	if !ok {
		return false
	}
	return (v > 50 && position.IsLong()) || (v < 50 && position.IsShort())
}
