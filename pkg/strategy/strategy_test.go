package strategy

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregtusar/perptrader/pkg/models"
)

type closesHistory map[string][]float64

func (h closesHistory) Series(interval string) []models.Candle {
	out := make([]models.Candle, 0, len(h[interval]))
	for i, c := range h[interval] {
		out = append(out, models.Candle{Open: c, High: c, Low: c, Close: c, Timestamp: int64(i * 60)})
	}
	return out
}

func (h closesHistory) Closes(interval string) []float64 {
	return h[interval]
}

func ramp(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func TestNewDefaults(t *testing.T) {
	s, err := New("rsi", Overrides{})
	require.NoError(t, err)
	p := s.Parameters()
	assert.Equal(t, "RSI", s.Name())
	assert.Equal(t, "BTCUSD", p.Symbol)
	assert.Equal(t, int64(100), p.Qty)
	assert.Equal(t, models.OrderTypeLimit, p.OrderType)
	assert.Equal(t, 5.0, p.Slippage)
	assert.Equal(t, 0.03, p.StopLossPercentage)
	require.Len(t, p.TimeFrames, 1)
	assert.Equal(t, "1", p.TimeFrames[0].Symbol)
	assert.Equal(t, 1000, p.TimeFrames[0].RequestedBars)

	s, err = New("ema", Overrides{Qty: 5, Symbol: "ETHUSD"})
	require.NoError(t, err)
	assert.Equal(t, "EMA", s.Name())
	assert.Equal(t, models.OrderTypeMarket, s.Parameters().OrderType)
	assert.Equal(t, 10.0, s.Parameters().Slippage)
	assert.Equal(t, int64(5), s.Parameters().Qty)
	assert.Equal(t, "ETHUSD", s.Parameters().Symbol)
}

func TestNewRejectsUnknown(t *testing.T) {
	_, err := New("macd", Overrides{})
	assert.Error(t, err)

	_, err = New("rsi", Overrides{OrderType: "Stop"})
	assert.Error(t, err)

	assert.Equal(t, []string{"ema", "rsi"}, Names())
}

func TestRSIValues(t *testing.T) {
	assert.Equal(t, 100.0, RSI(ramp(100, 1, 30), 10))
	assert.Equal(t, 0.0, RSI(ramp(100, -1, 30), 10))
	assert.Equal(t, 50.0, RSI(ramp(100, 0, 30), 10))
	assert.Equal(t, 50.0, RSI([]float64{1, 2}, 10))
}

func TestEMASeries(t *testing.T) {
	assert.Nil(t, EMASeries([]float64{1, 2}, 3))
	series := EMASeries([]float64{2, 4, 6, 8}, 3)
	require.Len(t, series, 2)
	assert.Equal(t, 4.0, series[0])
	assert.Equal(t, 6.0, series[1])
	assert.Equal(t, 3.0, SMA([]float64{1, 2, 3, 4}, 3))
}

func TestRSIStrategySignals(t *testing.T) {
	s, err := New("rsi", Overrides{})
	require.NoError(t, err)

	falling := closesHistory{"1": ramp(200, -1, 50)}
	assert.True(t, s.CheckLongEntry(falling))
	assert.False(t, s.CheckShortEntry(falling))

	rising := closesHistory{"1": ramp(100, 1, 50)}
	assert.True(t, s.CheckShortEntry(rising))
	assert.False(t, s.CheckLongEntry(rising))

	long := models.NewPosition("BTCUSD", 0.03)
	long.Update(100, 30000)
	short := models.NewPosition("BTCUSD", 0.03)
	short.Update(-100, 30000)
	flat := models.NewPosition("BTCUSD", 0.03)

	assert.True(t, s.CheckExit(rising, *long))
	assert.False(t, s.CheckExit(rising, *short))
	assert.True(t, s.CheckExit(falling, *short))
	assert.False(t, s.CheckExit(falling, *flat))

	short5 := closesHistory{"1": ramp(100, 1, 5)}
	assert.False(t, s.CheckLongEntry(short5))
	assert.False(t, s.CheckShortEntry(short5))
}

func TestEMAStrategyCrossover(t *testing.T) {
	s, err := New("ema", Overrides{})
	require.NoError(t, err)

	// long downtrend then a sharp spike pulls the fast EMA over the slow one
	closes := append(ramp(200, -1, 80), 1000)
	up := closesHistory{"1": closes}
	assert.True(t, s.CheckLongEntry(up))
	assert.False(t, s.CheckShortEntry(up))

	closes = append(ramp(100, 1, 80), -800)
	down := closesHistory{"1": closes}
	assert.True(t, s.CheckShortEntry(down))

	long := models.NewPosition("BTCUSD", 0.03)
	long.Update(100, 30000)
	assert.True(t, s.CheckExit(down, *long))
	assert.False(t, s.CheckExit(up, *long))

	steady := closesHistory{"1": ramp(100, 1, 80)}
	assert.False(t, s.CheckLongEntry(steady))
	assert.False(t, s.CheckShortEntry(steady))
}

func TestRSIBoundedProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("rsi stays within [0,100]", prop.ForAll(
		func(prices []float64) bool {
			v := RSI(prices, 10)
			return !math.IsNaN(v) && v >= 0 && v <= 100
		},
		gen.SliceOf(gen.Float64Range(1, 100000)),
	))

	properties.TestingRun(t)
}
