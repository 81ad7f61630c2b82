package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionStopLossPrice(t *testing.T) {
	tests := []struct {
		name     string
		qty      int64
		entry    float64
		expected float64
	}{
		{name: "long", qty: 100, entry: 30000, expected: 29100},
		{name: "short", qty: -100, entry: 30000, expected: 30900},
		{name: "flat", qty: 0, entry: 30000, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPosition("BTCUSD", 0.03)
			p.Update(tt.qty, tt.entry)
			assert.InDelta(t, tt.expected, p.StopLossPrice, 1e-9)
		})
	}
}

func TestPositionStopLossHit(t *testing.T) {
	p := NewPosition("BTCUSD", 0.03)

	p.Update(100, 30000)
	assert.True(t, p.StopLossHit(28950))
	assert.False(t, p.StopLossHit(29200))

	p.Update(-100, 30000)
	assert.True(t, p.StopLossHit(31000))
	assert.False(t, p.StopLossHit(30000))

	p.Update(0, 0)
	for _, mid := range []float64{0, 1, 29000, 1e9} {
		assert.False(t, p.StopLossHit(mid), "flat position must never hit stop-loss (mid=%v)", mid)
	}
}

func TestPositionApplySnapshot(t *testing.T) {
	p := NewPosition("BTCUSD", 0.05)
	p.Apply(PositionSnapshot{Side: SideSell, Size: 250, EntryPrice: 20000, Leverage: 5})

	assert.Equal(t, int64(-250), p.Qty)
	assert.True(t, p.IsShort())
	assert.InDelta(t, 21000, p.StopLossPrice, 1e-9)
	assert.Equal(t, 5.0, p.Leverage)

	p.Apply(PositionSnapshot{Side: SideNone, Size: 0})
	assert.True(t, p.IsFlat())
}

func TestPositionActiveOrder(t *testing.T) {
	p := NewPosition("BTCUSD", 0.03)

	_, ok := p.ActiveOrder()
	require.False(t, ok)

	o := NewLimitOrder(100, 10, 1, false)
	o.ID = "abc"
	p.SetActiveOrder(o)

	got, ok := p.ActiveOrder()
	require.True(t, ok)
	assert.Equal(t, "abc", got.ID)
	assert.Equal(t, Band{Low: 99, High: 101}, got.Band)

	p.ClearActiveOrder()
	assert.False(t, p.HasActiveOrder())
}
