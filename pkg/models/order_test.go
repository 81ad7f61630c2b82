package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderRemaining(t *testing.T) {
	tests := []struct {
		name     string
		qty      int64
		executed int64
		expected int64
	}{
		{name: "buy untouched", qty: 10, executed: 0, expected: 10},
		{name: "buy partial", qty: 10, executed: 4, expected: 6},
		{name: "sell partial", qty: -10, executed: 4, expected: -6},
		{name: "buy done", qty: 10, executed: 10, expected: 0},
		{name: "sell overfilled", qty: -10, executed: 12, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Order{Qty: tt.qty, Executed: tt.executed}
			assert.Equal(t, tt.expected, o.Remaining())
		})
	}
}
