package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTimeFrame(t *testing.T) {
	tf, err := NewTimeFrame("60", 500)
	require.NoError(t, err)
	assert.Equal(t, 60, tf.TicksPerBar)

	tf, err = NewTimeFrame("D", 10)
	require.NoError(t, err)
	assert.Equal(t, 1440, tf.TicksPerBar)

	_, err = NewTimeFrame("7", 10)
	assert.Error(t, err)

	_, err = NewTimeFrame("1", 0)
	assert.Error(t, err)
}
