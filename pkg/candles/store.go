// Package candles keeps one append-only candle series per requested timeframe.
package candles

import (
	"fmt"
	"sort"

	"github.com/gregtusar/perptrader/pkg/models"
)

// DefaultRetentionFactor is how many multiples of the requested depth a
// series may grow to before it is trimmed back.
const DefaultRetentionFactor = 4

type bucket struct {
	tf     models.TimeFrame
	series []models.Candle
}

// Store maps interval symbols to candle series.
type Store struct {
	buckets         map[string]*bucket
	retentionFactor int
}

func NewStore(timeframes []models.TimeFrame, retentionFactor int) (*Store, error) {
	if retentionFactor < 1 {
		retentionFactor = DefaultRetentionFactor
	}
	s := &Store{
		buckets:         make(map[string]*bucket, len(timeframes)),
		retentionFactor: retentionFactor,
	}
	for _, tf := range timeframes {
		if _, dup := s.buckets[tf.Symbol]; dup {
			return nil, fmt.Errorf("duplicate timeframe %q", tf.Symbol)
		}
		s.buckets[tf.Symbol] = &bucket{tf: tf}
	}
	return s, nil
}

// TimeFrames returns the configured timeframes ordered by bar length.
func (s *Store) TimeFrames() []models.TimeFrame {
	out := make([]models.TimeFrame, 0, len(s.buckets))
	for _, b := range s.buckets {
		out = append(out, b.tf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TicksPerBar < out[j].TicksPerBar })
	return out
}

// Load replaces a series wholesale, used for REST history.
func (s *Store) Load(interval string, series []models.Candle) error {
	b, ok := s.buckets[interval]
	if !ok {
		return fmt.Errorf("unknown timeframe %q", interval)
	}
	b.series = append([]models.Candle(nil), series...)
	return nil
}

// Add appends c unless its timestamp equals the last stored candle.
// Only "differs from last" is checked; an older distinct timestamp is accepted.
func (s *Store) Add(interval string, c models.Candle) bool {
	b, ok := s.buckets[interval]
	if !ok {
		return false
	}
	if n := len(b.series); n > 0 && b.series[n-1].Timestamp == c.Timestamp {
		return false
	}
	b.series = append(b.series, c)
	return true
}

// Series returns the candles for interval, oldest first. The slice must not be modified.
func (s *Store) Series(interval string) []models.Candle {
	if b, ok := s.buckets[interval]; ok {
		return b.series
	}
	return nil
}

// Closes returns the close prices of a series.
func (s *Store) Closes(interval string) []float64 {
	series := s.Series(interval)
	out := make([]float64, len(series))
	for i, c := range series {
		out[i] = c.Close
	}
	return out
}

// Last returns the newest candle of a series.
func (s *Store) Last(interval string) (models.Candle, bool) {
	series := s.Series(interval)
	if len(series) == 0 {
		return models.Candle{}, false
	}
	return series[len(series)-1], true
}

// Trim cuts every series that reached factor*requested bars back to the newest requested bars.
func (s *Store) Trim() {
	for _, b := range s.buckets {
		keep := b.tf.RequestedBars
		if keep <= 0 || len(b.series) < keep*s.retentionFactor {
			continue
		}
		b.series = append([]models.Candle(nil), b.series[len(b.series)-keep:]...)
	}
}
