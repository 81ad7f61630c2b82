package orderbook

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregtusar/perptrader/pkg/models"
)

func bid(id int64, price float64, size int64) models.OrderBookLevel {
	return models.OrderBookLevel{ID: id, Side: models.SideBuy, Price: price, Size: size}
}

func ask(id int64, price float64, size int64) models.OrderBookLevel {
	return models.OrderBookLevel{ID: id, Side: models.SideSell, Price: price, Size: size}
}

func TestEmptyBook(t *testing.T) {
	b := New()

	assert.True(t, b.IsEmpty())
	assert.Equal(t, 0.0, b.BestBid())
	assert.True(t, math.IsInf(b.BestAsk(), 1))
}

func TestIsEmptyWhenEitherSideEmpty(t *testing.T) {
	b := New()
	b.ApplySnapshot([]models.OrderBookLevel{bid(1, 99, 10)})
	assert.True(t, b.IsEmpty(), "bid-only book counts as empty")

	b.ApplySnapshot([]models.OrderBookLevel{ask(2, 101, 10)})
	assert.True(t, b.IsEmpty(), "ask-only book counts as empty")

	b.ApplySnapshot([]models.OrderBookLevel{bid(1, 99, 10), ask(2, 101, 10)})
	assert.False(t, b.IsEmpty())
}

func TestSnapshotReplacesState(t *testing.T) {
	b := New()
	b.ApplySnapshot([]models.OrderBookLevel{bid(1, 99, 10), bid(2, 98, 5), ask(3, 101, 7)})
	assert.Equal(t, 99.0, b.BestBid())
	assert.Equal(t, 101.0, b.BestAsk())

	b.ApplySnapshot([]models.OrderBookLevel{bid(10, 90, 1), ask(11, 91, 1)})
	_, ok := b.Level(models.SideBuy, 1)
	assert.False(t, ok)
	assert.Equal(t, 90.0, b.BestBid())
	assert.Equal(t, 91.0, b.BestAsk())

	bids, asks := b.Depth()
	assert.Equal(t, 1, bids)
	assert.Equal(t, 1, asks)
}

func TestDeltaOrder(t *testing.T) {
	b := New()
	b.ApplySnapshot([]models.OrderBookLevel{bid(1, 99, 10), ask(2, 101, 10)})

	// id 1 is deleted and re-inserted at a new price within the same batch
	b.ApplyDelta(Delta{
		Delete: []models.OrderBookLevel{bid(1, 0, 0)},
		Update: []models.OrderBookLevel{ask(2, 0, 3)},
		Insert: []models.OrderBookLevel{bid(1, 99.5, 4)},
	})

	lvl, ok := b.Level(models.SideBuy, 1)
	require.True(t, ok)
	assert.Equal(t, 99.5, lvl.Price)
	assert.Equal(t, int64(4), lvl.Size)

	lvl, ok = b.Level(models.SideSell, 2)
	require.True(t, ok)
	assert.Equal(t, 101.0, lvl.Price, "update keeps price")
	assert.Equal(t, int64(3), lvl.Size)
}

func TestDeltaUnknownIDsAreNoops(t *testing.T) {
	b := New()
	b.ApplySnapshot([]models.OrderBookLevel{bid(1, 99, 10), ask(2, 101, 10)})

	b.ApplyDelta(Delta{
		Delete: []models.OrderBookLevel{bid(42, 0, 0), ask(43, 0, 0)},
		Update: []models.OrderBookLevel{bid(44, 0, 99)},
	})

	_, ok := b.Level(models.SideBuy, 44)
	assert.False(t, ok, "update must not create a level")
	bids, asks := b.Depth()
	assert.Equal(t, 1, bids)
	assert.Equal(t, 1, asks)
}

func TestMid(t *testing.T) {
	b := New()
	b.ApplySnapshot([]models.OrderBookLevel{bid(1, 28900, 10), ask(2, 29000, 10)})
	assert.Equal(t, 28950.0, b.Mid())
	assert.Equal(t, 28900.0, b.BestPrice(models.SideBuy))
	assert.Equal(t, 29000.0, b.BestPrice(models.SideSell))
}

// bid prices live below 100 and ask prices at or above 100, so any book built
// from these levels is uncrossed.
func bidLevels(ids []int64) []models.OrderBookLevel {
	out := make([]models.OrderBookLevel, 0, len(ids))
	for _, id := range ids {
		out = append(out, bid(id, 50+float64(id%50)*0.5, id+1))
	}
	return out
}

func askLevels(ids []int64) []models.OrderBookLevel {
	out := make([]models.OrderBookLevel, 0, len(ids))
	for _, id := range ids {
		out = append(out, ask(id, 100+float64(id%50)*0.5, id+1))
	}
	return out
}

func TestProperty_DeletedLevelsStayDeleted(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	ids := gen.SliceOf(gen.Int64Range(0, 40))

	properties.Property("deleted ids do not reappear unless re-inserted", prop.ForAll(
		func(snapshot, deletes, updates, inserts []int64) bool {
			b := New()
			b.ApplySnapshot(append(bidLevels(snapshot), askLevels(snapshot)...))
			b.ApplyDelta(Delta{
				Delete: append(bidLevels(deletes), askLevels(deletes)...),
				Update: append(bidLevels(updates), askLevels(updates)...),
				Insert: bidLevels(inserts),
			})

			reinserted := make(map[int64]bool, len(inserts))
			for _, id := range inserts {
				reinserted[id] = true
			}
			for _, id := range deletes {
				if _, ok := b.Level(models.SideSell, id); ok {
					return false
				}
				if _, ok := b.Level(models.SideBuy, id); ok && !reinserted[id] {
					return false
				}
			}
			return true
		},
		ids, ids, ids, ids,
	))

	properties.TestingRun(t)
}

func TestProperty_BestBidNotAboveBestAsk(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	ids := gen.SliceOf(gen.Int64Range(0, 40))

	properties.Property("best bid <= best ask for two-sided books", prop.ForAll(
		func(snapBids, snapAsks, deletes, inserts []int64) bool {
			b := New()
			b.ApplySnapshot(append(bidLevels(snapBids), askLevels(snapAsks)...))

			steps := []Delta{
				{Delete: bidLevels(deletes)},
				{Insert: askLevels(inserts)},
				{Delete: askLevels(deletes), Insert: bidLevels(inserts)},
			}
			for _, d := range steps {
				b.ApplyDelta(d)
				if !b.IsEmpty() && b.BestBid() > b.BestAsk() {
					return false
				}
			}
			return true
		},
		ids, ids, ids, ids,
	))

	properties.TestingRun(t)
}
