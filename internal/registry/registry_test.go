package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-coordinator/internal/strategy"
)

func defs() []strategy.Definition {
	return []strategy.Definition{
		{ID: 2, Legs: []strategy.Leg{{MarketID: "m2", TokenID: "t2", NotionalBps: 10_000, MaxPriceBps: 5000}}},
		{ID: 1, Legs: []strategy.Leg{
			{MarketID: "m0", NotionalBps: 0, MaxPriceBps: 5000},
			{MarketID: "m1", TokenID: "t1", NotionalBps: 5000, MaxPriceBps: 5000},
		}},
		{ID: 3, Legs: []strategy.Leg{{MarketID: "m3", NotionalBps: 0, MaxPriceBps: 5000}}},
	}
}

func TestSeedTracksAnchorMarkets(t *testing.T) {
	r := New()
	skipped := r.Seed(defs())
	assert.Equal(t, []uint64{3}, skipped)

	pending := r.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, uint64(1), pending[0].StrategyID)
	assert.Equal(t, "m1", pending[0].MarketID)
	assert.Equal(t, "m2", pending[1].MarketID)
}

func TestSettledStrategiesLeavePending(t *testing.T) {
	r := New()
	r.Seed(defs())

	assert.True(t, r.MarkSettled(1, time.Now()))
	assert.False(t, r.MarkSettled(1, time.Now()))
	assert.True(t, r.IsSettled(1))

	pending := r.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, uint64(2), pending[0].StrategyID)
	assert.Equal(t, Counts{Tracked: 2, Settled: 1}, r.Counts())
}

func TestUpdateEndDateIgnoresZero(t *testing.T) {
	r := New()
	r.Seed(defs())
	end := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	r.UpdateEndDate(2, end)
	r.UpdateEndDate(2, time.Time{})
	r.UpdateEndDate(99, end)

	m, ok := r.Get(2)
	require.True(t, ok)
	assert.Equal(t, end, m.CachedEndDate)
	_, ok = r.Get(99)
	assert.False(t, ok)
}

func TestConcurrentMarkSettledWinsOnce(t *testing.T) {
	r := New()
	r.Seed(defs())

	var wg sync.WaitGroup
	wins := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- r.MarkSettled(2, time.Now())
		}()
	}
	wg.Wait()
	close(wins)

	n := 0
	for w := range wins {
		if w {
			n++
		}
	}
	assert.Equal(t, 1, n)
}
