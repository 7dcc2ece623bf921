// Package registry owns the tracked-market map and the settled-strategy set
// shared by the monitors.
package registry

import (
	"sort"
	"sync"
	"time"

	"strategy-coordinator/internal/strategy"
)

// TrackedMarket is the anchor market watched for one strategy.
type TrackedMarket struct {
	MarketID      string
	StrategyID    uint64
	CachedEndDate time.Time
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	markets map[uint64]TrackedMarket
	settled map[uint64]time.Time
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		markets: make(map[uint64]TrackedMarket),
		settled: make(map[uint64]time.Time),
	}
}

// Seed tracks the anchor market of every definition. Strategies without an
// active leg are skipped and returned.
func (r *Registry) Seed(defs []strategy.Definition) (skipped []uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, def := range defs {
		anchor, ok := def.AnchorMarket()
		if !ok {
			skipped = append(skipped, def.ID)
			continue
		}
		if _, exists := r.markets[def.ID]; exists {
			continue
		}
		r.markets[def.ID] = TrackedMarket{MarketID: anchor, StrategyID: def.ID}
	}
	return skipped
}

// Pending returns tracked markets whose strategy is not yet settled, ordered by strategy id.
func (r *Registry) Pending() []TrackedMarket {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TrackedMarket, 0, len(r.markets))
	for id, m := range r.markets {
		if _, done := r.settled[id]; done {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StrategyID < out[j].StrategyID })
	return out
}

// Get returns the tracked market of a strategy.
func (r *Registry) Get(strategyID uint64) (TrackedMarket, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[strategyID]
	return m, ok
}

// UpdateEndDate caches the latest end date reported for a strategy's market.
// A zero date never overwrites a known one.
func (r *Registry) UpdateEndDate(strategyID uint64, end time.Time) {
	if end.IsZero() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.markets[strategyID]; ok {
		m.CachedEndDate = end
		r.markets[strategyID] = m
	}
}

// MarkSettled records a strategy as settled. It reports false when it already was.
func (r *Registry) MarkSettled(strategyID uint64, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, done := r.settled[strategyID]; done {
		return false
	}
	r.settled[strategyID] = at
	return true
}

// IsSettled reports whether the strategy is in the settled set.
func (r *Registry) IsSettled(strategyID uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, done := r.settled[strategyID]
	return done
}

// Counts is a snapshot for status reporting.
type Counts struct {
	Tracked int
	Settled int
}

// Counts returns the registry sizes.
func (r *Registry) Counts() Counts {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Counts{Tracked: len(r.markets), Settled: len(r.settled)}
}
