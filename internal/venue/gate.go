package venue

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// GateStats is a point-in-time view of the submission gate.
type GateStats struct {
	Limit       int64
	InFlight    int64
	Queued      int64
	MaxInFlight int64
	Completed   int64
}

// Gate bounds concurrent venue requests. Waiters are admitted in FIFO order.
type Gate struct {
	sem   *semaphore.Weighted
	limit int64

	inFlight    atomic.Int64
	queued      atomic.Int64
	maxInFlight atomic.Int64
	completed   atomic.Int64
}

// NewGate returns a gate admitting at most limit concurrent calls.
func NewGate(limit int) *Gate {
	if limit <= 0 {
		limit = 1
	}
	return &Gate{sem: semaphore.NewWeighted(int64(limit)), limit: int64(limit)}
}

// Do runs fn once a slot is free. A caller whose context ends while queued
// leaves the queue and fn never runs.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	g.queued.Add(1)
	err := g.sem.Acquire(ctx, 1)
	g.queued.Add(-1)
	if err != nil {
		return err
	}
	defer g.sem.Release(1)

	// Acquire may succeed on an already-cancelled context.
	if err := ctx.Err(); err != nil {
		return err
	}

	n := g.inFlight.Add(1)
	for {
		seen := g.maxInFlight.Load()
		if n <= seen || g.maxInFlight.CompareAndSwap(seen, n) {
			break
		}
	}
	defer func() {
		g.inFlight.Add(-1)
		g.completed.Add(1)
	}()

	return fn(ctx)
}

// Stats snapshots the gate counters.
func (g *Gate) Stats() GateStats {
	return GateStats{
		Limit:       g.limit,
		InFlight:    g.inFlight.Load(),
		Queued:      g.queued.Load(),
		MaxInFlight: g.maxInFlight.Load(),
		Completed:   g.completed.Load(),
	}
}
