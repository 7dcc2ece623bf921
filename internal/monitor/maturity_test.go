package monitor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-coordinator/internal/alerting"
	"strategy-coordinator/internal/registry"
	"strategy-coordinator/internal/scheduler"
	"strategy-coordinator/internal/settlement"
	"strategy-coordinator/internal/strategy"
	"strategy-coordinator/internal/venue"
)

type fakeStatus struct {
	statuses map[string]venue.MarketStatus
	errs     map[string]error
	calls    []string
}

func (f *fakeStatus) MarketStatus(_ context.Context, marketID string) (venue.MarketStatus, error) {
	f.calls = append(f.calls, marketID)
	if err := f.errs[marketID]; err != nil {
		return venue.MarketStatus{}, err
	}
	return f.statuses[marketID], nil
}

type fakeSettler struct {
	errs    map[uint64][]error
	calls   []uint64
	ctxErrs []error
	during  func()
}

func (f *fakeSettler) Settle(ctx context.Context, id uint64) (settlement.Record, error) {
	f.calls = append(f.calls, id)
	if f.during != nil {
		f.during()
	}
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if queue := f.errs[id]; len(queue) > 0 {
		f.errs[id] = queue[1:]
		if queue[0] != nil {
			return settlement.Record{}, queue[0]
		}
	}
	return settlement.Record{StrategyID: id, TotalPayout: 205_800_000, PayoutPerUSDC: 1_050_000}, nil
}

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func seeded(ids ...uint64) *registry.Registry {
	reg := registry.New()
	defs := make([]strategy.Definition, 0, len(ids))
	for _, id := range ids {
		defs = append(defs, strategy.Definition{ID: id, Legs: []strategy.Leg{{
			MarketID: fmt.Sprintf("m%d", id), TokenID: "t", Direction: strategy.DirectionYes, NotionalBps: 10_000, MaxPriceBps: 5000,
		}}})
	}
	reg.Seed(defs)
	return reg
}

func newMaturity(reg *registry.Registry, status *fakeStatus, settler *fakeSettler) *MaturityMonitor {
	m := NewMaturityMonitor(reg, status, settler, nil, zerolog.Nop())
	m.now = func() time.Time { return now }
	return m
}

func TestNoSettlementBeforeEndDate(t *testing.T) {
	reg := seeded(1)
	status := &fakeStatus{statuses: map[string]venue.MarketStatus{
		"m1": {Active: true, EndDate: now.Add(time.Second)},
	}}
	settler := &fakeSettler{}

	require.NoError(t, newMaturity(reg, status, settler).Tick(context.Background(), now))
	assert.Empty(t, settler.calls)
	assert.False(t, reg.IsSettled(1))

	cached, _ := reg.Get(1)
	assert.Equal(t, now.Add(time.Second), cached.CachedEndDate)
}

func TestSettlesAtEndDateOnce(t *testing.T) {
	reg := seeded(1)
	status := &fakeStatus{statuses: map[string]venue.MarketStatus{"m1": {Active: true, EndDate: now}}}
	settler := &fakeSettler{}
	m := newMaturity(reg, status, settler)

	require.NoError(t, m.Tick(context.Background(), now))
	require.NoError(t, m.Tick(context.Background(), now))

	assert.Equal(t, []uint64{1}, settler.calls)
	assert.True(t, reg.IsSettled(1))
	assert.Equal(t, uint64(1), m.Stats().Settled)
	assert.Equal(t, uint64(2), m.Stats().Ticks)
}

func TestClosedMarketSettlesWithoutEndDate(t *testing.T) {
	reg := seeded(2)
	status := &fakeStatus{statuses: map[string]venue.MarketStatus{"m2": {Closed: true}}}
	settler := &fakeSettler{}

	require.NoError(t, newMaturity(reg, status, settler).Tick(context.Background(), now))
	assert.Equal(t, []uint64{2}, settler.calls)
}

func TestCachedEndDateIsUsedWhenStatusOmitsIt(t *testing.T) {
	reg := seeded(3)
	reg.UpdateEndDate(3, now.Add(-time.Minute))
	status := &fakeStatus{statuses: map[string]venue.MarketStatus{"m3": {Active: true}}}
	settler := &fakeSettler{}

	require.NoError(t, newMaturity(reg, status, settler).Tick(context.Background(), now))
	assert.Equal(t, []uint64{3}, settler.calls)
}

func TestFetchErrorDoesNotAbortTick(t *testing.T) {
	reg := seeded(1, 2)
	status := &fakeStatus{
		statuses: map[string]venue.MarketStatus{"m2": {Closed: true}},
		errs:     map[string]error{"m1": errors.New("gamma timeout")},
	}
	settler := &fakeSettler{}
	m := newMaturity(reg, status, settler)

	require.NoError(t, m.Tick(context.Background(), now))
	assert.Equal(t, []string{"m1", "m2"}, status.calls)
	assert.Equal(t, []uint64{2}, settler.calls)
	assert.Equal(t, uint64(1), m.Stats().FetchErrors)
}

func TestSettlementFailureIsRetriedNextTick(t *testing.T) {
	reg := seeded(1)
	status := &fakeStatus{statuses: map[string]venue.MarketStatus{"m1": {Closed: true}}}
	settler := &fakeSettler{errs: map[uint64][]error{1: {errors.New("rpc down")}}}
	m := newMaturity(reg, status, settler)

	err := m.Tick(context.Background(), now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strategy 1")
	assert.False(t, reg.IsSettled(1))
	assert.Equal(t, uint64(1), m.Stats().ErrorCount)

	require.NoError(t, m.Tick(context.Background(), now))
	assert.True(t, reg.IsSettled(1))
	assert.Equal(t, []uint64{1, 1}, settler.calls)
}

func TestHeldSettlementIsNotAnError(t *testing.T) {
	reg := seeded(5)
	status := &fakeStatus{statuses: map[string]venue.MarketStatus{"m5": {Closed: true}}}
	settler := &fakeSettler{errs: map[uint64][]error{5: {fmt.Errorf("strategy 5: %w: leg 0", settlement.ErrOnHold)}}}
	m := newMaturity(reg, status, settler)

	require.NoError(t, m.Tick(context.Background(), now))
	assert.False(t, reg.IsSettled(5))
	assert.Zero(t, m.Stats().ErrorCount)
}

func TestAlreadySettledIsMarkedLocally(t *testing.T) {
	reg := seeded(4)
	status := &fakeStatus{statuses: map[string]venue.MarketStatus{"m4": {Closed: true}}}
	settler := &fakeSettler{errs: map[uint64][]error{4: {fmt.Errorf("strategy 4: %w", settlement.ErrAlreadySettled)}}}
	m := newMaturity(reg, status, settler)

	require.NoError(t, m.Tick(context.Background(), now))
	assert.True(t, reg.IsSettled(4))
	assert.Zero(t, m.Stats().ErrorCount)
}

func TestMaturityRunUsesScheduler(t *testing.T) {
	reg := seeded(1)
	status := &fakeStatus{statuses: map[string]venue.MarketStatus{"m1": {Closed: true}}}
	ctx, cancel := context.WithCancel(context.Background())
	settler := &fakeSettler{}
	sched := scheduler.New(scheduler.Options{Interval: time.Hour, Immediate: true}, zerolog.Nop())
	m := NewMaturityMonitor(reg, status, settlerFunc(func(id uint64) {
		settler.calls = append(settler.calls, id)
		cancel()
	}), sched, zerolog.Nop())

	err := m.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []uint64{1}, settler.calls)
	assert.False(t, m.Stats().Running)
}

type settlerFunc func(id uint64)

func (f settlerFunc) Settle(_ context.Context, id uint64) (settlement.Record, error) {
	f(id)
	return settlement.Record{StrategyID: id}, nil
}

func TestMaturityRunWithoutScheduler(t *testing.T) {
	m := NewMaturityMonitor(registry.New(), &fakeStatus{}, &fakeSettler{}, nil, zerolog.Nop())
	assert.Error(t, m.Run(context.Background()))
}

type recordingNotifier struct {
	notes []alerting.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n alerting.Notification) error {
	r.notes = append(r.notes, n)
	return nil
}

func TestSettlementOutcomesAreNotified(t *testing.T) {
	reg := seeded(1)
	status := &fakeStatus{statuses: map[string]venue.MarketStatus{"m1": {Closed: true}}}
	settler := &fakeSettler{errs: map[uint64][]error{1: {errors.New("rpc down")}}}
	notifier := &recordingNotifier{}
	m := newMaturity(reg, status, settler)
	m.SetNotifier(notifier)

	require.Error(t, m.Tick(context.Background(), now))
	require.NoError(t, m.Tick(context.Background(), now))

	require.Len(t, notifier.notes, 2)
	assert.Equal(t, alerting.KindSettlementFailed, notifier.notes[0].Kind)
	assert.Equal(t, "rpc down", notifier.notes[0].Summary)
	assert.Equal(t, alerting.KindSettled, notifier.notes[1].Kind)
	assert.Equal(t, "1050000", notifier.notes[1].Fields["payout_per_usdc"])
}

func TestStopDuringSettlementLetsItFinish(t *testing.T) {
	reg := seeded(1, 2)
	status := &fakeStatus{statuses: map[string]venue.MarketStatus{
		"m1": {Closed: true},
		"m2": {Closed: true},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	settler := &fakeSettler{during: cancel}

	err := newMaturity(reg, status, settler).Tick(ctx, now)
	require.ErrorIs(t, err, context.Canceled)

	require.Len(t, settler.calls, 1)
	assert.Equal(t, []error{nil}, settler.ctxErrs)
	assert.True(t, reg.IsSettled(settler.calls[0]))
}
