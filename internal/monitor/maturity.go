package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"strategy-coordinator/internal/alerting"
	"strategy-coordinator/internal/registry"
	"strategy-coordinator/internal/scheduler"
	"strategy-coordinator/internal/settlement"
	"strategy-coordinator/internal/strategy"
	"strategy-coordinator/internal/venue"
)

// StatusSource reports venue market status.
type StatusSource interface {
	MarketStatus(ctx context.Context, marketID string) (venue.MarketStatus, error)
}

// Settler settles one strategy.
type Settler interface {
	Settle(ctx context.Context, strategyID uint64) (settlement.Record, error)
}

// MaturityStats is a snapshot of the maturity monitor counters.
type MaturityStats struct {
	Ticks       uint64
	Checks      uint64
	FetchErrors uint64
	Matured     uint64
	Settled     uint64
	ErrorCount  uint64
	LastTickAt  time.Time
	LastErrorAt time.Time
	Running     bool
}

// MaturityMonitor polls the anchor market of every unsettled strategy and
// settles strategies whose market has matured.
type MaturityMonitor struct {
	registry *registry.Registry
	status   StatusSource
	settler  Settler
	sched    *scheduler.Scheduler
	notifier alerting.Notifier
	logger   zerolog.Logger
	now      func() time.Time

	mu    sync.Mutex
	stats MaturityStats
}

// NewMaturityMonitor builds a maturity monitor driven by sched.
func NewMaturityMonitor(reg *registry.Registry, status StatusSource, settler Settler, sched *scheduler.Scheduler, logger zerolog.Logger) *MaturityMonitor {
	return &MaturityMonitor{
		registry: reg,
		status:   status,
		settler:  settler,
		sched:    sched,
		logger:   logger.With().Str("component", "maturity_monitor").Logger(),
		now:      time.Now,
	}
}

// SetNotifier routes settlement outcomes to n.
func (m *MaturityMonitor) SetNotifier(n alerting.Notifier) {
	m.notifier = n
}

// Stats returns a snapshot of the counters.
func (m *MaturityMonitor) Stats() MaturityStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Run ticks until ctx is cancelled.
func (m *MaturityMonitor) Run(ctx context.Context) error {
	if m.sched == nil {
		return fmt.Errorf("maturity monitor: scheduler not configured")
	}
	m.setRunning(true)
	defer m.setRunning(false)

	m.logger.Info().
		Int("tracked", m.registry.Counts().Tracked).
		Dur("interval", m.sched.Interval()).
		Msg("maturity monitor started")
	return m.sched.Run(ctx, m.Tick)
}

// Tick checks every pending strategy once. Status fetch failures are logged
// and skipped; settlement failures are collected into the returned error and
// leave the strategy pending for the next tick. Cancellation is observed
// between strategies; a settlement already started runs to its next
// journaled stage.
func (m *MaturityMonitor) Tick(ctx context.Context, _ time.Time) error {
	m.mu.Lock()
	m.stats.Ticks++
	m.stats.LastTickAt = m.now().UTC()
	m.mu.Unlock()

	work := context.WithoutCancel(ctx)
	var errs []error
	for _, tracked := range m.registry.Pending() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := m.check(work, tracked); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MaturityMonitor) check(ctx context.Context, tracked registry.TrackedMarket) error {
	log := m.logger.With().
		Uint64("strategy_id", tracked.StrategyID).
		Str("market_id", tracked.MarketID).
		Logger()

	m.mu.Lock()
	m.stats.Checks++
	m.mu.Unlock()

	status, err := m.status.MarketStatus(ctx, tracked.MarketID)
	if err != nil {
		m.mu.Lock()
		m.stats.FetchErrors++
		m.mu.Unlock()
		log.Warn().Err(err).Msg("market status fetch failed")
		return nil
	}

	m.registry.UpdateEndDate(tracked.StrategyID, status.EndDate)
	if status.EndDate.IsZero() {
		status.EndDate = tracked.CachedEndDate
	}

	now := m.now().UTC()
	if !status.Matured(now) {
		return nil
	}

	m.mu.Lock()
	m.stats.Matured++
	m.mu.Unlock()
	log.Info().
		Bool("closed", status.Closed).
		Time("end_date", status.EndDate).
		Msg("market matured; settling strategy")

	rec, err := m.settler.Settle(ctx, tracked.StrategyID)
	switch {
	case errors.Is(err, settlement.ErrAlreadySettled):
		m.registry.MarkSettled(tracked.StrategyID, now)
		log.Info().Msg("strategy already settled; marked locally")
		return nil
	case errors.Is(err, settlement.ErrOnHold):
		log.Warn().Err(err).Msg("settlement on hold; waiting for operator")
		return nil
	case err != nil:
		m.mu.Lock()
		m.stats.ErrorCount++
		m.stats.LastErrorAt = now
		m.mu.Unlock()
		log.Error().Err(err).Msg("settlement failed; will retry next tick")
		m.notify(ctx, alerting.Notification{
			Kind:       alerting.KindSettlementFailed,
			StrategyID: tracked.StrategyID,
			At:         now,
			Summary:    err.Error(),
			Fields:     map[string]string{"market_id": tracked.MarketID},
		})
		return fmt.Errorf("settle strategy %d: %w", tracked.StrategyID, err)
	}

	m.registry.MarkSettled(tracked.StrategyID, now)
	m.mu.Lock()
	m.stats.Settled++
	m.mu.Unlock()
	log.Info().
		Str("total_payout_usdc", strategy.USDC(rec.TotalPayout).String()).
		Uint64("payout_per_usdc", rec.PayoutPerUSDC).
		Str("tx_hash", rec.SettleTxHash).
		Msg("strategy settled")
	m.notify(ctx, alerting.Notification{
		Kind:       alerting.KindSettled,
		StrategyID: tracked.StrategyID,
		At:         now,
		Fields: map[string]string{
			"total_payout_usdc": strategy.USDC(rec.TotalPayout).String(),
			"payout_per_usdc":   fmt.Sprintf("%d", rec.PayoutPerUSDC),
			"settle_tx":         rec.SettleTxHash,
		},
	})
	return nil
}

func (m *MaturityMonitor) notify(ctx context.Context, n alerting.Notification) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, n); err != nil {
		m.logger.Warn().Err(err).Str("kind", string(n.Kind)).Msg("notification failed")
	}
}

func (m *MaturityMonitor) setRunning(running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Running = running
}
