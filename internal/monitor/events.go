// Package monitor runs the two long-lived pollers of the coordinator: the
// purchase event monitor and the market maturity monitor.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"strategy-coordinator/internal/alerting"
	"strategy-coordinator/internal/chain"
	"strategy-coordinator/internal/executor"
	"strategy-coordinator/internal/storage"
	"strategy-coordinator/internal/strategy"
	"strategy-coordinator/internal/venue"
)

// PurchaseCursor is the journal cursor name of the purchase scan.
const PurchaseCursor = "purchases"

// Executor handles one decoded purchase.
type Executor interface {
	Execute(ctx context.Context, ev chain.PurchaseEvent) ([]venue.ExecutionResult, error)
}

// EventJournal is the persistence the event monitor needs.
type EventJournal interface {
	storage.EventJournal
	storage.CursorStore
}

// EventOptions tune the event monitor.
type EventOptions struct {
	BatchSize      uint64
	PollInterval   time.Duration
	RetryDelay     time.Duration
	StartBlock     uint64
	LookbackBlocks uint64

	Simulate             bool
	SimulationInterval   time.Duration
	SimulationStrategyID uint64
	SimulationNetAmount  uint64
}

func (o *EventOptions) setDefaults() {
	if o.BatchSize == 0 {
		o.BatchSize = 1000
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 10 * time.Second
	}
	if o.SimulationInterval <= 0 {
		o.SimulationInterval = 30 * time.Second
	}
	if o.SimulationStrategyID == 0 {
		o.SimulationStrategyID = 1
	}
	if o.SimulationNetAmount == 0 {
		o.SimulationNetAmount = 196 * strategy.USDCUnit
	}
}

// EventStats is a snapshot of the event monitor counters.
type EventStats struct {
	EventsDetected  uint64
	EventsProcessed uint64
	Duplicates      uint64
	ErrorCount      uint64
	NextBlock       uint64
	LastEventAt     time.Time
	LastErrorAt     time.Time
	StartedAt       time.Time
	Running         bool
}

// Uptime is the time since the monitor started, or zero when it is not running.
func (s EventStats) Uptime(now time.Time) time.Duration {
	if !s.Running || s.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(s.StartedAt)
}

// EventMonitor scans purchase logs over contiguous block ranges and forwards
// every decoded purchase to the executor, one at a time.
type EventMonitor struct {
	opts     EventOptions
	source   chain.LogSource
	exec     Executor
	journal  EventJournal
	notifier alerting.Notifier
	logger   zerolog.Logger
	now      func() time.Time

	mu    sync.Mutex
	stats EventStats
}

// NewEventMonitor builds an event monitor. source may be nil in simulation mode.
func NewEventMonitor(opts EventOptions, source chain.LogSource, exec Executor, journal EventJournal, logger zerolog.Logger) *EventMonitor {
	opts.setDefaults()
	return &EventMonitor{
		opts:    opts,
		source:  source,
		exec:    exec,
		journal: journal,
		logger:  logger.With().Str("component", "event_monitor").Logger(),
		now:     time.Now,
	}
}

// SetNotifier routes failed executions to n.
func (m *EventMonitor) SetNotifier(n alerting.Notifier) {
	m.notifier = n
}

// Stats returns a snapshot of the counters.
func (m *EventMonitor) Stats() EventStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Run polls until ctx is cancelled. Cancellation is observed between batches;
// a batch in flight always completes, purchases and cursor included, because
// a purchase abandoned mid-order cannot be retried once its event is claimed.
func (m *EventMonitor) Run(ctx context.Context) error {
	m.setRunning(true)
	defer m.setRunning(false)

	if m.opts.Simulate {
		return m.runSimulation(ctx)
	}
	if m.source == nil {
		return errors.New("event monitor: no log source configured")
	}

	cursor, err := m.resolveStart(ctx)
	if err != nil {
		return err
	}
	m.logger.Info().Uint64("from_block", cursor).Uint64("batch_size", m.opts.BatchSize).Msg("event monitor started")

	work := context.WithoutCancel(ctx)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := m.source.QueryLogs(ctx, cursor, m.opts.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.recordError()
			m.logger.Error().Err(err).Uint64("from_block", cursor).Dur("retry_in", m.opts.RetryDelay).Msg("log query failed")
			if !sleep(ctx, m.opts.RetryDelay) {
				return ctx.Err()
			}
			continue
		}

		m.processBatch(work, batch)
		caughtUp := batch.NextBlock == cursor || batch.To < cursor+m.opts.BatchSize
		cursor = batch.NextBlock
		m.saveCursor(work, cursor)

		if caughtUp && !sleep(ctx, m.opts.PollInterval) {
			return ctx.Err()
		}
	}
}

// ReplayStats summarises a replay.
type ReplayStats struct {
	From       uint64
	To         uint64
	Events     int
	Executed   int
	Duplicates int
	Failed     int
}

// ErrRangeInverted reports a replay range whose end precedes its start.
var ErrRangeInverted = errors.New("monitor: replay range end precedes start")

// Replay rescans [from, to] and executes purchases that were never claimed.
// The persisted cursor is left untouched.
func (m *EventMonitor) Replay(ctx context.Context, from, to uint64) (ReplayStats, error) {
	if to < from {
		return ReplayStats{}, fmt.Errorf("%w: [%d, %d]", ErrRangeInverted, from, to)
	}
	if m.source == nil {
		return ReplayStats{}, errors.New("event monitor: no log source configured")
	}

	stats := ReplayStats{From: from, To: to}
	work := context.WithoutCancel(ctx)
	cursor := from
	for cursor <= to {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		size := m.opts.BatchSize
		if to-cursor < size {
			size = to - cursor
		}
		batch, err := m.source.QueryLogs(ctx, cursor, size)
		if err != nil {
			return stats, fmt.Errorf("replay from block %d: %w", cursor, err)
		}
		for _, outcome := range m.processBatch(work, batch) {
			stats.Events++
			switch outcome {
			case outcomeExecuted:
				stats.Executed++
			case outcomeDuplicate:
				stats.Duplicates++
			default:
				stats.Failed++
			}
		}
		if batch.NextBlock <= cursor {
			// head reached before the requested end
			break
		}
		cursor = batch.NextBlock
	}
	return stats, nil
}

type outcome int

const (
	outcomeExecuted outcome = iota
	outcomeDuplicate
	outcomeFailed
)

func (m *EventMonitor) processBatch(ctx context.Context, batch chain.LogBatch) []outcome {
	if len(batch.Logs) > 0 {
		m.logger.Debug().Uint64("from_block", batch.From).Uint64("to_block", batch.To).Int("logs", len(batch.Logs)).Msg("processing log batch")
	}
	outcomes := make([]outcome, 0, len(batch.Logs))
	for _, lg := range batch.Logs {
		ev, err := chain.DecodePurchase(lg)
		if err != nil {
			m.recordError()
			m.logger.Error().Err(err).
				Str("tx_hash", lg.TxHash.Hex()).
				Uint("log_index", lg.Index).
				Msg("failed to decode purchase log")
			outcomes = append(outcomes, outcomeFailed)
			continue
		}
		outcomes = append(outcomes, m.handle(ctx, ev))
	}
	return outcomes
}

// handle claims the event and executes it. Claiming first gives at-most-once
// execution per log across restarts and replays.
func (m *EventMonitor) handle(ctx context.Context, ev chain.PurchaseEvent) outcome {
	m.mu.Lock()
	m.stats.EventsDetected++
	m.stats.LastEventAt = m.now().UTC()
	m.mu.Unlock()

	log := m.logger.With().
		Uint64("strategy_id", ev.StrategyID).
		Str("tx_hash", ev.TxHash).
		Uint("log_index", ev.LogIndex).
		Logger()

	claimed, err := m.journal.ClaimEvent(ctx, storage.EventRecord{
		Key:         ev.Key(),
		TxHash:      ev.TxHash,
		LogIndex:    ev.LogIndex,
		BlockNumber: ev.BlockNumber,
		StrategyID:  ev.StrategyID,
		User:        ev.User,
		NetAmount:   ev.NetAmount,
		Status:      storage.EventClaimed,
	})
	if err != nil {
		m.recordError()
		log.Error().Err(err).Msg("failed to claim purchase; not executed, replay the block once the journal recovers")
		return outcomeFailed
	}
	if !claimed {
		m.mu.Lock()
		m.stats.Duplicates++
		m.mu.Unlock()
		log.Info().Msg("purchase already processed; skipping")
		return outcomeDuplicate
	}

	_, execErr := m.exec.Execute(ctx, ev)
	status := storage.EventExecuted
	var errMsg *string
	if execErr != nil {
		status = storage.EventFailed
		if errors.Is(execErr, executor.ErrUnknownStrategy) {
			status = storage.EventSkipped
		}
		msg := execErr.Error()
		errMsg = &msg
	}
	if err := m.journal.FinishEvent(ctx, ev.Key(), status, errMsg); err != nil {
		log.Warn().Err(err).Str("status", status).Msg("failed to record purchase outcome")
	}

	if execErr != nil {
		m.recordError()
		log.Error().Err(execErr).Msg("purchase execution failed")
		if status == storage.EventFailed && m.notifier != nil {
			note := alerting.Notification{
				Kind:       alerting.KindPurchaseFailed,
				StrategyID: ev.StrategyID,
				At:         m.now().UTC(),
				Summary:    execErr.Error(),
				Fields: map[string]string{
					"tx_hash":  ev.TxHash,
					"net_usdc": strategy.USDC(ev.NetAmount).String(),
				},
			}
			if err := m.notifier.Notify(ctx, note); err != nil {
				log.Warn().Err(err).Msg("notification failed")
			}
		}
		return outcomeFailed
	}

	m.mu.Lock()
	m.stats.EventsProcessed++
	m.mu.Unlock()
	log.Info().Str("net_usdc", strategy.USDC(ev.NetAmount).String()).Msg("purchase executed")
	return outcomeExecuted
}

func (m *EventMonitor) resolveStart(ctx context.Context) (uint64, error) {
	next, ok, err := m.journal.LoadCursor(ctx, PurchaseCursor)
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	if ok {
		return next, nil
	}
	if m.opts.StartBlock > 0 {
		return m.opts.StartBlock, nil
	}

	for {
		head, err := m.source.Head(ctx)
		if err == nil {
			if head < m.opts.LookbackBlocks {
				return 0, nil
			}
			return head - m.opts.LookbackBlocks, nil
		}
		m.recordError()
		m.logger.Error().Err(err).Dur("retry_in", m.opts.RetryDelay).Msg("failed to read chain head")
		if !sleep(ctx, m.opts.RetryDelay) {
			return 0, ctx.Err()
		}
	}
}

func (m *EventMonitor) saveCursor(ctx context.Context, next uint64) {
	m.mu.Lock()
	m.stats.NextBlock = next
	m.mu.Unlock()
	if err := m.journal.SaveCursor(ctx, PurchaseCursor, next); err != nil {
		m.logger.Warn().Err(err).Uint64("next_block", next).Msg("failed to persist cursor")
	}
}

// runSimulation feeds deterministic mock purchases without a chain connection:
// one immediately and one every SimulationInterval.
func (m *EventMonitor) runSimulation(ctx context.Context) error {
	m.logger.Warn().
		Uint64("strategy_id", m.opts.SimulationStrategyID).
		Dur("interval", m.opts.SimulationInterval).
		Msg("simulation mode: emitting mock purchases")

	work := context.WithoutCancel(ctx)
	var seq uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		seq++
		m.handle(work, m.mockEvent(seq))
		if !sleep(ctx, m.opts.SimulationInterval) {
			return ctx.Err()
		}
	}
}

func (m *EventMonitor) mockEvent(seq uint64) chain.PurchaseEvent {
	return chain.PurchaseEvent{
		StrategyID:  m.opts.SimulationStrategyID,
		User:        common.BigToAddress(big.NewInt(1)).Hex(),
		GrossAmount: m.opts.SimulationNetAmount,
		NetAmount:   m.opts.SimulationNetAmount,
		BlockNumber: seq,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(seq)).Hex(),
	}
}

func (m *EventMonitor) recordError() {
	m.mu.Lock()
	m.stats.ErrorCount++
	m.stats.LastErrorAt = m.now().UTC()
	m.mu.Unlock()
}

func (m *EventMonitor) setRunning(running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Running = running
	if running {
		m.stats.StartedAt = m.now().UTC()
	}
}

// sleep waits d or until ctx is done; it reports false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
