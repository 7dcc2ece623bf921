package storage

import (
	"context"
	"time"
)

// Event statuses.
const (
	EventClaimed  = "claimed"
	EventExecuted = "executed"
	EventFailed   = "failed"
	EventSkipped  = "skipped"
)

// EventRecord is a processed purchase log.
type EventRecord struct {
	Key         string
	TxHash      string
	LogIndex    uint
	BlockNumber uint64
	StrategyID  uint64
	User        string
	NetAmount   uint64
	Status      string
	Error       *string
	ClaimedAt   time.Time
	UpdatedAt   time.Time
}

// Stage is the furthest settlement step known to have completed. The *_sent
// stages mean the write was broadcast under the journaled tx hash but its
// receipt has not been seen yet.
type Stage string

const (
	StageNone            Stage = ""
	StagePositionsClosed Stage = "positions_closed"
	StageHedgeSent       Stage = "hedge_sent"
	StageHedgeClosed     Stage = "hedge_closed"
	StageSettleSent      Stage = "settle_sent"
	StageSettled         Stage = "settled"
)

// Reached reports whether s is at or past target.
func (s Stage) Reached(target Stage) bool {
	return stageRank(s) >= stageRank(target)
}

func stageRank(s Stage) int {
	switch s {
	case StagePositionsClosed:
		return 1
	case StageHedgeSent:
		return 2
	case StageHedgeClosed:
		return 3
	case StageSettleSent:
		return 4
	case StageSettled:
		return 5
	default:
		return 0
	}
}

// SettlementRecord journals settlement progress for one strategy.
type SettlementRecord struct {
	StrategyID    uint64
	Stage         Stage
	LegsClosed    int
	TotalPayout   uint64
	TotalInvested uint64
	RealizedPnL   int64
	PayoutPerUSDC uint64
	HedgeTxHash   string
	SettleTxHash  string
	// Hold, when set, stops automatic retries until an operator clears it.
	Hold          string
	UpdatedAt     time.Time
}

// EventJournal dedupes purchase logs.
type EventJournal interface {
	// ClaimEvent records rec as claimed and reports false when the key was already present.
	ClaimEvent(ctx context.Context, rec EventRecord) (bool, error)
	FinishEvent(ctx context.Context, key, status string, errMsg *string) error
	ListRecentEvents(ctx context.Context, limit int) ([]EventRecord, error)
}

// CursorStore persists block cursors by name.
type CursorStore interface {
	LoadCursor(ctx context.Context, name string) (uint64, bool, error)
	SaveCursor(ctx context.Context, name string, next uint64) error
}

// SettlementJournal persists settlement progress.
type SettlementJournal interface {
	LoadSettlement(ctx context.Context, strategyID uint64) (SettlementRecord, bool, error)
	SaveSettlement(ctx context.Context, rec SettlementRecord) error
	ListSettlements(ctx context.Context, limit int) ([]SettlementRecord, error)
}

// Journal aggregates every persistence concern of the coordinator.
type Journal interface {
	EventJournal
	CursorStore
	SettlementJournal
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}
