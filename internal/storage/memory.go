package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Journal used when no database is configured.
// Its contents do not survive a restart.
type Memory struct {
	mu          sync.Mutex
	events      map[string]EventRecord
	cursors     map[string]uint64
	settlements map[uint64]SettlementRecord
	now         func() time.Time
}

// NewMemory returns an empty in-memory journal.
func NewMemory() *Memory {
	return &Memory{
		events:      make(map[string]EventRecord),
		cursors:     make(map[string]uint64),
		settlements: make(map[uint64]SettlementRecord),
		now:         time.Now,
	}
}

// ClaimEvent stores rec unless its key is already present.
func (m *Memory) ClaimEvent(_ context.Context, rec EventRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.events[rec.Key]; dup {
		return false, nil
	}
	if rec.Status == "" {
		rec.Status = EventClaimed
	}
	now := m.now().UTC()
	rec.ClaimedAt, rec.UpdatedAt = now, now
	m.events[rec.Key] = rec
	return true, nil
}

// FinishEvent updates the outcome of a claimed event.
func (m *Memory) FinishEvent(_ context.Context, key, status string, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.events[key]
	if !ok {
		return ErrNotFound
	}
	rec.Status = status
	rec.Error = errMsg
	rec.UpdatedAt = m.now().UTC()
	m.events[key] = rec
	return nil
}

// ListRecentEvents returns events by descending chain position.
func (m *Memory) ListRecentEvents(_ context.Context, limit int) ([]EventRecord, error) {
	m.mu.Lock()
	out := make([]EventRecord, 0, len(m.events))
	for _, rec := range m.events {
		out = append(out, rec)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber > out[j].BlockNumber
		}
		return out[i].LogIndex > out[j].LogIndex
	})
	return truncate(out, limit), nil
}

// LoadCursor returns the stored cursor for name.
func (m *Memory) LoadCursor(_ context.Context, name string) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, ok := m.cursors[name]
	return next, ok, nil
}

// SaveCursor stores the cursor for name.
func (m *Memory) SaveCursor(_ context.Context, name string, next uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[name] = next
	return nil
}

// LoadSettlement returns the journal entry of a strategy.
func (m *Memory) LoadSettlement(_ context.Context, strategyID uint64) (SettlementRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.settlements[strategyID]
	return rec, ok, nil
}

// SaveSettlement stores the journal entry of a strategy.
func (m *Memory) SaveSettlement(_ context.Context, rec SettlementRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.UpdatedAt = m.now().UTC()
	m.settlements[rec.StrategyID] = rec
	return nil
}

// ListSettlements returns entries by descending update time.
func (m *Memory) ListSettlements(_ context.Context, limit int) ([]SettlementRecord, error) {
	m.mu.Lock()
	out := make([]SettlementRecord, 0, len(m.settlements))
	for _, rec := range m.settlements {
		out = append(out, rec)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].StrategyID < out[j].StrategyID
	})
	return truncate(out, limit), nil
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

var _ Journal = (*Memory)(nil)
