package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryClaimEventOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	rec := EventRecord{Key: "0xabc:1", TxHash: "0xabc", LogIndex: 1, BlockNumber: 10, StrategyID: 7, NetAmount: 196_000_000}

	claimed, err := m.ClaimEvent(ctx, rec)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = m.ClaimEvent(ctx, rec)
	require.NoError(t, err)
	assert.False(t, claimed)

	msg := "venue rejected"
	require.NoError(t, m.FinishEvent(ctx, rec.Key, EventFailed, &msg))
	assert.ErrorIs(t, m.FinishEvent(ctx, "missing", EventExecuted, nil), ErrNotFound)

	events, err := m.ListRecentEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventFailed, events[0].Status)
	assert.Equal(t, "venue rejected", *events[0].Error)
}

func TestMemoryListRecentEventsOrdering(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for _, rec := range []EventRecord{
		{Key: "a", BlockNumber: 5, LogIndex: 0},
		{Key: "b", BlockNumber: 9, LogIndex: 2},
		{Key: "c", BlockNumber: 9, LogIndex: 4},
	} {
		_, err := m.ClaimEvent(ctx, rec)
		require.NoError(t, err)
	}

	events, err := m.ListRecentEvents(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "c", events[0].Key)
	assert.Equal(t, "b", events[1].Key)
}

func TestMemoryCursor(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, ok, err := m.LoadCursor(ctx, "purchases")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.SaveCursor(ctx, "purchases", 1234))
	next, ok, err := m.LoadCursor(ctx, "purchases")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(1234), next)
}

func TestMemorySettlementJournal(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, ok, err := m.LoadSettlement(ctx, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	rec := SettlementRecord{StrategyID: 3, Stage: StagePositionsClosed, TotalPayout: 205_800_000, TotalInvested: 196_000_000}
	require.NoError(t, m.SaveSettlement(ctx, rec))

	got, ok, err := m.LoadSettlement(ctx, 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StagePositionsClosed, got.Stage)
	assert.Equal(t, uint64(205_800_000), got.TotalPayout)
	assert.False(t, got.UpdatedAt.IsZero())

	list, err := m.ListSettlements(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStageReached(t *testing.T) {
	assert.True(t, StageSettled.Reached(StageHedgeClosed))
	assert.True(t, StageHedgeClosed.Reached(StageHedgeClosed))
	assert.False(t, StagePositionsClosed.Reached(StageHedgeClosed))
	assert.False(t, StageNone.Reached(StagePositionsClosed))
	assert.True(t, StageHedgeSent.Reached(StagePositionsClosed))
	assert.False(t, StageHedgeSent.Reached(StageHedgeClosed))
	assert.True(t, StageSettleSent.Reached(StageHedgeClosed))
	assert.False(t, StageSettleSent.Reached(StageSettled))
}

func TestStoreWithoutPool(t *testing.T) {
	var s *Store
	ctx := context.Background()

	_, err := s.ClaimEvent(ctx, EventRecord{Key: "k"})
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, _, err = s.LoadCursor(ctx, "purchases")
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, _, err = s.TryAdvisoryLock(ctx, 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, s.EnsureSchema(ctx), ErrNotConfigured)
	s.Close()
}

func TestUSDCNumericRoundTrip(t *testing.T) {
	assert.Equal(t, "196.000000", usdcString(196_000_000))
	assert.Equal(t, "0.000001", usdcString(1))

	v, err := parseUSDC("205.800000")
	require.NoError(t, err)
	assert.Equal(t, uint64(205_800_000), v)

	_, err = parseUSDC("-1")
	assert.Error(t, err)
}
