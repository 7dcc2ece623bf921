package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound reports an update against a missing row.
	ErrNotFound = errors.New("storage: record not found")
)

const (
	claimEventSQL = `INSERT INTO processed_events (
        event_key,
        tx_hash,
        log_index,
        block_number,
        strategy_id,
        buyer,
        net_amount,
        status
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (event_key) DO NOTHING;`

	finishEventSQL = `UPDATE processed_events
    SET status = $2, error = $3, updated_at = now()
    WHERE event_key = $1;`

	listRecentEventsSQL = `SELECT
        event_key,
        tx_hash,
        log_index,
        block_number,
        strategy_id::text,
        buyer,
        net_amount::text,
        status,
        error,
        claimed_at,
        updated_at
    FROM processed_events
    ORDER BY block_number DESC, log_index DESC
    LIMIT $1;`

	loadCursorSQL = `SELECT next_block FROM block_cursors WHERE name = $1;`

	saveCursorSQL = `INSERT INTO block_cursors (name, next_block)
    VALUES ($1, $2)
    ON CONFLICT (name) DO UPDATE
    SET next_block = EXCLUDED.next_block,
        updated_at = now();`

	upsertSettlementSQL = `INSERT INTO settlements (
        strategy_id,
        stage,
        legs_closed,
        total_payout,
        total_invested,
        realized_pnl,
        payout_per_usdc,
        hedge_tx_hash,
        settle_tx_hash,
        hold
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    ON CONFLICT (strategy_id) DO UPDATE
    SET
        stage           = EXCLUDED.stage,
        legs_closed     = EXCLUDED.legs_closed,
        total_payout    = EXCLUDED.total_payout,
        total_invested  = EXCLUDED.total_invested,
        realized_pnl    = EXCLUDED.realized_pnl,
        payout_per_usdc = EXCLUDED.payout_per_usdc,
        hedge_tx_hash   = EXCLUDED.hedge_tx_hash,
        settle_tx_hash  = EXCLUDED.settle_tx_hash,
        hold            = EXCLUDED.hold,
        updated_at      = now();`

	settlementColumns = `strategy_id::text,
        stage,
        legs_closed,
        total_payout::text,
        total_invested::text,
        realized_pnl::text,
        payout_per_usdc::text,
        hedge_tx_hash,
        settle_tx_hash,
        hold,
        updated_at`

	loadSettlementSQL = `SELECT ` + settlementColumns + `
    FROM settlements
    WHERE strategy_id = $1;`

	listSettlementsSQL = `SELECT ` + settlementColumns + `
    FROM settlements
    ORDER BY updated_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Store is the PostgreSQL-backed Journal.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// ClaimEvent inserts the event if its key is new.
func (s *Store) ClaimEvent(ctx context.Context, rec EventRecord) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	status := rec.Status
	if status == "" {
		status = EventClaimed
	}
	tag, execErr := pool.Exec(ctx, claimEventSQL,
		rec.Key,
		rec.TxHash,
		int64(rec.LogIndex),
		int64(rec.BlockNumber),
		strconv.FormatUint(rec.StrategyID, 10),
		rec.User,
		usdcString(rec.NetAmount),
		status,
	)
	if execErr != nil {
		return false, fmt.Errorf("claim event %s: %w", rec.Key, execErr)
	}
	return tag.RowsAffected() == 1, nil
}

// FinishEvent records the execution outcome of a claimed event.
func (s *Store) FinishEvent(ctx context.Context, key, status string, errMsg *string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	var msg interface{}
	if errMsg != nil {
		msg = *errMsg
	}
	tag, execErr := pool.Exec(ctx, finishEventSQL, key, status, msg)
	if execErr != nil {
		return fmt.Errorf("finish event %s: %w", key, execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRecentEvents lists the newest processed events.
func (s *Store) ListRecentEvents(ctx context.Context, limit int) ([]EventRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentEventsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]EventRecord, 0, limit)
	for rows.Next() {
		var (
			rec         EventRecord
			logIndex    int64
			block       int64
			strategyStr string
			netStr      string
			errMsg      sql.NullString
		)
		if err := rows.Scan(
			&rec.Key,
			&rec.TxHash,
			&logIndex,
			&block,
			&strategyStr,
			&rec.User,
			&netStr,
			&rec.Status,
			&errMsg,
			&rec.ClaimedAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		rec.LogIndex = uint(logIndex)
		rec.BlockNumber = uint64(block)
		if rec.StrategyID, err = strconv.ParseUint(strategyStr, 10, 64); err != nil {
			return nil, fmt.Errorf("parse strategy id: %w", err)
		}
		if rec.NetAmount, err = parseUSDC(netStr); err != nil {
			return nil, fmt.Errorf("parse net amount: %w", err)
		}
		if errMsg.Valid {
			msg := errMsg.String
			rec.Error = &msg
		}
		events = append(events, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// LoadCursor returns the stored next block for name.
func (s *Store) LoadCursor(ctx context.Context, name string) (uint64, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, false, err
	}
	var next int64
	if scanErr := pool.QueryRow(ctx, loadCursorSQL, name).Scan(&next); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("load cursor %s: %w", name, scanErr)
	}
	return uint64(next), true, nil
}

// SaveCursor upserts the next block for name.
func (s *Store) SaveCursor(ctx context.Context, name string, next uint64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, saveCursorSQL, name, int64(next)); execErr != nil {
		return fmt.Errorf("save cursor %s: %w", name, execErr)
	}
	return nil
}

// LoadSettlement returns the journal entry of a strategy.
func (s *Store) LoadSettlement(ctx context.Context, strategyID uint64) (SettlementRecord, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return SettlementRecord{}, false, err
	}
	rows, queryErr := pool.Query(ctx, loadSettlementSQL, strconv.FormatUint(strategyID, 10))
	if queryErr != nil {
		return SettlementRecord{}, false, fmt.Errorf("load settlement %d: %w", strategyID, queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		return SettlementRecord{}, false, rows.Err()
	}
	rec, scanErr := scanSettlement(rows)
	if scanErr != nil {
		return SettlementRecord{}, false, scanErr
	}
	return rec, true, nil
}

// SaveSettlement upserts the journal entry of a strategy.
func (s *Store) SaveSettlement(ctx context.Context, rec SettlementRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, upsertSettlementSQL,
		strconv.FormatUint(rec.StrategyID, 10),
		string(rec.Stage),
		int32(rec.LegsClosed),
		usdcString(rec.TotalPayout),
		usdcString(rec.TotalInvested),
		decimal.New(rec.RealizedPnL, -usdcDecimals).String(),
		strconv.FormatUint(rec.PayoutPerUSDC, 10),
		rec.HedgeTxHash,
		rec.SettleTxHash,
		rec.Hold,
	)
	if execErr != nil {
		return fmt.Errorf("save settlement %d: %w", rec.StrategyID, execErr)
	}
	return nil
}

// ListSettlements lists the most recently updated journal entries.
func (s *Store) ListSettlements(ctx context.Context, limit int) ([]SettlementRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listSettlementsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list settlements: %w", queryErr)
	}
	defer rows.Close()

	records := make([]SettlementRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanSettlement(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanSettlement(rows pgx.Rows) (SettlementRecord, error) {
	var (
		rec                                 SettlementRecord
		idStr, stage                        string
		legsClosed                          int32
		payoutStr, investedStr, pnlStr, pps string
	)
	if err := rows.Scan(
		&idStr,
		&stage,
		&legsClosed,
		&payoutStr,
		&investedStr,
		&pnlStr,
		&pps,
		&rec.HedgeTxHash,
		&rec.SettleTxHash,
		&rec.Hold,
		&rec.UpdatedAt,
	); err != nil {
		return SettlementRecord{}, err
	}

	var err error
	if rec.StrategyID, err = strconv.ParseUint(idStr, 10, 64); err != nil {
		return SettlementRecord{}, fmt.Errorf("parse strategy id: %w", err)
	}
	rec.Stage = Stage(stage)
	rec.LegsClosed = int(legsClosed)
	if rec.TotalPayout, err = parseUSDC(payoutStr); err != nil {
		return SettlementRecord{}, fmt.Errorf("parse total payout: %w", err)
	}
	if rec.TotalInvested, err = parseUSDC(investedStr); err != nil {
		return SettlementRecord{}, fmt.Errorf("parse total invested: %w", err)
	}
	pnl, err := decimal.NewFromString(pnlStr)
	if err != nil {
		return SettlementRecord{}, fmt.Errorf("parse realized pnl: %w", err)
	}
	rec.RealizedPnL = pnl.Shift(usdcDecimals).IntPart()
	if rec.PayoutPerUSDC, err = strconv.ParseUint(pps, 10, 64); err != nil {
		return SettlementRecord{}, fmt.Errorf("parse payout per usdc: %w", err)
	}
	return rec, nil
}

const usdcDecimals = 6

// usdcString renders base units as a NUMERIC(38,6) literal.
func usdcString(amount uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -usdcDecimals).StringFixed(usdcDecimals)
}

func parseUSDC(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", s)
	}
	base := d.Shift(usdcDecimals).Truncate(0).BigInt()
	if !base.IsUint64() {
		return 0, fmt.Errorf("amount %s overflows", s)
	}
	return base.Uint64(), nil
}

var (
	_ Journal        = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
