package storage

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS processed_events (
        event_key    TEXT PRIMARY KEY,
        tx_hash      TEXT NOT NULL,
        log_index    INTEGER NOT NULL,
        block_number BIGINT NOT NULL,
        strategy_id  NUMERIC(20,0) NOT NULL,
        buyer        TEXT NOT NULL,
        net_amount   NUMERIC(38,6) NOT NULL,
        status       TEXT NOT NULL,
        error        TEXT,
        claimed_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
        updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
    );`,
	`CREATE INDEX IF NOT EXISTS processed_events_strategy_idx ON processed_events (strategy_id);`,
	`CREATE TABLE IF NOT EXISTS settlements (
        strategy_id     NUMERIC(20,0) PRIMARY KEY,
        stage           TEXT NOT NULL,
        legs_closed     INTEGER NOT NULL DEFAULT 0,
        total_payout    NUMERIC(38,6) NOT NULL DEFAULT 0,
        total_invested  NUMERIC(38,6) NOT NULL DEFAULT 0,
        realized_pnl    NUMERIC(38,6) NOT NULL DEFAULT 0,
        payout_per_usdc NUMERIC(38,0) NOT NULL DEFAULT 0,
        hedge_tx_hash   TEXT NOT NULL DEFAULT '',
        settle_tx_hash  TEXT NOT NULL DEFAULT '',
        hold            TEXT NOT NULL DEFAULT '',
        updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
    );`,
	`ALTER TABLE settlements ADD COLUMN IF NOT EXISTS hold TEXT NOT NULL DEFAULT '';`,
	`CREATE TABLE IF NOT EXISTS block_cursors (
        name       TEXT PRIMARY KEY,
        next_block BIGINT NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`,
}

// EnsureSchema creates the coordinator tables when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
