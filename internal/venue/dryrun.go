package venue

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// StatusSource reads market lifecycle state.
type StatusSource interface {
	MarketStatus(ctx context.Context, marketID string) (MarketStatus, error)
}

// DryRun fills every valid intent instantly without touching the network.
// Closing returns the quote spent on the token, so simulated PnL is flat.
type DryRun struct {
	mu        sync.Mutex
	positions map[string]uint64
	status    StatusSource
	logger    zerolog.Logger
}

// NewDryRun builds a dry-run backend. When status is nil markets never mature.
func NewDryRun(status StatusSource, logger zerolog.Logger) *DryRun {
	return &DryRun{
		positions: make(map[string]uint64),
		status:    status,
		logger:    logger.With().Str("component", "venue_dry_run").Logger(),
	}
}

// PlaceFOK records the intent as filled.
func (d *DryRun) PlaceFOK(_ context.Context, intent OrderIntent) (ExecutionResult, error) {
	if err := validateIntent(intent); err != nil {
		return ExecutionResult{}, err
	}
	d.mu.Lock()
	d.positions[intent.TokenID] += intent.QuoteAmount
	d.mu.Unlock()

	orderID := "dry-" + uuid.NewString()
	d.logger.Info().
		Str("order_id", orderID).
		Str("token_id", intent.TokenID).
		Uint64("quote_amount", intent.QuoteAmount).
		Msg("dry-run fill")
	return ExecutionResult{Intent: intent, Status: StatusFulfilled, OrderID: orderID}, nil
}

// ClosePosition releases the simulated position.
func (d *DryRun) ClosePosition(_ context.Context, tokenID string, _ Side, _ uint32) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	payout := d.positions[tokenID]
	delete(d.positions, tokenID)
	return payout, nil
}

// MarketStatus delegates to the configured source.
func (d *DryRun) MarketStatus(ctx context.Context, marketID string) (MarketStatus, error) {
	if d.status == nil {
		return MarketStatus{MarketID: marketID, Active: true}, nil
	}
	return d.status.MarketStatus(ctx, marketID)
}

var (
	_ API = (*Client)(nil)
	_ API = (*DryRun)(nil)
)
