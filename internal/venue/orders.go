package venue

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"strategy-coordinator/internal/retry"
)

// API is a single-attempt venue backend. Client and DryRun implement it.
type API interface {
	PlaceFOK(ctx context.Context, intent OrderIntent) (ExecutionResult, error)
	ClosePosition(ctx context.Context, tokenID string, side Side, floorBps uint32) (uint64, error)
	MarketStatus(ctx context.Context, marketID string) (MarketStatus, error)
}

// OrderClientOptions tune the submission envelope.
type OrderClientOptions struct {
	Concurrency   int
	Retry         retry.Policy
	CloseFloorBps uint32
}

// OrderClient submits intents and closes positions through a FIFO gate, each
// call wrapped in a fixed-attempt retry envelope.
type OrderClient struct {
	api      API
	gate     *Gate
	policy   retry.Policy
	floorBps uint32
	logger   zerolog.Logger
}

// NewOrderClient wraps api with the gate and retry envelope.
func NewOrderClient(api API, opts OrderClientOptions, logger zerolog.Logger) *OrderClient {
	floor := opts.CloseFloorBps
	if floor == 0 {
		floor = 100
	}
	return &OrderClient{
		api:      api,
		gate:     NewGate(opts.Concurrency),
		policy:   opts.Retry,
		floorBps: floor,
		logger:   logger.With().Str("component", "order_client").Logger(),
	}
}

// Submit executes intent as a fill-or-kill order. On failure the returned
// result is marked failed and carries the reason.
func (c *OrderClient) Submit(ctx context.Context, intent OrderIntent) (ExecutionResult, error) {
	if intent.ID == "" {
		intent.ID = uuid.NewString()
	}
	log := c.logger.With().
		Str("intent_id", intent.ID).
		Uint64("strategy_id", intent.StrategyID).
		Str("token_id", intent.TokenID).
		Logger()

	var res retry.Result[ExecutionResult]
	err := c.gate.Do(ctx, func(ctx context.Context) error {
		res = retry.Run(ctx, c.policy, func(ctx context.Context) (ExecutionResult, error) {
			r, err := c.api.PlaceFOK(ctx, intent)
			if err != nil {
				log.Debug().Err(err).Msg("submit attempt failed")
			}
			return r, forRetry(err)
		})
		return res.Err
	})
	if err != nil {
		c.logFailure(log, "submit", err, res.Attempts)
		return ExecutionResult{Intent: intent, Status: StatusFailed, Reason: err.Error()}, err
	}

	log.Info().
		Str("order_id", res.Value.OrderID).
		Uint64("quote_amount", intent.QuoteAmount).
		Int("attempts", res.Attempts).
		Msg("order filled")
	return res.Value, nil
}

// ClosePosition unwinds the position held on side in tokenID and returns the
// USDC base units received.
func (c *OrderClient) ClosePosition(ctx context.Context, tokenID string, side Side) (uint64, error) {
	log := c.logger.With().Str("token_id", tokenID).Str("side", string(side.Opposite())).Logger()

	var res retry.Result[uint64]
	err := c.gate.Do(ctx, func(ctx context.Context) error {
		res = retry.Run(ctx, c.policy, func(ctx context.Context) (uint64, error) {
			payout, err := c.api.ClosePosition(ctx, tokenID, side, c.floorBps)
			if err != nil {
				log.Debug().Err(err).Msg("close attempt failed")
			}
			return payout, forRetry(err)
		})
		return res.Err
	})
	if err != nil {
		c.logFailure(log, "close", err, res.Attempts)
		return 0, err
	}
	log.Info().Uint64("payout", res.Value).Int("attempts", res.Attempts).Msg("position closed")
	return res.Value, nil
}

// MarketStatus reads market state under the retry envelope. Reads bypass the gate.
func (c *OrderClient) MarketStatus(ctx context.Context, marketID string) (MarketStatus, error) {
	return retry.Do(ctx, c.policy, func(ctx context.Context) (MarketStatus, error) {
		status, err := c.api.MarketStatus(ctx, marketID)
		return status, forRetry(err)
	})
}

// Stats reports the gate counters.
func (c *OrderClient) Stats() GateStats { return c.gate.Stats() }

func (c *OrderClient) logFailure(log zerolog.Logger, op string, err error, attempts int) {
	ev := log.Warn()
	if KindOf(err) == KindRejected {
		ev = log.Error()
	}
	ev.Err(err).
		Str("op", op).
		Str("kind", KindOf(err).String()).
		Int("attempts", attempts).
		Msg("venue call failed")
}
