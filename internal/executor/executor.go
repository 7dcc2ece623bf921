// Package executor turns purchase events into sequential leg orders.
package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"strategy-coordinator/internal/chain"
	"strategy-coordinator/internal/strategy"
	"strategy-coordinator/internal/venue"
)

// ErrUnknownStrategy reports a purchase for a strategy id with no definition.
var ErrUnknownStrategy = errors.New("executor: unknown strategy")

// Submitter places one order intent.
type Submitter interface {
	Submit(ctx context.Context, intent venue.OrderIntent) (venue.ExecutionResult, error)
}

// Definitions looks up strategy definitions.
type Definitions interface {
	Get(id uint64) (strategy.Definition, bool)
}

// Executor handles one purchase at a time on behalf of its caller.
type Executor struct {
	defs   Definitions
	venue  Submitter
	logger zerolog.Logger
}

// New builds an executor.
func New(defs Definitions, submitter Submitter, logger zerolog.Logger) *Executor {
	return &Executor{
		defs:   defs,
		venue:  submitter,
		logger: logger.With().Str("component", "executor").Logger(),
	}
}

// Intents derives the leg orders of a purchase. Zero-weight legs produce none.
func Intents(def strategy.Definition, ev chain.PurchaseEvent) []venue.OrderIntent {
	legs := def.ActiveLegs()
	intents := make([]venue.OrderIntent, 0, len(legs))
	for _, leg := range legs {
		intents = append(intents, venue.OrderIntent{
			StrategyID:    def.ID,
			MarketID:      leg.MarketID,
			TokenID:       leg.TokenID,
			Side:          venue.SideBuy,
			QuoteAmount:   strategy.QuoteAmount(ev.NetAmount, leg.NotionalBps),
			LimitPriceBps: leg.MaxPriceBps,
		})
	}
	return intents
}

// Execute submits the purchase's intents in leg order. The first failure stops
// the remaining legs; results of the legs attempted so far are returned with it.
func (e *Executor) Execute(ctx context.Context, ev chain.PurchaseEvent) ([]venue.ExecutionResult, error) {
	log := e.logger.With().
		Uint64("strategy_id", ev.StrategyID).
		Str("tx_hash", ev.TxHash).
		Uint("log_index", ev.LogIndex).
		Logger()

	def, ok := e.defs.Get(ev.StrategyID)
	if !ok {
		log.Warn().Msg("purchase references unknown strategy; no orders placed")
		return nil, fmt.Errorf("strategy %d: %w", ev.StrategyID, ErrUnknownStrategy)
	}

	intents := Intents(def, ev)
	log.Info().
		Str("net_usdc", strategy.USDC(ev.NetAmount).String()).
		Int("legs", len(intents)).
		Msg("executing purchase")

	results := make([]venue.ExecutionResult, 0, len(intents))
	for i, intent := range intents {
		if intent.QuoteAmount == 0 {
			results = append(results, venue.ExecutionResult{Intent: intent, Status: venue.StatusSkipped, Reason: "quote amount rounds to zero"})
			continue
		}
		res, err := e.venue.Submit(ctx, intent)
		results = append(results, res)
		if err != nil {
			log.Error().Err(err).
				Str("market_id", intent.MarketID).
				Str("token_id", intent.TokenID).
				Int("leg", i).
				Int("remaining", len(intents)-i-1).
				Msg("leg failed; aborting remaining legs")
			return results, fmt.Errorf("strategy %d leg %d (market %s): %w", ev.StrategyID, i, intent.MarketID, err)
		}
		log.Debug().
			Str("market_id", intent.MarketID).
			Str("quote_usdc", strategy.USDC(intent.QuoteAmount).String()).
			Str("limit_price", strategy.BpsToPrice(intent.LimitPriceBps).String()).
			Msg("leg filled")
	}
	return results, nil
}
