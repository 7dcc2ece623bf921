// Package settlement closes a matured strategy's positions and writes the
// settlement figures on-chain.
//
// Progress is journaled per strategy after every completed step and before
// waiting on any broadcast transaction, so a failed settlement resumes where
// it stopped instead of selling, closing or settling twice.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"strategy-coordinator/internal/chain"
	"strategy-coordinator/internal/storage"
	"strategy-coordinator/internal/strategy"
	"strategy-coordinator/internal/venue"
)

var (
	// ErrHedgeNotExecuted reports a strategy whose hedge order never executed.
	ErrHedgeNotExecuted = chain.ErrNotExecuted
	// ErrAlreadySettled reports a strategy settled earlier, locally or on-chain.
	ErrAlreadySettled = chain.ErrAlreadySettled
	// ErrNothingInvested reports a strategy with no invested amount to divide by.
	ErrNothingInvested = errors.New("settlement: strategy has no invested amount")
	// ErrUnknownStrategy reports a strategy id with no definition.
	ErrUnknownStrategy = errors.New("settlement: unknown strategy")
	// ErrOnHold reports a settlement parked until an operator clears its hold.
	ErrOnHold = errors.New("settlement: on hold")
)

// Record is the outcome of a settlement.
type Record struct {
	StrategyID    uint64
	TotalPayout   uint64
	TotalInvested uint64
	RealizedPnL   int64
	PayoutPerUSDC uint64
	HedgeTxHash   string
	SettleTxHash  string
}

func recordFrom(j storage.SettlementRecord) Record {
	return Record{
		StrategyID:    j.StrategyID,
		TotalPayout:   j.TotalPayout,
		TotalInvested: j.TotalInvested,
		RealizedPnL:   j.RealizedPnL,
		PayoutPerUSDC: j.PayoutPerUSDC,
		HedgeTxHash:   j.HedgeTxHash,
		SettleTxHash:  j.SettleTxHash,
	}
}

// Closer sells a held position and reports the USDC received.
type Closer interface {
	ClosePosition(ctx context.Context, tokenID string, side venue.Side) (uint64, error)
}

// Definitions looks up strategy definitions.
type Definitions interface {
	Get(id uint64) (strategy.Definition, bool)
}

// Coordinator settles strategies one at a time for its caller.
type Coordinator struct {
	defs    Definitions
	closer  Closer
	vault   chain.Vault
	journal storage.SettlementJournal
	logger  zerolog.Logger
}

// New builds a coordinator.
func New(defs Definitions, closer Closer, vault chain.Vault, journal storage.SettlementJournal, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		defs:    defs,
		closer:  closer,
		vault:   vault,
		journal: journal,
		logger:  logger.With().Str("component", "settlement").Logger(),
	}
}

// Settle runs the settlement of strategyID:
//
//  1. the hedge order must have executed;
//  2. every active leg's position is closed and the proceeds summed;
//  3. the hedge is closed with realized PnL = payout - hedge amount;
//  4. the payout per invested USDC is submitted on-chain.
//
// Steps already recorded in the journal are skipped.
func (c *Coordinator) Settle(ctx context.Context, strategyID uint64) (Record, error) {
	log := c.logger.With().Uint64("strategy_id", strategyID).Logger()

	def, ok := c.defs.Get(strategyID)
	if !ok {
		return Record{}, fmt.Errorf("strategy %d: %w", strategyID, ErrUnknownStrategy)
	}

	rec, found, err := c.journal.LoadSettlement(ctx, strategyID)
	if err != nil {
		return Record{}, fmt.Errorf("strategy %d: load journal: %w", strategyID, err)
	}
	if !found {
		rec = storage.SettlementRecord{StrategyID: strategyID}
	}
	if rec.Stage.Reached(storage.StageSettled) {
		return recordFrom(rec), fmt.Errorf("strategy %d: %w", strategyID, ErrAlreadySettled)
	}
	if rec.Hold != "" {
		return recordFrom(rec), fmt.Errorf("strategy %d: %w: %s", strategyID, ErrOnHold, rec.Hold)
	}
	if found {
		log.Info().Str("stage", string(rec.Stage)).Int("legs_closed", rec.LegsClosed).Msg("resuming settlement")
	}

	if !rec.Stage.Reached(storage.StagePositionsClosed) {
		if err := c.closePositions(ctx, def, &rec, log); err != nil {
			return recordFrom(rec), err
		}
	}

	if !rec.Stage.Reached(storage.StageHedgeClosed) {
		if err := c.closeHedge(ctx, &rec, log); err != nil {
			return recordFrom(rec), err
		}
	}

	if err := c.settle(ctx, &rec, log); err != nil {
		return recordFrom(rec), err
	}
	return recordFrom(rec), nil
}

func (c *Coordinator) closePositions(ctx context.Context, def strategy.Definition, rec *storage.SettlementRecord, log zerolog.Logger) error {
	state, err := c.vault.GetStrategy(ctx, rec.StrategyID)
	if err != nil {
		return fmt.Errorf("strategy %d: read vault state: %w", rec.StrategyID, err)
	}
	if state.Settled {
		rec.Stage = storage.StageSettled
		if err := c.save(ctx, rec); err != nil {
			return err
		}
		return fmt.Errorf("strategy %d: %w", rec.StrategyID, ErrAlreadySettled)
	}
	if state.TotalInvested == 0 {
		return fmt.Errorf("strategy %d: %w", rec.StrategyID, ErrNothingInvested)
	}
	rec.TotalInvested = state.TotalInvested

	executed, err := c.vault.IsOrderExecuted(ctx, rec.StrategyID)
	if err != nil {
		return fmt.Errorf("strategy %d: check hedge order: %w", rec.StrategyID, err)
	}
	if !executed {
		return fmt.Errorf("strategy %d: %w", rec.StrategyID, ErrHedgeNotExecuted)
	}

	legs := def.ActiveLegs()
	for i := rec.LegsClosed; i < len(legs); i++ {
		leg := legs[i]
		proceeds, err := c.closer.ClosePosition(ctx, leg.TokenID, venue.SideBuy)
		if err != nil {
			log.Error().Err(err).
				Str("market_id", leg.MarketID).
				Str("token_id", leg.TokenID).
				Int("leg", i).
				Msg("close position failed")
			if errors.Is(err, venue.ErrUnconfirmed) {
				// the sale may have happened; a retry would read an empty balance
				rec.Hold = fmt.Sprintf("leg %d (token %s) close unconfirmed: %v", i, leg.TokenID, err)
				if saveErr := c.save(ctx, rec); saveErr != nil {
					err = errors.Join(err, saveErr)
				}
			}
			return fmt.Errorf("strategy %d leg %d (market %s): close position: %w", rec.StrategyID, i, leg.MarketID, err)
		}
		rec.TotalPayout += proceeds
		rec.LegsClosed = i + 1
		if err := c.save(ctx, rec); err != nil {
			return err
		}
		log.Debug().
			Str("market_id", leg.MarketID).
			Str("proceeds_usdc", strategy.USDC(proceeds).String()).
			Msg("position closed")
	}

	rec.Stage = storage.StagePositionsClosed
	if err := c.save(ctx, rec); err != nil {
		return err
	}
	log.Info().
		Str("total_payout_usdc", strategy.USDC(rec.TotalPayout).String()).
		Str("total_invested_usdc", strategy.USDC(rec.TotalInvested).String()).
		Msg("positions closed")
	return nil
}

// closeHedge broadcasts closeHedgeOrder once and journals the tx hash before
// waiting for it, so a resumed settlement waits on the same transaction.
func (c *Coordinator) closeHedge(ctx context.Context, rec *storage.SettlementRecord, log zerolog.Logger) error {
	if !rec.Stage.Reached(storage.StageHedgeSent) {
		hedge, err := c.vault.GetHedgeOrder(ctx, rec.StrategyID)
		if err != nil {
			return fmt.Errorf("strategy %d: read hedge order: %w", rec.StrategyID, err)
		}
		pnl, err := signedDiff(rec.TotalPayout, hedge.Amount)
		if err != nil {
			return fmt.Errorf("strategy %d: %w", rec.StrategyID, err)
		}

		txHash, err := c.vault.CloseHedgeOrder(ctx, rec.StrategyID, pnl)
		if err != nil {
			return fmt.Errorf("strategy %d: close hedge: %w", rec.StrategyID, err)
		}
		rec.RealizedPnL = pnl
		rec.HedgeTxHash = txHash
		rec.Stage = storage.StageHedgeSent
		if err := c.save(ctx, rec); err != nil {
			return err
		}
		log.Info().
			Str("tx_hash", txHash).
			Str("asset", hedge.Asset).
			Int64("realized_pnl", rec.RealizedPnL).
			Msg("hedge close sent")
	} else {
		log.Info().Str("tx_hash", rec.HedgeTxHash).Msg("awaiting hedge close sent earlier")
	}

	if err := c.vault.WaitMined(ctx, rec.HedgeTxHash); err != nil {
		if errors.Is(err, chain.ErrReverted) {
			// nothing changed on-chain; the next attempt sends a fresh close
			rec.Stage = storage.StagePositionsClosed
			rec.HedgeTxHash = ""
			if saveErr := c.save(ctx, rec); saveErr != nil {
				err = errors.Join(err, saveErr)
			}
		}
		return fmt.Errorf("strategy %d: close hedge: %w", rec.StrategyID, err)
	}
	rec.Stage = storage.StageHedgeClosed
	if err := c.save(ctx, rec); err != nil {
		return err
	}
	log.Info().
		Str("tx_hash", rec.HedgeTxHash).
		Int64("realized_pnl", rec.RealizedPnL).
		Msg("hedge closed")
	return nil
}

// settle broadcasts settleStrategy once and waits for it the same way.
func (c *Coordinator) settle(ctx context.Context, rec *storage.SettlementRecord, log zerolog.Logger) error {
	if !rec.Stage.Reached(storage.StageSettleSent) {
		pps, err := PayoutPerUSDC(rec.TotalPayout, rec.TotalInvested)
		if err != nil {
			return fmt.Errorf("strategy %d: %w", rec.StrategyID, err)
		}
		rec.PayoutPerUSDC = pps

		txHash, err := c.vault.SettleStrategy(ctx, rec.StrategyID, pps)
		if err != nil {
			if errors.Is(err, chain.ErrAlreadySettled) {
				rec.Stage = storage.StageSettled
				if saveErr := c.save(ctx, rec); saveErr != nil {
					return errors.Join(err, saveErr)
				}
			}
			return fmt.Errorf("strategy %d: settle: %w", rec.StrategyID, err)
		}
		rec.SettleTxHash = txHash
		rec.Stage = storage.StageSettleSent
		if err := c.save(ctx, rec); err != nil {
			return err
		}
		log.Info().Str("tx_hash", txHash).Uint64("payout_per_usdc", pps).Msg("settlement sent")
	} else {
		log.Info().Str("tx_hash", rec.SettleTxHash).Msg("awaiting settlement sent earlier")
	}

	if err := c.vault.WaitMined(ctx, rec.SettleTxHash); err != nil {
		if errors.Is(err, chain.ErrReverted) {
			rec.Stage = storage.StageHedgeClosed
			rec.SettleTxHash = ""
			if saveErr := c.save(ctx, rec); saveErr != nil {
				err = errors.Join(err, saveErr)
			}
		}
		return fmt.Errorf("strategy %d: settle: %w", rec.StrategyID, err)
	}
	rec.Stage = storage.StageSettled
	if err := c.save(ctx, rec); err != nil {
		return err
	}
	log.Info().
		Str("tx_hash", rec.SettleTxHash).
		Uint64("payout_per_usdc", rec.PayoutPerUSDC).
		Msg("strategy settled")
	return nil
}

func (c *Coordinator) save(ctx context.Context, rec *storage.SettlementRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	if err := c.journal.SaveSettlement(ctx, *rec); err != nil {
		return fmt.Errorf("strategy %d: save journal: %w", rec.StrategyID, err)
	}
	return nil
}

// PayoutPerUSDC is floor(totalPayout * 1e6 / totalInvested).
func PayoutPerUSDC(totalPayout, totalInvested uint64) (uint64, error) {
	if totalInvested == 0 {
		return 0, ErrNothingInvested
	}
	return strategy.MulDiv(totalPayout, strategy.USDCUnit, totalInvested)
}

func signedDiff(a, b uint64) (int64, error) {
	if a > math.MaxInt64 || b > math.MaxInt64 {
		return 0, fmt.Errorf("pnl operands out of range: %d - %d", a, b)
	}
	return int64(a) - int64(b), nil
}
