package app

import (
	"context"
	"errors"
	"fmt"
)

// Replay rescans a block range and executes purchases the journal has never
// claimed. The run cursor is not moved.
func (a *App) Replay(ctx context.Context, opts ReplayOptions) error {
	if opts.ToBlock < opts.FromBlock {
		return errors.New("--to-block must not be below --from-block")
	}
	if opts.DryRun {
		a.Config.Venue.DryRun = true
	}
	a.Config.Monitor.Simulate = false
	if err := a.Config.ValidateLive(); err != nil {
		return err
	}

	defs, err := a.loadStrategies()
	if err != nil {
		return err
	}
	journal, _, closeJournal, err := a.openJournal(ctx, false)
	if err != nil {
		return err
	}
	defer closeJournal()
	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; replay cannot skip purchases handled by earlier runs")
	}

	rt, err := a.newRuntime(defs, journal)
	if err != nil {
		return err
	}
	defer rt.Close()

	stats, err := rt.events.Replay(ctx, opts.FromBlock, opts.ToBlock)
	a.Logger.Info().
		Uint64("from_block", stats.From).
		Uint64("to_block", stats.To).
		Int("events", stats.Events).
		Int("executed", stats.Executed).
		Int("duplicates", stats.Duplicates).
		Int("failed", stats.Failed).
		Msg("replay finished")
	if err != nil {
		return err
	}

	a.printf("blocks %d-%d: %d purchases, %d executed, %d already processed, %d failed\n",
		stats.From, stats.To, stats.Events, stats.Executed, stats.Duplicates, stats.Failed)
	if stats.Failed > 0 {
		return fmt.Errorf("%d purchases failed during replay; see logs", stats.Failed)
	}
	return nil
}
