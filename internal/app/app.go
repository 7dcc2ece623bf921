package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"strategy-coordinator/internal/config"
	"strategy-coordinator/internal/monitor"
	"strategy-coordinator/internal/registry"
	"strategy-coordinator/internal/scheduler"
	"strategy-coordinator/internal/storage"
	"strategy-coordinator/internal/strategy"
	"strategy-coordinator/internal/venue"
	"strategy-coordinator/internal/version"
)

// ErrLockHeld reports another coordinator instance holding the advisory lock.
var ErrLockHeld = errors.New("another coordinator instance holds the advisory lock")

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// RunOptions tune the long-running coordinator.
type RunOptions struct {
	Simulate bool
	DryRun   bool
}

// ReplayOptions configure the replay command.
type ReplayOptions struct {
	FromBlock uint64
	ToBlock   uint64
	DryRun    bool
}

// StatusOptions configure the status command.
type StatusOptions struct {
	Limit int
}

func (a *App) loadStrategies() (*strategy.Store, error) {
	defs, err := strategy.LoadFile(a.Config.Strategies.Path)
	if err != nil {
		return nil, err
	}
	a.Logger.Info().Int("strategies", defs.Len()).Str("path", a.Config.Strategies.Path).Msg("strategies loaded")
	return defs, nil
}

// openJournal returns the Postgres journal when a DSN is configured and the
// in-memory journal otherwise. locker is nil for the memory journal.
func (a *App) openJournal(ctx context.Context, forceMemory bool) (storage.Journal, storage.AdvisoryLocker, func(), error) {
	if forceMemory || a.Config.Database.DSN == "" {
		return storage.NewMemory(), nil, func() {}, nil
	}
	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, nil, err
	}
	return store, store, store.Close, nil
}

// Run executes the coordinator until SIGINT/SIGTERM.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if opts.Simulate {
		a.Config.Monitor.Simulate = true
	}
	if opts.DryRun || opts.Simulate {
		a.Config.Venue.DryRun = true
	}
	if !a.Config.Monitor.Simulate {
		if err := a.Config.ValidateLive(); err != nil {
			return err
		}
	}

	defs, err := a.loadStrategies()
	if err != nil {
		return err
	}

	journal, locker, closeJournal, err := a.openJournal(ctx, a.Config.Monitor.Simulate)
	if err != nil {
		return err
	}
	defer closeJournal()
	if locker == nil {
		a.Logger.Warn().Msg("database.dsn not configured; journal is in-memory and lost on restart")
	} else {
		unlock, acquired, err := locker.TryAdvisoryLock(ctx, a.Config.App.AdvisoryLockKey)
		if err != nil {
			return err
		}
		if !acquired {
			return ErrLockHeld
		}
		defer unlock()
	}

	rt, err := a.newRuntime(defs, journal)
	if err != nil {
		return err
	}
	defer rt.Close()

	restored, err := rt.restoreSettled(ctx, journal)
	if err != nil {
		return err
	}
	if restored > 0 {
		a.Logger.Info().Int("strategies", restored).Msg("restored settled strategies from journal")
	}

	a.Logger.Info().
		Str("version", version.Version).
		Bool("simulate", a.Config.Monitor.Simulate).
		Bool("dry_run", a.Config.Venue.DryRun).
		Int("tracked_markets", rt.registry.Counts().Tracked).
		Msg("starting coordinator")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.events.Run(gctx) })
	if rt.maturity != nil {
		g.Go(func() error { return rt.maturity.Run(gctx) })
	} else {
		a.Logger.Warn().Msg("simulation mode: maturity monitor disabled")
	}
	g.Go(func() error { return a.reportStatus(gctx, rt) })

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("coordinator terminated with error")
		return err
	}

	a.Logger.Info().Msg("coordinator stopped")
	return nil
}

// Snapshot is the read-only status exposed by a running coordinator.
type Snapshot struct {
	At       time.Time
	Events   monitor.EventStats
	Maturity monitor.MaturityStats
	Gate     venue.GateStats
	Registry registry.Counts
}

func (a *App) reportStatus(ctx context.Context, rt *runtime) error {
	sched := scheduler.New(scheduler.Options{
		Name:     "status_reporter",
		Interval: a.Config.App.StatusInterval,
	}, a.Logger)
	return sched.Run(ctx, func(_ context.Context, at time.Time) error {
		s := rt.Snapshot(at)
		a.Logger.Info().
			Uint64("events_detected", s.Events.EventsDetected).
			Uint64("events_processed", s.Events.EventsProcessed).
			Uint64("event_duplicates", s.Events.Duplicates).
			Uint64("event_errors", s.Events.ErrorCount).
			Uint64("next_block", s.Events.NextBlock).
			Dur("uptime", s.Events.Uptime(at)).
			Uint64("settled", s.Maturity.Settled).
			Uint64("settlement_errors", s.Maturity.ErrorCount).
			Int64("gate_in_flight", s.Gate.InFlight).
			Int64("gate_queued", s.Gate.Queued).
			Int64("gate_max_in_flight", s.Gate.MaxInFlight).
			Int("tracked", s.Registry.Tracked).
			Int("registry_settled", s.Registry.Settled).
			Msg("coordinator status")
		return nil
	})
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.Out, format, args...)
}
