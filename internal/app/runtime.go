package app

import (
	"context"
	"fmt"
	"time"

	"strategy-coordinator/internal/alerting"
	"strategy-coordinator/internal/chain"
	"strategy-coordinator/internal/executor"
	"strategy-coordinator/internal/monitor"
	"strategy-coordinator/internal/registry"
	"strategy-coordinator/internal/retry"
	"strategy-coordinator/internal/scheduler"
	"strategy-coordinator/internal/settlement"
	"strategy-coordinator/internal/storage"
	"strategy-coordinator/internal/strategy"
	"strategy-coordinator/internal/venue"
	"strategy-coordinator/internal/version"
)

// runtime holds the wired components of one coordinator process.
type runtime struct {
	defs     *strategy.Store
	registry *registry.Registry
	orders   *venue.OrderClient
	events   *monitor.EventMonitor
	maturity *monitor.MaturityMonitor
	conn     *chain.Conn
}

// newRuntime wires every component from configuration. In simulation mode no
// chain connection is made and the maturity monitor is left nil.
func (a *App) newRuntime(defs *strategy.Store, journal storage.Journal) (*runtime, error) {
	cfg := a.Config
	rt := &runtime{defs: defs, registry: registry.New()}

	if skipped := rt.registry.Seed(defs.All()); len(skipped) > 0 {
		a.Logger.Warn().Interface("strategy_ids", skipped).Msg("strategies without an active leg are not tracked for maturity")
	}

	api, err := a.newVenueAPI()
	if err != nil {
		return nil, err
	}
	rt.orders = venue.NewOrderClient(api, venue.OrderClientOptions{
		Concurrency:   int(cfg.Venue.Concurrency),
		Retry:         retry.Policy{Attempts: cfg.Venue.RetryAttempts, Delay: cfg.Venue.RetryDelay},
		CloseFloorBps: cfg.Venue.CloseFloorBps,
	}, a.Logger)

	exec := executor.New(defs, rt.orders, a.Logger)
	eventOpts := monitor.EventOptions{
		BatchSize:            cfg.Chain.BatchSize,
		PollInterval:         cfg.Monitor.PollInterval,
		RetryDelay:           cfg.Monitor.RetryDelay,
		StartBlock:           cfg.Chain.StartBlock,
		LookbackBlocks:       cfg.Chain.LookbackBlocks,
		Simulate:             cfg.Monitor.Simulate,
		SimulationInterval:   cfg.Monitor.SimulationInterval,
		SimulationStrategyID: cfg.Monitor.SimulationStrategyID,
		SimulationNetAmount:  cfg.Monitor.SimulationNetAmount,
	}

	notifier := a.newNotifier()

	if cfg.Monitor.Simulate {
		rt.events = monitor.NewEventMonitor(eventOpts, nil, exec, journal, a.Logger)
		if notifier != nil {
			rt.events.SetNotifier(notifier)
		}
		return rt, nil
	}

	rt.conn = chain.NewConn(cfg.Chain.RPCURL)
	source, err := chain.NewRPCLogSource(chain.LogSourceOptions{
		VaultAddress:  cfg.Chain.VaultAddress,
		Confirmations: cfg.Chain.Confirmations,
	}, rt.conn)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.events = monitor.NewEventMonitor(eventOpts, source, exec, journal, a.Logger)
	if notifier != nil {
		rt.events.SetNotifier(notifier)
	}

	txSigner, err := chain.NewKeySigner(cfg.Chain.PrivateKey, cfg.Chain.ChainID)
	if err != nil {
		rt.Close()
		return nil, err
	}
	vault, err := chain.NewVaultClient(chain.VaultOptions{
		Address:        cfg.Chain.VaultAddress,
		ReceiptTimeout: cfg.Chain.ReceiptTimeout,
		ReceiptPoll:    cfg.Chain.ReceiptPoll,
		GasBufferPct:   cfg.Chain.GasBufferPct,
	}, rt.conn, txSigner, a.Logger)
	if err != nil {
		rt.Close()
		return nil, err
	}

	settler := settlement.New(defs, rt.orders, vault, journal, a.Logger)
	sched := scheduler.New(scheduler.Options{
		Name:         "maturity_scheduler",
		Interval:     cfg.Monitor.MaturityInterval,
		StartupDelay: cfg.Monitor.StartupDelay,
		Immediate:    true,
	}, a.Logger)
	rt.maturity = monitor.NewMaturityMonitor(rt.registry, rt.orders, settler, sched, a.Logger)
	if notifier != nil {
		rt.maturity.SetNotifier(notifier)
	}
	return rt, nil
}

// newNotifier returns nil when no notification channel is enabled.
func (a *App) newNotifier() alerting.Notifier {
	cfg := a.Config.Alerting
	if !cfg.Telegram.Enabled {
		return nil
	}
	tg := alerting.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, cfg.Telegram.Timeout, a.Logger)
	return alerting.NewThrottled(tg, cfg.Cooldown, a.Logger)
}

// newVenueAPI returns the live CLOB client, or the dry-run backend that still
// reads real market status when a chain connection is configured.
func (a *App) newVenueAPI() (venue.API, error) {
	cfg := a.Config.Venue
	if cfg.UserAgent == "" {
		cfg.UserAgent = version.UserAgent()
	}
	opts := venue.ClientOptions{
		CLOBURL:       cfg.CLOBURL,
		GammaURL:      cfg.GammaURL,
		Timeout:       cfg.RequestTimeout,
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.Burst,
		UserAgent:     cfg.UserAgent,
		Credentials: venue.Credentials{
			APIKey:     cfg.APIKey,
			Secret:     cfg.APISecret,
			Passphrase: cfg.APIPassphrase,
		},
	}

	if cfg.DryRun {
		var status venue.StatusSource
		if !a.Config.Monitor.Simulate {
			status = venue.NewClient(opts, nil, a.Logger)
		}
		a.Logger.Warn().Msg("venue dry-run: orders are filled locally and never sent")
		return venue.NewDryRun(status, a.Logger), nil
	}

	signer, err := venue.NewEIP712Signer(cfg.SignerKey, a.Config.Chain.ChainID, cfg.NegRisk)
	if err != nil {
		return nil, fmt.Errorf("venue signer: %w", err)
	}
	return venue.NewClient(opts, signer, a.Logger), nil
}

const restoreLimit = 10_000

// restoreSettled marks strategies the journal records as settled.
func (rt *runtime) restoreSettled(ctx context.Context, journal storage.SettlementJournal) (int, error) {
	records, err := journal.ListSettlements(ctx, restoreLimit)
	if err != nil {
		return 0, fmt.Errorf("restore settled strategies: %w", err)
	}
	restored := 0
	for _, rec := range records {
		if rec.Stage.Reached(storage.StageSettled) && rt.registry.MarkSettled(rec.StrategyID, rec.UpdatedAt) {
			restored++
		}
	}
	return restored, nil
}

// Snapshot collects the current stats of every component.
func (rt *runtime) Snapshot(at time.Time) Snapshot {
	s := Snapshot{
		At:       at,
		Events:   rt.events.Stats(),
		Gate:     rt.orders.Stats(),
		Registry: rt.registry.Counts(),
	}
	if rt.maturity != nil {
		s.Maturity = rt.maturity.Stats()
	}
	return s
}

// Close releases the chain connection.
func (rt *runtime) Close() {
	if rt.conn != nil {
		rt.conn.Close()
	}
}
