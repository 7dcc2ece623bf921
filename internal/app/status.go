package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"strategy-coordinator/internal/monitor"
	"strategy-coordinator/internal/storage"
	"strategy-coordinator/internal/strategy"
)

// Status prints recent purchases and settlement progress from the journal.
func (a *App) Status(ctx context.Context, opts StatusOptions) error {
	if a.Config.Database.DSN == "" {
		return errors.New("database not configured; journal status is only kept in Postgres")
	}
	journal, _, closeJournal, err := a.openJournal(ctx, false)
	if err != nil {
		return err
	}
	defer closeJournal()
	return a.printStatus(ctx, journal, opts.Limit)
}

func (a *App) printStatus(ctx context.Context, journal storage.Journal, limit int) error {
	events, err := journal.ListRecentEvents(ctx, limit)
	if err != nil {
		return err
	}
	settlements, err := journal.ListSettlements(ctx, limit)
	if err != nil {
		return err
	}
	next, ok, err := journal.LoadCursor(ctx, monitor.PurchaseCursor)
	if err != nil {
		return err
	}
	if ok {
		a.printf("next block: %d\n\n", next)
	}

	if len(events) == 0 {
		a.printf("no purchases processed\n")
	} else {
		writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Block\tTx\tStrategy\tNet USDC\tStatus\tUpdated (UTC)\tError")
		for _, ev := range events {
			errMsg := ""
			if ev.Error != nil {
				errMsg = sanitizeInline(*ev.Error)
			}
			fmt.Fprintf(writer, "%d\t%s:%d\t%d\t%s\t%s\t%s\t%s\n",
				ev.BlockNumber,
				shortHash(ev.TxHash),
				ev.LogIndex,
				ev.StrategyID,
				strategy.USDC(ev.NetAmount).StringFixed(2),
				ev.Status,
				ev.UpdatedAt.UTC().Format(time.RFC3339),
				errMsg,
			)
		}
		writer.Flush()
	}

	a.printf("\n")
	if len(settlements) == 0 {
		a.printf("no settlements recorded\n")
		return nil
	}
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Strategy\tStage\tPayout USDC\tInvested USDC\tPnL USDC\tPayout/USDC\tSettle Tx")
	for _, rec := range settlements {
		stage := string(rec.Stage)
		if stage == "" {
			stage = "closing"
		}
		if rec.Hold != "" {
			stage += " (on hold)"
		}
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
			rec.StrategyID,
			stage,
			strategy.USDC(rec.TotalPayout).StringFixed(2),
			strategy.USDC(rec.TotalInvested).StringFixed(2),
			signedUSDC(rec.RealizedPnL),
			rec.PayoutPerUSDC,
			shortHash(rec.SettleTxHash),
		)
	}
	writer.Flush()
	return nil
}

func signedUSDC(v int64) string {
	if v < 0 {
		return "-" + strategy.USDC(uint64(-v)).StringFixed(2)
	}
	return strategy.USDC(uint64(v)).StringFixed(2)
}

func shortHash(h string) string {
	if len(h) <= 14 {
		return h
	}
	return h[:10] + ".." + h[len(h)-4:]
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
