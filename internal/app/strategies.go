package app

import (
	"context"
	"fmt"
	"text/tabwriter"

	"strategy-coordinator/internal/strategy"
)

// Strategies prints the loaded strategy definitions and their anchor markets.
func (a *App) Strategies(_ context.Context) error {
	defs, err := a.loadStrategies()
	if err != nil {
		return err
	}
	if defs.Len() == 0 {
		a.printf("no strategies defined in %s\n", a.Config.Strategies.Path)
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tName\tLeg\tMarket\tDirection\tWeight bps\tMax price\tAnchor")
	for _, def := range defs.All() {
		anchor, _ := def.AnchorMarket()
		for i, leg := range def.Legs {
			mark := ""
			if leg.MarketID == anchor && leg.NotionalBps > 0 {
				mark = "*"
				anchor = ""
			}
			fmt.Fprintf(writer, "%d\t%s\t%d\t%s\t%s\t%d\t%s\t%s\n",
				def.ID,
				def.Name,
				i,
				leg.MarketID,
				leg.Direction,
				leg.NotionalBps,
				strategy.BpsToPrice(leg.MaxPriceBps).StringFixed(2),
				mark,
			)
		}
		if def.Hedge.Asset != "" {
			side := "short"
			if def.Hedge.IsLong {
				side = "long"
			}
			fmt.Fprintf(writer, "%d\t%s\thedge\t%s %s\t%s\t\t\t\n", def.ID, def.Name, def.Hedge.Venue, def.Hedge.Asset, side)
		}
	}
	return writer.Flush()
}
