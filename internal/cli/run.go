package cli

import (
	"github.com/spf13/cobra"

	"strategy-coordinator/internal/app"
)

var (
	runSimulate bool
	runDryRun   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the event and maturity monitors",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context(), app.RunOptions{
			Simulate: runSimulate,
			DryRun:   runDryRun,
		})
	},
}

func init() {
	runCmd.Flags().BoolVar(&runSimulate, "simulate", false, "Emit mock purchases instead of reading the chain")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Fill venue orders locally without sending them")
}
