package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"strategy-coordinator/internal/app"
)

var (
	replayFrom   uint64
	replayTo     uint64
	replayDryRun bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Re-execute unprocessed purchases in a block range",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("from-block") || !cmd.Flags().Changed("to-block") {
			return fmt.Errorf("--from-block and --to-block must be provided")
		}
		if replayTo < replayFrom {
			return fmt.Errorf("--to-block must not be below --from-block")
		}

		return getApp().Replay(cmd.Context(), app.ReplayOptions{
			FromBlock: replayFrom,
			ToBlock:   replayTo,
			DryRun:    replayDryRun,
		})
	},
}

func init() {
	replayCmd.Flags().Uint64Var(&replayFrom, "from-block", 0, "First block to rescan")
	replayCmd.Flags().Uint64Var(&replayTo, "to-block", 0, "Last block to rescan (inclusive)")
	replayCmd.Flags().BoolVar(&replayDryRun, "dry-run", false, "Fill venue orders locally without sending them")
}
