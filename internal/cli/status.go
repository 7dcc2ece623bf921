package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"strategy-coordinator/internal/app"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display recent purchases and settlements from the journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		if statusLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return getApp().Status(cmd.Context(), app.StatusOptions{Limit: statusLimit})
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "Number of rows to display per table")
}
