package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"strategy-coordinator/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "coordinator %s\n", version.String())
	},
}
