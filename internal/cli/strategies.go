package cli

import (
	"github.com/spf13/cobra"
)

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "List the configured strategy definitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Strategies(cmd.Context())
	},
}
