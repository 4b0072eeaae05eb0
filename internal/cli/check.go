package cli

import (
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check <window>",
	Short: "Execute one named check window immediately",
	Long: "Execute one configured check window (for example \"morning\" or " +
		"\"afternoon\") against live data and exit. Intended for cron-style " +
		"deployments that do not keep the scheduler running.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RunWindow(cmd.Context(), args[0])
	},
}
