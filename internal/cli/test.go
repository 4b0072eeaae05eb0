package cli

import (
	"github.com/spf13/cobra"
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Run every check window once against live data",
	Long: "Runs the baseline window and then each comparison window in " +
		"configured order against current data, exercising acquisition, " +
		"detection, persistence, and alerting end to end.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Test(cmd.Context())
	},
}
