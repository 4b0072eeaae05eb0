package cli

import (
	"github.com/spf13/cobra"

	"ringba-rpc-alerts/internal/app"
)

var (
	showDay    string
	showWindow string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recorded check windows for a day",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ShowOptions{
			Day:    showDay,
			Window: showWindow,
		}
		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showDay, "day", "", "Day to display (YYYY-MM-DD, defaults to today)")
	showCmd.Flags().StringVar(&showWindow, "window", "", "Show one window's full target list")
}
