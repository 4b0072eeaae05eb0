package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ringba-rpc-alerts/internal/app"
)

var (
	exportPNGPath string
	exportCSVPath string
)

var exportCmd = &cobra.Command{
	Use:   "export [username password] [start [end]]",
	Short: "Export the target report as CSV and/or PNG chart",
	Long: "Runs a one-shot acquisition and writes the report. Positional " +
		"username and password override the configured platform credentials " +
		"and force the browser-export path; start and end (YYYY-MM-DD) bound " +
		"the reporting period, defaulting to today.",
	Args: cobra.MaximumNArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			PNGPath: exportPNGPath,
			CSVPath: exportCSVPath,
		}

		dates := args
		if len(args) >= 2 {
			if _, err := time.Parse("2006-01-02", args[0]); err != nil {
				opts.Username, opts.Password = args[0], args[1]
				dates = args[2:]
			}
		}

		if len(dates) > 0 {
			start, err := time.Parse("2006-01-02", dates[0])
			if err != nil {
				return fmt.Errorf("invalid start date %q: %w", dates[0], err)
			}
			opts.Start, opts.End = start, start
		}
		if len(dates) > 1 {
			end, err := time.Parse("2006-01-02", dates[1])
			if err != nil {
				return fmt.Errorf("invalid end date %q: %w", dates[1], err)
			}
			opts.End = end
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "report.csv", "Path to write CSV data")
}
