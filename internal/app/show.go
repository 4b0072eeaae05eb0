package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"ringba-rpc-alerts/internal/storage"
)

// Show prints the recorded check windows for a day, or one window's
// full target list when a window name is given.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	day := opts.Day
	if day == "" {
		day = storage.DayOf(time.Now(), a.Config.Location())
	}

	if opts.Window != "" {
		record, err := store.GetWindow(ctx, day, opts.Window)
		if err != nil {
			return err
		}
		if record == nil {
			fmt.Fprintf(os.Stdout, "no record for window %q on %s\n", opts.Window, day)
			return nil
		}
		return printWindowDetail(record)
	}

	records, err := store.ListWindows(ctx, day)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintf(os.Stdout, "no check windows recorded for %s\n", day)
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Window\tRole\tTargets\tRecorded At")
	for _, record := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%d\t%s\n",
			record.Window,
			record.Role,
			len(record.Snapshots),
			record.RecordedAt.Format(time.RFC3339),
		)
	}
	return writer.Flush()
}

func printWindowDetail(record *storage.WindowRecord) error {
	fmt.Fprintf(os.Stdout, "%s (%s) — %s, %d targets\n\n", record.Window, record.Role, record.Day, len(record.Snapshots))

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Target\tRPC\tCalls\tRevenue\tEnabled")
	for _, snap := range record.Snapshots {
		fmt.Fprintf(
			writer,
			"%s\t$%s\t%d\t$%s\t%t\n",
			snap.TargetName,
			snap.RPC.StringFixed(2),
			snap.Calls,
			snap.Revenue.StringFixed(2),
			snap.Enabled,
		)
	}
	return writer.Flush()
}
