package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"ringba-rpc-alerts/internal/source"
)

// Export runs a one-shot acquisition and writes the report as CSV
// and/or a PNG bar chart of RPC per target. It never touches day
// state, so it is safe to run alongside scheduled checks.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if !opts.Start.IsZero() && !opts.End.IsZero() && opts.End.Before(opts.Start) {
		return errors.New("end date must not be before start date")
	}

	src := a.newSource()
	if opts.Username != "" || opts.Password != "" {
		src = a.newScrapedSource(opts.Username, opts.Password)
	}

	if a.Config.Acquisition.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Config.Acquisition.Timeout)
		defer cancel()
	}

	snaps, err := src.FetchSnapshots(ctx, source.Filter{
		TargetName: a.Config.Monitor.TargetName,
		Start:      opts.Start,
		End:        opts.End,
	})
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		a.Logger.Info().Msg("report contains no targets; nothing exported")
		return nil
	}

	a.Logger.Info().Int("targets", len(snaps)).Msg("exporting report")

	if opts.CSVPath != "" {
		if err := writeSnapshotsCSV(opts.CSVPath, snaps); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeSnapshotsPNG(opts.PNGPath, snaps, a.Config.Monitor.Threshold); err != nil {
			return err
		}
	}
	return nil
}

func writeSnapshotsCSV(path string, snaps []source.Snapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"target_id", "target_name", "enabled", "rpc", "calls", "revenue", "tags", "captured_at", "method"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, snap := range snaps {
		tags := make([]string, 0, len(snap.Tags))
		for _, tag := range snap.Tags {
			tags = append(tags, fmt.Sprintf("%s (%d)", tag.Name, tag.Count))
		}
		record := []string{
			snap.TargetID,
			snap.TargetName,
			fmt.Sprintf("%t", snap.Enabled),
			snap.RPC.StringFixed(2),
			fmt.Sprintf("%d", snap.Calls),
			snap.Revenue.StringFixed(2),
			strings.Join(tags, "; "),
			snap.CapturedAt.Format(time.RFC3339),
			snap.Method,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSnapshotsPNG(path string, snaps []source.Snapshot, threshold float64) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	// Bar charts get unreadable past a few dozen labels; keep the
	// highest-RPC targets, which the source already sorts first.
	const maxBars = 30
	if len(snaps) > maxBars {
		snaps = snaps[:maxBars]
	}

	bars := make([]chart.Value, 0, len(snaps))
	for _, snap := range snaps {
		bars = append(bars, chart.Value{
			Label: truncateLabel(snap.TargetName, 18),
			Value: snap.RPC.InexactFloat64(),
		})
	}

	graph := chart.BarChart{
		Title:    fmt.Sprintf("RPC per target (threshold $%.2f)", threshold),
		Width:    1280,
		Height:   720,
		BarWidth: 28,
		XAxis: chart.Style{
			TextRotationDegrees: 45,
		},
		YAxis: chart.YAxis{
			Name: "RPC ($)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.2f")
			},
		},
		Bars: bars,
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func truncateLabel(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
