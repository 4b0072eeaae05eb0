package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ringba-rpc-alerts/internal/errs"
)

const (
	defaultLoginURL  = "https://app.ringba.com/#/login"
	defaultReportURL = "https://app.ringba.com/#/dashboard/call-logs/report/summary"
)

// ScrapedOptions parameterise the browser-automation source.
type ScrapedOptions struct {
	Username       string
	Password       string
	LoginURL       string
	ReportURL      string
	Headless       bool
	DownloadDir    string
	DiagnosticsDir string
	// DownloadWait bounds how long a triggered export may take to
	// land in DownloadDir before the next fallback is tried.
	DownloadWait time.Duration
	// PageWait bounds individual page interactions.
	PageWait time.Duration
	Location *time.Location
}

func (o ScrapedOptions) withDefaults() ScrapedOptions {
	if o.LoginURL == "" {
		o.LoginURL = defaultLoginURL
	}
	if o.ReportURL == "" {
		o.ReportURL = defaultReportURL
	}
	if o.DownloadDir == "" {
		o.DownloadDir = "downloads"
	}
	if o.DiagnosticsDir == "" {
		o.DiagnosticsDir = "diagnostics"
	}
	if o.DownloadWait <= 0 {
		o.DownloadWait = 45 * time.Second
	}
	if o.PageWait <= 0 {
		o.PageWait = 40 * time.Second
	}
	return o
}

// Scraped acquires metrics by logging in to the platform's web UI and
// exporting the summary report as CSV.
type Scraped struct {
	opts   ScrapedOptions
	logger zerolog.Logger
	now    func() time.Time
}

// NewScraped constructs a browser-automation metric source.
func NewScraped(opts ScrapedOptions, logger zerolog.Logger) *Scraped {
	return &Scraped{
		opts:   opts.withDefaults(),
		logger: logger.With().Str("component", "scraped_source").Logger(),
		now:    time.Now,
	}
}

func (s *Scraped) location() *time.Location {
	if s.opts.Location != nil {
		return s.opts.Location
	}
	return time.UTC
}

// FetchSnapshots drives a full UI session: authenticate, open the
// report for the filter's date range, trigger the export, then obtain
// the data via a fallback ladder — download-dir polling, in-page table
// extraction, one export re-trigger. Diagnostics are captured only
// when every strategy has failed.
func (s *Scraped) FetchSnapshots(ctx context.Context, filter Filter) ([]Snapshot, error) {
	if s.opts.Username == "" || s.opts.Password == "" {
		return nil, errs.PermanentAcquisition("scraped", errors.New("platform username and password required"))
	}

	session, err := newBrowserSession(ctx, s.opts, s.logger)
	if err != nil {
		return nil, errs.TransientAcquisition("browser start", err)
	}
	defer session.Close()

	if err := session.login(s.opts.LoginURL, s.opts.Username, s.opts.Password, s.opts.PageWait); err != nil {
		if errors.Is(err, errCredentialsRejected) {
			return nil, errs.PermanentAcquisition("scraped login", err)
		}
		return nil, errs.TransientAcquisition("scraped login", err)
	}

	start, end := reportRange(filter, s.location(), s.now())
	if err := session.navigate(s.reportURL(start, end), s.opts.PageWait); err != nil {
		return nil, errs.TransientAcquisition("open report", err)
	}

	capturedAt := s.now().In(s.location())
	var lastErr error

	// Strategy 1: export then poll the download directory.
	exportedAt := time.Now()
	if err := session.triggerExport(s.opts.PageWait); err != nil {
		s.logger.Warn().Err(err).Msg("export trigger failed")
		lastErr = err
	} else if path, err := awaitDownload(ctx, s.opts.DownloadDir, exportedAt, s.opts.DownloadWait); err != nil {
		s.logger.Warn().Err(err).Msg("export download did not appear, trying table extraction")
		lastErr = err
	} else {
		return s.parseFile(path, capturedAt, filter)
	}

	// Strategy 2: read the rendered report table directly.
	if text, err := session.extractTableCSV(s.opts.PageWait); err != nil {
		s.logger.Warn().Err(err).Msg("table extraction failed, re-triggering export")
		lastErr = err
	} else {
		s.logger.Info().Msg("recovered report via in-page table extraction")
		return s.parseText(text, capturedAt, filter)
	}

	// Strategy 3: one re-trigger, then a final poll.
	exportedAt = time.Now()
	if err := session.triggerExport(s.opts.PageWait); err != nil {
		lastErr = err
	} else if path, err := awaitDownload(ctx, s.opts.DownloadDir, exportedAt, s.opts.DownloadWait); err != nil {
		lastErr = err
	} else {
		s.logger.Info().Msg("recovered report after export re-trigger")
		return s.parseFile(path, capturedAt, filter)
	}

	artifact, diagErr := session.captureDiagnostics(s.opts.DiagnosticsDir, "export-failed")
	if diagErr != nil {
		s.logger.Error().Err(diagErr).Msg("diagnostics capture failed")
	}

	acq := errs.TransientAcquisition("scraped export", fmt.Errorf("all download strategies failed: %w", lastErr))
	acq.Artifact = artifact
	return nil, acq
}

func (s *Scraped) reportURL(start, end time.Time) string {
	const day = "2006-01-02"
	// The report defaults to today; only explicit ranges need params.
	today := s.now().In(s.location()).Format(day)
	if start.Format(day) == today && end.Format(day) == today {
		return s.opts.ReportURL
	}
	return fmt.Sprintf("%s?startDate=%s&endDate=%s", s.opts.ReportURL, start.Format(day), end.Format(day))
}

func (s *Scraped) parseFile(path string, capturedAt time.Time, filter Filter) ([]Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errs.TransientAcquisition("open export", err)
	}
	defer file.Close()

	rows, err := ParseReport(file, capturedAt, s.logger)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("file", path).Int("targets", len(rows.Snapshots)).Int("dropped_rows", rows.Dropped).Msg("parsed export file")
	return filterByName(rows.Snapshots, filter.TargetName), nil
}

func (s *Scraped) parseText(text string, capturedAt time.Time, filter Filter) ([]Snapshot, error) {
	rows, err := ParseReport(strings.NewReader(text), capturedAt, s.logger)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int("targets", len(rows.Snapshots)).Int("dropped_rows", rows.Dropped).Msg("parsed in-page table")
	return filterByName(rows.Snapshots, filter.TargetName), nil
}

var _ MetricSource = (*Scraped)(nil)
