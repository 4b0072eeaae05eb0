package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ringba-rpc-alerts/internal/alerting"
	"ringba-rpc-alerts/internal/config"
	"ringba-rpc-alerts/internal/detector"
	"ringba-rpc-alerts/internal/errs"
	"ringba-rpc-alerts/internal/retry"
	"ringba-rpc-alerts/internal/scheduler"
	"ringba-rpc-alerts/internal/source"
	"ringba-rpc-alerts/internal/storage"
)

// Service orchestrates acquisition, detection, persistence, and
// alerting for the daily check windows.
type Service struct {
	cfg       *config.Config
	scheduler *scheduler.Scheduler
	src       source.MetricSource
	store     storage.DayStateStore
	notifier  alerting.Notifier
	logger    zerolog.Logger

	detect  *detector.Detector
	policy  retry.Policy
	locker  storage.AdvisoryLocker
	lockKey int64
	now     func() time.Time
}

// New constructs the monitoring service.
func New(cfg *config.Config, sched *scheduler.Scheduler, src source.MetricSource, store storage.DayStateStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		cfg:       cfg,
		scheduler: sched,
		src:       src,
		store:     store,
		notifier:  notifier,
		logger:    logger.With().Str("component", "service").Logger(),
		detect:    detector.New(cfg.ThresholdDecimal(), cfg.Monitor.RearmRequalified),
		policy:    retryPolicy(cfg.Acquisition.Retry),
		locker:    locker,
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
		now:       time.Now,
	}
}

func retryPolicy(cfg config.RetryConfig) retry.Policy {
	policy := retry.DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelay > 0 {
		policy.BaseDelay = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		policy.MaxDelay = cfg.MaxDelay
	}
	if strings.EqualFold(cfg.Strategy, "linear") {
		policy.Strategy = retry.StrategyLinear
	}
	return policy
}

// Run blocks on the scheduler, executing each configured window at its
// daily time until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, func(ctx context.Context, window string, now time.Time) error {
		return s.RunCheck(ctx, window, now)
	})
}

// RunCheck executes one named check window for the day containing now.
// Concurrent invocations for the same key are serialized through a
// postgres advisory lock; the loser skips rather than waits.
func (s *Service) RunCheck(ctx context.Context, windowName string, now time.Time) error {
	window, ok := s.cfg.Window(windowName)
	if !ok {
		return fmt.Errorf("unknown check window %q", windowName)
	}

	loc := s.cfg.Location()
	day := storage.DayOf(now, loc)
	logger := s.logger.With().
		Str("run_id", uuid.NewString()).
		Str("window", window.Name).
		Str("day", day).
		Logger()

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		logger.Info().Msg("skip window because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	snaps, err := s.fetch(ctx, logger)
	if err != nil {
		var exhausted *errs.ExhaustedError
		if errors.As(err, &exhausted) {
			event := logger.Error().Err(exhausted.Last).Int("attempts", exhausted.Attempts)
			if exhausted.ArtifactPath != "" {
				event = event.Str("diagnostics", exhausted.ArtifactPath)
			}
			event.Msg("acquisition exhausted; window abandoned")
		}
		return err
	}
	logger.Info().Int("snapshots", len(snaps)).Msg("snapshots acquired")

	var report alerting.Report
	switch window.Role {
	case "baseline":
		report, err = s.runBaseline(ctx, logger, day, window.Name, snaps)
	default:
		report, err = s.runComparison(ctx, logger, day, window.Name, snaps)
	}
	if err != nil {
		return err
	}

	if s.cfg.Monitor.RetentionDays > 0 {
		keep := time.Duration(s.cfg.Monitor.RetentionDays) * 24 * time.Hour
		if err := s.store.Prune(ctx, keep); err != nil {
			logger.Warn().Err(err).Msg("failed to prune old day state")
		}
	}

	s.deliver(ctx, logger, report)
	return nil
}

// fetch runs the metric source under the configured retry policy and
// acquisition deadline.
func (s *Service) fetch(ctx context.Context, logger zerolog.Logger) ([]source.Snapshot, error) {
	if s.cfg.Acquisition.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Acquisition.Timeout)
		defer cancel()
	}

	filter := source.Filter{TargetName: s.cfg.Monitor.TargetName}
	return retry.Execute(ctx, s.policy, logger, func(ctx context.Context) ([]source.Snapshot, error) {
		return s.src.FetchSnapshots(ctx, filter)
	})
}

// runBaseline records the day's qualifying set. A re-run (or a
// concurrent run that lost the insert) adopts the stored set and emits
// no duplicate alerts.
func (s *Service) runBaseline(ctx context.Context, logger zerolog.Logger, day, windowName string, snaps []source.Snapshot) (alerting.Report, error) {
	qualified, events := s.detect.Baseline(snaps)

	stored, existed, err := s.store.RecordBaseline(ctx, day, windowName, qualified)
	if err != nil {
		return alerting.Report{}, fmt.Errorf("record baseline: %w", err)
	}
	if existed {
		logger.Info().
			Int("stored", len(stored)).
			Int("fetched", len(qualified)).
			Msg("baseline already recorded for day; keeping stored set")
		return alerting.Report{}, nil
	}

	logger.Info().Int("qualified", len(qualified)).Msg("baseline recorded")

	threshold := s.detect.Threshold()
	report := alerting.Report{
		Day:         day,
		Window:      windowName,
		Threshold:   threshold,
		GeneratedAt: s.now(),
		Headline:    fmt.Sprintf("RPC baseline check: %d targets at or above $%s", len(qualified), threshold.StringFixed(2)),
		Events:      s.alertEvents(events),
	}
	return report, nil
}

// runComparison evaluates this window against the day's baseline,
// replaying earlier comparison windows so a target alerts at most once
// per direction per day.
func (s *Service) runComparison(ctx context.Context, logger zerolog.Logger, day, windowName string, snaps []source.Snapshot) (alerting.Report, error) {
	baseline, err := s.store.GetBaseline(ctx, day)
	if err != nil {
		return alerting.Report{}, fmt.Errorf("load baseline: %w", err)
	}
	if baseline == nil {
		logger.Warn().Msg("no baseline recorded for day; comparison skipped")
		return alerting.Report{}, nil
	}

	prior, err := s.priorWindows(ctx, day, windowName)
	if err != nil {
		return alerting.Report{}, err
	}

	result := s.detect.Compare(baseline.Snapshots, prior, snaps)

	if err := s.store.RecordComparison(ctx, day, windowName, snaps); err != nil {
		return alerting.Report{}, fmt.Errorf("record comparison: %w", err)
	}

	logger.Info().
		Int("baseline", len(baseline.Snapshots)).
		Int("fell_below", len(result.Events)).
		Int("missing", len(result.Missing)).
		Int("suppressed", len(result.Suppressed)).
		Msg("comparison recorded")
	for _, snap := range result.Missing {
		logger.Warn().Str("target", snap.TargetName).Msg("baseline target absent from current report")
	}

	threshold := s.detect.Threshold()
	headline := fmt.Sprintf("All tracked targets still at or above $%s", threshold.StringFixed(2))
	if n := len(result.Events); n > 0 {
		headline = fmt.Sprintf("%d targets fell below $%s", n, threshold.StringFixed(2))
	}

	report := alerting.Report{
		Day:         day,
		Window:      windowName,
		Threshold:   threshold,
		GeneratedAt: s.now(),
		Headline:    headline,
		Events:      s.alertEvents(result.Events),
	}
	return report, nil
}

// priorWindows loads earlier comparison windows for the day in the
// configured window order, excluding the one being evaluated.
func (s *Service) priorWindows(ctx context.Context, day, exclude string) ([][]source.Snapshot, error) {
	records, err := s.store.ListWindows(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("list day windows: %w", err)
	}

	byName := make(map[string][]source.Snapshot, len(records))
	for _, record := range records {
		if record.Role != storage.RoleComparison || record.Window == exclude {
			continue
		}
		byName[record.Window] = record.Snapshots
	}

	prior := make([][]source.Snapshot, 0, len(byName))
	for _, window := range s.cfg.Monitor.Windows {
		if snaps, ok := byName[window.Name]; ok {
			prior = append(prior, snaps)
		}
	}
	return prior, nil
}

func (s *Service) alertEvents(events []detector.Event) []alerting.Event {
	out := make([]alerting.Event, 0, len(events))
	for _, event := range events {
		out = append(out, alerting.Event{
			TargetName:  event.Current.TargetName,
			TargetLink:  event.Current.DeepLink(),
			Direction:   string(event.Direction),
			RPC:         event.Current.RPC,
			BaselineRPC: event.Baseline.RPC,
			Calls:       event.Current.Calls,
			Revenue:     event.Current.Revenue,
			Tags:        event.Current.TopTags(s.cfg.Monitor.TopTags),
		})
	}
	return out
}

// deliver posts the report. Delivery failures are logged, never fatal:
// the stored day state is already consistent.
func (s *Service) deliver(ctx context.Context, logger zerolog.Logger, report alerting.Report) {
	if report.Headline == "" {
		return
	}
	if !s.cfg.Alerting.Enabled || s.notifier == nil {
		logger.Info().Str("headline", report.Headline).Int("events", len(report.Events)).Msg("alerting disabled; report not delivered")
		return
	}
	if err := s.notifier.Notify(ctx, report); err != nil {
		logger.Error().Err(err).Msg("failed to deliver alert")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
