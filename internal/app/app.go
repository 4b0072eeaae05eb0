package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"ringba-rpc-alerts/internal/alerting"
	"ringba-rpc-alerts/internal/config"
	"ringba-rpc-alerts/internal/scheduler"
	"ringba-rpc-alerts/internal/service"
	"ringba-rpc-alerts/internal/source"
	"ringba-rpc-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// newSource builds the metric source selected by acquisition.mode.
func (a *App) newSource() source.MetricSource {
	if a.Config.Acquisition.Mode == config.ModeScraped {
		return a.newScrapedSource(a.Config.Ringba.Username, a.Config.Ringba.Password)
	}
	return source.NewAPI(source.APIOptions{
		Token:     a.Config.Ringba.APIToken,
		AccountID: a.Config.Ringba.AccountID,
		BaseURL:   a.Config.Ringba.BaseURL,
		Timeout:   a.Config.Ringba.RequestTimeout,
		Location:  a.Config.Location(),
	}, a.Logger)
}

func (a *App) newScrapedSource(username, password string) source.MetricSource {
	return source.NewScraped(source.ScrapedOptions{
		Username:       username,
		Password:       password,
		LoginURL:       a.Config.Scraper.LoginURL,
		ReportURL:      a.Config.Scraper.ReportURL,
		Headless:       a.Config.Scraper.Headless,
		DownloadDir:    a.Config.Scraper.DownloadDir,
		DiagnosticsDir: a.Config.Scraper.DiagnosticsDir,
		DownloadWait:   a.Config.Scraper.DownloadWait,
		PageWait:       a.Config.Scraper.PageWait,
		Location:       a.Config.Location(),
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.SlackWebhookURL != "" {
		return alerting.NewSlackNotifier(a.Config.Alerting.SlackWebhookURL, a.Config.Alerting.RequestTimeout, a.Logger)
	}
	return nil
}

// openStore connects to postgres and ensures the day-state schema.
func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn is required; day state lives in postgres")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, store.Close, nil
}

func (a *App) newService(sched *scheduler.Scheduler, store storage.DayStateStore) *service.Service {
	return service.New(a.Config, sched, a.newSource(), store, a.newNotifier(), a.Logger)
}

func (a *App) newScheduler() (*scheduler.Scheduler, error) {
	windows := make([]scheduler.Window, 0, len(a.Config.Monitor.Windows))
	for _, w := range a.Config.Monitor.Windows {
		windows = append(windows, scheduler.Window{Name: w.Name, At: w.At, Role: w.Role})
	}
	return scheduler.New(scheduler.Options{
		Windows:      windows,
		Location:     a.Config.Location(),
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)
}

// Run executes the long-running scheduler mode: every configured check
// window fires daily at its wall-clock time until interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sched, err := a.newScheduler()
	if err != nil {
		return err
	}

	svc := a.newService(sched, store)

	a.Logger.Info().
		Int("windows", len(a.Config.Monitor.Windows)).
		Str("mode", a.Config.Acquisition.Mode).
		Msg("starting threshold monitor")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("monitor terminated with error")
		return err
	}

	a.Logger.Info().Msg("threshold monitor stopped")
	return nil
}

// RunWindow executes one named check window immediately. This is the
// entry point cron-style deployments call instead of the scheduler.
func (a *App) RunWindow(ctx context.Context, windowName string) error {
	if _, ok := a.Config.Window(windowName); !ok {
		return fmt.Errorf("unknown check window %q", windowName)
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := a.newService(nil, store)
	return svc.RunCheck(ctx, windowName, time.Now().In(a.Config.Location()))
}

// Test exercises the full pipeline against live data: the baseline
// window first, then every comparison window in configured order.
func (a *App) Test(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := a.newService(nil, store)
	now := time.Now().In(a.Config.Location())

	for _, window := range a.Config.Monitor.Windows {
		a.Logger.Info().Str("window", window.Name).Str("role", window.Role).Msg("test: executing window")
		if err := svc.RunCheck(ctx, window.Name, now); err != nil {
			return fmt.Errorf("window %q: %w", window.Name, err)
		}
	}
	return nil
}

// TestAuth verifies API credentials without touching day state.
func (a *App) TestAuth(ctx context.Context) error {
	if a.Config.Acquisition.Mode != config.ModeAPI {
		return errors.New("auth preflight only applies to api acquisition mode")
	}
	api := source.NewAPI(source.APIOptions{
		Token:     a.Config.Ringba.APIToken,
		AccountID: a.Config.Ringba.AccountID,
		BaseURL:   a.Config.Ringba.BaseURL,
		Timeout:   a.Config.Ringba.RequestTimeout,
		Location:  a.Config.Location(),
	}, a.Logger)
	return api.TestAuth(ctx)
}

// ExportOptions hold parameters for the one-shot report export.
type ExportOptions struct {
	// Username and Password override the configured platform
	// credentials for the scraped path.
	Username string
	Password string
	// Start and End bound the reporting period; both zero means today.
	Start   time.Time
	End     time.Time
	CSVPath string
	PNGPath string
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Day    string
	Window string
}
