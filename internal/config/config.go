package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"ringba-rpc-alerts/internal/logging"
)

// Acquisition mode selectors.
const (
	ModeAPI     = "api"
	ModeScraped = "scraped"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Ringba      RingbaConfig      `mapstructure:"ringba"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	Acquisition AcquisitionConfig `mapstructure:"acquisition"`
	Scraper     ScraperConfig     `mapstructure:"scraper"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for day state.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RingbaConfig covers platform access for both acquisition paths.
type RingbaConfig struct {
	APIToken       string        `mapstructure:"api_token"`
	AccountID      string        `mapstructure:"account_id"`
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
}

// WindowConfig names one daily check slot.
type WindowConfig struct {
	Name string `mapstructure:"name"`
	At   string `mapstructure:"at"`
	Role string `mapstructure:"role"`
}

// MonitorConfig holds the detection rules.
type MonitorConfig struct {
	Threshold        float64        `mapstructure:"threshold"`
	TargetName       string         `mapstructure:"target_name"`
	TimeZone         string         `mapstructure:"time_zone"`
	RearmRequalified bool           `mapstructure:"rearm_requalified"`
	TopTags          int            `mapstructure:"top_tags"`
	RetentionDays    int            `mapstructure:"retention_days"`
	Windows          []WindowConfig `mapstructure:"windows"`
}

// AcquisitionConfig selects and tunes the metric source.
type AcquisitionConfig struct {
	Mode    string        `mapstructure:"mode"`
	Timeout time.Duration `mapstructure:"timeout"`
	Retry   RetryConfig   `mapstructure:"retry"`
}

// RetryConfig tunes the retry executor.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Strategy    string        `mapstructure:"strategy"`
}

// ScraperConfig tunes the browser-automation path.
type ScraperConfig struct {
	LoginURL       string        `mapstructure:"login_url"`
	ReportURL      string        `mapstructure:"report_url"`
	Headless       bool          `mapstructure:"headless"`
	DownloadDir    string        `mapstructure:"download_dir"`
	DiagnosticsDir string        `mapstructure:"diagnostics_dir"`
	DownloadWait   time.Duration `mapstructure:"download_wait"`
	PageWait       time.Duration `mapstructure:"page_wait"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	SlackWebhookURL string        `mapstructure:"slack_webhook_url"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// SchedulerConfig governs the long-running mode.
type SchedulerConfig struct {
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RPCWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// bindLegacyEnv keeps the deployment's original variable names
// working alongside the prefixed ones.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("ringba.api_token", "RPCWATCHER_RINGBA_API_TOKEN", "RINGBA_API_TOKEN")
	_ = v.BindEnv("ringba.account_id", "RPCWATCHER_RINGBA_ACCOUNT_ID", "RINGBA_ACCOUNT_ID")
	_ = v.BindEnv("ringba.username", "RPCWATCHER_RINGBA_USERNAME", "RINGBA_USERNAME")
	_ = v.BindEnv("ringba.password", "RPCWATCHER_RINGBA_PASSWORD", "RINGBA_PASSWORD")
	_ = v.BindEnv("alerting.slack_webhook_url", "RPCWATCHER_ALERTING_SLACK_WEBHOOK_URL", "SLACK_WEBHOOK_URL")
	_ = v.BindEnv("monitor.threshold", "RPCWATCHER_MONITOR_THRESHOLD", "RPC_THRESHOLD")
	_ = v.BindEnv("monitor.target_name", "RPCWATCHER_MONITOR_TARGET_NAME", "TARGET_NAME")
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "rpcwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.max_size_mb", 50)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age_days", 14)

	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("ringba.base_url", "https://api.ringba.com/v2")
	v.SetDefault("ringba.request_timeout", "30s")

	v.SetDefault("monitor.threshold", 10.0)
	v.SetDefault("monitor.time_zone", "America/New_York")
	v.SetDefault("monitor.rearm_requalified", false)
	v.SetDefault("monitor.top_tags", 3)
	v.SetDefault("monitor.retention_days", 7)
	v.SetDefault("monitor.windows", []map[string]any{
		{"name": "morning", "at": "10:00", "role": "baseline"},
		{"name": "midday", "at": "12:30", "role": "comparison"},
		{"name": "afternoon", "at": "15:00", "role": "comparison"},
	})

	v.SetDefault("acquisition.mode", ModeAPI)
	v.SetDefault("acquisition.timeout", "10m")
	v.SetDefault("acquisition.retry.max_attempts", 3)
	v.SetDefault("acquisition.retry.base_delay", "5s")
	v.SetDefault("acquisition.retry.max_delay", "1m")
	v.SetDefault("acquisition.retry.strategy", "exponential")

	v.SetDefault("scraper.headless", true)
	v.SetDefault("scraper.download_dir", "downloads")
	v.SetDefault("scraper.diagnostics_dir", "diagnostics")
	v.SetDefault("scraper.download_wait", "45s")
	v.SetDefault("scraper.page_wait", "40s")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.request_timeout", "10s")

	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x72706377))
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Monitor.Threshold < 0 {
		return fmt.Errorf("monitor.threshold cannot be negative")
	}
	if _, err := time.LoadLocation(c.Monitor.TimeZone); err != nil {
		return fmt.Errorf("monitor.time_zone %q: %w", c.Monitor.TimeZone, err)
	}
	if c.Monitor.RetentionDays <= 0 {
		return fmt.Errorf("monitor.retention_days must be greater than zero")
	}

	if c.Acquisition.Mode != ModeAPI && c.Acquisition.Mode != ModeScraped {
		return fmt.Errorf("acquisition.mode must be %q or %q", ModeAPI, ModeScraped)
	}
	if c.Acquisition.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("acquisition.retry.max_attempts must be greater than zero")
	}

	if len(c.Monitor.Windows) == 0 {
		return fmt.Errorf("monitor.windows must name at least one check window")
	}
	baselines := 0
	seen := make(map[string]bool, len(c.Monitor.Windows))
	for _, w := range c.Monitor.Windows {
		if w.Name == "" {
			return fmt.Errorf("monitor.windows entries need a name")
		}
		if seen[w.Name] {
			return fmt.Errorf("monitor.windows: duplicate window %q", w.Name)
		}
		seen[w.Name] = true
		if _, err := time.Parse("15:04", w.At); err != nil {
			return fmt.Errorf("monitor.windows %q: invalid time %q (want HH:MM)", w.Name, w.At)
		}
		switch w.Role {
		case "baseline":
			baselines++
		case "comparison":
		default:
			return fmt.Errorf("monitor.windows %q: role must be baseline or comparison", w.Name)
		}
	}
	if baselines != 1 {
		return fmt.Errorf("monitor.windows: exactly one baseline window is expected, found %d", baselines)
	}

	if c.Alerting.Enabled && c.Alerting.SlackWebhookURL == "" {
		return fmt.Errorf("alerting.slack_webhook_url is required when alerting is enabled")
	}
	return nil
}

// Location resolves the monitor's time zone. Validate has already
// checked it parses.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Monitor.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ThresholdDecimal returns the RPC threshold at currency scale.
func (c *Config) ThresholdDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Monitor.Threshold)
}

// Window looks a check window up by name.
func (c *Config) Window(name string) (WindowConfig, bool) {
	for _, w := range c.Monitor.Windows {
		if w.Name == name {
			return w, true
		}
	}
	return WindowConfig{}, false
}

// ComparisonOrder returns the index of a window within the configured
// comparison order, used to replay earlier windows deterministically.
func (c *Config) ComparisonOrder(name string) int {
	for i, w := range c.Monitor.Windows {
		if w.Name == name {
			return i
		}
	}
	return -1
}
