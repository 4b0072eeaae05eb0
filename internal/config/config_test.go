package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
)

func validConfig() *Config {
	return &Config{
		Monitor: MonitorConfig{
			Threshold:     10,
			TimeZone:      "America/New_York",
			TopTags:       3,
			RetentionDays: 7,
			Windows: []WindowConfig{
				{Name: "morning", At: "10:00", Role: "baseline"},
				{Name: "afternoon", At: "15:00", Role: "comparison"},
			},
		},
		Acquisition: AcquisitionConfig{
			Mode:  ModeAPI,
			Retry: RetryConfig{MaxAttempts: 3},
		},
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.slack.com/services/T0/B0/XXX")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load with defaults failed: %v", err)
	}

	if cfg.Monitor.Threshold != 10.0 {
		t.Fatalf("default threshold wrong: %v", cfg.Monitor.Threshold)
	}
	if cfg.Monitor.TimeZone != "America/New_York" {
		t.Fatalf("default time zone wrong: %q", cfg.Monitor.TimeZone)
	}
	if cfg.Acquisition.Mode != ModeAPI {
		t.Fatalf("default mode wrong: %q", cfg.Acquisition.Mode)
	}
	if cfg.Acquisition.Retry.MaxAttempts != 3 {
		t.Fatalf("default retry attempts wrong: %d", cfg.Acquisition.Retry.MaxAttempts)
	}
	if cfg.Alerting.SlackWebhookURL != "https://hooks.slack.com/services/T0/B0/XXX" {
		t.Fatalf("legacy webhook env not bound: %q", cfg.Alerting.SlackWebhookURL)
	}

	if len(cfg.Monitor.Windows) != 3 {
		t.Fatalf("expected 3 default windows, got %d", len(cfg.Monitor.Windows))
	}
	if cfg.Monitor.Windows[0].Name != "morning" || cfg.Monitor.Windows[0].Role != "baseline" {
		t.Fatalf("first default window wrong: %#v", cfg.Monitor.Windows[0])
	}
}

func TestLoadFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
monitor:
  threshold: 12.5
  windows:
    - name: open
      at: "09:30"
      role: baseline
    - name: close
      at: "16:00"
      role: comparison
alerting:
  enabled: false
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("RINGBA_API_TOKEN", "legacy-token")
	t.Setenv("RPCWATCHER_RINGBA_ACCOUNT_ID", "RA42")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Monitor.Threshold != 12.5 {
		t.Fatalf("threshold not read from file: %v", cfg.Monitor.Threshold)
	}
	if len(cfg.Monitor.Windows) != 2 || cfg.Monitor.Windows[0].Name != "open" {
		t.Fatalf("windows not read from file: %#v", cfg.Monitor.Windows)
	}
	if cfg.Ringba.APIToken != "legacy-token" {
		t.Fatalf("legacy env alias not bound: %q", cfg.Ringba.APIToken)
	}
	if cfg.Ringba.AccountID != "RA42" {
		t.Fatalf("prefixed env not bound: %q", cfg.Ringba.AccountID)
	}
}

func TestValidateRejectsTwoBaselines(t *testing.T) {
	cfg := validConfig()
	cfg.Monitor.Windows = append(cfg.Monitor.Windows, WindowConfig{Name: "extra", At: "11:00", Role: "baseline"})
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for second baseline window")
	}
}

func TestValidateRejectsDuplicateWindowNames(t *testing.T) {
	cfg := validConfig()
	cfg.Monitor.Windows = append(cfg.Monitor.Windows, WindowConfig{Name: "afternoon", At: "17:00", Role: "comparison"})
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for duplicate window name")
	}
}

func TestValidateRejectsBadMode(t *testing.T) {
	cfg := validConfig()
	cfg.Acquisition.Mode = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown acquisition mode")
	}
}

func TestValidateRejectsBadTimeZone(t *testing.T) {
	cfg := validConfig()
	cfg.Monitor.TimeZone = "Mars/Olympus"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown time zone")
	}
}

func TestValidateRejectsBadWindowTime(t *testing.T) {
	cfg := validConfig()
	cfg.Monitor.Windows[0].At = "10am"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for malformed window time")
	}
}

func TestValidateRequiresWebhookWhenAlertingEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.Alerting.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when alerting enabled without webhook")
	}
}

func TestHelpers(t *testing.T) {
	cfg := validConfig()

	if cfg.Location().String() != "America/New_York" {
		t.Fatalf("Location wrong: %s", cfg.Location())
	}
	if !cfg.ThresholdDecimal().Equal(decimal.NewFromInt(10)) {
		t.Fatalf("ThresholdDecimal wrong: %s", cfg.ThresholdDecimal())
	}

	if _, ok := cfg.Window("morning"); !ok {
		t.Fatal("Window lookup failed")
	}
	if _, ok := cfg.Window("nope"); ok {
		t.Fatal("Window lookup should miss")
	}

	if cfg.ComparisonOrder("morning") != 0 || cfg.ComparisonOrder("afternoon") != 1 {
		t.Fatal("ComparisonOrder wrong")
	}
	if cfg.ComparisonOrder("nope") != -1 {
		t.Fatal("unknown window should order -1")
	}
}
