package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ringba-rpc-alerts/internal/errs"
	"ringba-rpc-alerts/internal/source"
)

// Event is one crossing prepared for delivery.
type Event struct {
	TargetName  string
	TargetLink  string
	Direction   string
	RPC         decimal.Decimal
	BaselineRPC decimal.Decimal
	Calls       int64
	Revenue     decimal.Decimal
	Tags        []source.TagCount
}

// Report is one check run's alert payload: a headline plus zero or
// more crossing events.
type Report struct {
	Day         string
	Window      string
	Headline    string
	Threshold   decimal.Decimal
	GeneratedAt time.Time
	Events      []Event
}

// Notifier delivers alert payloads. Delivery guarantees are the
// sink's own concern; the monitor logs failures and moves on.
type Notifier interface {
	Notify(ctx context.Context, report Report) error
}

// SlackNotifier posts Block Kit messages to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
	logger     zerolog.Logger
}

// NewSlackNotifier constructs a Slack webhook notifier.
func NewSlackNotifier(webhookURL string, timeout time.Duration, logger zerolog.Logger) *SlackNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "alert_slack").Logger(),
	}
}

// Notify posts the report. Failures come back as *errs.DeliveryError.
func (n *SlackNotifier) Notify(ctx context.Context, report Report) error {
	if n.webhookURL == "" {
		return &errs.DeliveryError{Sink: "slack", Err: fmt.Errorf("webhook url not configured")}
	}

	payload := map[string]any{
		"text":   report.Headline,
		"blocks": renderBlocks(report),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return &errs.DeliveryError{Sink: "slack", Err: fmt.Errorf("marshal payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return &errs.DeliveryError{Sink: "slack", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return &errs.DeliveryError{Sink: "slack", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return &errs.DeliveryError{Sink: "slack", Err: fmt.Errorf("webhook status %d: %s", resp.StatusCode, strings.TrimSpace(string(text)))}
	}

	n.logger.Info().
		Str("window", report.Window).
		Str("day", report.Day).
		Int("events", len(report.Events)).
		Msg("alert delivered")
	return nil
}

func renderBlocks(report Report) []map[string]any {
	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type":  "plain_text",
				"text":  fmt.Sprintf("🔔 %s — %s", report.Headline, report.Day),
				"emoji": true,
			},
		},
	}

	if len(report.Events) > 0 {
		blocks = append(blocks, map[string]any{"type": "divider"})
	}

	for _, event := range report.Events {
		blocks = append(blocks, eventBlock(event))
	}
	return blocks
}

func eventBlock(event Event) map[string]any {
	var text strings.Builder
	fmt.Fprintf(&text, "*%s*\n", event.TargetName)

	if event.Direction == "de-qualified" {
		fmt.Fprintf(&text, ":chart_with_downwards_trend: Baseline RPC: *$%s* → Current RPC: *$%s* (Change: $%s)\n",
			event.BaselineRPC.StringFixed(2),
			event.RPC.StringFixed(2),
			event.RPC.Sub(event.BaselineRPC).StringFixed(2))
		fmt.Fprintf(&text, "Calls: %d | Revenue: $%s", event.Calls, event.Revenue.StringFixed(2))
	} else {
		fmt.Fprintf(&text, ":chart_with_upwards_trend: RPC: *$%s* | Calls: %d | Revenue: $%s",
			event.RPC.StringFixed(2), event.Calls, event.Revenue.StringFixed(2))
	}

	if len(event.Tags) > 0 {
		parts := make([]string, 0, len(event.Tags))
		for _, tag := range event.Tags {
			parts = append(parts, fmt.Sprintf("%s (%d)", tag.Name, tag.Count))
		}
		fmt.Fprintf(&text, "\n:label: *Tags*: %s", strings.Join(parts, ", "))
	}

	block := map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": text.String(),
		},
	}
	if event.TargetLink != "" {
		block["accessory"] = map[string]any{
			"type": "button",
			"text": map[string]any{"type": "plain_text", "text": "View in Ringba"},
			"url":  event.TargetLink,
		}
	}
	return block
}

var _ Notifier = (*SlackNotifier)(nil)
