package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"ringba-rpc-alerts/internal/errs"
)

const (
	defaultAPIBaseURL = "https://api.ringba.com/v2"
	insightsPath      = "/insights"
	targetsPath       = "/targets"
	insightsPageSize  = 1000
)

// APIOptions parameterise the direct Ringba API source.
type APIOptions struct {
	Token     string
	AccountID string
	BaseURL   string
	Timeout   time.Duration
	Location  *time.Location
	UserAgent string
}

// API fetches target metrics through Ringba's insights endpoint.
type API struct {
	opts    APIOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// NewAPI constructs a direct API metric source.
func NewAPI(opts APIOptions, logger zerolog.Logger) *API {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultAPIBaseURL
	}

	return &API{
		opts:    opts,
		logger:  logger.With().Str("component", "api_source").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		now:     time.Now,
	}
}

func (a *API) location() *time.Location {
	if a.opts.Location != nil {
		return a.opts.Location
	}
	return time.UTC
}

func (a *API) accountURL(path string) string {
	return fmt.Sprintf("%s/%s%s", a.baseURL, a.opts.AccountID, path)
}

// TestAuth verifies the token and account ID against the targets
// endpoint. A 401/403 is reported as a permanent acquisition error.
func (a *API) TestAuth(ctx context.Context) error {
	_, err := a.getJSON(ctx, a.accountURL(targetsPath))
	return err
}

// FetchSnapshots enumerates targets and queries the insights endpoint
// for the filter's reporting period.
func (a *API) FetchSnapshots(ctx context.Context, filter Filter) ([]Snapshot, error) {
	if a.opts.Token == "" || a.opts.AccountID == "" {
		return nil, errs.PermanentAcquisition("api", errors.New("api token and account id required"))
	}

	targets, err := a.listTargets(ctx)
	if err != nil {
		return nil, err
	}

	start, end := reportRange(filter, a.location(), a.now())
	body, err := a.insightsBody(start, end)
	if err != nil {
		return nil, errs.PermanentAcquisition("api insights", err)
	}

	payload, err := a.postJSON(ctx, a.accountURL(insightsPath), body)
	if err != nil {
		return nil, err
	}

	rows := gjson.GetBytes(payload, "report.records")
	if !rows.Exists() {
		rows = gjson.GetBytes(payload, "items")
	}
	if !rows.IsArray() {
		return nil, errs.PermanentAcquisition("api insights", errors.New("response has neither report.records nor items"))
	}

	capturedAt := a.now().In(a.location())
	snaps := make([]Snapshot, 0, len(rows.Array()))
	for _, row := range rows.Array() {
		targetID := row.Get("targetId").String()
		if targetID == "" {
			continue
		}

		snap := Snapshot{
			TargetID:   targetID,
			TargetName: row.Get("targetName").String(),
			RPC:        decimalField(row, "rpc"),
			Calls:      row.Get("calls").Int(),
			Revenue:    decimalField(row, "revenue"),
			CapturedAt: capturedAt,
			Method:     MethodAPI,
		}
		if info, ok := targets[targetID]; ok {
			snap.Enabled = info.enabled
			if snap.TargetName == "" {
				snap.TargetName = info.name
			}
		}
		if snap.TargetName == "" {
			snap.TargetName = targetID
		}
		snaps = append(snaps, snap)
	}

	snaps = filterByName(snaps, filter.TargetName)
	a.logger.Info().
		Int("targets", len(snaps)).
		Time("report_start", start).
		Time("report_end", end).
		Msg("fetched snapshots from insights api")
	return snaps, nil
}

type targetInfo struct {
	name    string
	enabled bool
}

func (a *API) listTargets(ctx context.Context) (map[string]targetInfo, error) {
	payload, err := a.getJSON(ctx, a.accountURL(targetsPath))
	if err != nil {
		return nil, err
	}

	rows := gjson.GetBytes(payload, "targets")
	if !rows.Exists() {
		rows = gjson.ParseBytes(payload)
	}
	if !rows.IsArray() {
		return nil, errs.PermanentAcquisition("api targets", errors.New("unexpected targets response shape"))
	}

	targets := make(map[string]targetInfo)
	for _, row := range rows.Array() {
		id := row.Get("id").String()
		if id == "" {
			continue
		}
		targets[id] = targetInfo{
			name:    row.Get("name").String(),
			enabled: row.Get("enabled").Bool(),
		}
	}
	return targets, nil
}

// insightsBody mirrors the query the Ringba UI issues for its summary
// report, so the returned RPC matches what operators see on screen.
func (a *API) insightsBody(start, end time.Time) ([]byte, error) {
	const stamp = "2006-01-02T15:04:05.000-07:00"
	req := map[string]any{
		"startDate":     start.Format(stamp),
		"endDate":       end.Format(stamp),
		"reportStart":   start.Format(stamp),
		"reportEnd":     end.Format(stamp),
		"timeField":     "connectTime",
		"timeZone":      a.location().String(),
		"groupBy":       []string{"targetId"},
		"metrics":       []string{"calls", "connected", "revenue", "payout", "conversionRate", "rpc"},
		"filters":       []any{},
		"sortField":     "rpc",
		"sortDirection": "desc",
		"page":          1,
		"pageSize":      insightsPageSize,
	}
	return json.Marshal(req)
}

func (a *API) getJSON(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.PermanentAcquisition("api request", err)
	}
	return a.send(req)
}

func (a *API) postJSON(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errs.PermanentAcquisition("api request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return a.send(req)
}

func (a *API) send(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Token "+a.opts.Token)
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(a.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, errs.TransientAcquisition("api request", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.TransientAcquisition("api response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return payload, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errs.PermanentAcquisition("api auth", fmt.Errorf("ringba rejected credentials (%d): %s", resp.StatusCode, trimBody(payload)))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, errs.TransientAcquisition("api request", fmt.Errorf("ringba api error (%d): %s", resp.StatusCode, trimBody(payload)))
	default:
		return nil, errs.PermanentAcquisition("api request", fmt.Errorf("ringba api error (%d): %s", resp.StatusCode, trimBody(payload)))
	}
}

func trimBody(payload []byte) string {
	s := strings.TrimSpace(string(payload))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// decimalField reads a numeric field into a decimal without a float
// round trip when the raw token allows it.
func decimalField(row gjson.Result, key string) decimal.Decimal {
	v := row.Get(key)
	if !v.Exists() {
		return decimal.Zero
	}
	if v.Type == gjson.Number {
		if d, err := decimal.NewFromString(v.Raw); err == nil {
			return d
		}
	}
	if d, err := decimal.NewFromString(strings.TrimSpace(v.String())); err == nil {
		return d
	}
	return decimal.NewFromFloat(v.Float())
}

var _ MetricSource = (*API)(nil)
