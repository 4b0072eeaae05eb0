package source

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"ringba-rpc-alerts/internal/errs"
)

const targetsJSON = `{"targets":[
	{"id":"TA1","name":"Acme Insurance","enabled":true},
	{"id":"TA2","name":"Beta Leads","enabled":false}
]}`

func newTestAPI(t *testing.T, handler http.Handler) (*API, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	api := NewAPI(APIOptions{
		Token:     "secret",
		AccountID: "RA123",
		BaseURL:   srv.URL,
		Timeout:   time.Second,
	}, zerolog.Nop())
	return api, srv.Close
}

func reportHandler(t *testing.T, insightsBody string) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/RA123/targets", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token secret" {
			t.Errorf("missing auth header, got %q", got)
		}
		w.Write([]byte(targetsJSON))
	})
	mux.HandleFunc("/RA123/insights", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("insights must be POSTed, got %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		for _, field := range []string{"reportStart", "reportEnd", "timeZone"} {
			if !gjson.GetBytes(body, field).Exists() {
				t.Errorf("insights request missing %s: %s", field, body)
			}
		}
		if gjson.GetBytes(body, "groupBy.0").String() != "targetId" {
			t.Errorf("insights request not grouped by targetId: %s", body)
		}
		w.Write([]byte(insightsBody))
	})
	return mux
}

func TestFetchSnapshotsReportRecordsShape(t *testing.T) {
	insights := `{"report":{"records":[
		{"targetId":"TA1","targetName":"Acme Insurance","rpc":12.5,"calls":40,"revenue":500.0},
		{"targetId":"TA2","rpc":"9.99","calls":12,"revenue":119.88}
	]}}`
	api, done := newTestAPI(t, reportHandler(t, insights))
	defer done()

	snaps, err := api.FetchSnapshots(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("FetchSnapshots failed: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}

	acme := snaps[0]
	if acme.TargetID != "TA1" || !acme.Enabled {
		t.Fatalf("target enrichment wrong: %#v", acme)
	}
	if !acme.RPC.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("rpc wrong: %s", acme.RPC)
	}
	if acme.Method != MethodAPI {
		t.Fatalf("method wrong: %s", acme.Method)
	}

	beta := snaps[1]
	if beta.TargetName != "Beta Leads" {
		t.Fatalf("name should backfill from targets list: %q", beta.TargetName)
	}
	if beta.Enabled {
		t.Fatal("disabled target should carry enabled=false")
	}
}

func TestFetchSnapshotsItemsShape(t *testing.T) {
	insights := `{"items":[
		{"targetId":"TA1","targetName":"Acme Insurance","rpc":11.0,"calls":3,"revenue":33.0}
	]}`
	api, done := newTestAPI(t, reportHandler(t, insights))
	defer done()

	snaps, err := api.FetchSnapshots(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("items response shape must parse: %v", err)
	}
	if len(snaps) != 1 || snaps[0].TargetID != "TA1" {
		t.Fatalf("unexpected snapshots: %#v", snaps)
	}
}

func TestFetchSnapshotsFiltersByName(t *testing.T) {
	insights := `{"items":[
		{"targetId":"TA1","targetName":"Acme Insurance","rpc":11.0},
		{"targetId":"TA2","targetName":"Beta Leads","rpc":12.0}
	]}`
	api, done := newTestAPI(t, reportHandler(t, insights))
	defer done()

	snaps, err := api.FetchSnapshots(context.Background(), Filter{TargetName: "Beta Leads"})
	if err != nil {
		t.Fatalf("FetchSnapshots failed: %v", err)
	}
	if len(snaps) != 1 || snaps[0].TargetID != "TA2" {
		t.Fatalf("name filter not applied: %#v", snaps)
	}
}

func TestFetchSnapshotsUnknownShapeIsPermanent(t *testing.T) {
	api, done := newTestAPI(t, reportHandler(t, `{"rows":[]}`))
	defer done()

	_, err := api.FetchSnapshots(context.Background(), Filter{})
	if err == nil {
		t.Fatal("expected error for unknown response shape")
	}
	if errs.IsTransient(err) {
		t.Fatalf("malformed response must not be retried: %v", err)
	}
}

func TestFetchSnapshotsAuthRejectionIsPermanent(t *testing.T) {
	api, done := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer done()

	_, err := api.FetchSnapshots(context.Background(), Filter{})
	var acq *errs.AcquisitionError
	if !errors.As(err, &acq) {
		t.Fatalf("expected AcquisitionError, got %v", err)
	}
	if acq.Transient {
		t.Fatal("rejected credentials must be permanent")
	}
}

func TestFetchSnapshotsServerErrorIsTransient(t *testing.T) {
	api, done := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer done()

	_, err := api.FetchSnapshots(context.Background(), Filter{})
	if !errs.IsTransient(err) {
		t.Fatalf("5xx must be transient: %v", err)
	}
}

func TestFetchSnapshotsRateLimitIsTransient(t *testing.T) {
	api, done := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer done()

	_, err := api.FetchSnapshots(context.Background(), Filter{})
	if !errs.IsTransient(err) {
		t.Fatalf("429 must be transient: %v", err)
	}
}

func TestFetchSnapshotsMissingCredentials(t *testing.T) {
	api := NewAPI(APIOptions{}, zerolog.Nop())
	_, err := api.FetchSnapshots(context.Background(), Filter{})
	if err == nil || errs.IsTransient(err) {
		t.Fatalf("missing credentials must fail permanently: %v", err)
	}
}

func TestTestAuth(t *testing.T) {
	api, done := newTestAPI(t, reportHandler(t, `{}`))
	defer done()
	if err := api.TestAuth(context.Background()); err != nil {
		t.Fatalf("TestAuth failed against healthy server: %v", err)
	}
}

func TestReportRangeDefaultsToToday(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	now := time.Date(2025, 3, 14, 15, 4, 0, 0, loc)

	start, end := reportRange(Filter{}, loc, now)
	if start.Format("2006-01-02 15:04:05") != "2025-03-14 00:00:00" {
		t.Fatalf("wrong start: %s", start)
	}
	if end.Format("2006-01-02 15:04:05") != "2025-03-14 23:59:59" {
		t.Fatalf("wrong end: %s", end)
	}

	explicit := time.Date(2025, 3, 1, 0, 0, 0, 0, loc)
	start, end = reportRange(Filter{Start: explicit, End: explicit.AddDate(0, 0, 2)}, loc, now)
	if start.Day() != 1 || end.Day() != 3 {
		t.Fatalf("explicit range not honored: %s – %s", start, end)
	}
}
