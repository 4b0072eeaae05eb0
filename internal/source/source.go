// Package source abstracts acquisition of per-target call metrics from
// the Ringba platform. Two implementations exist: a direct API client
// and a browser-automation path that exports a CSV report from the UI.
package source

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Acquisition methods stamped onto snapshots.
const (
	MethodAPI     = "api"
	MethodScraped = "scraped"
)

// TagCount is a single tag with its occurrence count.
type TagCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Snapshot is one target's metrics for a reporting period. Snapshots
// are immutable once captured; later windows supersede, never mutate.
type Snapshot struct {
	TargetID   string          `json:"target_id"`
	TargetName string          `json:"target_name"`
	Enabled    bool            `json:"enabled"`
	RPC        decimal.Decimal `json:"rpc"`
	Calls      int64           `json:"calls"`
	Revenue    decimal.Decimal `json:"revenue"`
	Tags       []TagCount      `json:"tags,omitempty"`
	CapturedAt time.Time       `json:"captured_at"`
	Method     string          `json:"method"`
}

// DeepLink returns the target's overview page in the Ringba UI.
func (s Snapshot) DeepLink() string {
	return "https://app.ringba.com/#/targets/" + s.TargetID + "/overview"
}

// TopTags returns up to n tags ordered by descending count.
func (s Snapshot) TopTags(n int) []TagCount {
	if len(s.Tags) == 0 || n <= 0 {
		return nil
	}
	tags := make([]TagCount, len(s.Tags))
	copy(tags, s.Tags)
	sort.SliceStable(tags, func(i, j int) bool { return tags[i].Count > tags[j].Count })
	if len(tags) > n {
		tags = tags[:n]
	}
	return tags
}

// Filter narrows a fetch. A zero Start/End means "today" in the
// source's configured reporting zone; TargetName, when set, restricts
// the result to targets with that exact display name.
type Filter struct {
	TargetName string
	Start      time.Time
	End        time.Time
}

// MetricSource yields current metric snapshots per target. Failures
// are reported as *errs.AcquisitionError so callers can distinguish
// retryable from fatal conditions.
type MetricSource interface {
	FetchSnapshots(ctx context.Context, filter Filter) ([]Snapshot, error)
}

// filterByName applies Filter.TargetName.
func filterByName(snaps []Snapshot, name string) []Snapshot {
	if name == "" {
		return snaps
	}
	kept := snaps[:0]
	for _, s := range snaps {
		if s.TargetName == name {
			kept = append(kept, s)
		}
	}
	return kept
}

// reportRange resolves a filter's date range against a zone, defaulting
// to the current day.
func reportRange(f Filter, loc *time.Location, now time.Time) (time.Time, time.Time) {
	day := now.In(loc)
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	end := time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 59, int(999*time.Millisecond), loc)
	if !f.Start.IsZero() {
		s := f.Start.In(loc)
		start = time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, loc)
		end = time.Date(s.Year(), s.Month(), s.Day(), 23, 59, 59, int(999*time.Millisecond), loc)
	}
	if !f.End.IsZero() {
		e := f.End.In(loc)
		end = time.Date(e.Year(), e.Month(), e.Day(), 23, 59, 59, int(999*time.Millisecond), loc)
	}
	return start, end
}
