package storage

import (
	"time"

	"ringba-rpc-alerts/internal/source"
)

// WindowRole distinguishes the day's qualifying check from the later
// threshold-crossing checks.
type WindowRole string

const (
	RoleBaseline   WindowRole = "baseline"
	RoleComparison WindowRole = "comparison"
)

// WindowRecord is the persisted outcome of one named check window for
// one calendar day.
type WindowRecord struct {
	Day        string
	Window     string
	Role       WindowRole
	Snapshots  []source.Snapshot
	RecordedAt time.Time
}

// DayOf renders t as the calendar day key in the monitor's zone.
func DayOf(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}
