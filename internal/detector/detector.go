// Package detector decides when a target's RPC crossed the configured
// threshold. It is pure: state is derived by replaying the day's
// stored windows in order, never by wall-clock or in-memory carryover,
// so independent process invocations reach identical conclusions.
package detector

import (
	"github.com/shopspring/decimal"

	"ringba-rpc-alerts/internal/source"
)

// Direction of a threshold crossing.
type Direction string

const (
	DirectionQualified   Direction = "qualified"
	DirectionDeQualified Direction = "de-qualified"
)

// State of one target within one day.
type State int

const (
	StateUnseen State = iota
	StateQualified
	StateDeQualified
)

func (s State) String() string {
	switch s {
	case StateQualified:
		return "qualified"
	case StateDeQualified:
		return "de-qualified"
	default:
		return "unseen"
	}
}

// Event is one detected crossing. Events are ephemeral: produced,
// delivered, discarded — dedup falls out of replaying stored windows.
type Event struct {
	Direction Direction
	Current   source.Snapshot
	Baseline  source.Snapshot
}

// Detector applies the threshold rules.
type Detector struct {
	threshold decimal.Decimal
	rearm     bool
}

// New builds a detector. rearm controls whether a de-qualified target
// that later climbs back to the threshold may fire again the same day;
// the default deployment keeps it off (single fire per direction per
// day).
func New(threshold decimal.Decimal, rearm bool) *Detector {
	return &Detector{threshold: threshold, rearm: rearm}
}

// Threshold returns the configured RPC threshold.
func (d *Detector) Threshold() decimal.Decimal {
	return d.threshold
}

// Baseline selects the day's qualifying set: enabled targets whose RPC
// is at or above the threshold (>=, the boundary value qualifies).
// One qualified event per member is returned for alerting.
func (d *Detector) Baseline(snaps []source.Snapshot) ([]source.Snapshot, []Event) {
	qualified := make([]source.Snapshot, 0, len(snaps))
	events := make([]Event, 0, len(snaps))
	for _, snap := range snaps {
		if !snap.Enabled {
			continue
		}
		if snap.RPC.GreaterThanOrEqual(d.threshold) {
			qualified = append(qualified, snap)
			events = append(events, Event{Direction: DirectionQualified, Current: snap, Baseline: snap})
		}
	}
	return qualified, events
}

// ComparisonResult is the outcome of evaluating one comparison window.
type ComparisonResult struct {
	// Events are the de-qualification crossings to alert on.
	Events []Event
	// Missing lists baseline targets absent from the current fetch.
	// Absence is "no data", never a crossing.
	Missing []source.Snapshot
	// Suppressed lists baseline targets that already de-qualified in
	// an earlier window today and are not re-evaluated.
	Suppressed []source.Snapshot
}

// Compare evaluates a comparison window against the day's baseline.
// prior holds the snapshot sets of earlier comparison windows in
// configured order; current is this window's fetch.
func (d *Detector) Compare(baseline []source.Snapshot, prior [][]source.Snapshot, current []source.Snapshot) ComparisonResult {
	index := make(map[string]source.Snapshot, len(current))
	for _, snap := range current {
		index[snap.TargetID] = snap
	}

	var result ComparisonResult
	for _, base := range baseline {
		state := d.replay(base.TargetID, prior)
		if state == StateDeQualified {
			result.Suppressed = append(result.Suppressed, base)
			continue
		}

		snap, ok := index[base.TargetID]
		if !ok {
			result.Missing = append(result.Missing, base)
			continue
		}

		if snap.RPC.LessThan(d.threshold) {
			result.Events = append(result.Events, Event{
				Direction: DirectionDeQualified,
				Current:   snap,
				Baseline:  base,
			})
		}
	}
	return result
}

// StateOf reports a target's state for the day given its baseline
// membership and the comparison windows recorded so far.
func (d *Detector) StateOf(targetID string, baseline []source.Snapshot, prior [][]source.Snapshot) State {
	inBaseline := false
	for _, base := range baseline {
		if base.TargetID == targetID {
			inBaseline = true
			break
		}
	}
	if !inBaseline {
		return StateUnseen
	}
	return d.replay(targetID, prior)
}

// replay walks the earlier windows for one baseline target. A window
// without data for the target leaves its state untouched; DeQualified
// is sticky unless re-arming is enabled and a later window shows the
// target back at or above threshold.
func (d *Detector) replay(targetID string, prior [][]source.Snapshot) State {
	state := StateQualified
	for _, window := range prior {
		for _, snap := range window {
			if snap.TargetID != targetID {
				continue
			}
			switch {
			case snap.RPC.LessThan(d.threshold):
				state = StateDeQualified
			case d.rearm && state == StateDeQualified:
				state = StateQualified
			}
			break
		}
	}
	return state
}
