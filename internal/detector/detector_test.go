package detector

import (
	"testing"

	"github.com/shopspring/decimal"

	"ringba-rpc-alerts/internal/source"
)

func snap(id, name string, rpc string) source.Snapshot {
	return source.Snapshot{
		TargetID:   id,
		TargetName: name,
		Enabled:    true,
		RPC:        decimal.RequireFromString(rpc),
	}
}

func newDetector(t *testing.T, threshold string, rearm bool) *Detector {
	t.Helper()
	return New(decimal.RequireFromString(threshold), rearm)
}

func TestBaselineBoundaryQualifies(t *testing.T) {
	d := newDetector(t, "10", false)

	qualified, events := d.Baseline([]source.Snapshot{
		snap("a", "Exactly", "10.00"),
		snap("b", "OneCentBelow", "9.99"),
		snap("c", "Above", "15.50"),
	})

	if len(qualified) != 2 {
		t.Fatalf("expected 2 qualified targets, got %d", len(qualified))
	}
	if qualified[0].TargetID != "a" || qualified[1].TargetID != "c" {
		t.Fatalf("wrong qualifying set: %#v", qualified)
	}
	if len(events) != 2 {
		t.Fatalf("expected one qualified event per member, got %d", len(events))
	}
	for _, event := range events {
		if event.Direction != DirectionQualified {
			t.Fatalf("unexpected direction %q", event.Direction)
		}
	}
}

func TestBaselineSkipsDisabledTargets(t *testing.T) {
	d := newDetector(t, "10", false)

	disabled := snap("a", "Paused", "25.00")
	disabled.Enabled = false

	qualified, _ := d.Baseline([]source.Snapshot{disabled, snap("b", "Live", "11.00")})
	if len(qualified) != 1 || qualified[0].TargetID != "b" {
		t.Fatalf("disabled target should not qualify: %#v", qualified)
	}
}

func TestCompareDetectsFallBelow(t *testing.T) {
	d := newDetector(t, "10", false)
	baseline := []source.Snapshot{snap("a", "Acme", "12.50"), snap("b", "Beta", "10.00")}

	result := d.Compare(baseline, nil, []source.Snapshot{
		snap("a", "Acme", "7.25"),
		snap("b", "Beta", "10.00"),
	})

	if len(result.Events) != 1 {
		t.Fatalf("expected one crossing, got %d", len(result.Events))
	}
	event := result.Events[0]
	if event.Direction != DirectionDeQualified {
		t.Fatalf("unexpected direction %q", event.Direction)
	}
	if event.Current.TargetID != "a" {
		t.Fatalf("wrong target crossed: %s", event.Current.TargetID)
	}
	if !event.Baseline.RPC.Equal(decimal.RequireFromString("12.50")) {
		t.Fatalf("baseline snapshot not carried: %s", event.Baseline.RPC)
	}
}

func TestCompareBoundaryDoesNotCross(t *testing.T) {
	d := newDetector(t, "10", false)
	baseline := []source.Snapshot{snap("a", "Acme", "12.50")}

	result := d.Compare(baseline, nil, []source.Snapshot{snap("a", "Acme", "10.00")})
	if len(result.Events) != 0 {
		t.Fatalf("RPC exactly at threshold must not de-qualify: %#v", result.Events)
	}
}

func TestCompareMissingTargetIsNoData(t *testing.T) {
	d := newDetector(t, "10", false)
	baseline := []source.Snapshot{snap("a", "Acme", "12.50"), snap("b", "Beta", "11.00")}

	result := d.Compare(baseline, nil, []source.Snapshot{snap("b", "Beta", "11.00")})

	if len(result.Events) != 0 {
		t.Fatalf("absence must not produce a crossing: %#v", result.Events)
	}
	if len(result.Missing) != 1 || result.Missing[0].TargetID != "a" {
		t.Fatalf("missing target not reported: %#v", result.Missing)
	}
}

func TestCompareSuppressesAlreadyDeQualified(t *testing.T) {
	d := newDetector(t, "10", false)
	baseline := []source.Snapshot{snap("a", "Acme", "12.50")}
	midday := []source.Snapshot{snap("a", "Acme", "8.00")}

	result := d.Compare(baseline, [][]source.Snapshot{midday}, []source.Snapshot{snap("a", "Acme", "6.00")})

	if len(result.Events) != 0 {
		t.Fatalf("target already de-qualified at midday must not fire again: %#v", result.Events)
	}
	if len(result.Suppressed) != 1 || result.Suppressed[0].TargetID != "a" {
		t.Fatalf("suppression not reported: %#v", result.Suppressed)
	}
}

func TestCompareStickyWithoutRearm(t *testing.T) {
	d := newDetector(t, "10", false)
	baseline := []source.Snapshot{snap("a", "Acme", "12.50")}
	// Fell below at midday, recovered in a later window, falls again.
	prior := [][]source.Snapshot{
		{snap("a", "Acme", "8.00")},
		{snap("a", "Acme", "14.00")},
	}

	result := d.Compare(baseline, prior, []source.Snapshot{snap("a", "Acme", "5.00")})
	if len(result.Events) != 0 {
		t.Fatalf("de-qualified state is sticky without re-arming: %#v", result.Events)
	}
}

func TestCompareRearmAllowsSecondFire(t *testing.T) {
	d := newDetector(t, "10", true)
	baseline := []source.Snapshot{snap("a", "Acme", "12.50")}
	prior := [][]source.Snapshot{
		{snap("a", "Acme", "8.00")},
		{snap("a", "Acme", "14.00")},
	}

	result := d.Compare(baseline, prior, []source.Snapshot{snap("a", "Acme", "5.00")})
	if len(result.Events) != 1 {
		t.Fatalf("re-armed target should fire again: %#v", result.Events)
	}
}

func TestCompareIgnoresNonBaselineTargets(t *testing.T) {
	d := newDetector(t, "10", false)
	baseline := []source.Snapshot{snap("a", "Acme", "12.50")}

	result := d.Compare(baseline, nil, []source.Snapshot{
		snap("a", "Acme", "11.00"),
		snap("z", "Newcomer", "3.00"),
	})
	if len(result.Events) != 0 {
		t.Fatalf("targets outside the baseline set are not monitored: %#v", result.Events)
	}
}

func TestStateOf(t *testing.T) {
	d := newDetector(t, "10", false)
	baseline := []source.Snapshot{snap("a", "Acme", "12.50")}
	prior := [][]source.Snapshot{{snap("a", "Acme", "8.00")}}

	if got := d.StateOf("a", baseline, nil); got != StateQualified {
		t.Fatalf("expected qualified, got %s", got)
	}
	if got := d.StateOf("a", baseline, prior); got != StateDeQualified {
		t.Fatalf("expected de-qualified, got %s", got)
	}
	if got := d.StateOf("z", baseline, prior); got != StateUnseen {
		t.Fatalf("expected unseen, got %s", got)
	}
}
