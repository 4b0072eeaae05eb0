package detector

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"ringba-rpc-alerts/internal/source"
)

func rpcGen() gopter.Gen {
	return gen.Float64Range(0, 50).Map(func(v float64) decimal.Decimal {
		return decimal.NewFromFloat(v).Round(2)
	})
}

// windowsGen produces replay histories: sequences of windows, each
// optionally containing a reading for the single tracked target.
func windowsGen() gopter.Gen {
	window := gen.OneGenOf(
		rpcGen().Map(func(rpc decimal.Decimal) []source.Snapshot {
			return []source.Snapshot{{TargetID: "t", TargetName: "T", Enabled: true, RPC: rpc}}
		}),
		gen.Const([]source.Snapshot(nil)),
	)
	return gen.SliceOf(window)
}

func TestBaselineSelectsExactlyThresholdOrAbove(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("qualifying set is exactly enabled targets at or above threshold", prop.ForAll(
		func(rpcs []decimal.Decimal, threshold decimal.Decimal) bool {
			d := New(threshold, false)
			snaps := make([]source.Snapshot, len(rpcs))
			for i, rpc := range rpcs {
				snaps[i] = source.Snapshot{TargetID: string(rune('a' + i%26)), Enabled: true, RPC: rpc}
			}
			qualified, events := d.Baseline(snaps)
			if len(qualified) != len(events) {
				return false
			}
			want := 0
			for _, rpc := range rpcs {
				if rpc.GreaterThanOrEqual(threshold) {
					want++
				}
			}
			return len(qualified) == want
		},
		gen.SliceOf(rpcGen()),
		rpcGen(),
	))

	properties.TestingRun(t)
}

func TestDeQualifiedOnlyReachableFromQualified(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("a target outside the baseline is never de-qualified", prop.ForAll(
		func(prior [][]source.Snapshot, threshold decimal.Decimal) bool {
			d := New(threshold, false)
			return d.StateOf("t", nil, prior) == StateUnseen
		},
		windowsGen(),
		rpcGen(),
	))

	properties.Property("without re-arming, de-qualified is absorbing", prop.ForAll(
		func(prior [][]source.Snapshot, extra [][]source.Snapshot, threshold decimal.Decimal) bool {
			d := New(threshold, false)
			baseline := []source.Snapshot{{TargetID: "t", TargetName: "T", Enabled: true, RPC: threshold}}
			if d.StateOf("t", baseline, prior) != StateDeQualified {
				return true
			}
			return d.StateOf("t", baseline, append(prior, extra...)) == StateDeQualified
		},
		windowsGen(),
		windowsGen(),
		rpcGen(),
	))

	properties.Property("crossings never exceed the baseline set", prop.ForAll(
		func(prior [][]source.Snapshot, current decimal.Decimal, threshold decimal.Decimal) bool {
			d := New(threshold, false)
			baseline := []source.Snapshot{{TargetID: "t", TargetName: "T", Enabled: true, RPC: threshold}}
			result := d.Compare(baseline, prior, []source.Snapshot{{TargetID: "t", Enabled: true, RPC: current}})
			return len(result.Events)+len(result.Missing)+len(result.Suppressed) <= len(baseline)
		},
		windowsGen(),
		rpcGen(),
		rpcGen(),
	))

	properties.TestingRun(t)
}
