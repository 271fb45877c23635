// Package heating implements the heating strategy machine (spec §4.B):
// Off / Heating / Defrost with a periodic defrost timer. It is encoded as
// an explicit transition function over (state, input) -> (state, effect)
// rather than a class hierarchy (spec §9 redesign direction), ported
// predicate-for-predicate from the Python original's
// HeatingStrategy.process_state_change.
package heating

import (
	"time"

	"github.com/attic-systems/hvacd/internal/hvacmodel"
)

// State is one of the three states the heating strategy can occupy.
type State string

const (
	Off      State = "Off"
	Heating  State = "Heating"
	Defrost  State = "Defrost"
)

// Effect is a side effect the caller must apply to the single
// controller-owned defrost timestamp pair. The heating strategy never
// mutates an Observation directly; it only reports what the caller
// should record.
type Effect int

const (
	// NoEffect leaves the defrost timestamps untouched.
	NoEffect Effect = iota
	// StartDefrost records DefrostStarted = now.
	StartDefrost
	// EndDefrost records DefrostLast = now and clears DefrostStarted.
	EndDefrost
)

// Input is the per-evaluation snapshot the master machine passes down.
type Input struct {
	IndoorC        float64
	OutdoorC       float64
	Hour           int
	IsWeekday      bool
	Now            time.Time
	DefrostLast    *time.Time
	DefrostStarted *time.Time
}

// Evaluate runs one transition of the heating strategy and reports the
// resulting state plus any defrost-timestamp effect the caller must
// apply. cfg is the operator's heating policy; active is the operator's
// active-hours schedule (nil means always active).
func Evaluate(current State, cfg hvacmodel.HeatingConfig, active *hvacmodel.ActiveHours, in Input) (State, Effect) {
	canOp := canOperate(cfg, active, in)
	tooLow := in.IndoorC < cfg.Thresholds.IndoorMin
	tooHigh := in.IndoorC > cfg.Thresholds.IndoorMax
	needDefrost := needDefrostCycle(cfg, in)
	defrostDone := defrostComplete(cfg, in)

	switch current {
	case Off:
		switch {
		case canOp && tooLow && needDefrost:
			return Defrost, StartDefrost
		case canOp && tooLow:
			return Heating, NoEffect
		default:
			return Off, NoEffect
		}

	case Heating:
		switch {
		case canOp && needDefrost:
			return Defrost, StartDefrost
		case !canOp || tooHigh:
			return Off, NoEffect
		default:
			return Heating, NoEffect
		}

	case Defrost:
		switch {
		case defrostDone:
			return Off, EndDefrost
		case !canOp:
			return Off, EndDefrost
		default:
			return Defrost, NoEffect
		}
	}

	return Off, NoEffect
}

// canOperate reports whether outdoor conditions and the active-hours
// schedule allow heating to run at all.
func canOperate(cfg hvacmodel.HeatingConfig, active *hvacmodel.ActiveHours, in Input) bool {
	t := cfg.Thresholds
	weatherOK := in.OutdoorC >= t.OutdoorMin && in.OutdoorC <= t.OutdoorMax
	if !weatherOK {
		return false
	}
	if active == nil {
		return true
	}
	start := active.StartWeekday
	if !in.IsWeekday {
		start = active.StartWeekend
	}
	return in.Hour >= start && in.Hour <= active.End
}

// needDefrostCycle reports whether a new defrost cycle should begin:
// defrost must be configured, outdoor temperature at or below the
// threshold, and either no prior cycle or enough time elapsed since the
// last one ended.
func needDefrostCycle(cfg hvacmodel.HeatingConfig, in Input) bool {
	d := cfg.Defrost
	if d == nil {
		return false
	}
	if in.OutdoorC > d.OutdoorThresholdC {
		return false
	}
	if in.DefrostLast != nil && in.Now.Sub(*in.DefrostLast) < d.Period {
		return false
	}
	return true
}

// defrostComplete reports whether an in-progress defrost cycle has run
// its full duration.
func defrostComplete(cfg hvacmodel.HeatingConfig, in Input) bool {
	if in.DefrostStarted == nil {
		return false
	}
	d := cfg.Defrost
	if d == nil {
		return true
	}
	return in.Now.Sub(*in.DefrostStarted) >= d.Duration
}
