// Package cooling implements the cooling strategy machine (spec §4.C):
// CoolingOff / Cooling, ported from the Python original's
// CoolingStrategy.process_state_change.
package cooling

import (
	"time"

	"github.com/attic-systems/hvacd/internal/hvacmodel"
)

// State is one of the two states the cooling strategy can occupy.
type State string

const (
	CoolingOff State = "CoolingOff"
	Cooling    State = "Cooling"
)

// Input is the per-evaluation snapshot the master machine passes down.
type Input struct {
	IndoorC   float64
	OutdoorC  float64
	Hour      int
	IsWeekday bool
	Now       time.Time
}

// Evaluate runs one transition of the cooling strategy.
func Evaluate(current State, cfg hvacmodel.CoolingConfig, active *hvacmodel.ActiveHours, in Input) State {
	canOp := canOperate(cfg, active, in)
	tooLow := in.IndoorC < cfg.Thresholds.IndoorMin
	tooHigh := in.IndoorC > cfg.Thresholds.IndoorMax

	switch current {
	case CoolingOff:
		if canOp && tooHigh {
			return Cooling
		}
		return CoolingOff

	case Cooling:
		if !canOp || tooLow {
			return CoolingOff
		}
		return Cooling
	}

	return CoolingOff
}

func canOperate(cfg hvacmodel.CoolingConfig, active *hvacmodel.ActiveHours, in Input) bool {
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
