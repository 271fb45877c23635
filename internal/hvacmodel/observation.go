package hvacmodel

import "time"

// Observation is the mutable snapshot the controller loop feeds into the
// master state machine on every evaluation. It, and the defrost
// timestamps embedded in it, are owned exclusively by the controller
// loop and the heating strategy respectively — never mutated
// concurrently (spec §3 "Ownership & lifecycle").
type Observation struct {
	IndoorTempC  *float64
	OutdoorTempC *float64
	Hour         int
	IsWeekday    bool

	// DefrostLast is set exactly when a defrost cycle ends.
	DefrostLast *time.Time
	// DefrostStarted is set when a defrost cycle begins and cleared when
	// it ends.
	DefrostStarted *time.Time
}

// Complete reports whether both temperature readings are present. A
// missing reading means the master machine must return without
// transitioning (spec §4.D evaluation guard).
func (o Observation) Complete() bool {
	return o.IndoorTempC != nil && o.OutdoorTempC != nil
}

// CommandPlan is the value the decision engine produces per evaluation
// and the controller dispatches once, then discards. SetpointC/Preset
// are only meaningful when Mode != ModeOff.
type CommandPlan struct {
	Mode      HVACMode
	SetpointC float64
	Preset    string
}

// OffPlan is the canonical off command plan: no hub-visible setpoint or
// preset is sent in off mode.
func OffPlan() CommandPlan {
	return CommandPlan{Mode: ModeOff}
}
