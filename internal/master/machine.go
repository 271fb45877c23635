// Package master implements the top-level HVAC state machine (spec
// §4.D): auto-mode arbitration between heating and cooling, forwarding
// to the two subordinate strategy machines, and the Idle/Heating/
// Cooling/Defrost states visible to the rest of the system. It holds no
// hysteresis of its own — all of that lives in the two strategies (spec
// §9 redesign direction: three machines as three values, not a class
// hierarchy).
package master

import (
	"time"

	"github.com/attic-systems/hvacd/internal/cooling"
	"github.com/attic-systems/hvacd/internal/heating"
	"github.com/attic-systems/hvacd/internal/hvacmodel"
)

// State is one of the four states the master machine can occupy.
type State string

const (
	Idle    State = "Idle"
	Heating State = "Heating"
	Cooling State = "Cooling"
	Defrost State = "Defrost"
)

// Machine holds the master state plus the two subordinate strategies'
// own state. It is owned exclusively by the controller loop (spec §3
// "Ownership & lifecycle") — never mutated concurrently.
type Machine struct {
	state        State
	heatingState heating.State
	coolingState cooling.State
}

// New creates a master machine in its initial Idle state, with both
// strategies in their own initial states.
func New() *Machine {
	return &Machine{
		state:        Idle,
		heatingState: heating.Off,
		coolingState: cooling.CoolingOff,
	}
}

// State returns the current master state.
func (m *Machine) State() State { return m.state }

// Evaluate runs one evaluation step (spec §4.D "Evaluation step"). obs
// supplies the current conditions and the heating strategy's defrost
// timestamps, which Evaluate updates in place when a defrost cycle
// starts or ends. It returns nil when the evaluation could not run at
// all (missing observation) — the caller must not dispatch anything in
// that case, as opposed to a non-nil off plan which is a deliberate
// instruction to idle every entity.
func (m *Machine) Evaluate(cfg hvacmodel.Config, obs *hvacmodel.Observation, now time.Time) *hvacmodel.CommandPlan {
	if !obs.Complete() {
		return nil
	}

	if !activeNow(cfg.ActiveHours, obs.Hour, obs.IsWeekday) {
		m.state = Idle
		plan := hvacmodel.OffPlan()
		return &plan
	}

	target := arbitrate(cfg, *obs)

	switch target {
	case hvacmodel.SystemModeHeatOnly:
		return m.dispatchHeating(cfg, obs, now)
	case hvacmodel.SystemModeCoolOnly:
		return m.dispatchCooling(cfg, obs, now)
	default: // SystemModeOff
		m.state = Idle
		plan := hvacmodel.OffPlan()
		return &plan
	}
}

func (m *Machine) dispatchHeating(cfg hvacmodel.Config, obs *hvacmodel.Observation, now time.Time) *hvacmodel.CommandPlan {
	in := heating.Input{
		IndoorC:        *obs.IndoorTempC,
		OutdoorC:       *obs.OutdoorTempC,
		Hour:           obs.Hour,
		IsWeekday:      obs.IsWeekday,
		Now:            now,
		DefrostLast:    obs.DefrostLast,
		DefrostStarted: obs.DefrostStarted,
	}

	next, effect := heating.Evaluate(m.heatingState, cfg.Heating, cfg.ActiveHours, in)
	applyDefrostEffect(obs, effect, now)
	m.heatingState = next

	switch next {
	case heating.Heating:
		m.state = Heating
		plan := hvacmodel.CommandPlan{
			Mode:      hvacmodel.ModeHeat,
			SetpointC: cfg.Heating.SetpointC,
			Preset:    cfg.Heating.PresetName,
		}
		return &plan

	case heating.Defrost:
		// Defrost is an internal lockout, never hub-visible: the master
		// state is Defrost but the emitted plan is off (spec §9).
		m.state = Defrost
		plan := hvacmodel.OffPlan()
		return &plan

	default: // heating.Off
		m.state = Idle
		plan := hvacmodel.OffPlan()
		return &plan
	}
}

func (m *Machine) dispatchCooling(cfg hvacmodel.Config, obs *hvacmodel.Observation, now time.Time) *hvacmodel.CommandPlan {
	in := cooling.Input{
		IndoorC:   *obs.IndoorTempC,
		OutdoorC:  *obs.OutdoorTempC,
		Hour:      obs.Hour,
		IsWeekday: obs.IsWeekday,
		Now:       now,
	}

	next := cooling.Evaluate(m.coolingState, cfg.Cooling, cfg.ActiveHours, in)
	m.coolingState = next

	switch next {
	case cooling.Cooling:
		m.state = Cooling
		plan := hvacmodel.CommandPlan{
			Mode:      hvacmodel.ModeCool,
			SetpointC: cfg.Cooling.SetpointC,
			Preset:    cfg.Cooling.PresetName,
		}
		return &plan

	default: // cooling.CoolingOff
		m.state = Idle
		plan := hvacmodel.OffPlan()
		return &plan
	}
}

func applyDefrostEffect(obs *hvacmodel.Observation, effect heating.Effect, now time.Time) {
	switch effect {
	case heating.StartDefrost:
		t := now
		obs.DefrostStarted = &t
	case heating.EndDefrost:
		t := now
		obs.DefrostLast = &t
		obs.DefrostStarted = nil
	}
}

// activeNow reports whether hour falls within the configured active-hours
// window. A nil schedule means always active.
func activeNow(active *hvacmodel.ActiveHours, hour int, isWeekday bool) bool {
	if active == nil {
		return true
	}
	start := active.StartWeekday
	if !isWeekday {
		start = active.StartWeekend
	}
	return hour >= start && hour <= active.End
}

// arbitrate determines the target strategy-mode for this evaluation
// (spec §4.D "Target-mode arbitration"). Non-auto system modes are the
// identity: the configured mode is the target.
func arbitrate(cfg hvacmodel.Config, obs hvacmodel.Observation) hvacmodel.SystemMode {
	if cfg.SystemMode != hvacmodel.SystemModeAuto {
		return cfg.SystemMode
	}

	ht := cfg.Heating.Thresholds
	ct := cfg.Cooling.Thresholds
	indoor := *obs.IndoorTempC
	outdoor := *obs.OutdoorTempC

	heatOK := outdoor >= ht.OutdoorMin && outdoor <= ht.OutdoorMax
	coolOK := outdoor >= ct.OutdoorMin && outdoor <= ct.OutdoorMax

	urgentHeat := indoor < ht.IndoorMin && heatOK
	urgentCool := indoor > ct.IndoorMax && coolOK

	switch {
	case urgentHeat:
		return hvacmodel.SystemModeHeatOnly
	case urgentCool:
		return hvacmodel.SystemModeCoolOnly
	}

	switch {
	case heatOK && coolOK:
		mid := (ht.OutdoorMax + ct.OutdoorMin) / 2
		if outdoor <= mid {
			return hvacmodel.SystemModeHeatOnly
		}
		return hvacmodel.SystemModeCoolOnly
	case heatOK:
		return hvacmodel.SystemModeHeatOnly
	case coolOK:
		return hvacmodel.SystemModeCoolOnly
	default:
		return hvacmodel.SystemModeOff
	}
}
