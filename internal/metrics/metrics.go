// Package metrics provides Prometheus metrics for hvacd: evaluation
// outcomes, hub command results, reconnects, defrost cycles, and the
// master machine's current state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/attic-systems/hvacd/internal/hvacmodel"
)

// ─── Evaluations ────────────────────────────────────────────────────────────

// Evaluations tracks completed master-machine evaluations by resulting mode.
var Evaluations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "hvacd",
	Name:      "evaluations_total",
	Help:      "Total master-machine evaluations by resulting mode.",
}, []string{"mode"})

// ─── Hub commands ───────────────────────────────────────────────────────────

// CommandCalls tracks call_service invocations by service and result.
var CommandCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "hvacd",
	Name:      "command_calls_total",
	Help:      "Total call_service invocations by service and result.",
}, []string{"service", "result"})

// HubReconnects tracks WebSocket reconnects started after a lost
// connection (one per lost connection, however many dials it takes).
var HubReconnects = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "hvacd",
	Name:      "hub_reconnects_total",
	Help:      "Total hub WebSocket reconnects started after a lost connection.",
})

// ─── Heating ────────────────────────────────────────────────────────────────

// DefrostCycles tracks defrost-cycle entries.
var DefrostCycles = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "hvacd",
	Name:      "defrost_cycles_total",
	Help:      "Total defrost cycles entered.",
})

// MasterState tracks the current master state as a one-hot gauge vector.
var MasterState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "hvacd",
	Name:      "master_state",
	Help:      "Current master state (1 for the active state, 0 otherwise).",
}, []string{"state"})

var knownStates = []string{"Idle", "Heating", "Cooling", "Defrost"}

// Recorder adapts the package-level collectors to the
// controller.MetricsRecorder interface.
type Recorder struct{}

// NewRecorder returns a Recorder backed by the package's registered
// collectors.
func NewRecorder() *Recorder { return &Recorder{} }

// ObserveEvaluation increments the evaluations counter for mode.
func (Recorder) ObserveEvaluation(mode hvacmodel.HVACMode) {
	Evaluations.WithLabelValues(string(mode)).Inc()
}

// ObserveCommandCall increments the command-call counter for service,
// labelled "ok" or "error" depending on err.
func (Recorder) ObserveCommandCall(service string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	CommandCalls.WithLabelValues(service, result).Inc()
}

// ObserveReconnect increments the hub-reconnect counter.
func (Recorder) ObserveReconnect() {
	HubReconnects.Inc()
}

// ObserveDefrostCycle increments the defrost-cycle counter.
func (Recorder) ObserveDefrostCycle() {
	DefrostCycles.Inc()
}

// SetMasterState sets the one-hot master-state gauge vector.
func (Recorder) SetMasterState(state string) {
	for _, s := range knownStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		MasterState.WithLabelValues(s).Set(v)
	}
}
