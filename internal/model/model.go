// Package model defines the core domain types for Meridian.
//
// Types use strong typing (UUIDs, time.Time, enums) and avoid interface{}
// wherever possible. Records are immutable once finalized; the only mutable
// aggregate in the system is owned by internal/metrics.
package model

// EngineState is the lifecycle state of the cycle engine.
type EngineState int32

const (
	StateUninitialized EngineState = iota
	StateBootstrapping
	StateRunning
	StatePaused
	StateStopping
	StateStopped
)

var stateNames = map[EngineState]string{
	StateUninitialized: "uninitialized",
	StateBootstrapping: "bootstrapping",
	StateRunning:       "running",
	StatePaused:        "paused",
	StateStopping:      "stopping",
	StateStopped:       "stopped",
}

func (s EngineState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler so EngineState renders as its
// name in JSON status payloads.
func (s EngineState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Phase is one named step within a cycle.
type Phase string

// The fixed phase sequence of a cycle, in execution order.
const (
	PhaseDiscover    Phase = "discover"
	PhaseAnalyze     Phase = "analyze_trends"
	PhaseProvision   Phase = "acquire_assets"
	PhaseCampaigns   Phase = "launch_or_optimize"
	PhaseExecute     Phase = "execute_yield"
	PhaseReconcile   Phase = "reconcile_assets"
	PhaseExperiments Phase = "run_experiments"
	PhaseEmitEvents  Phase = "emit_cycle_events"
)

// PhaseOrder is the canonical execution order of phases within a cycle.
var PhaseOrder = []Phase{
	PhaseDiscover,
	PhaseAnalyze,
	PhaseProvision,
	PhaseCampaigns,
	PhaseExecute,
	PhaseReconcile,
	PhaseExperiments,
	PhaseEmitEvents,
}
