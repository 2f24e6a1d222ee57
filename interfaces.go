package meridian

import (
	"context"
)

// Subsystem is a pluggable unit of domain logic. Register implementations
// with WithSubsystem, naming the phases they participate in; the engine
// invokes only the operations those phases need.
//
// Implementations must be safe for concurrent use: a subsystem is invoked
// from one phase at a time, but Status may be called from the control
// surface while a phase is in flight. Errors are isolated per subsystem —
// a failure is logged and recorded without affecting siblings.
type Subsystem interface {
	// Name identifies the subsystem in logs, errors, and status payloads.
	Name() string

	// Discover returns candidate opportunities for this cycle.
	Discover(ctx context.Context) ([]Opportunity, error)

	// Analyze returns the subsystem's view of per-kind momentum.
	Analyze(ctx context.Context) (TrendSnapshot, error)

	// Provision prepares assets or campaigns for the given opportunities.
	// Called with a nil slice during reconciliation, meaning "ensure your
	// minimum footprint".
	Provision(ctx context.Context, opps []Opportunity) (ProvisionResult, error)

	// Execute performs the subsystem's yield-bearing work and reports the
	// outcome.
	Execute(ctx context.Context, opps []Opportunity, trends TrendSnapshot) (YieldResult, error)

	// Experiment runs autonomous experimentation.
	Experiment(ctx context.Context, opps []Opportunity, trends TrendSnapshot) error

	// Status reports subsystem-internal state for the control surface.
	Status(ctx context.Context) (map[string]string, error)
}
