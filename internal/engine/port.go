package engine

import (
	"context"

	"github.com/meridianlabs/meridian/internal/model"
)

// Subsystem is the capability contract every pluggable unit of domain logic
// implements. The engine schedules, isolates, and accounts for subsystem
// work; it never looks inside it.
//
// Implementations must be safe for concurrent use: a subsystem registered
// for several phases is only ever invoked from one phase at a time, but
// Status may be called from the control surface while a phase is in flight.
type Subsystem interface {
	// Name identifies the subsystem in logs, errors, and status payloads.
	Name() string

	// Discover returns candidate opportunities for this cycle.
	Discover(ctx context.Context) ([]model.Opportunity, error)

	// Analyze returns the subsystem's view of per-kind momentum.
	Analyze(ctx context.Context) (model.TrendSnapshot, error)

	// Provision prepares assets or campaigns for the given opportunities.
	// Called with a nil slice during the reconcile phase, meaning "ensure
	// your minimum footprint".
	Provision(ctx context.Context, opps []model.Opportunity) (model.ProvisionResult, error)

	// Execute performs the subsystem's yield-bearing work and reports the
	// outcome.
	Execute(ctx context.Context, opps []model.Opportunity, trends model.TrendSnapshot) (model.YieldResult, error)

	// Experiment runs autonomous experimentation. Failures are isolated like
	// any other subsystem failure.
	Experiment(ctx context.Context, opps []model.Opportunity, trends model.TrendSnapshot) error

	// Status reports subsystem-internal state for the control surface.
	Status(ctx context.Context) (map[string]string, error)
}
