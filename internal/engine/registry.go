package engine

import (
	"fmt"

	"github.com/meridianlabs/meridian/internal/model"
)

// Registry maps each phase to the subsystems registered for it. A subsystem
// may serve any number of phases; a phase with zero subsystems is valid and
// contributes nothing to the cycle.
//
// Registration happens before the engine starts and the registry is
// read-only afterwards, so lookups need no locking.
type Registry struct {
	byPhase map[model.Phase][]Subsystem
	names   map[string]bool
	subs    []Subsystem
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byPhase: make(map[model.Phase][]Subsystem),
		names:   make(map[string]bool),
	}
}

// Register attaches a subsystem to the given phases, in registration order.
// Duplicate names are rejected so logs and status payloads stay unambiguous.
func (r *Registry) Register(sub Subsystem, phases ...model.Phase) error {
	if sub == nil {
		return fmt.Errorf("engine: register nil subsystem")
	}
	name := sub.Name()
	if name == "" {
		return fmt.Errorf("engine: subsystem has empty name")
	}
	if r.names[name] {
		return fmt.Errorf("engine: subsystem %q already registered", name)
	}
	if len(phases) == 0 {
		return fmt.Errorf("engine: subsystem %q registered for no phases", name)
	}
	for _, p := range phases {
		r.byPhase[p] = append(r.byPhase[p], sub)
	}
	r.names[name] = true
	r.subs = append(r.subs, sub)
	return nil
}

// Subsystems returns every registered subsystem once, in registration order.
func (r *Registry) Subsystems() []Subsystem {
	return r.subs
}

// ForPhase returns the subsystems registered for a phase, in registration
// order. The returned slice must not be mutated.
func (r *Registry) ForPhase(p model.Phase) []Subsystem {
	return r.byPhase[p]
}

// Names returns the registered subsystem names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.names))
	for name := range r.names {
		names = append(names, name)
	}
	return names
}
