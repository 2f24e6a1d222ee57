package model

import (
	"fmt"
)

// SubsystemError is the failure of one concurrent subsystem invocation inside
// a phase. It is isolated by the fan-out coordinator: siblings keep running
// and the phase still produces results.
type SubsystemError struct {
	Subsystem string
	Phase     Phase
	Err       error
}

func (e *SubsystemError) Error() string {
	return fmt.Sprintf("subsystem %s: phase %s: %v", e.Subsystem, e.Phase, e.Err)
}

func (e *SubsystemError) Unwrap() error { return e.Err }
