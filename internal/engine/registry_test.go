package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/meridian/internal/model"
)

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	a := &stubSubsystem{name: "a"}
	b := &stubSubsystem{name: "b"}

	require.NoError(t, r.Register(a, model.PhaseDiscover, model.PhaseExecute))
	require.NoError(t, r.Register(b, model.PhaseExecute))

	assert.Len(t, r.ForPhase(model.PhaseDiscover), 1)
	assert.Empty(t, r.ForPhase(model.PhaseAnalyze))

	// Registration order is preserved within a phase.
	execs := r.ForPhase(model.PhaseExecute)
	require.Len(t, execs, 2)
	assert.Equal(t, "a", execs[0].Name())
	assert.Equal(t, "b", execs[1].Name())

	assert.ElementsMatch(t, []string{"a", "b"}, r.Names())
}

func TestRegistryRejectsInvalid(t *testing.T) {
	r := NewRegistry()

	assert.Error(t, r.Register(nil, model.PhaseDiscover))
	assert.Error(t, r.Register(&stubSubsystem{name: ""}, model.PhaseDiscover))
	assert.Error(t, r.Register(&stubSubsystem{name: "a"}))

	require.NoError(t, r.Register(&stubSubsystem{name: "a"}, model.PhaseDiscover))
	assert.Error(t, r.Register(&stubSubsystem{name: "a"}, model.PhaseExecute),
		"duplicate names are rejected")
}
