package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/meridian/internal/metrics"
	"github.com/meridianlabs/meridian/internal/model"
	"github.com/meridianlabs/meridian/internal/storage"
)

var testTiming = Timing{
	CycleInterval: 5 * time.Millisecond,
	PausePoll:     5 * time.Millisecond,
	ErrorCooldown: 5 * time.Millisecond,
}

type subsystemSetup struct {
	sub    Subsystem
	phases []model.Phase
}

func newTestEngine(t *testing.T, ladder []model.Milestone, setups ...subsystemSetup) *Engine {
	t.Helper()
	logger := discardLogger()

	backend, err := storage.OpenSQLite(context.Background(), ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close(context.Background()) })

	store := metrics.New(backend, logger, 100, 100, ladder)
	registry := NewRegistry()
	for _, s := range setups {
		require.NoError(t, registry.Register(s.sub, s.phases...))
	}
	fanout := NewFanOut(logger, 0.5, 50.0, 100, 0, nil)
	return New(registry, store, fanout, ladder, testTiming, logger)
}

func TestRunCycleZeroSubsystems(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	require.NoError(t, e.RunCycle(ctx))

	snap := e.Store().Snapshot()
	assert.Equal(t, uint64(1), snap.TotalCycles)
	assert.Equal(t, model.Amount(0), snap.TotalYield)
	require.NotNil(t, snap.LastCycle)
	assert.Empty(t, snap.LastCycle.PhaseErrors)
	assert.Equal(t, uint32(0), snap.LastCycle.OpportunitiesFound)
}

func TestRunCycleAccountsYield(t *testing.T) {
	executor := &stubSubsystem{
		name: "earner",
		execute: func(context.Context, []model.Opportunity, model.TrendSnapshot) (model.YieldResult, error) {
			return model.YieldResult{Amount: model.AmountFromCents(2500)}, nil
		},
	}
	e := newTestEngine(t, nil, subsystemSetup{executor, []model.Phase{model.PhaseExecute}})
	ctx := context.Background()

	require.NoError(t, e.RunCycle(ctx))
	require.NoError(t, e.RunCycle(ctx))

	snap := e.Store().Snapshot()
	assert.Equal(t, uint64(2), snap.TotalCycles)
	assert.Equal(t, model.AmountFromCents(5000), snap.TotalYield)
	require.NotNil(t, snap.LastCycle)
	assert.Equal(t, model.AmountFromCents(2500), snap.LastCycle.YieldAmount)
}

func TestRunCycleCachesRankedOpportunities(t *testing.T) {
	found := model.Opportunity{
		Kind: model.KindAffiliate, Score: 80, Confidence: 0.9,
		EstimatedYield: model.AmountFromCents(10_000),
	}
	discoverer := &stubSubsystem{
		name: "scout",
		discover: func(context.Context) ([]model.Opportunity, error) {
			return []model.Opportunity{found}, nil
		},
	}
	e := newTestEngine(t, nil, subsystemSetup{discoverer, []model.Phase{model.PhaseDiscover}})

	require.NoError(t, e.RunCycle(context.Background()))

	cached := e.CachedOpportunities()
	require.Len(t, cached, 1)
	assert.Equal(t, found.EstimatedYield, cached[0].EstimatedYield)
	assert.Equal(t, uint32(1), e.Store().Snapshot().LastCycle.OpportunitiesFound)
}

func TestRunCycleIsolatesSubsystemFailure(t *testing.T) {
	failing := &stubSubsystem{
		name: "flaky",
		execute: func(context.Context, []model.Opportunity, model.TrendSnapshot) (model.YieldResult, error) {
			return model.YieldResult{}, errors.New("upstream down")
		},
	}
	working := &stubSubsystem{
		name: "steady",
		execute: func(context.Context, []model.Opportunity, model.TrendSnapshot) (model.YieldResult, error) {
			return model.YieldResult{Amount: model.AmountFromCents(1000)}, nil
		},
	}
	e := newTestEngine(t, nil,
		subsystemSetup{failing, []model.Phase{model.PhaseExecute}},
		subsystemSetup{working, []model.Phase{model.PhaseExecute}},
	)

	require.NoError(t, e.RunCycle(context.Background()))

	// The sibling's yield lands; the failure is not a phase error.
	snap := e.Store().Snapshot()
	assert.Equal(t, model.AmountFromCents(1000), snap.TotalYield)
	assert.Empty(t, snap.LastCycle.PhaseErrors)
}

func TestRunCycleFiresMilestonesOnce(t *testing.T) {
	ladder := []model.Milestone{
		{Threshold: model.AmountFromCents(1_000), Label: "first"},
		{Threshold: model.AmountFromCents(3_000), Label: "second"},
	}
	executor := &stubSubsystem{
		name: "earner",
		execute: func(context.Context, []model.Opportunity, model.TrendSnapshot) (model.YieldResult, error) {
			return model.YieldResult{Amount: model.AmountFromCents(2_000)}, nil
		},
	}
	e := newTestEngine(t, ladder, subsystemSetup{executor, []model.Phase{model.PhaseExecute}})
	ctx := context.Background()

	// First cycle crosses only the first rung.
	require.NoError(t, e.RunCycle(ctx))
	assert.Equal(t, []model.Amount{model.AmountFromCents(1_000)}, e.Store().Snapshot().MilestonesReached)

	// Second cycle crosses the second; the first does not re-fire.
	require.NoError(t, e.RunCycle(ctx))
	assert.Equal(t, []model.Amount{
		model.AmountFromCents(1_000),
		model.AmountFromCents(3_000),
	}, e.Store().Snapshot().MilestonesReached)

	var fired int
	for _, ev := range e.Store().RecentActivity(0) {
		if ev.Kind == model.ActivityMilestone {
			fired++
		}
	}
	assert.Equal(t, 2, fired)
}

func TestBootstrapIdempotent(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	require.NoError(t, e.Bootstrap(ctx))
	require.NoError(t, e.Bootstrap(ctx))
	assert.Equal(t, model.StateRunning, e.State())

	var boots int
	for _, ev := range e.Store().RecentActivity(0) {
		if ev.Kind == model.ActivityBootstrap {
			boots++
		}
	}
	assert.Equal(t, 1, boots)
}

func TestRunForeverPauseAndResume(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = e.RunForever(ctx) }()

	require.Eventually(t, func() bool {
		return e.Store().Snapshot().TotalCycles >= 2
	}, 5*time.Second, 5*time.Millisecond)

	e.Pause(ctx)
	require.Eventually(t, func() bool {
		return e.State() == model.StatePaused
	}, time.Second, time.Millisecond)

	// A cycle already in flight may complete, then the count must hold.
	time.Sleep(50 * time.Millisecond)
	frozen := e.Store().Snapshot().TotalCycles
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, frozen, e.Store().Snapshot().TotalCycles)

	e.Resume(ctx)
	require.Eventually(t, func() bool {
		return e.Store().Snapshot().TotalCycles > frozen
	}, 5*time.Second, 5*time.Millisecond)

	e.Stop(ctx)
	select {
	case <-e.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
	assert.Equal(t, model.StateStopped, e.State())
}

func TestRunForeverSurvivesCycleErrors(t *testing.T) {
	// Discover failures are isolated per subsystem, so cycles keep completing
	// and the loop never exits on its own.
	failing := &stubSubsystem{
		name: "always-broken",
		discover: func(context.Context) ([]model.Opportunity, error) {
			return nil, errors.New("permanently down")
		},
	}
	e := newTestEngine(t, nil, subsystemSetup{failing, []model.Phase{model.PhaseDiscover}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = e.RunForever(ctx) }()

	require.Eventually(t, func() bool {
		return e.Store().Snapshot().TotalCycles >= 3
	}, 5*time.Second, 5*time.Millisecond)

	e.Stop(ctx)
	select {
	case <-e.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestRunForeverStopsOnContextCancel(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	go func() { _ = e.RunForever(ctx) }()
	require.Eventually(t, func() bool {
		return e.Store().Snapshot().TotalCycles >= 1
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-e.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop on context cancel")
	}
	assert.Equal(t, model.StateStopped, e.State())
}

func TestStopBeforeRunForever(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	require.NoError(t, e.Bootstrap(ctx))
	e.Stop(ctx)

	done := make(chan error, 1)
	go func() { done <- e.RunForever(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("RunForever did not observe the stop request")
	}
	assert.Equal(t, model.StateStopped, e.State())
}

func TestEngineReset(t *testing.T) {
	ladder := []model.Milestone{{Threshold: model.AmountFromCents(1_000), Label: "first"}}
	executor := &stubSubsystem{
		name: "earner",
		execute: func(context.Context, []model.Opportunity, model.TrendSnapshot) (model.YieldResult, error) {
			return model.YieldResult{Amount: model.AmountFromCents(2_000)}, nil
		},
	}
	e := newTestEngine(t, ladder, subsystemSetup{executor, []model.Phase{model.PhaseExecute}})
	ctx := context.Background()

	require.NoError(t, e.RunCycle(ctx))
	require.Len(t, e.Store().Snapshot().MilestonesReached, 1)

	require.NoError(t, e.Reset(ctx))
	snap := e.Store().Snapshot()
	assert.Equal(t, model.Amount(0), snap.TotalYield)
	assert.Equal(t, uint64(0), snap.TotalCycles)
	assert.Empty(t, snap.MilestonesReached)

	// The detector re-armed: the next crossing fires again.
	require.NoError(t, e.RunCycle(ctx))
	assert.Len(t, e.Store().Snapshot().MilestonesReached, 1)
}

func TestRunCycleCachesTrends(t *testing.T) {
	sampled := time.Now().UTC().Truncate(time.Second)
	analyst := &stubSubsystem{
		name: "watcher",
		analyze: func(context.Context) (model.TrendSnapshot, error) {
			return model.TrendSnapshot{
				SampledAt: sampled,
				Momentum:  map[model.OpportunityKind]float64{model.KindAffiliate: 0.7},
			}, nil
		},
	}
	e := newTestEngine(t, nil, subsystemSetup{analyst, []model.Phase{model.PhaseAnalyze}})

	assert.True(t, e.CachedTrends().SampledAt.IsZero())

	require.NoError(t, e.RunCycle(context.Background()))

	trends := e.CachedTrends()
	assert.Equal(t, sampled, trends.SampledAt)
	assert.Equal(t, 0.7, trends.Momentum[model.KindAffiliate])
}

func TestSubsystemStatuses(t *testing.T) {
	healthy := &stubSubsystem{
		name: "steady",
		status: func(context.Context) (map[string]string, error) {
			return map[string]string{"state": "ok", "workers": "3"}, nil
		},
	}
	broken := &stubSubsystem{
		name: "flaky",
		status: func(context.Context) (map[string]string, error) {
			return nil, errors.New("backend unreachable")
		},
	}
	e := newTestEngine(t, nil,
		subsystemSetup{healthy, []model.Phase{model.PhaseExecute}},
		subsystemSetup{broken, []model.Phase{model.PhaseExecute}},
	)

	statuses := e.SubsystemStatuses(context.Background())
	require.Len(t, statuses, 2)
	assert.Equal(t, map[string]string{"state": "ok", "workers": "3"}, statuses["steady"])
	assert.Equal(t, map[string]string{"error": "backend unreachable"}, statuses["flaky"])
}

func TestSubsystemStatusesEmptyRegistry(t *testing.T) {
	e := newTestEngine(t, nil)
	assert.Nil(t, e.SubsystemStatuses(context.Background()))
}

func TestPauseRequiresRunning(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	// Before bootstrap the engine is uninitialized; Pause is a no-op.
	e.Pause(ctx)
	assert.Equal(t, model.StateUninitialized, e.State())

	require.NoError(t, e.Bootstrap(ctx))
	e.Pause(ctx)
	assert.Equal(t, model.StatePaused, e.State())

	// Resume only flips Paused back.
	e.Resume(ctx)
	assert.Equal(t, model.StateRunning, e.State())
	e.Resume(ctx)
	assert.Equal(t, model.StateRunning, e.State())
}
