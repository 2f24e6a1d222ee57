package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/meridian/internal/auth"
	"github.com/meridianlabs/meridian/internal/engine"
	"github.com/meridianlabs/meridian/internal/metrics"
	"github.com/meridianlabs/meridian/internal/model"
	"github.com/meridianlabs/meridian/internal/storage"
)

// watcherStub is a minimal analyze-phase subsystem. Its status error, when
// set, exercises the per-subsystem failure path in the status payload.
type watcherStub struct {
	name      string
	statusErr error
}

func (w *watcherStub) Name() string { return w.name }

func (w *watcherStub) Discover(context.Context) ([]model.Opportunity, error) { return nil, nil }

func (w *watcherStub) Analyze(context.Context) (model.TrendSnapshot, error) {
	return model.TrendSnapshot{SampledAt: time.Now().UTC()}, nil
}

func (w *watcherStub) Provision(context.Context, []model.Opportunity) (model.ProvisionResult, error) {
	return model.ProvisionResult{}, nil
}

func (w *watcherStub) Execute(context.Context, []model.Opportunity, model.TrendSnapshot) (model.YieldResult, error) {
	return model.YieldResult{}, nil
}

func (w *watcherStub) Experiment(context.Context, []model.Opportunity, model.TrendSnapshot) error {
	return nil
}

func (w *watcherStub) Status(context.Context) (map[string]string, error) {
	if w.statusErr != nil {
		return nil, w.statusErr
	}
	return map[string]string{"state": "ok"}, nil
}

func newTestServer(t *testing.T, operatorKey string, subs ...engine.Subsystem) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	backend, err := storage.OpenSQLite(ctx, ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close(context.Background()) })

	store := metrics.New(backend, logger, 100, 100, nil)
	registry := engine.NewRegistry()
	for _, sub := range subs {
		require.NoError(t, registry.Register(sub, model.PhaseAnalyze))
	}
	eng := engine.New(registry, store, engine.NewFanOut(logger, 0.5, 50.0, 100, 0, nil),
		nil, engine.Timing{
			CycleInterval: time.Millisecond,
			PausePoll:     time.Millisecond,
			ErrorCooldown: time.Millisecond,
		}, logger)
	require.NoError(t, eng.Bootstrap(ctx))

	var keyHash string
	if operatorKey != "" {
		keyHash, err = auth.HashKey(operatorKey)
		require.NoError(t, err)
	}

	return New(ServerConfig{
		Engine:          eng,
		Backend:         backend,
		Logger:          logger,
		OperatorKeyHash: keyHash,
		Version:         "test",
	})
}

func doRequest(t *testing.T, srv *Server, method, path, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp struct {
		Data map[string]any      `json:"data"`
		Meta model.ResponseMeta  `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Meta.RequestID)
	return resp.Data
}

func TestHandleStatus(t *testing.T) {
	srv := newTestServer(t, "")

	rec := doRequest(t, srv, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeData(t, rec)
	assert.Equal(t, "running", data["state"])
	assert.Equal(t, "test", data["version"])
	assert.Equal(t, float64(0), data["opportunities_cached"])
	assert.Equal(t, false, data["trends_cached"])
	assert.NotContains(t, data, "subsystems")
	require.Contains(t, data, "snapshot")
}

func TestHandleStatusSubsystems(t *testing.T) {
	srv := newTestServer(t, "",
		&watcherStub{name: "watcher"},
		&watcherStub{name: "flaky", statusErr: errors.New("backend unreachable")},
	)

	rec := doRequest(t, srv, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)

	assert.Equal(t, false, data["trends_cached"])
	subsystems, ok := data["subsystems"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"state": "ok"}, subsystems["watcher"])
	assert.Equal(t, map[string]any{"error": "backend unreachable"}, subsystems["flaky"])

	// A completed cycle's analyze phase flips the trend cache.
	require.NoError(t, srv.handlers.engine.RunCycle(context.Background()))
	rec = doRequest(t, srv, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeData(t, rec)["trends_cached"])
}

func TestLifecycleEndpoints(t *testing.T) {
	srv := newTestServer(t, "")

	rec := doRequest(t, srv, http.MethodPost, "/v1/pause", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "paused", decodeData(t, rec)["state"])

	rec = doRequest(t, srv, http.MethodPost, "/v1/resume", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "running", decodeData(t, rec)["state"])

	rec = doRequest(t, srv, http.MethodPost, "/v1/stop", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "stopping", decodeData(t, rec)["state"])
}

func TestAuthRequiredForMutations(t *testing.T) {
	srv := newTestServer(t, "operator-secret")

	// Reads stay open.
	rec := doRequest(t, srv, http.MethodGet, "/v1/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Mutations without a key are rejected before routing.
	rec = doRequest(t, srv, http.MethodPost, "/v1/pause", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var apiErr model.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, model.ErrCodeUnauthorized, apiErr.Error.Code)

	// Wrong key.
	rec = doRequest(t, srv, http.MethodPost, "/v1/pause", "not-the-key")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Right key.
	rec = doRequest(t, srv, http.MethodPost, "/v1/pause", "operator-secret")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthDisabledWithoutKey(t *testing.T) {
	srv := newTestServer(t, "")
	rec := doRequest(t, srv, http.MethodPost, "/v1/pause", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleActivity(t *testing.T) {
	srv := newTestServer(t, "")
	ctx := context.Background()

	// Bootstrap already appended one event; add a few more.
	for i := 0; i < 3; i++ {
		srv.handlers.engine.Store().AppendActivity(ctx, model.ActivityEvent{
			Kind:        model.ActivityCycleCompleted,
			CycleNumber: uint64(i + 1),
		})
	}

	rec := doRequest(t, srv, http.MethodGet, "/v1/activity", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, float64(4), data["count"])

	rec = doRequest(t, srv, http.MethodGet, "/v1/activity?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeData(t, rec)["count"])
}

func TestHandleActivityBadLimit(t *testing.T) {
	srv := newTestServer(t, "")

	for _, raw := range []string{"0", "-5", "abc"} {
		rec := doRequest(t, srv, http.MethodGet, "/v1/activity?limit="+raw, "")
		require.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", raw)

		var apiErr model.APIError
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
		assert.Equal(t, model.ErrCodeBadRequest, apiErr.Error.Code)
	}
}

func TestHandleCycles(t *testing.T) {
	srv := newTestServer(t, "")
	ctx := context.Background()

	for n := uint64(1); n <= 3; n++ {
		srv.handlers.engine.Store().RecordCycle(ctx, model.CycleRecord{
			CycleNumber:        n,
			StartedAt:          time.Now().UTC(),
			Duration:           100 * time.Millisecond,
			OpportunitiesFound: 4,
			YieldAmount:        model.AmountFromCents(1000),
		})
	}

	rec := doRequest(t, srv, http.MethodGet, "/v1/cycles", "")
	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeData(t, rec)
	cycles, ok := data["cycles"].([]any)
	require.True(t, ok)
	assert.Len(t, cycles, 3)

	summary, ok := data["summary"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), summary["count"])
	assert.Equal(t, float64(0), summary["phase_errors"])
	assert.Equal(t, float64(100), summary["avg_duration_ms"])
	assert.Equal(t, float64(4), summary["avg_opportunities"])
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t, "")

	rec := doRequest(t, srv, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, "test", data["version"])
}

func TestNotFoundRoute(t *testing.T) {
	srv := newTestServer(t, "")
	rec := doRequest(t, srv, http.MethodGet, "/v1/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestIDPropagated(t *testing.T) {
	srv := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var resp struct {
		Meta model.ResponseMeta `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "req-42", resp.Meta.RequestID)
}
