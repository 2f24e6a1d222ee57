package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/meridianlabs/meridian/internal/engine"
	"github.com/meridianlabs/meridian/internal/model"
	"github.com/meridianlabs/meridian/internal/storage"
)

// Handlers holds all HTTP handler dependencies.
type Handlers struct {
	engine  *engine.Engine
	backend storage.Backend
	logger  *slog.Logger
	version string
}

// HandlersDeps holds dependencies for creating Handlers.
type HandlersDeps struct {
	Engine  *engine.Engine
	Backend storage.Backend
	Logger  *slog.Logger
	Version string
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		engine:  deps.Engine,
		backend: deps.Backend,
		logger:  deps.Logger,
		version: deps.Version,
	}
}

// HandleStatus returns the engine state and aggregate snapshot.
// GET /v1/status
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.statusPayload(r.Context()))
}

// HandlePause requests a transition to the paused state.
// POST /v1/pause
func (h *Handlers) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.engine.Pause(r.Context())
	writeJSON(w, r, http.StatusOK, h.statusPayload(r.Context()))
}

// HandleResume requests a transition back to the running state.
// POST /v1/resume
func (h *Handlers) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.engine.Resume(r.Context())
	writeJSON(w, r, http.StatusOK, h.statusPayload(r.Context()))
}

// HandleStop requests a permanent shutdown of the cycle loop.
// POST /v1/stop
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	h.engine.Stop(r.Context())
	writeJSON(w, r, http.StatusAccepted, h.statusPayload(r.Context()))
}

// HandleReset clears all accumulated state.
// POST /v1/reset
func (h *Handlers) HandleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Reset(r.Context()); err != nil {
		h.logger.Error("reset failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "reset failed")
		return
	}
	writeJSON(w, r, http.StatusOK, h.statusPayload(r.Context()))
}

// HandleActivity returns recent activity events, newest first.
// GET /v1/activity?limit=N
func (h *Handlers) HandleActivity(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, 20)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, err.Error())
		return
	}
	events := h.engine.Store().RecentActivity(limit)
	writeJSON(w, r, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// HandleCycles returns recent cycle records, newest first, with
// summary statistics across the returned window.
// GET /v1/cycles?limit=N
func (h *Handlers) HandleCycles(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, 20)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, err.Error())
		return
	}
	cycles := h.engine.Store().RecentCycles(limit)

	var (
		totalDur  time.Duration
		totalOpps uint64
		totalErrs int
		yield     model.Amount
	)
	for _, c := range cycles {
		totalDur += c.Duration
		totalOpps += uint64(c.OpportunitiesFound)
		totalErrs += len(c.PhaseErrors)
		yield = yield.Add(c.YieldAmount)
	}

	summary := map[string]any{
		"count":        len(cycles),
		"phase_errors": totalErrs,
		"total_yield":  yield,
	}
	if n := len(cycles); n > 0 {
		summary["avg_duration_ms"] = totalDur.Milliseconds() / int64(n)
		summary["avg_opportunities"] = float64(totalOpps) / float64(n)
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"cycles":  cycles,
		"summary": summary,
	})
}

// HandleHealth reports liveness and storage reachability.
// GET /healthz
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.backend.Ping(r.Context()); err != nil {
		h.logger.Warn("health check storage ping failed", "error", err)
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternal, "storage unreachable")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":  "ok",
		"state":   h.engine.State(),
		"version": h.version,
	})
}

func (h *Handlers) statusPayload(ctx context.Context) model.StatusPayload {
	return model.StatusPayload{
		State:         h.engine.State(),
		Version:       h.version,
		Snapshot:      h.engine.Store().Snapshot(),
		Opportunities: len(h.engine.CachedOpportunities()),
		TrendsCached:  !h.engine.CachedTrends().SampledAt.IsZero(),
		Subsystems:    h.engine.SubsystemStatuses(ctx),
	}
}

// parseLimit reads the optional ?limit= query parameter. Values are
// clamped to [1, 100].
func parseLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errInvalidLimit
	}
	if n > 100 {
		n = 100
	}
	return n, nil
}

var errInvalidLimit = errors.New("limit must be a positive integer")
