// Package storage provides the persistence boundary for the metrics store.
//
// Records are flat and versioned (a schema_version row in the meta table) so
// any key-value or tabular store can back them. Two backends ship: an
// embedded SQLite store (modernc.org/sqlite, default) and Postgres
// (pgx/pgxpool) for deployments that already run one.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/meridianlabs/meridian/internal/model"
)

// schemaVersion is bumped on any schema change. Backends refuse to open a
// store written by a newer version.
const schemaVersion = 1

// Backend is what the metrics store requires from persistence. Appends trim
// server-side: the store never holds more than the given cap of cycle or
// activity rows.
type Backend interface {
	// Bootstrap creates the schema and the single aggregate row if they do
	// not exist. Idempotent: calling it twice never duplicates records.
	Bootstrap(ctx context.Context) error

	LoadAggregate(ctx context.Context) (model.AggregateState, error)
	SaveAggregate(ctx context.Context, agg model.AggregateState) error

	AppendCycle(ctx context.Context, rec model.CycleRecord, cap int) error
	RecentCycles(ctx context.Context, limit int) ([]model.CycleRecord, error)

	AppendActivity(ctx context.Context, ev model.ActivityEvent, cap int) error
	RecentActivity(ctx context.Context, limit int) ([]model.ActivityEvent, error)

	SaveMilestone(ctx context.Context, ev model.MilestoneEvent) error
	Milestones(ctx context.Context) ([]model.Amount, error)

	// Reset clears totals, histories, and reached milestones. The schema and
	// the engine start time survive.
	Reset(ctx context.Context) error

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Open selects a backend by DSN: a non-empty databaseURL means Postgres,
// otherwise the embedded SQLite store at sqlitePath.
func Open(ctx context.Context, databaseURL, sqlitePath string, logger *slog.Logger) (Backend, error) {
	if databaseURL != "" {
		if !strings.HasPrefix(databaseURL, "postgres://") && !strings.HasPrefix(databaseURL, "postgresql://") {
			return nil, fmt.Errorf("storage: unsupported DATABASE_URL scheme: %q", databaseURL)
		}
		return OpenPostgres(ctx, databaseURL, logger)
	}
	return OpenSQLite(ctx, sqlitePath, logger)
}
