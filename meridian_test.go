package meridian

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// seedNewerSchema writes a store file whose recorded schema version is ahead
// of this build, so engine bootstrap must refuse it.
func seedNewerSchema(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO meta (key, value) VALUES ('schema_version', '99')`)
	require.NoError(t, err)
}

func TestRunReturnsPromptlyOnBootstrapFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meridian.db")
	seedNewerSchema(t, path)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("MERIDIAN_SQLITE_PATH", "")

	app, err := New(
		WithSQLitePath(path),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now()
	err = app.Run(ctx)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer schema version")
	// Run must not sit out the cycle-loop stop timeout when the loop was
	// never started.
	assert.Less(t, elapsed, 5*time.Second)
}
