package meridian

import (
	"log/slog"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port        int
	databaseURL string
	sqlitePath  string
	configFile  string
	logger      *slog.Logger
	version     string
	subsystems  []subsystemRegistration
	milestones  []Milestone
}

type subsystemRegistration struct {
	sub    Subsystem
	phases []Phase
}

// WithPort overrides the TCP port from config (MERIDIAN_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the Postgres connection string from config
// (DATABASE_URL env var). When set, the embedded SQLite store is not used.
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithSQLitePath overrides the embedded store path from config
// (MERIDIAN_SQLITE_PATH env var). Ignored when a database URL is set.
func WithSQLitePath(path string) Option {
	return func(o *resolvedOptions) { o.sqlitePath = path }
}

// WithConfigFile overrides the operator YAML path from config
// (MERIDIAN_CONFIG_FILE env var).
func WithConfigFile(path string) Option {
	return func(o *resolvedOptions) { o.configFile = path }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in status payloads and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithSubsystem registers a subsystem for the given phases. Multiple
// subsystems may be registered; each phase fans out to every subsystem
// registered for it. Registering the same subsystem for a phase twice is
// an error reported by New.
func WithSubsystem(sub Subsystem, phases ...Phase) Option {
	return func(o *resolvedOptions) {
		o.subsystems = append(o.subsystems, subsystemRegistration{sub: sub, phases: phases})
	}
}

// WithMilestones replaces the cumulative-yield milestone ladder. Overrides
// both the built-in ladder and any ladder from the operator config file.
func WithMilestones(milestones ...Milestone) Option {
	return func(o *resolvedOptions) { o.milestones = milestones }
}
