package database

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"omnicrm-backup/internal/backup"
	"omnicrm-backup/internal/logging"
)

// Option customises a backend built by ResolveBackend
type Option func(*options)

type options struct {
	runner CommandRunner
	opener func(driver, dsn string) (*sql.DB, error)
	logger *logging.Logger
}

// WithRunner replaces the process runner used by dump-utility backends
func WithRunner(runner CommandRunner) Option {
	return func(o *options) { o.runner = runner }
}

// WithOpener replaces sql.Open for backends that talk to the database directly
func WithOpener(opener func(driver, dsn string) (*sql.DB, error)) Option {
	return func(o *options) { o.opener = opener }
}

// WithLogger sets the logger backends report progress to
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// ResolveBackend picks the backend for cfg.URL once, from its scheme.
// postgres and postgresql select pg_dump/psql, sqlite, sqlite3 and file
// select the embedded SQLite engine, and mysql selects mysqldump/mysql.
func ResolveBackend(cfg backup.DatabaseConfig, opts ...Option) (backup.DatabaseBackend, error) {
	o := &options{
		runner: ExecRunner{},
		opener: sql.Open,
		logger: logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}

	scheme, err := Scheme(cfg.URL)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}

	switch scheme {
	case "postgres", "postgresql":
		return NewPostgresBackend(cfg.URL, PostgresOptions{
			DumpPath:    cfg.PgDumpPath,
			RestorePath: cfg.PsqlPath,
			Timeout:     timeout,
			Runner:      o.runner,
			Logger:      o.logger,
		})
	case "sqlite", "sqlite3", "file":
		path, err := SQLitePath(cfg.URL)
		if err != nil {
			return nil, err
		}
		return NewSQLiteBackend(path, SQLiteOptions{
			Timeout: timeout,
			Opener:  o.opener,
			Logger:  o.logger,
		}), nil
	case "mysql":
		return NewMySQLBackend(cfg.URL, MySQLOptions{
			DumpPath:    cfg.MysqldumpPath,
			RestorePath: cfg.MysqlPath,
			Timeout:     timeout,
			Runner:      o.runner,
			Logger:      o.logger,
		})
	default:
		return nil, backup.NewUnsupportedBackendError(scheme)
	}
}

// Scheme returns the lowercased scheme of a connection string
func Scheme(raw string) (string, error) {
	if raw == "" {
		return "", backup.NewConfigurationError("database URL is empty", nil)
	}
	i := strings.Index(raw, ":")
	if i <= 0 {
		return "", backup.NewUnsupportedBackendError("")
	}
	return strings.ToLower(raw[:i]), nil
}

// SQLitePath extracts the database file from sqlite:///abs/path.db,
// sqlite://relative.db, sqlite3:... or file:path.db
func SQLitePath(raw string) (string, error) {
	scheme, err := Scheme(raw)
	if err != nil {
		return "", err
	}
	rest := raw[len(scheme)+1:]

	var path string
	switch {
	case strings.HasPrefix(rest, "//"):
		u, err := url.Parse(raw)
		if err != nil {
			return "", backup.NewConfigurationError("invalid SQLite URL", err)
		}
		path = u.Host + u.Path
	default:
		path = rest
		if i := strings.Index(path, "?"); i >= 0 {
			path = path[:i]
		}
	}

	if path == "" {
		return "", backup.NewConfigurationError(fmt.Sprintf("SQLite URL %q has no file path", raw), nil)
	}
	return path, nil
}
