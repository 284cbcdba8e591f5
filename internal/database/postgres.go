package database

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"omnicrm-backup/internal/backup"
	"omnicrm-backup/internal/logging"
)

// PostgresOptions configures PostgresBackend
type PostgresOptions struct {
	DumpPath    string
	RestorePath string
	Timeout     time.Duration
	Runner      CommandRunner
	Logger      *logging.Logger
}

// PostgresBackend exports with pg_dump as plain SQL and restores with psql
// inside a single transaction. The password travels in PGPASSWORD, never on
// the command line.
type PostgresBackend struct {
	connURL  string
	password string
	opts     PostgresOptions
}

// NewPostgresBackend creates a backend for a postgres:// or postgresql:// URL
func NewPostgresBackend(raw string, opts PostgresOptions) (*PostgresBackend, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, backup.NewConfigurationError("invalid PostgreSQL URL", err)
	}
	if u.Host == "" && u.Query().Get("host") == "" {
		return nil, backup.NewConfigurationError("PostgreSQL URL has no host", nil)
	}

	var password string
	if u.User != nil {
		password, _ = u.User.Password()
		u.User = url.User(u.User.Username())
	}

	if opts.DumpPath == "" {
		opts.DumpPath = "pg_dump"
	}
	if opts.RestorePath == "" {
		opts.RestorePath = "psql"
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}

	return &PostgresBackend{
		connURL:  u.String(),
		password: password,
		opts:     opts,
	}, nil
}

func (p *PostgresBackend) Name() string {
	return "postgresql"
}

func (p *PostgresBackend) Extension() string {
	return ".sql"
}

// Export streams pg_dump's output into dst
func (p *PostgresBackend) Export(ctx context.Context, dst string) error {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	cmd := Command{
		Path: p.opts.DumpPath,
		Args: []string{
			"--format=plain",
			"--no-owner",
			"--no-acl",
			"--dbname", p.connURL,
		},
		Env: p.env(),
	}

	p.opts.Logger.WithFields(map[string]interface{}{
		"command": cmd.String(),
		"target":  logging.RedactURL(p.connURL),
	}).Debug("Running pg_dump")

	err := writeOutput(dst, func(w io.Writer) error {
		cmd.Stdout = w
		return p.opts.Runner.Run(ctx, cmd)
	})
	if err != nil {
		return backup.NewExportError("pg_dump failed", err)
	}
	return nil
}

// Restore replays a plain SQL dump with psql, stopping on the first error
func (p *PostgresBackend) Restore(ctx context.Context, src string) error {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	cmd := Command{
		Path: p.opts.RestorePath,
		Args: []string{
			"--no-psqlrc",
			"--quiet",
			"--set", "ON_ERROR_STOP=1",
			"--single-transaction",
			"--dbname", p.connURL,
			"--file", src,
		},
		Env: p.env(),
	}

	p.opts.Logger.WithField("command", cmd.String()).Debug("Running psql")

	if err := p.opts.Runner.Run(ctx, cmd); err != nil {
		return backup.NewRestoreError("psql failed", err)
	}
	return nil
}

func (p *PostgresBackend) env() []string {
	if p.password == "" {
		return nil
	}
	return []string{"PGPASSWORD=" + p.password}
}

// writeOutput runs fill against a temporary file next to dst and renames it
// into place. On failure or cancellation the temporary file is removed.
func writeOutput(dst string, fill func(w io.Writer) error) (err error) {
	tmp := dst + ".partial"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			file.Close()
			os.Remove(tmp)
		}
	}()

	if err = fill(file); err != nil {
		return err
	}
	if err = file.Sync(); err != nil {
		return err
	}
	if err = file.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("failed to move export into place: %w", err)
	}
	return nil
}
