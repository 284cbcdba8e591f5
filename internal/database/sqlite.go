package database

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"omnicrm-backup/internal/backup"
	"omnicrm-backup/internal/logging"
)

const sqliteDriver = "sqlite"

// SQLiteOptions configures SQLiteBackend
type SQLiteOptions struct {
	Timeout time.Duration
	Opener  func(driver, dsn string) (*sql.DB, error)
	Logger  *logging.Logger
}

// SQLiteBackend snapshots a database file with VACUUM INTO, which yields a
// transactionally consistent copy even while other connections write.
// Restore stages the snapshot next to the live file, checks it and swaps it
// in with a rename.
type SQLiteBackend struct {
	path string
	opts SQLiteOptions
}

// NewSQLiteBackend creates a backend for the database file at path
func NewSQLiteBackend(path string, opts SQLiteOptions) *SQLiteBackend {
	if opts.Opener == nil {
		opts.Opener = sql.Open
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	return &SQLiteBackend{path: path, opts: opts}
}

func (s *SQLiteBackend) Name() string {
	return "sqlite"
}

func (s *SQLiteBackend) Extension() string {
	return ".db"
}

// Path returns the live database file
func (s *SQLiteBackend) Path() string {
	return s.path
}

// Export writes a consistent snapshot of the live database to dst
func (s *SQLiteBackend) Export(ctx context.Context, dst string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	if _, err := os.Stat(s.path); err != nil {
		return backup.NewExportError(fmt.Sprintf("database file %s is not accessible", s.path), err)
	}

	// VACUUM INTO refuses to overwrite, so the staging file must not exist
	tmp := dst + ".partial"
	os.Remove(tmp)

	db, err := s.opts.Opener(sqliteDriver, s.path)
	if err != nil {
		return backup.NewExportError("failed to open database", err)
	}
	defer db.Close()

	s.opts.Logger.WithFields(map[string]interface{}{
		"database": s.path,
		"snapshot": dst,
	}).Debug("Running VACUUM INTO")

	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", tmp); err != nil {
		os.Remove(tmp)
		return backup.NewExportError("VACUUM INTO failed", err)
	}

	if err := syncAndRename(tmp, dst); err != nil {
		os.Remove(tmp)
		return backup.NewExportError("failed to move snapshot into place", err)
	}
	return nil
}

// Restore replaces the live database with the snapshot at src. The live
// database is checkpointed before its journals are dropped, so a failure at
// any step leaves its current contents intact.
func (s *SQLiteBackend) Restore(ctx context.Context, src string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return backup.NewRestoreError("failed to create database directory", err)
	}

	staging := s.path + ".restore"
	err := writeOutput(staging, func(w io.Writer) error {
		in, err := os.Open(src)
		if err != nil {
			return err
		}
		defer in.Close()
		_, err = io.Copy(w, in)
		return err
	})
	if err != nil {
		return backup.NewRestoreError("failed to stage snapshot", err)
	}

	if err := s.checkIntegrity(ctx, staging); err != nil {
		os.Remove(staging)
		return backup.NewRestoreError("snapshot failed the integrity check", err)
	}

	if err := s.checkpoint(ctx); err != nil {
		os.Remove(staging)
		return backup.NewRestoreError("failed to checkpoint the live database", err)
	}

	// Stale journals from the old file would be replayed against the new one
	os.Remove(s.path + "-wal")
	os.Remove(s.path + "-shm")

	if err := os.Rename(staging, s.path); err != nil {
		os.Remove(staging)
		return backup.NewRestoreError("failed to swap snapshot into place", err)
	}
	syncParent(s.path)
	return nil
}

// checkpoint folds any write-ahead log of the live database into the main
// file and truncates the log. A missing live file needs nothing.
func (s *SQLiteBackend) checkpoint(ctx context.Context) error {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return nil
	}

	db, err := s.opts.Opener(sqliteDriver, s.path)
	if err != nil {
		return err
	}
	defer db.Close()

	var busy, logFrames, checkpointed int
	if err := db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)").Scan(&busy, &logFrames, &checkpointed); err != nil {
		return err
	}
	if busy != 0 {
		return fmt.Errorf("database is busy, %d of %d log frames checkpointed", checkpointed, logFrames)
	}
	return nil
}

func (s *SQLiteBackend) checkIntegrity(ctx context.Context, path string) error {
	db, err := s.opts.Opener(sqliteDriver, path)
	if err != nil {
		return err
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("integrity_check reported: %s", result)
	}
	return nil
}

func syncAndRename(tmp, dst string) error {
	file, err := os.OpenFile(tmp, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		return err
	}
	syncParent(dst)
	return nil
}

func syncParent(path string) {
	if d, err := os.Open(filepath.Dir(path)); err == nil {
		d.Sync()
		d.Close()
	}
}
