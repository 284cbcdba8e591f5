package backup

import (
	"context"
)

// DatabaseBackend produces and consumes snapshots of one datastore engine.
// Backends are resolved once from the connection string at startup.
type DatabaseBackend interface {
	// Name identifies the engine in logs and results
	Name() string
	// Extension is the base extension of exported snapshots, e.g. ".sql"
	Extension() string
	// Export writes a consistent snapshot to dst. Nothing is left at dst on failure.
	Export(ctx context.Context, dst string) error
	// Restore replaces the datastore's contents with the snapshot at src
	Restore(ctx context.Context, src string) error
}

// Uploader copies a final artifact to secondary storage and returns its URL
type Uploader interface {
	Upload(ctx context.Context, path string) (string, error)
	Name() string
}

// HealthChecker is implemented by uploaders that can probe their target
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Service is the set of pipeline operations exposed to the HTTP surface, the
// CLI and the daemon
type Service interface {
	CreateBackup(ctx context.Context, req CreateRequest) (*BackupRecord, error)
	Restore(ctx context.Context, req RestoreRequest) (*RestoreResult, error)
	ListBackups(ctx context.Context) ([]BackupRecord, error)
	VerifyBackup(ctx context.Context, filename string) (*VerificationResult, error)
	Cleanup(ctx context.Context, retentionDays int) (*CleanupResult, error)
}
