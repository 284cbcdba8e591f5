package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MaxRetentionDays bounds every retention window, roughly one hundred years
const MaxRetentionDays = 36500

// RetentionManager deletes artifacts past their retention period and prunes
// the catalog so that no record points at a file that no longer exists.
type RetentionManager struct {
	dir     string
	prefix  string
	catalog *Catalog
	now     func() time.Time
}

// NewRetentionManager creates a retention manager for the artifacts of prefix
// under dir. A nil clock uses time.Now.
func NewRetentionManager(dir, prefix string, catalog *Catalog, clock func() time.Time) *RetentionManager {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if clock == nil {
		clock = time.Now
	}
	return &RetentionManager{
		dir:     dir,
		prefix:  prefix,
		catalog: catalog,
		now:     clock,
	}
}

// Cutoff returns the instant before which artifacts are expired
func (rm *RetentionManager) Cutoff(retentionDays int) time.Time {
	return rm.now().UTC().AddDate(0, 0, -retentionDays)
}

// Cleanup deletes every artifact whose modification time is strictly before
// now minus retentionDays, then removes the records of deleted artifacts and
// of artifacts already missing from disk. The caller holds the pipeline lock.
func (rm *RetentionManager) Cleanup(ctx context.Context, retentionDays int) (*CleanupResult, error) {
	if retentionDays < 1 {
		return nil, NewValidationError(fmt.Sprintf("retention days must be at least 1, got %d", retentionDays), nil)
	}
	if retentionDays > MaxRetentionDays {
		return nil, NewValidationError(fmt.Sprintf("retention days must be at most %d, got %d", MaxRetentionDays, retentionDays), nil)
	}

	cutoff := rm.Cutoff(retentionDays)
	result := &CleanupResult{
		RetentionDays: retentionDays,
		DeletedFiles:  []string{},
		RanAt:         rm.now().UTC(),
	}

	entries, err := os.ReadDir(rm.dir)
	if err != nil {
		return nil, NewCatalogError(fmt.Sprintf("failed to scan %s", rm.dir), err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !IsArtifact(entry.Name(), rm.prefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.Remove(filepath.Join(rm.dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			result.FailedDeletion = append(result.FailedDeletion, entry.Name())
			continue
		}
		result.DeletedFiles = append(result.DeletedFiles, entry.Name())
		result.FreedBytes += info.Size()
	}
	result.DeletedCount = len(result.DeletedFiles)

	if rm.catalog != nil {
		pruned, err := rm.catalog.Remove(ctx, func(record BackupRecord) bool {
			return !fileExists(rm.recordPath(record))
		})
		if err != nil {
			return nil, err
		}
		result.PrunedRecords = len(pruned)
	}

	return result, nil
}

func (rm *RetentionManager) recordPath(record BackupRecord) string {
	if record.LocalPath != "" {
		return record.LocalPath
	}
	return filepath.Join(rm.dir, record.Filename)
}
