package backup

import (
	"math"
	"time"
)

// BackupType selects what a backup run captures
type BackupType string

const (
	BackupTypeFull         BackupType = "full"
	BackupTypeIncremental  BackupType = "incremental"
	BackupTypeDifferential BackupType = "differential"
)

// CompressionType represents the compression codec applied to an artifact
type CompressionType string

const (
	CompressionTypeNone CompressionType = "none"
	CompressionTypeGzip CompressionType = "gzip"
	CompressionTypeLZ4  CompressionType = "lz4"
	CompressionTypeZstd CompressionType = "zstd"
)

// StorageProviderType represents the type of storage provider
type StorageProviderType string

const (
	StorageProviderNone  StorageProviderType = "none"
	StorageProviderLocal StorageProviderType = "local"
	StorageProviderS3    StorageProviderType = "s3"
	StorageProviderAzure StorageProviderType = "azure"
	StorageProviderGCS   StorageProviderType = "gcs"
)

// BackupRecord describes one completed backup. It is the unit stored in the
// catalog and the result returned to callers of CreateBackup.
type BackupRecord struct {
	Filename       string     `json:"filename"`
	LocalPath      string     `json:"local_path"`
	CloudURL       *string    `json:"cloud_url"`
	SizeBytes      int64      `json:"size_bytes"`
	SizeMB         float64    `json:"size_mb"`
	ChecksumSHA256 string     `json:"checksum_sha256"`
	Timestamp      string     `json:"timestamp"`
	BackupType     BackupType `json:"backup_type"`
	Compressed     bool       `json:"compressed"`
	Encrypted      bool       `json:"encrypted"`
	CreatedAt      time.Time  `json:"created_at"`
}

// HasCloudCopy reports whether the best-effort upload succeeded
func (r *BackupRecord) HasCloudCopy() bool {
	return r.CloudURL != nil && *r.CloudURL != ""
}

// CreateRequest holds the caller-controlled parameters of a backup run
type CreateRequest struct {
	Type     BackupType `json:"type"`
	Compress bool       `json:"compress"`
	Encrypt  bool       `json:"encrypt"`
}

// RestoreRequest holds the caller-controlled parameters of a restore run
type RestoreRequest struct {
	// File is either a catalog filename or a path to an artifact
	File           string `json:"file"`
	VerifyChecksum bool   `json:"verify_checksum"`
}

// RestoreResult reports a completed restore
type RestoreResult struct {
	Success          bool          `json:"success"`
	Filename         string        `json:"filename"`
	Backend          string        `json:"backend"`
	ChecksumVerified bool          `json:"checksum_verified"`
	Steps            []string      `json:"steps"`
	Duration         time.Duration `json:"duration"`
	RestoredAt       time.Time     `json:"restored_at"`
}

// CleanupResult reports what a retention pass removed
type CleanupResult struct {
	RetentionDays  int       `json:"retention_days"`
	DeletedCount   int       `json:"deleted_count"`
	DeletedFiles   []string  `json:"deleted_files"`
	PrunedRecords  int       `json:"pruned_records"`
	FreedBytes     int64     `json:"freed_bytes"`
	FailedDeletion []string  `json:"failed_deletion,omitempty"`
	RanAt          time.Time `json:"ran_at"`
}

// VerificationResult reports an integrity audit of a catalogued artifact
type VerificationResult struct {
	Filename  string    `json:"filename"`
	Valid     bool      `json:"valid"`
	Expected  string    `json:"expected_checksum"`
	Actual    string    `json:"actual_checksum,omitempty"`
	Exists    bool      `json:"exists"`
	CheckedAt time.Time `json:"checked_at"`
}

// CreateResult is the JSON surface of a successful CreateBackup call
type CreateResult struct {
	Success bool `json:"success"`
	*BackupRecord
}

func sizeInMB(size int64) float64 {
	return math.Round(float64(size)/(1024*1024)*100) / 100
}
