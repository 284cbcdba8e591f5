package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ManagerOptions wires the collaborators of a Manager
type ManagerOptions struct {
	Config   Config
	Backend  DatabaseBackend
	Uploader Uploader // nil keeps every backup local-only
	Logger   *BackupLogger
	Metrics  *Metrics
	Alerts   AlertHook
	Clock    func() time.Time
}

// Manager runs the forward and reverse pipelines. It is constructed once at
// startup and shared by the HTTP surface, the CLI and the daemon.
type Manager struct {
	config      Config
	dir         string
	backend     DatabaseBackend
	uploader    Uploader
	catalog     *Catalog
	namer       *Namer
	lock        *FileLock
	compression *CompressionManager
	encryption  *EncryptionManager
	checksums   *ChecksumVerifier
	retention   *RetentionManager
	logger      *BackupLogger
	metrics     *Metrics
	alerts      AlertHook
	now         func() time.Time
}

// NewManager creates a Manager and makes sure the backup directory exists
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Backend == nil {
		return nil, NewConfigurationError("a database backend is required", nil)
	}

	cfg := opts.Config
	cfg.SetDefaults()

	dir, err := filepath.Abs(cfg.Backup.Directory)
	if err != nil {
		return nil, NewConfigurationError("invalid backup directory", err)
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, NewConfigurationError("failed to create backup directory", err)
	}

	if opts.Logger == nil {
		opts.Logger, _ = NewBackupLogger(BackupLoggerConfig{})
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	catalog := NewCatalog(filepath.Join(dir, cfg.Backup.CatalogFile))
	namer := NewNamer(dir, cfg.Backup.Prefix)
	namer.now = opts.Clock

	return &Manager{
		config:      cfg,
		dir:         dir,
		backend:     opts.Backend,
		uploader:    opts.Uploader,
		catalog:     catalog,
		namer:       namer,
		lock:        NewFileLock(filepath.Join(dir, PipelineLockFile)),
		compression: NewCompressionManager(),
		encryption:  NewEncryptionManager(&cfg.Encryption),
		checksums:   NewChecksumVerifier(),
		retention:   NewRetentionManager(dir, cfg.Backup.Prefix, catalog, opts.Clock),
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		alerts:      opts.Alerts,
		now:         opts.Clock,
	}, nil
}

// Directory returns the absolute backup directory
func (m *Manager) Directory() string {
	return m.dir
}

// Catalog returns the manager's catalog
func (m *Manager) Catalog() *Catalog {
	return m.catalog
}

// Backend returns the resolved database backend
func (m *Manager) Backend() DatabaseBackend {
	return m.backend
}

// CreateBackup runs export, then compression and encryption when requested,
// then checksums the final artifact, uploads it best-effort and appends one
// record to the catalog. On failure every file this call created is removed
// and nothing is appended.
func (m *Manager) CreateBackup(ctx context.Context, req CreateRequest) (*BackupRecord, error) {
	if req.Type == "" {
		req.Type = BackupTypeFull
	}

	ctx, done := m.logger.StartOperation(ctx, "backup_create", map[string]interface{}{
		"backup_type": string(req.Type),
		"compress":    req.Compress,
		"encrypt":     req.Encrypt,
		"backend":     m.backend.Name(),
	})

	start := time.Now()
	record, err := m.createBackup(ctx, req)
	m.metrics.ObserveBackup(record, time.Since(start), err)

	if err != nil {
		done(err, nil)
		return nil, err
	}
	done(nil, map[string]interface{}{
		"filename":   record.Filename,
		"size_bytes": record.SizeBytes,
		"uploaded":   record.HasCloudCopy(),
	})
	return record, nil
}

func (m *Manager) createBackup(ctx context.Context, req CreateRequest) (record *BackupRecord, err error) {
	if req.Type != BackupTypeFull {
		return nil, NewUnsupportedBackupTypeError(req.Type)
	}
	if req.Encrypt {
		if err := m.encryption.CheckKey(); err != nil {
			return nil, err
		}
	}

	release, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	stem, createdAt, err := m.namer.Reserve()
	if err != nil {
		return nil, err
	}
	defer m.namer.Release(stem)

	var created []string
	defer func() {
		if err != nil {
			removeFiles(created...)
		}
	}()

	current := filepath.Join(m.dir, stem+m.backend.Extension())
	created = append(created, current)
	if err := m.backend.Export(ctx, current); err != nil {
		return nil, asBackupError(err, NewExportError)
	}

	if req.Compress {
		compressed, stats, err := m.compression.CompressFile(ctx, current, m.config.Compression.Algorithm, m.compressionLevel())
		if err != nil {
			return nil, err
		}
		created = append(created, compressed)
		os.Remove(current)
		current = compressed

		m.logger.Logger().WithContext(ctx).WithFields(map[string]interface{}{
			"algorithm": string(stats.Algorithm),
			"ratio":     fmt.Sprintf("%.3f", stats.CompressionRatio),
		}).Debug("Compressed export")
	}

	if req.Encrypt {
		encrypted, _, err := m.encryption.EncryptFile(ctx, current)
		if err != nil {
			return nil, err
		}
		created = append(created, encrypted)
		os.Remove(current)
		current = encrypted
	}

	checksum, err := m.checksums.Checksum(ctx, current)
	if err != nil {
		return nil, NewChecksumError("failed to checksum final artifact", err)
	}
	size, err := fileSize(current)
	if err != nil {
		return nil, NewChecksumError("failed to stat final artifact", err)
	}

	record = &BackupRecord{
		Filename:       filepath.Base(current),
		LocalPath:      current,
		SizeBytes:      size,
		SizeMB:         sizeInMB(size),
		ChecksumSHA256: checksum,
		Timestamp:      createdAt.Format(timestampLayout),
		BackupType:     req.Type,
		Compressed:     req.Compress,
		Encrypted:      req.Encrypt,
		CreatedAt:      createdAt,
	}

	record.CloudURL = m.upload(ctx, current)

	if err := m.catalog.Append(ctx, *record); err != nil {
		return nil, err
	}
	return record, nil
}

// upload copies the artifact to secondary storage. Failures are downgraded to
// a warning and a nil URL.
func (m *Manager) upload(ctx context.Context, path string) *string {
	if m.uploader == nil {
		return nil
	}

	uploadCtx, cancel := context.WithTimeout(ctx, m.config.Storage.Timeout)
	defer cancel()

	url, err := m.uploader.Upload(uploadCtx, path)
	if err != nil {
		m.metrics.UploadFailures.Inc()
		m.logger.Logger().WithContext(ctx).WithError(err).WithFields(map[string]interface{}{
			"provider": m.uploader.Name(),
			"artifact": filepath.Base(path),
		}).Warn("Upload failed, backup kept local-only")

		if m.alerts != nil {
			alert := NewAlert(AlertTypeUploadFailed, AlertSeverityWarning,
				"Backup upload failed",
				fmt.Sprintf("%s was kept local-only: %v", filepath.Base(path), err))
			alert.Metadata["provider"] = m.uploader.Name()
			m.alerts.Notify(ctx, alert)
		}
		return nil
	}
	return &url
}

// ListBackups returns the catalog in creation order
func (m *Manager) ListBackups(ctx context.Context) ([]BackupRecord, error) {
	return m.catalog.List(ctx)
}

// VerifyBackup recomputes the checksum of a catalogued artifact. A missing or
// altered file is reported as invalid rather than as an error.
func (m *Manager) VerifyBackup(ctx context.Context, filename string) (*VerificationResult, error) {
	ctx, done := m.logger.StartOperation(ctx, "backup_verify", map[string]interface{}{
		"filename": filename,
	})

	result, err := m.verifyBackup(ctx, filename)
	if err != nil {
		done(err, nil)
		return nil, err
	}
	done(nil, map[string]interface{}{"valid": result.Valid})
	return result, nil
}

func (m *Manager) verifyBackup(ctx context.Context, filename string) (*VerificationResult, error) {
	record, err := m.catalog.Find(ctx, filename)
	if err != nil {
		return nil, err
	}

	result := &VerificationResult{
		Filename:  record.Filename,
		Expected:  record.ChecksumSHA256,
		CheckedAt: m.now().UTC(),
	}

	path := m.recordPath(*record)
	if !fileExists(path) {
		return result, nil
	}
	result.Exists = true

	valid, actual, err := m.checksums.VerifyIntegrity(ctx, path, record.ChecksumSHA256)
	if err != nil {
		return nil, NewChecksumError(fmt.Sprintf("failed to checksum %s", record.Filename), err)
	}
	result.Valid = valid
	result.Actual = actual
	return result, nil
}

// Cleanup deletes artifacts older than retentionDays together with their
// catalog records
func (m *Manager) Cleanup(ctx context.Context, retentionDays int) (*CleanupResult, error) {
	if retentionDays == 0 {
		retentionDays = m.config.Retention.Days
	}

	ctx, done := m.logger.StartOperation(ctx, "retention_cleanup", map[string]interface{}{
		"retention_days": retentionDays,
	})

	result, err := m.cleanup(ctx, retentionDays)
	if err != nil {
		done(err, nil)
		return nil, err
	}
	m.metrics.CleanupDeleted.Add(float64(result.DeletedCount))
	done(nil, map[string]interface{}{
		"deleted":        result.DeletedCount,
		"pruned_records": result.PrunedRecords,
	})
	return result, nil
}

func (m *Manager) cleanup(ctx context.Context, retentionDays int) (*CleanupResult, error) {
	release, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	return m.retention.Cleanup(ctx, retentionDays)
}

func (m *Manager) acquire(ctx context.Context) (func(), error) {
	lockCtx := ctx
	if m.config.Backup.LockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, m.config.Backup.LockTimeout)
		defer cancel()
	}
	return m.lock.Acquire(lockCtx)
}

func (m *Manager) compressionLevel() int {
	if m.config.Compression.Level > 0 {
		return m.config.Compression.Level
	}
	compressor, err := m.compression.GetCompressor(m.config.Compression.Algorithm)
	if err != nil {
		return 0
	}
	return compressor.GetMaxLevel()
}

func (m *Manager) recordPath(record BackupRecord) string {
	if record.LocalPath != "" {
		return record.LocalPath
	}
	return filepath.Join(m.dir, record.Filename)
}

// asBackupError keeps typed errors and wraps anything else with wrap
func asBackupError(err error, wrap func(string, error) *BackupError) error {
	if ErrorType(err) != "" {
		return err
	}
	return wrap(err.Error(), err)
}
