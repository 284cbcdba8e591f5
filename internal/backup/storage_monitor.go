package backup

import (
	"context"
	"time"
)

// StorageUsageReport summarizes what the catalog holds and how much of it is
// still on disk
type StorageUsageReport struct {
	TotalBackups int        `json:"total_backups"`
	TotalBytes   int64      `json:"total_bytes"`
	TotalMB      float64    `json:"total_mb"`
	Compressed   int        `json:"compressed"`
	Encrypted    int        `json:"encrypted"`
	LocalOnly    int        `json:"local_only"`
	Missing      []string   `json:"missing,omitempty"`
	Oldest       *time.Time `json:"oldest,omitempty"`
	Newest       *time.Time `json:"newest,omitempty"`
	GeneratedAt  time.Time  `json:"generated_at"`
}

// StorageHealthReport is the outcome of probing the secondary storage target
type StorageHealthReport struct {
	Provider   string        `json:"provider"`
	Configured bool          `json:"configured"`
	Healthy    bool          `json:"healthy"`
	Error      string        `json:"error,omitempty"`
	Latency    time.Duration `json:"latency"`
	CheckedAt  time.Time     `json:"checked_at"`
}

// StorageUsage builds a usage report from the catalog
func (m *Manager) StorageUsage(ctx context.Context) (*StorageUsageReport, error) {
	records, err := m.catalog.List(ctx)
	if err != nil {
		return nil, err
	}

	report := &StorageUsageReport{
		TotalBackups: len(records),
		GeneratedAt:  m.now().UTC(),
	}

	for i := range records {
		record := records[i]
		if !fileExists(m.recordPath(record)) {
			report.Missing = append(report.Missing, record.Filename)
			continue
		}

		report.TotalBytes += record.SizeBytes
		if record.Compressed {
			report.Compressed++
		}
		if record.Encrypted {
			report.Encrypted++
		}
		if !record.HasCloudCopy() {
			report.LocalOnly++
		}

		created := record.CreatedAt
		if report.Oldest == nil || created.Before(*report.Oldest) {
			report.Oldest = &created
		}
		if report.Newest == nil || created.After(*report.Newest) {
			report.Newest = &created
		}
	}
	report.TotalMB = sizeInMB(report.TotalBytes)

	return report, nil
}

// CheckStorage probes the configured uploader. A deployment without secondary
// storage reports Configured false and counts as healthy.
func (m *Manager) CheckStorage(ctx context.Context) *StorageHealthReport {
	report := &StorageHealthReport{
		Provider:  string(StorageProviderNone),
		Healthy:   true,
		CheckedAt: m.now().UTC(),
	}
	if m.uploader == nil {
		return report
	}

	report.Provider = m.uploader.Name()
	report.Configured = true

	checker, ok := m.uploader.(HealthChecker)
	if !ok {
		return report
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.Storage.Timeout)
	defer cancel()

	start := time.Now()
	err := checker.HealthCheck(ctx)
	report.Latency = time.Since(start)
	if err != nil {
		report.Healthy = false
		report.Error = err.Error()
	}
	return report
}
