package backup

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ObserveBackup(t *testing.T) {
	m := NewMetrics(nil)
	record := testRecord("omnicrm_backup_20240131_020000.db.gz")

	m.ObserveBackup(&record, 3*time.Second, nil)
	m.ObserveBackup(nil, time.Second, NewExportError("pg_dump exited 1", nil))
	m.ObserveBackup(nil, time.Second, errBoom)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackupsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackupsTotal.WithLabelValues(string(BackupErrorTypeExport))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackupsTotal.WithLabelValues("error")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(m.LastBackupSize))
	assert.Equal(t, float64(record.CreatedAt.Unix()), testutil.ToFloat64(m.LastSuccess))
}

func TestMetrics_ObserveRestore(t *testing.T) {
	m := NewMetrics(nil)

	m.ObserveRestore(nil)
	m.ObserveRestore(NewCorruptionError("checksum mismatch", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RestoresTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RestoresTotal.WithLabelValues(string(BackupErrorTypeCorruption))))
}

func TestNewMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.ConsecutiveFailures.Set(3)

	count, err := testutil.GatherAndCount(reg, "omnicrm_backup_daemon_consecutive_failures")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.Panics(t, func() { NewMetrics(reg) }, "registering twice on one registry must fail loudly")
}
