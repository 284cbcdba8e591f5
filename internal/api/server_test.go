package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"omnicrm-backup/internal/backup"
	"omnicrm-backup/internal/logging"
)

// MockService is a mock implementation of backup.Service
type MockService struct {
	mock.Mock
}

func (m *MockService) CreateBackup(ctx context.Context, req backup.CreateRequest) (*backup.BackupRecord, error) {
	args := m.Called(ctx, req)
	if record := args.Get(0); record != nil {
		return record.(*backup.BackupRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockService) Restore(ctx context.Context, req backup.RestoreRequest) (*backup.RestoreResult, error) {
	args := m.Called(ctx, req)
	if result := args.Get(0); result != nil {
		return result.(*backup.RestoreResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockService) ListBackups(ctx context.Context) ([]backup.BackupRecord, error) {
	args := m.Called(ctx)
	if records := args.Get(0); records != nil {
		return records.([]backup.BackupRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockService) VerifyBackup(ctx context.Context, filename string) (*backup.VerificationResult, error) {
	args := m.Called(ctx, filename)
	if result := args.Get(0); result != nil {
		return result.(*backup.VerificationResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockService) Cleanup(ctx context.Context, retentionDays int) (*backup.CleanupResult, error) {
	args := m.Called(ctx, retentionDays)
	if result := args.Get(0); result != nil {
		return result.(*backup.CleanupResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func newTestServer(t *testing.T, service *MockService, mutate func(*ServerOptions)) *Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	opts := ServerOptions{
		Service:         service,
		Logger:          logging.NewNopLogger(),
		DefaultCompress: true,
		Registerer:      reg,
		Gatherer:        reg,
	}
	if mutate != nil {
		mutate(&opts)
	}
	server, err := NewServer(opts)
	require.NoError(t, err)
	return server
}

func do(t *testing.T, server *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func sampleRecord() *backup.BackupRecord {
	return &backup.BackupRecord{
		Filename:       "omnicrm_backup_20240131_020000.sql.gz.enc",
		LocalPath:      "/var/backups/omnicrm_backup_20240131_020000.sql.gz.enc",
		SizeBytes:      2048,
		ChecksumSHA256: strings.Repeat("a", 64),
		BackupType:     backup.BackupTypeFull,
		Compressed:     true,
		Encrypted:      true,
		Timestamp:      "20240131_020000",
		CreatedAt:      time.Date(2024, 1, 31, 2, 0, 0, 0, time.UTC),
	}
}

func TestNewServer(t *testing.T) {
	_, err := NewServer(ServerOptions{})
	assert.True(t, backup.IsType(err, backup.BackupErrorTypeConfiguration))
}

func TestServer_CreateBackup(t *testing.T) {
	tests := []struct {
		name string
		body string
		want backup.CreateRequest
	}{
		{"defaults", ``, backup.CreateRequest{Compress: true}},
		{"explicit flags", `{"type":"full","compress":false,"encrypt":true}`, backup.CreateRequest{Type: backup.BackupTypeFull, Encrypt: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := &MockService{}
			service.On("CreateBackup", mock.Anything, tt.want).Return(sampleRecord(), nil).Once()
			server := newTestServer(t, service, nil)

			rec := do(t, server, http.MethodPost, "/api/v1/backups", tt.body)
			assert.Equal(t, http.StatusCreated, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body map[string]any
			decodeBody(t, rec, &body)
			assert.Equal(t, true, body["success"])
			assert.Equal(t, "omnicrm_backup_20240131_020000.sql.gz.enc", body["filename"])
			assert.Nil(t, body["cloud_url"])
			assert.Contains(t, body, "cloud_url", "a local-only backup reports cloud_url as null")
			service.AssertExpectations(t)
		})
	}
}

func TestServer_Errors(t *testing.T) {
	tests := []struct {
		name      string
		method    string
		path      string
		body      string
		setup     func(*MockService)
		status    int
		errorType string
	}{
		{
			name: "unsupported backup type", method: http.MethodPost, path: "/api/v1/backups", body: `{"type":"incremental"}`,
			setup: func(m *MockService) {
				m.On("CreateBackup", mock.Anything, mock.Anything).Return(nil, backup.NewUnsupportedBackupTypeError(backup.BackupTypeIncremental))
			},
			status: http.StatusBadRequest, errorType: "UNSUPPORTED_BACKUP_TYPE",
		},
		{
			name: "malformed body", method: http.MethodPost, path: "/api/v1/backups", body: `{"compress": "yes"`,
			status: http.StatusBadRequest, errorType: "VALIDATION_ERROR",
		},
		{
			name: "unknown field", method: http.MethodPost, path: "/api/v1/backups", body: `{"target":"prod"}`,
			status: http.StatusBadRequest, errorType: "VALIDATION_ERROR",
		},
		{
			name: "export failure", method: http.MethodPost, path: "/api/v1/backups", body: `{}`,
			setup: func(m *MockService) {
				m.On("CreateBackup", mock.Anything, mock.Anything).Return(nil, backup.NewExportError("pg_dump exited with status 1", nil))
			},
			status: http.StatusInternalServerError, errorType: "EXPORT_ERROR",
		},
		{
			name: "lock timeout", method: http.MethodPost, path: "/api/v1/backups", body: `{}`,
			setup: func(m *MockService) {
				m.On("CreateBackup", mock.Anything, mock.Anything).Return(nil, backup.NewLockError("timed out waiting for the pipeline lock", nil))
			},
			status: http.StatusInternalServerError, errorType: "LOCK_ERROR",
		},
		{
			name: "restore without file", method: http.MethodPost, path: "/api/v1/restore", body: `{}`,
			status: http.StatusBadRequest, errorType: "VALIDATION_ERROR",
		},
		{
			name: "restore outside the backup directory", method: http.MethodPost, path: "/api/v1/restore", body: `{"file":"../../etc/passwd"}`,
			status: http.StatusBadRequest, errorType: "VALIDATION_ERROR",
		},
		{
			name: "restore checksum mismatch", method: http.MethodPost, path: "/api/v1/restore", body: `{"file":"omnicrm_backup_20240131_020000.db.gz"}`,
			setup: func(m *MockService) {
				m.On("Restore", mock.Anything, mock.Anything).Return(nil, backup.NewCorruptionError("checksum mismatch", nil))
			},
			status: http.StatusInternalServerError, errorType: "CORRUPTION_ERROR",
		},
		{
			name: "verify unknown artifact", method: http.MethodGet, path: "/api/v1/backups/omnicrm_backup_19990101_000000.db/verify",
			setup: func(m *MockService) {
				m.On("VerifyBackup", mock.Anything, "omnicrm_backup_19990101_000000.db").Return(nil, backup.NewNotFoundError("no catalog record", nil))
			},
			status: http.StatusNotFound, errorType: "NOT_FOUND_ERROR",
		},
		{
			name: "negative retention", method: http.MethodPost, path: "/api/v1/cleanup", body: `{"retention_days":-1}`,
			status: http.StatusBadRequest, errorType: "VALIDATION_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := &MockService{}
			if tt.setup != nil {
				tt.setup(service)
			}
			server := newTestServer(t, service, nil)

			rec := do(t, server, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)

			var body backup.ErrorResponse
			decodeBody(t, rec, &body)
			assert.Equal(t, tt.errorType, body.Error)
			assert.NotEmpty(t, body.Message)
			service.AssertExpectations(t)
		})
	}
}

func TestServer_ListBackups(t *testing.T) {
	service := &MockService{}
	service.On("ListBackups", mock.Anything).Return(nil, nil).Once()
	service.On("ListBackups", mock.Anything).Return([]backup.BackupRecord{*sampleRecord()}, nil).Once()
	server := newTestServer(t, service, nil)

	rec := do(t, server, http.MethodGet, "/api/v1/backups", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = do(t, server, http.MethodGet, "/api/v1/backups", "")
	var records []backup.BackupRecord
	decodeBody(t, rec, &records)
	require.Len(t, records, 1)
	assert.Equal(t, *sampleRecord(), records[0])
}

func TestServer_Restore(t *testing.T) {
	service := &MockService{}
	service.On("Restore", mock.Anything, backup.RestoreRequest{File: "omnicrm_backup_20240131_020000.db.gz", VerifyChecksum: true}).
		Return(&backup.RestoreResult{Success: true, ChecksumVerified: true, Steps: []string{"verify_checksum", "decompress:gzip", "restore:sqlite"}}, nil).Once()
	service.On("Restore", mock.Anything, backup.RestoreRequest{File: "omnicrm_backup_20240131_020000.db"}).
		Return(&backup.RestoreResult{Success: true}, nil).Once()
	server := newTestServer(t, service, nil)

	rec := do(t, server, http.MethodPost, "/api/v1/restore", `{"file":"omnicrm_backup_20240131_020000.db.gz"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	var result backup.RestoreResult
	decodeBody(t, rec, &result)
	assert.True(t, result.ChecksumVerified)
	assert.Equal(t, "restore:sqlite", result.Steps[2])

	rec = do(t, server, http.MethodPost, "/api/v1/restore", `{"file":"omnicrm_backup_20240131_020000.db","verify_checksum":false}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	service.AssertExpectations(t)
}

func TestServer_VerifyAndCleanup(t *testing.T) {
	service := &MockService{}
	service.On("VerifyBackup", mock.Anything, "omnicrm_backup_20240131_020000.db").
		Return(&backup.VerificationResult{Filename: "omnicrm_backup_20240131_020000.db", Valid: true, Exists: true}, nil).Once()
	service.On("Cleanup", mock.Anything, 0).Return(&backup.CleanupResult{RetentionDays: 30, DeletedFiles: []string{}}, nil).Once()
	service.On("Cleanup", mock.Anything, 7).Return(&backup.CleanupResult{RetentionDays: 7, DeletedCount: 1, DeletedFiles: []string{"omnicrm_backup_20240101_020000.db"}}, nil).Once()
	server := newTestServer(t, service, nil)

	rec := do(t, server, http.MethodGet, "/api/v1/backups/omnicrm_backup_20240131_020000.db/verify", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var verification backup.VerificationResult
	decodeBody(t, rec, &verification)
	assert.True(t, verification.Valid)

	rec = do(t, server, http.MethodPost, "/api/v1/cleanup", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, server, http.MethodPost, "/api/v1/cleanup", `{"retention_days":7}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	var cleanup backup.CleanupResult
	decodeBody(t, rec, &cleanup)
	assert.Equal(t, 1, cleanup.DeletedCount)
	service.AssertExpectations(t)
}

func TestServer_Healthz(t *testing.T) {
	server := newTestServer(t, &MockService{}, nil)
	rec := do(t, server, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	status := backup.DaemonStatus{State: backup.DaemonStateBackoff, ConsecutiveFailures: 2, LastError: "pg_dump: connection refused"}
	server = newTestServer(t, &MockService{}, func(o *ServerOptions) {
		o.Status = func() backup.DaemonStatus { return status }
	})
	rec = do(t, server, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var health HealthResponse
	decodeBody(t, rec, &health)
	assert.Equal(t, "degraded", health.Status)
	require.NotNil(t, health.Daemon)
	assert.Equal(t, 2, health.Daemon.ConsecutiveFailures)
}

func TestServer_Metrics(t *testing.T) {
	service := &MockService{}
	service.On("ListBackups", mock.Anything).Return([]backup.BackupRecord{}, nil)
	server := newTestServer(t, service, nil)

	do(t, server, http.MethodGet, "/api/v1/backups", "")

	rec := do(t, server, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `omnicrm_backup_http_requests_total{method="GET",path="/api/v1/backups",status="200"} 1`)
}
