package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"omnicrm-backup/internal/logging"
)

// BackupLogger provides structured logging for pipeline runs with
// correlation IDs and an optional JSON audit trail
type BackupLogger struct {
	logger      *logging.Logger
	auditLogger *logrus.Logger
	auditFile   *os.File
}

// BackupLoggerConfig holds configuration for backup logging
type BackupLoggerConfig struct {
	Logger         *logging.Logger
	AuditLogFile   string
	EnableAuditLog bool
}

// NewBackupLogger creates a new backup logger
func NewBackupLogger(config BackupLoggerConfig) (*BackupLogger, error) {
	logger := config.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	bl := &BackupLogger{logger: logger}

	if config.EnableAuditLog && config.AuditLogFile != "" {
		if err := os.MkdirAll(filepath.Dir(config.AuditLogFile), 0755); err != nil {
			return nil, fmt.Errorf("failed to create audit log directory: %w", err)
		}

		auditFile, err := os.OpenFile(config.AuditLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log file: %w", err)
		}

		auditLogger := logrus.New()
		auditLogger.SetOutput(auditFile)
		auditLogger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
		auditLogger.SetLevel(logrus.InfoLevel)

		bl.auditLogger = auditLogger
		bl.auditFile = auditFile
	}

	return bl, nil
}

// Logger returns the underlying application logger
func (bl *BackupLogger) Logger() *logging.Logger {
	return bl.logger
}

// Close releases the audit log file
func (bl *BackupLogger) Close() error {
	if bl.auditFile != nil {
		return bl.auditFile.Close()
	}
	return nil
}

// StartOperation logs the start of operation and returns a context carrying
// its correlation id plus a completion function. The completion function
// logs the outcome, the duration and any result fields, and appends an
// audit entry.
func (bl *BackupLogger) StartOperation(ctx context.Context, operation string, fields map[string]interface{}) (context.Context, func(error, map[string]interface{})) {
	correlationID := logging.CorrelationIDFromContext(ctx)
	if correlationID == "" {
		correlationID = uuid.New().String()
		ctx = logging.ContextWithCorrelationID(ctx, correlationID)
	}

	start := time.Now()
	base := logrus.Fields{
		"correlation_id": correlationID,
		"operation":      operation,
	}
	for k, v := range fields {
		base[k] = v
	}

	bl.logger.WithFields(base).Info("Operation started")
	bl.logAudit(correlationID, operation, "started", fields)

	return ctx, func(err error, result map[string]interface{}) {
		duration := time.Since(start)

		entry := bl.logger.WithFields(base).WithField("duration", duration.String())
		for k, v := range result {
			entry = entry.WithField(k, v)
		}

		details := make(map[string]interface{}, len(fields)+len(result)+2)
		for k, v := range fields {
			details[k] = v
		}
		for k, v := range result {
			details[k] = v
		}
		details["duration"] = duration.String()

		if err != nil {
			entry.WithError(err).Error("Operation failed")
			details["error"] = err.Error()
			bl.logAudit(correlationID, operation, "failure", details)
			return
		}

		entry.Info("Operation completed")
		bl.logAudit(correlationID, operation, "success", details)
	}
}

func (bl *BackupLogger) logAudit(correlationID, operation, result string, details map[string]interface{}) {
	if bl.auditLogger == nil {
		return
	}

	bl.auditLogger.WithFields(logrus.Fields{
		"correlation_id": correlationID,
		"operation":      operation,
		"result":         result,
		"details":        details,
	}).Info("Audit log entry")
}
