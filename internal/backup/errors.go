package backup

import (
	"context"
	"errors"
	"fmt"
)

// BackupError represents errors that occur during backup and restore operations
type BackupError struct {
	Type    BackupErrorType        `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *BackupError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause error
func (e *BackupError) Unwrap() error {
	return e.Cause
}

// BackupErrorType represents different types of backup errors
type BackupErrorType string

const (
	BackupErrorTypeUnsupportedBackupType BackupErrorType = "UNSUPPORTED_BACKUP_TYPE"
	BackupErrorTypeExport                BackupErrorType = "EXPORT_ERROR"
	BackupErrorTypeCompression           BackupErrorType = "COMPRESSION_ERROR"
	BackupErrorTypeEncryptionKey         BackupErrorType = "ENCRYPTION_KEY_ERROR"
	BackupErrorTypeEncryption            BackupErrorType = "ENCRYPTION_ERROR"
	BackupErrorTypeUpload                BackupErrorType = "UPLOAD_ERROR"
	BackupErrorTypeCorruption            BackupErrorType = "CORRUPTION_ERROR"
	BackupErrorTypeChecksum              BackupErrorType = "CHECKSUM_ERROR"
	BackupErrorTypeUnsupportedBackend    BackupErrorType = "UNSUPPORTED_BACKEND"
	BackupErrorTypeRestore               BackupErrorType = "RESTORE_ERROR"
	BackupErrorTypeCatalog               BackupErrorType = "CATALOG_ERROR"
	BackupErrorTypeNotFound              BackupErrorType = "NOT_FOUND_ERROR"
	BackupErrorTypeLock                  BackupErrorType = "LOCK_ERROR"
	BackupErrorTypeValidation            BackupErrorType = "VALIDATION_ERROR"
	BackupErrorTypeConfiguration         BackupErrorType = "CONFIGURATION_ERROR"
)

// NewBackupError creates a new BackupError
func NewBackupError(errorType BackupErrorType, message string, cause error) *BackupError {
	return &BackupError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (e *BackupError) WithContext(key string, value interface{}) *BackupError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Common error constructors
func NewUnsupportedBackupTypeError(backupType BackupType) *BackupError {
	return NewBackupError(BackupErrorTypeUnsupportedBackupType,
		fmt.Sprintf("backup type %q is not supported, only %q backups are implemented", backupType, BackupTypeFull), nil).
		WithContext("backup_type", string(backupType))
}

func NewExportError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeExport, message, cause)
}

func NewCompressionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeCompression, message, cause)
}

func NewEncryptionKeyError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeEncryptionKey, message, cause)
}

func NewEncryptionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeEncryption, message, cause)
}

func NewUploadError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeUpload, message, cause)
}

func NewCorruptionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeCorruption, message, cause)
}

func NewChecksumError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeChecksum, message, cause)
}

func NewUnsupportedBackendError(scheme string) *BackupError {
	return NewBackupError(BackupErrorTypeUnsupportedBackend,
		fmt.Sprintf("no database backend registered for scheme %q", scheme), nil).
		WithContext("scheme", scheme)
}

func NewRestoreError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeRestore, message, cause)
}

func NewCatalogError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeCatalog, message, cause)
}

func NewNotFoundError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeNotFound, message, cause)
}

func NewLockError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeLock, message, cause)
}

func NewValidationError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeValidation, message, cause)
}

func NewConfigurationError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeConfiguration, message, cause)
}

// ValidationError represents validation-specific errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors represents a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%d validation errors: %s (and %d more)", len(e), e[0].Error(), len(e)-1)
}

// Add adds a validation error to the collection
func (e *ValidationErrors) Add(field, message string, value interface{}) {
	*e = append(*e, ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	})
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// ErrorType returns the BackupErrorType carried anywhere in err's chain, or
// the empty string when err is not a BackupError.
func ErrorType(err error) BackupErrorType {
	var backupErr *BackupError
	if errors.As(err, &backupErr) {
		return backupErr.Type
	}
	return ""
}

// IsType reports whether err wraps a BackupError of the given type
func IsType(err error, errorType BackupErrorType) bool {
	return err != nil && ErrorType(err) == errorType
}

// IsRetryable determines if an error is worth retrying on the next scheduled attempt
func IsRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch ErrorType(err) {
	case BackupErrorTypeExport, BackupErrorTypeUpload, BackupErrorTypeLock, BackupErrorTypeCatalog:
		return true
	default:
		return false
	}
}

// IsPermanent determines if an error will not go away without operator action
func IsPermanent(err error) bool {
	switch ErrorType(err) {
	case BackupErrorTypeUnsupportedBackupType, BackupErrorTypeUnsupportedBackend,
		BackupErrorTypeEncryptionKey, BackupErrorTypeCorruption,
		BackupErrorTypeValidation, BackupErrorTypeConfiguration:
		return true
	default:
		return false
	}
}

// ErrorResponse is the JSON shape every failed operation is reported as
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewErrorResponse converts any error into the {error, message} surface
func NewErrorResponse(err error) ErrorResponse {
	var backupErr *BackupError
	if errors.As(err, &backupErr) {
		message := backupErr.Message
		if backupErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", backupErr.Message, backupErr.Cause)
		}
		return ErrorResponse{Error: string(backupErr.Type), Message: message}
	}
	if errors.Is(err, context.Canceled) {
		return ErrorResponse{Error: "CANCELED", Message: err.Error()}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorResponse{Error: "TIMEOUT", Message: err.Error()}
	}
	return ErrorResponse{Error: "INTERNAL_ERROR", Message: err.Error()}
}
