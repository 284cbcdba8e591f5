package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"omnicrm-backup/internal/backup"
)

const maxBodyBytes = 64 << 10

var validate = validator.New()

// CreateBackupRequest is the body of POST /api/v1/backups. Omitted flags
// fall back to the configured defaults.
type CreateBackupRequest struct {
	Type     backup.BackupType `json:"type" validate:"omitempty,max=32"`
	Compress *bool             `json:"compress"`
	Encrypt  *bool             `json:"encrypt"`
}

// RestoreRequest is the body of POST /api/v1/restore. Only bare artifact
// names from the backup directory are accepted over HTTP.
type RestoreRequest struct {
	File           string `json:"file" validate:"required,max=255,excludesall=/\\"`
	VerifyChecksum *bool  `json:"verify_checksum"`
}

// CleanupRequest is the body of POST /api/v1/cleanup. Zero uses the configured retention.
type CleanupRequest struct {
	RetentionDays int `json:"retention_days" validate:"gte=0,lte=36500"`
}

// decode reads a JSON body into v and validates it. An empty body decodes
// to the zero value, which lets POST /cleanup run with no payload.
func decode(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return backup.NewValidationError("failed to read request body", err)
	}
	if len(bytes.TrimSpace(data)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(v); err != nil {
			return backup.NewValidationError("invalid JSON", err)
		}
	}
	if err := validate.Struct(v); err != nil {
		return backup.NewValidationError(describeValidation(err), err)
	}
	return nil
}

func describeValidation(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return "validation error"
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return "validation error: " + strings.Join(msgs, ", ")
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
