package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"omnicrm-backup/internal/backup"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError renders err as {error, message} with the status its type maps to
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), backup.NewErrorResponse(err))
}

func statusFor(err error) int {
	switch backup.ErrorType(err) {
	case backup.BackupErrorTypeValidation, backup.BackupErrorTypeUnsupportedBackupType:
		return http.StatusBadRequest
	case backup.BackupErrorTypeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
