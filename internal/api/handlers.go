package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"omnicrm-backup/internal/backup"
)

// HealthResponse is the body of GET /healthz
type HealthResponse struct {
	Status string               `json:"status"`
	Daemon *backup.DaemonStatus `json:"daemon,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Status == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	status := s.opts.Status()
	resp := HealthResponse{Status: "ok", Daemon: &status}
	code := http.StatusOK
	if !status.Healthy() {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.ListBackups(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []backup.BackupRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	var req CreateBackupRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	record, err := s.service.CreateBackup(r.Context(), backup.CreateRequest{
		Type:     req.Type,
		Compress: boolOr(req.Compress, s.opts.DefaultCompress),
		Encrypt:  boolOr(req.Encrypt, s.opts.DefaultEncrypt),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, backup.CreateResult{Success: true, BackupRecord: record})
}

func (s *Server) handleVerifyBackup(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if filename == "" || strings.ContainsAny(filename, `/\`) {
		writeError(w, backup.NewValidationError("filename must be a bare artifact name", nil))
		return
	}

	result, err := s.service.VerifyBackup(r.Context(), filename)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var req RestoreRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.service.Restore(r.Context(), backup.RestoreRequest{
		File:           req.File,
		VerifyChecksum: boolOr(req.VerifyChecksum, true),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var req CleanupRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.service.Cleanup(r.Context(), req.RetentionDays)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
