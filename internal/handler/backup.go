package handler

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/registry/internal/auth"
	"github.com/dukerupert/registry/internal/backup"
	"github.com/dukerupert/registry/internal/model"
)

type BackupHandler struct {
	mgr    *backup.Manager
	logger *slog.Logger
}

func NewBackupHandler(mgr *backup.Manager, logger *slog.Logger) *BackupHandler {
	return &BackupHandler{mgr: mgr, logger: logger}
}

func (h *BackupHandler) List(w http.ResponseWriter, r *http.Request) {
	backups, err := h.mgr.List(r.Context(), queryInt(r, "limit", 20))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if backups == nil {
		backups = []model.Backup{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  h.mgr.Status(),
		"backups": backups,
	})
}

// Run takes a backup synchronously.
func (h *BackupHandler) Run(w http.ResponseWriter, r *http.Request) {
	record, err := h.mgr.RunNow(r.Context())
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	h.logger.Info("backup requested", "id", record.ID, "actor", auth.ActorName(r.Context()))
	writeJSON(w, http.StatusCreated, record)
}

// Download streams the encrypted backup file.
func (h *BackupHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid id")
		return
	}
	body, record, err := h.mgr.Download(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", record.Filename))
	if record.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(record.SizeBytes, 10))
	}
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("backup download interrupted", "id", id, "error", err)
	}
}
