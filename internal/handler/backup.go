package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/photobackup/internal/backup"
	"github.com/dukerupert/photobackup/internal/model"
)

type BackupHandler struct {
	pipeline  *backup.Pipeline
	sourceDir string
	logger    *slog.Logger
}

func NewBackupHandler(p *backup.Pipeline, sourceDir string, logger *slog.Logger) *BackupHandler {
	return &BackupHandler{pipeline: p, sourceDir: sourceDir, logger: logger}
}

type startBackupRequest struct {
	Destination     model.Destination `json:"destination"`
	DestinationPath string            `json:"destinationPath"`
}

func (h *BackupHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startBackupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	status, err := h.pipeline.Start(r.Context(), h.sourceDir, req.Destination, req.DestinationPath)
	switch {
	case errors.Is(err, backup.ErrInvalidDestination):
		writeError(w, http.StatusBadRequest, "invalid destination, must be local or s3")
		return
	case errors.Is(err, backup.ErrDestinationUnavailable):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("start backup", "destination", req.Destination, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start backup")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *BackupHandler) Stop(w http.ResponseWriter, r *http.Request) {
	status, err := h.pipeline.Stop(r.Context())
	if err != nil {
		h.logger.Error("stop backup", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to stop backup")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *BackupHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pipeline.Status())
}

func (h *BackupHandler) History(w http.ResponseWriter, r *http.Request) {
	var limit int
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be a number")
			return
		}
		limit = n
	}

	sessions, err := h.pipeline.History(r.Context(), limit)
	if err != nil {
		h.logger.Error("list backup history", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get backup history")
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *BackupHandler) Session(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	details, err := h.pipeline.SessionDetails(r.Context(), id)
	if err != nil {
		h.logger.Error("get backup session", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get backup session")
		return
	}
	if details == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, details)
}
