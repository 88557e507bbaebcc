package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/gabriel-vasile/mimetype"

	"github.com/dukerupert/photobackup/internal/photo"
	"github.com/dukerupert/photobackup/internal/scan"
)

type PhotoHandler struct {
	scanner   *scan.Scanner
	photos    *photo.Service
	photosDir string
	logger    *slog.Logger
}

func NewPhotoHandler(s *scan.Scanner, ps *photo.Service, photosDir string, logger *slog.Logger) *PhotoHandler {
	return &PhotoHandler{scanner: s, photos: ps, photosDir: photosDir, logger: logger}
}

type scanRequest struct {
	SourceDirectory string `json:"sourceDirectory"`
}

type scanResponse struct {
	Message          string `json:"message"`
	TotalDirectories int    `json:"totalDirectories"`
	TotalPhotos      int    `json:"totalPhotos"`
}

// Scan runs a full rescan synchronously. The body is optional; without a
// sourceDirectory the configured photos directory is scanned.
func (h *PhotoHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	source := req.SourceDirectory
	if source == "" {
		source = h.photosDir
	}

	// A client disconnect must not abandon the index half rebuilt.
	stats, err := h.scanner.Scan(context.WithoutCancel(r.Context()), source)
	switch {
	case errors.Is(err, scan.ErrAlreadyScanning):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, scan.ErrSourceNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		h.logger.Error("scan photos", "source", source, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to scan photos")
		return
	}

	writeJSON(w, http.StatusOK, scanResponse{
		Message:          "Scan completed successfully",
		TotalDirectories: stats.TotalDirectories,
		TotalPhotos:      stats.TotalPhotos,
	})
}

func (h *PhotoHandler) ScanProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scanner.Progress())
}

func (h *PhotoHandler) ScanStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.scanner.Stats(r.Context())
	if err != nil {
		h.logger.Error("scan stats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get scan stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *PhotoHandler) List(w http.ResponseWriter, r *http.Request) {
	listing, err := h.photos.List(r.Context())
	if err != nil {
		h.logger.Error("list photos", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read photos")
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// Thumbnail serves the original image bytes; there is no resizing.
func (h *PhotoHandler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	folderID, err := strconv.ParseInt(r.PathValue("folderId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "photo not found")
		return
	}

	path, err := h.photos.ResolvePhotoFile(r.Context(), h.photosDir, folderID, r.PathValue("filename"))
	if errors.Is(err, photo.ErrNotFound) {
		writeError(w, http.StatusNotFound, "photo not found")
		return
	}
	if err != nil {
		h.logger.Error("resolve photo", "folder", folderID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to serve photo")
		return
	}

	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "photo not found")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.logger.Error("stat photo", "path", path, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to serve photo")
		return
	}

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		h.logger.Error("detect photo type", "path", path, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to serve photo")
		return
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		h.logger.Error("rewind photo", "path", path, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to serve photo")
		return
	}

	w.Header().Set("Content-Type", mt.String())
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
