package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/photobackup/internal/backup"
	"github.com/dukerupert/photobackup/internal/config"
	"github.com/dukerupert/photobackup/internal/handler"
	"github.com/dukerupert/photobackup/internal/middleware"
	"github.com/dukerupert/photobackup/internal/model"
	"github.com/dukerupert/photobackup/internal/photo"
	"github.com/dukerupert/photobackup/internal/scan"
	"github.com/dukerupert/photobackup/internal/store"
	ws "github.com/dukerupert/photobackup/internal/websocket"
)

// Scans and backups walk the whole photo tree; a client gets a few starts
// per minute.
const (
	controlLimit  = 5
	controlPeriod = time.Minute
)

type Server struct {
	hub         *ws.Hub
	backupH     *handler.BackupHandler
	photoH      *handler.PhotoHandler
	pipeline    *backup.Pipeline
	scanner     *scan.Scanner
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

func New(db *sql.DB, cfg *config.Config, open backup.Opener, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	photoStore := store.NewPhotoStore(db)
	backupStore := store.NewBackupStore(db)

	scanner := scan.NewScanner(photoStore, func(p model.ScanProgress) {
		hub.Broadcast(ws.TypeScanProgress, p)
	}, logger.With("component", "scan"))

	pipeline := backup.NewPipeline(backupStore, open, func(s backup.Status) {
		hub.Broadcast(ws.TypeBackupProgress, s)
	}, logger.With("component", "backup"))

	photoSvc := photo.NewService(photoStore)

	return &Server{
		hub:         hub,
		backupH:     handler.NewBackupHandler(pipeline, cfg.PhotosDir, logger.With("component", "backup_handler")),
		photoH:      handler.NewPhotoHandler(scanner, photoSvc, cfg.PhotosDir, logger.With("component", "photo_handler")),
		pipeline:    pipeline,
		scanner:     scanner,
		rateLimiter: middleware.NewRateLimiter(controlLimit, controlPeriod),
		logger:      logger,
	}
}

// Pipeline returns the backup pipeline for startup recovery and shutdown.
func (s *Server) Pipeline() *backup.Pipeline {
	return s.pipeline
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.healthHandler)

	limited := middleware.RateLimit(s.rateLimiter)

	// Backup API routes
	mux.HandleFunc("POST /api/backup/start", s.backupH.Start)
	mux.HandleFunc("POST /api/backup/stop", s.backupH.Stop)
	mux.HandleFunc("GET /api/backup/status", s.backupH.Status)
	mux.HandleFunc("GET /api/backup/history", s.backupH.History)
	mux.HandleFunc("GET /api/backup/session/{id}", s.backupH.Session)

	// Photo API routes
	mux.Handle("POST /api/photos/scan", limited(http.HandlerFunc(s.photoH.Scan)))
	mux.HandleFunc("GET /api/photos/scan/progress", s.photoH.ScanProgress)
	mux.HandleFunc("GET /api/photos/scan/stats", s.photoH.ScanStats)
	mux.HandleFunc("GET /api/photos", s.photoH.List)
	mux.HandleFunc("GET /api/photos/thumbnail/{folderId}/{filename}", s.photoH.Thumbnail)

	// Progress stream
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.logger.With("component", "websocket")))

	return middleware.RequestID(middleware.RequestLogger(s.logger.With("component", "http"))(mux))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
