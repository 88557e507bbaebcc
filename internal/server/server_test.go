package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/photobackup/internal/backup"
	"github.com/dukerupert/photobackup/internal/config"
	"github.com/dukerupert/photobackup/internal/database"
)

func setupServer(t *testing.T) (*Server, *config.Config) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{PhotosDir: t.TempDir()}
	cfg.Backup.LocalPath = t.TempDir()
	open, err := backup.NewOpener(context.Background(), cfg.Backup)
	if err != nil {
		t.Fatalf("new opener: %v", err)
	}

	srv := New(db, cfg, open, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { srv.Pipeline().Shutdown(context.Background()) })
	return srv, cfg
}

func TestHealth(t *testing.T) {
	srv, _ := setupServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["timestamp"] == "" {
		t.Errorf("unexpected body %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestScanIsRateLimited(t *testing.T) {
	srv, _ := setupServer(t)
	router := srv.Router()

	var last int
	for i := 0; i <= controlLimit; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/photos/scan", nil))
		last = rec.Code
		if i < controlLimit && rec.Code != http.StatusOK {
			t.Fatalf("scan %d: status = %d, want 200", i+1, rec.Code)
		}
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", last)
	}
}

func TestBackupStartIsNotRateLimited(t *testing.T) {
	srv, _ := setupServer(t)
	router := srv.Router()

	for i := 0; i <= controlLimit+1; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/backup/start", strings.NewReader(`{"destination":"local"}`))
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("start %d: status = %d, want 200", i+1, rec.Code)
		}
		if err := srv.Pipeline().Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
}

func TestProgressStream(t *testing.T) {
	srv, cfg := setupServer(t)
	if err := os.WriteFile(filepath.Join(cfg.PhotosDir, "a.jpg"), []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := ws.Dial(ctx, "ws"+ts.URL[len("http"):]+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	// Wait until the hub has registered the client before scanning.
	deadline := time.Now().Add(5 * time.Second)
	for srv.hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Post(ts.URL+"/api/photos/scan", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("scan: status = %d", resp.StatusCode)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "scan_progress" {
		t.Errorf("type = %q, want scan_progress", msg.Type)
	}
}
