// Package scan rebuilds the persisted photo index from a source directory.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/dukerupert/photobackup/internal/model"
	"github.com/dukerupert/photobackup/internal/store"
	"github.com/dukerupert/photobackup/internal/walker"
)

var (
	ErrAlreadyScanning = errors.New("a scan is already in progress")
	ErrSourceNotFound  = errors.New("source directory does not exist")
)

// ProgressCallback is called after every progress change.
type ProgressCallback func(model.ScanProgress)

// Scanner owns the scan progress state. At most one scan runs at a time.
type Scanner struct {
	mu       sync.RWMutex
	progress model.ScanProgress
	callback ProgressCallback

	photos *store.PhotoStore
	logger *slog.Logger
}

func NewScanner(ps *store.PhotoStore, callback ProgressCallback, logger *slog.Logger) *Scanner {
	return &Scanner{
		photos:   ps,
		callback: callback,
		logger:   logger,
	}
}

// Progress returns a copy of the current scan progress.
func (s *Scanner) Progress() model.ScanProgress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress
}

// Stats returns the totals currently stored, independent of any scan.
func (s *Scanner) Stats(ctx context.Context) (model.ScanStats, error) {
	dirs, photos, err := s.photos.Counts(ctx)
	if err != nil {
		return model.ScanStats{}, err
	}
	return model.ScanStats{TotalDirectories: dirs, TotalPhotos: photos}, nil
}

func (s *Scanner) update(fn func(p *model.ScanProgress)) {
	s.mu.Lock()
	fn(&s.progress)
	p := s.progress
	s.mu.Unlock()
	if s.callback != nil {
		s.callback(p)
	}
}

// Scan walks sourceDir and replaces the whole stored index with what it
// finds. The source is validated before anything is cleared; a scan that
// fails after the clear leaves a partial index.
func (s *Scanner) Scan(ctx context.Context, sourceDir string) (model.ScanStats, error) {
	info, err := os.Stat(sourceDir)
	if err != nil || !info.IsDir() {
		return model.ScanStats{}, fmt.Errorf("%w: %s", ErrSourceNotFound, sourceDir)
	}

	s.mu.Lock()
	if s.progress.IsScanning {
		s.mu.Unlock()
		return model.ScanStats{}, ErrAlreadyScanning
	}
	start := time.Now().UTC()
	s.progress = model.ScanProgress{IsScanning: true, StartTime: &start}
	s.mu.Unlock()

	defer s.update(func(p *model.ScanProgress) {
		p.IsScanning = false
		p.CurrentDirectory = ""
	})

	s.logger.Info("scan started", "source", sourceDir)
	stats, err := s.run(ctx, osfs.New(sourceDir))
	if err != nil {
		s.logger.Error("scan failed", "source", sourceDir, "error", err)
		return stats, err
	}

	end := time.Now().UTC()
	s.update(func(p *model.ScanProgress) { p.EndTime = &end })
	s.logger.Info("scan completed",
		"directories", stats.TotalDirectories,
		"photos", stats.TotalPhotos,
		"duration", end.Sub(start),
	)
	return stats, nil
}

func (s *Scanner) run(ctx context.Context, fsys billy.Filesystem) (model.ScanStats, error) {
	index := walker.Walk(fsys, s.logger)
	dirs := index.Dirs()
	s.logger.Debug("source walked", "directories", len(dirs), "photos", index.PhotoCount())
	s.update(func(p *model.ScanProgress) { p.TotalDirectories = len(dirs) })

	if err := s.photos.ClearIndex(ctx); err != nil {
		return model.ScanStats{}, fmt.Errorf("clear index: %w", err)
	}

	var stats model.ScanStats
	for _, rel := range dirs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		s.update(func(p *model.ScanProgress) { p.CurrentDirectory = displayName(rel) })

		photos := s.statPhotos(fsys, rel, index[rel])
		if len(photos) == 0 {
			s.update(func(p *model.ScanProgress) { p.ScannedDirectories++ })
			continue
		}

		dirID, err := s.photos.UpsertDirectory(ctx, directoryName(rel), rel, len(photos))
		if err != nil {
			return stats, err
		}
		for i := range photos {
			photos[i].DirectoryID = dirID
		}
		if err := s.photos.BulkUpsertPhotos(ctx, photos); err != nil {
			return stats, err
		}

		stats.TotalDirectories++
		stats.TotalPhotos += len(photos)
		s.logger.Debug("directory indexed", "dir", displayName(rel), "photos", len(photos))
		s.update(func(p *model.ScanProgress) {
			p.ScannedDirectories++
			p.TotalPhotos += len(photos)
		})
	}
	return stats, nil
}

// statPhotos builds photo rows for one directory. Files that can no longer
// be stat'ed are skipped so the directory count matches the stored rows.
func (s *Scanner) statPhotos(fsys billy.Filesystem, rel string, names []string) []model.Photo {
	photos := make([]model.Photo, 0, len(names))
	for _, name := range names {
		filePath := path.Join(rel, name)
		info, err := fsys.Stat(filePath)
		if err != nil {
			s.logger.Warn("stat photo", "path", filePath, "error", err)
			continue
		}
		photos = append(photos, model.Photo{
			FileName:     name,
			FilePath:     filePath,
			FileSize:     info.Size(),
			DateModified: info.ModTime().UTC(),
		})
	}
	return photos
}

func directoryName(rel string) string {
	if rel == "" {
		return "root"
	}
	return path.Base(rel)
}

func displayName(rel string) string {
	if rel == "" {
		return "(root)"
	}
	return rel
}
