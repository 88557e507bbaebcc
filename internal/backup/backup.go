// Package backup copies the photos of a source directory to a destination,
// one file at a time, recording per-file and per-session progress.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/dukerupert/photobackup/internal/model"
	"github.com/dukerupert/photobackup/internal/store"
	"github.com/dukerupert/photobackup/internal/walker"
)

var (
	ErrInvalidDestination     = errors.New("invalid destination, must be local or s3")
	ErrDestinationUnavailable = errors.New("destination not configured")
)

// FileStatus is the in-memory view of one file in the running session.
type FileStatus struct {
	Path   string             `json:"path"`
	Name   string             `json:"name"`
	Size   int64              `json:"size"`
	Status model.UploadStatus `json:"status"`
}

// Status is a snapshot of the most recent backup session.
type Status struct {
	SessionID      int64        `json:"sessionId,omitempty"`
	IsRunning      bool         `json:"isRunning"`
	TotalFiles     int          `json:"totalFiles"`
	CompletedFiles int          `json:"completedFiles"`
	FailedFiles    int          `json:"failedFiles"`
	TotalSize      int64        `json:"totalSize"`
	CurrentFile    string       `json:"currentFile"`
	Files          []FileStatus `json:"files"`
}

func (s Status) clone() Status {
	c := s
	c.Files = make([]FileStatus, len(s.Files))
	copy(c.Files, s.Files)
	return c
}

// StatusCallback is called whenever the backup status changes. It is never
// called with a Pipeline lock held.
type StatusCallback func(Status)

// run is one backup session. Its fields are guarded by Pipeline.mu, apart
// from the immutable ones set before the worker starts.
type run struct {
	sessionID int64
	uploads   []model.FileUpload
	source    billy.Filesystem
	dest      Destination

	status   Status
	cursor   int
	stop     bool
	finished bool
	done     chan struct{}
}

// Pipeline runs at most one backup session at a time.
type Pipeline struct {
	// lifecycle serializes Start, Stop and session finalisation.
	lifecycle sync.Mutex

	mu      sync.RWMutex
	current *run

	store    *store.BackupStore
	open     Opener
	callback StatusCallback
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewPipeline creates a backup pipeline. open resolves destinations for new
// sessions.
func NewPipeline(bs *store.BackupStore, open Opener, callback StatusCallback, logger *slog.Logger) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		store:    bs,
		open:     open,
		callback: callback,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (p *Pipeline) notify(s Status) {
	if p.callback != nil {
		p.callback(s)
	}
}

// Status returns a copy of the in-memory status of the latest session.
func (p *Pipeline) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.statusLocked()
}

func (p *Pipeline) statusLocked() Status {
	if p.current == nil {
		return Status{Files: []FileStatus{}}
	}
	return p.current.status.clone()
}

// Recover closes sessions a previous process left running. Their uploads
// can no longer finish, so the sessions are marked failed.
func (p *Pipeline) Recover(ctx context.Context) error {
	n, err := p.store.FailInterrupted(ctx, time.Now())
	if err != nil {
		return err
	}
	if n > 0 {
		p.logger.Warn("marked interrupted backup sessions as failed", "sessions", n)
	}
	return nil
}

// Start begins a backup of every image under sourceDir. If a session is
// already running its status is returned unchanged.
func (p *Pipeline) Start(ctx context.Context, sourceDir string, dest model.Destination, destPath string) (Status, error) {
	p.lifecycle.Lock()

	p.mu.RLock()
	prev := p.current
	if prev != nil && prev.status.IsRunning {
		s := p.statusLocked()
		p.mu.RUnlock()
		p.lifecycle.Unlock()
		return s, nil
	}
	p.mu.RUnlock()

	if !dest.Valid() {
		p.lifecycle.Unlock()
		return Status{}, fmt.Errorf("%w: %q", ErrInvalidDestination, dest)
	}
	target, err := p.open(dest, destPath)
	if err != nil {
		p.lifecycle.Unlock()
		return Status{}, err
	}

	// A stopped session may still be finishing its last transfer.
	if prev != nil {
		select {
		case <-prev.done:
		case <-ctx.Done():
			p.lifecycle.Unlock()
			return Status{}, ctx.Err()
		}
	}

	r, err := p.createRun(ctx, sourceDir, dest, destPath, target)
	if err != nil {
		p.lifecycle.Unlock()
		return Status{}, err
	}

	p.mu.Lock()
	p.current = r
	s := r.status.clone()
	p.mu.Unlock()

	if r.status.IsRunning {
		go p.process(r)
	} else {
		close(r.done)
	}
	p.lifecycle.Unlock()

	p.notify(s)
	return s, nil
}

func (p *Pipeline) createRun(ctx context.Context, sourceDir string, dest model.Destination, destPath string, target Destination) (*run, error) {
	source := osfs.New(sourceDir)
	files := walker.Files(source, p.logger)

	var totalSize int64
	uploads := make([]model.FileUpload, len(files))
	for i, f := range files {
		totalSize += f.Size
		uploads[i] = model.FileUpload{FilePath: f.Path, FileName: f.Name, FileSize: f.Size}
	}

	now := time.Now().UTC()
	session := model.BackupSession{
		StartTime:       now,
		Status:          model.SessionStatusRunning,
		TotalFiles:      len(files),
		TotalSize:       totalSize,
		SourceDirectory: sourceDir,
		Destination:     dest,
		DestinationPath: destPath,
	}
	if len(files) == 0 {
		session.Status = model.SessionStatusCompleted
		session.EndTime = &now
	}

	created, err := p.store.CreateSession(ctx, session, uploads)
	if err != nil {
		return nil, fmt.Errorf("create backup session: %w", err)
	}

	r := &run{
		sessionID: created.ID,
		uploads:   created.Files,
		source:    source,
		dest:      target,
		done:      make(chan struct{}),
		finished:  len(files) == 0,
		status: Status{
			SessionID:  created.ID,
			IsRunning:  len(files) > 0,
			TotalFiles: len(files),
			TotalSize:  totalSize,
			Files:      make([]FileStatus, len(files)),
		},
	}
	for i, u := range created.Files {
		r.status.Files[i] = FileStatus{Path: u.FilePath, Name: u.FileName, Size: u.FileSize, Status: u.Status}
	}

	p.logger.Info("backup started",
		"session", created.ID,
		"source", sourceDir,
		"destination", dest,
		"files", len(files),
		"bytes", totalSize,
	)
	return r, nil
}

// process transfers the files of r in enumeration order until the queue is
// exhausted or the run is stopped. A transfer in flight always completes.
func (p *Pipeline) process(r *run) {
	defer close(r.done)

	for {
		p.mu.Lock()
		if r.stop || r.cursor >= len(r.uploads) {
			p.mu.Unlock()
			break
		}
		i := r.cursor
		upload := r.uploads[i]
		r.status.Files[i].Status = model.UploadStatusInProgress
		r.status.CurrentFile = upload.FileName
		s := r.status.clone()
		p.mu.Unlock()
		p.notify(s)

		if err := p.store.MarkUploadInProgress(p.ctx, upload.ID); err != nil {
			p.logger.Error("mark upload in progress", "session", r.sessionID, "path", upload.FilePath, "error", err)
		}

		transferErr := p.transfer(r, upload)
		uploadTime := time.Now().UTC()

		p.mu.Lock()
		result := model.UploadStatusCompleted
		if transferErr != nil {
			result = model.UploadStatusFailed
			r.status.FailedFiles++
		} else {
			r.status.CompletedFiles++
		}
		r.status.Files[i].Status = result
		r.cursor++
		completed, failed := r.status.CompletedFiles, r.status.FailedFiles
		p.mu.Unlock()

		var errMsg string
		if transferErr != nil {
			errMsg = errorMessage(transferErr)
			p.logger.Warn("file backup failed", "session", r.sessionID, "path", upload.FilePath, "error", transferErr)
		}
		if err := p.store.MarkUploadDone(p.ctx, upload.ID, result, uploadTime, errMsg); err != nil {
			p.logger.Error("record upload result", "session", r.sessionID, "path", upload.FilePath, "error", err)
		}
		if err := p.store.UpdateCounters(p.ctx, r.sessionID, completed, failed); err != nil {
			p.logger.Error("update session counters", "session", r.sessionID, "error", err)
		}

		p.mu.RLock()
		s = r.status.clone()
		p.mu.RUnlock()
		p.notify(s)
	}

	p.mu.RLock()
	finished := r.finished
	p.mu.RUnlock()
	if finished {
		return
	}
	if _, err := p.finish(p.ctx, r); err != nil {
		p.logger.Error("finish backup session", "session", r.sessionID, "error", err)
	}
}

func (p *Pipeline) transfer(r *run, upload model.FileUpload) error {
	f, err := r.source.Open(upload.FilePath)
	if err != nil {
		return fmt.Errorf("open %q: %w", upload.FilePath, err)
	}
	defer f.Close()

	contentType, err := DetectContentType(f, upload.FileName)
	if err != nil {
		return fmt.Errorf("read %q: %w", upload.FilePath, err)
	}
	return r.dest.Put(p.ctx, upload.FilePath, f, upload.FileSize, contentType)
}

// finish closes r if it is still running: completed when every file was
// processed, stopped otherwise.
func (p *Pipeline) finish(ctx context.Context, r *run) (Status, error) {
	p.lifecycle.Lock()

	p.mu.Lock()
	if r.finished {
		s := r.status.clone()
		p.mu.Unlock()
		p.lifecycle.Unlock()
		return s, nil
	}
	r.finished = true
	r.stop = true
	r.status.IsRunning = false
	r.status.CurrentFile = ""
	final := model.SessionStatusStopped
	if r.cursor >= len(r.uploads) {
		final = model.SessionStatusCompleted
	}
	completed, failed := r.status.CompletedFiles, r.status.FailedFiles
	s := r.status.clone()
	p.mu.Unlock()

	err := p.store.FinishSession(ctx, r.sessionID, final, completed, failed, time.Now())
	p.lifecycle.Unlock()

	p.logger.Info("backup finished",
		"session", r.sessionID,
		"status", final,
		"completed", completed,
		"failed", failed,
		"total", len(r.uploads),
	)
	p.notify(s)
	return s, err
}

// Stop ends the running session after the file currently in flight. It is
// safe to call when nothing is running.
func (p *Pipeline) Stop(ctx context.Context) (Status, error) {
	p.mu.RLock()
	r := p.current
	p.mu.RUnlock()
	if r == nil {
		return p.Status(), nil
	}
	return p.finish(ctx, r)
}

// Wait blocks until the worker of the latest session has exited.
func (p *Pipeline) Wait(ctx context.Context) error {
	p.mu.RLock()
	r := p.current
	p.mu.RUnlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the running session and waits for the in-flight transfer.
// If ctx expires first the transfer is aborted.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	if _, err := p.Stop(ctx); err != nil {
		p.logger.Error("stop backup on shutdown", "error", err)
	}
	err := p.Wait(ctx)
	p.cancel()
	if err != nil {
		p.Wait(context.Background()) //nolint:errcheck
	}
	return err
}

// History returns the most recent sessions first.
func (p *Pipeline) History(ctx context.Context, limit int) ([]model.BackupSession, error) {
	sessions, err := p.store.ListSessions(ctx, limit)
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []model.BackupSession{}
	}
	return sessions, nil
}

// SessionDetails returns a session with its upload records, or nil if the
// session does not exist.
func (p *Pipeline) SessionDetails(ctx context.Context, id int64) (*model.BackupSessionDetails, error) {
	return p.store.GetSessionDetails(ctx, id)
}
