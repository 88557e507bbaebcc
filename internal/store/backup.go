package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/photobackup/internal/model"
)

// DefaultHistoryLimit is used when a caller asks for a non-positive limit.
const DefaultHistoryLimit = 50

// BackupStore persists backup sessions and their per-file upload records.
type BackupStore struct {
	db *sql.DB
}

func NewBackupStore(db *sql.DB) *BackupStore {
	return &BackupStore{db: db}
}

const sessionColumns = `id, start_time, end_time, status, total_files, completed_files,
	failed_files, total_size, source_directory, destination, destination_path`

const uploadColumns = `id, session_id, file_path, file_name, file_size, status, upload_time, error_message`

func scanSession(scanner interface{ Scan(...any) error }) (*model.BackupSession, error) {
	var b model.BackupSession
	var endTime sql.NullTime
	var destPath sql.NullString
	err := scanner.Scan(
		&b.ID, &b.StartTime, &endTime, &b.Status, &b.TotalFiles, &b.CompletedFiles,
		&b.FailedFiles, &b.TotalSize, &b.SourceDirectory, &b.Destination, &destPath,
	)
	if err != nil {
		return nil, err
	}
	if endTime.Valid {
		b.EndTime = &endTime.Time
	}
	b.DestinationPath = destPath.String
	return &b, nil
}

func scanUpload(scanner interface{ Scan(...any) error }) (*model.FileUpload, error) {
	var u model.FileUpload
	var uploadTime sql.NullTime
	var errMsg sql.NullString
	err := scanner.Scan(
		&u.ID, &u.SessionID, &u.FilePath, &u.FileName, &u.FileSize, &u.Status, &uploadTime, &errMsg,
	)
	if err != nil {
		return nil, err
	}
	if uploadTime.Valid {
		u.UploadTime = &uploadTime.Time
	}
	u.ErrorMessage = errMsg.String
	return &u, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// CreateSession inserts the session and one pending upload per file in a
// single transaction, so readers never observe a partially enumerated
// session. The returned uploads carry their assigned ids, in input order.
func (s *BackupStore) CreateSession(ctx context.Context, session model.BackupSession, files []model.FileUpload) (*model.BackupSessionDetails, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	session.StartTime = session.StartTime.UTC()
	result, err := tx.ExecContext(ctx,
		`INSERT INTO backup_sessions (start_time, end_time, status, total_files, completed_files, failed_files,
			total_size, source_directory, destination, destination_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.StartTime, session.EndTime, session.Status, session.TotalFiles, session.CompletedFiles,
		session.FailedFiles, session.TotalSize, session.SourceDirectory, session.Destination,
		nullString(session.DestinationPath),
	)
	if err != nil {
		return nil, fmt.Errorf("create backup session: %w", err)
	}
	session.ID, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("backup session id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO file_uploads (session_id, file_path, file_name, file_size, status)
		 VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return nil, fmt.Errorf("prepare upload insert: %w", err)
	}
	defer stmt.Close()

	uploads := make([]model.FileUpload, len(files))
	for i, f := range files {
		f.SessionID = session.ID
		f.Status = model.UploadStatusPending
		res, err := stmt.ExecContext(ctx, f.SessionID, f.FilePath, f.FileName, f.FileSize, f.Status)
		if err != nil {
			return nil, fmt.Errorf("create upload %q: %w", f.FilePath, err)
		}
		f.ID, _ = res.LastInsertId()
		uploads[i] = f
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit backup session: %w", err)
	}
	return &model.BackupSessionDetails{BackupSession: session, Files: uploads}, nil
}

func (s *BackupStore) GetSession(ctx context.Context, id int64) (*model.BackupSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM backup_sessions WHERE id = ?`, id,
	)
	b, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get backup session %d: %w", id, err)
	}
	return b, nil
}

// ListSessions returns the most recent sessions first.
func (s *BackupStore) ListSessions(ctx context.Context, limit int) ([]model.BackupSession, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM backup_sessions ORDER BY start_time DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list backup sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.BackupSession
	for rows.Next() {
		b, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup session: %w", err)
		}
		sessions = append(sessions, *b)
	}
	return sessions, rows.Err()
}

// UpdateCounters persists the aggregate progress of a session. It never
// touches the session status.
func (s *BackupStore) UpdateCounters(ctx context.Context, id int64, completed, failed int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE backup_sessions SET completed_files = ?, failed_files = ? WHERE id = ?`,
		completed, failed, id,
	)
	if err != nil {
		return fmt.Errorf("update session counters: %w", err)
	}
	return nil
}

// FinishSession closes a running session with its final status and counters.
// Stored counters never decrease. Sessions that are already closed are left
// untouched.
func (s *BackupStore) FinishSession(ctx context.Context, id int64, status model.SessionStatus, completed, failed int, endTime time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE backup_sessions SET status = ?,
			completed_files = MAX(completed_files, ?),
			failed_files = MAX(failed_files, ?),
			end_time = ?
		 WHERE id = ? AND status = ?`,
		status, completed, failed, endTime.UTC(), id, model.SessionStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("finish backup session %d: %w", id, err)
	}
	return nil
}

// FailInterrupted marks sessions left running by a previous process as
// failed and returns how many were affected.
func (s *BackupStore) FailInterrupted(ctx context.Context, endTime time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE backup_sessions SET status = ?, end_time = ? WHERE status = ?`,
		model.SessionStatusFailed, endTime.UTC(), model.SessionStatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("fail interrupted sessions: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// MarkUploadInProgress moves a pending upload to inProgress.
func (s *BackupStore) MarkUploadInProgress(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE file_uploads SET status = ? WHERE id = ? AND status = ?`,
		model.UploadStatusInProgress, id, model.UploadStatusPending,
	)
	if err != nil {
		return fmt.Errorf("mark upload %d in progress: %w", id, err)
	}
	return nil
}

// MarkUploadDone records the terminal outcome of an upload. Uploads that
// already reached a terminal status keep it.
func (s *BackupStore) MarkUploadDone(ctx context.Context, id int64, status model.UploadStatus, uploadTime time.Time, errorMsg string) error {
	if status != model.UploadStatusCompleted && status != model.UploadStatusFailed {
		return fmt.Errorf("mark upload %d: %q is not a terminal status", id, status)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE file_uploads SET status = ?, upload_time = ?, error_message = ?
		 WHERE id = ? AND status IN (?, ?)`,
		status, uploadTime.UTC(), nullString(errorMsg), id,
		model.UploadStatusPending, model.UploadStatusInProgress,
	)
	if err != nil {
		return fmt.Errorf("mark upload %d %s: %w", id, status, err)
	}
	return nil
}

// ListUploads returns the uploads of a session in enumeration order.
func (s *BackupStore) ListUploads(ctx context.Context, sessionID int64) ([]model.FileUpload, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+uploadColumns+` FROM file_uploads WHERE session_id = ? ORDER BY id`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	var uploads []model.FileUpload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		uploads = append(uploads, *u)
	}
	return uploads, rows.Err()
}

// GetSessionDetails returns a session with its uploads, or nil if unknown.
func (s *BackupStore) GetSessionDetails(ctx context.Context, id int64) (*model.BackupSessionDetails, error) {
	session, err := s.GetSession(ctx, id)
	if err != nil || session == nil {
		return nil, err
	}
	uploads, err := s.ListUploads(ctx, id)
	if err != nil {
		return nil, err
	}
	if uploads == nil {
		uploads = []model.FileUpload{}
	}
	return &model.BackupSessionDetails{BackupSession: *session, Files: uploads}, nil
}
