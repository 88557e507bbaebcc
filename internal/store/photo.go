package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/photobackup/internal/model"
)

// PhotoStore persists the scanned photo index: directories and the photos
// they own. Both tables are keyed by their relative path.
type PhotoStore struct {
	db *sql.DB
}

func NewPhotoStore(db *sql.DB) *PhotoStore {
	return &PhotoStore{db: db}
}

// ClearIndex deletes every photo and directory row.
func (s *PhotoStore) ClearIndex(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM photos`); err != nil {
		return fmt.Errorf("clear photos: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM photo_directories`); err != nil {
		return fmt.Errorf("clear directories: %w", err)
	}
	return tx.Commit()
}

// UpsertDirectory inserts the directory or updates the row already stored
// under the same path, returning its id.
func (s *PhotoStore) UpsertDirectory(ctx context.Context, name, path string, photoCount int) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO photo_directories (name, path, photo_count, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
			name = excluded.name,
			photo_count = excluded.photo_count,
			updated_at = excluded.updated_at
		 RETURNING id`,
		name, path, photoCount, time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert directory %q: %w", path, err)
	}
	return id, nil
}

// BulkUpsertPhotos writes photos in a single transaction, keyed by file path.
func (s *PhotoStore) BulkUpsertPhotos(ctx context.Context, photos []model.Photo) error {
	if len(photos) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO photos (directory_id, file_name, file_path, file_size, date_modified)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(file_path) DO UPDATE SET
			directory_id = excluded.directory_id,
			file_name = excluded.file_name,
			file_size = excluded.file_size,
			date_modified = excluded.date_modified`,
	)
	if err != nil {
		return fmt.Errorf("prepare photo upsert: %w", err)
	}
	defer stmt.Close()

	for _, p := range photos {
		if _, err := stmt.ExecContext(ctx, p.DirectoryID, p.FileName, p.FilePath, p.FileSize, p.DateModified.UTC()); err != nil {
			return fmt.Errorf("upsert photo %q: %w", p.FilePath, err)
		}
	}
	return tx.Commit()
}

func (s *PhotoStore) GetDirectory(ctx context.Context, id int64) (*model.Directory, error) {
	var d model.Directory
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, path, photo_count FROM photo_directories WHERE id = ?`, id,
	).Scan(&d.ID, &d.Name, &d.Path, &d.PhotoCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get directory %d: %w", id, err)
	}
	return &d, nil
}

func (s *PhotoStore) ListDirectories(ctx context.Context) ([]model.Directory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, path, photo_count FROM photo_directories ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list directories: %w", err)
	}
	defer rows.Close()

	var dirs []model.Directory
	for rows.Next() {
		var d model.Directory
		if err := rows.Scan(&d.ID, &d.Name, &d.Path, &d.PhotoCount); err != nil {
			return nil, fmt.Errorf("scan directory: %w", err)
		}
		dirs = append(dirs, d)
	}
	return dirs, rows.Err()
}

// ListPhotos returns every photo ordered by directory, then insertion order.
func (s *PhotoStore) ListPhotos(ctx context.Context) ([]model.Photo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, directory_id, file_name, file_path, file_size, date_modified
		 FROM photos ORDER BY directory_id, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	defer rows.Close()

	var photos []model.Photo
	for rows.Next() {
		var p model.Photo
		if err := rows.Scan(&p.ID, &p.DirectoryID, &p.FileName, &p.FilePath, &p.FileSize, &p.DateModified); err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		photos = append(photos, p)
	}
	return photos, rows.Err()
}

// Counts returns the number of stored directories and photos.
func (s *PhotoStore) Counts(ctx context.Context) (directories, photos int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM photo_directories), (SELECT COUNT(*) FROM photos)`,
	).Scan(&directories, &photos)
	if err != nil {
		return 0, 0, fmt.Errorf("count index: %w", err)
	}
	return directories, photos, nil
}
