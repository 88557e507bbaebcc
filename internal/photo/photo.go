// Package photo serves the read side of the photo index.
package photo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dukerupert/photobackup/internal/model"
	"github.com/dukerupert/photobackup/internal/store"
)

var ErrNotFound = errors.New("photo not found")

const dateLayout = "2006-01-02"

type Service struct {
	photos *store.PhotoStore
}

func NewService(ps *store.PhotoStore) *Service {
	return &Service{photos: ps}
}

// ThumbnailURL returns the route a photo's bytes are served from.
func ThumbnailURL(directoryID int64, fileName string) string {
	return fmt.Sprintf("/api/photos/thumbnail/%d/%s", directoryID, url.PathEscape(fileName))
}

// List returns the indexed directories and their photos grouped by
// directory id. SelectedFolder is the first directory's id, or 0 when the
// index is empty.
func (s *Service) List(ctx context.Context) (model.PhotoListing, error) {
	dirs, err := s.photos.ListDirectories(ctx)
	if err != nil {
		return model.PhotoListing{}, err
	}
	photos, err := s.photos.ListPhotos(ctx)
	if err != nil {
		return model.PhotoListing{}, err
	}

	listing := model.PhotoListing{
		Directories:    dirs,
		PhotosByFolder: make(map[string][]model.PhotoView, len(dirs)),
	}
	if listing.Directories == nil {
		listing.Directories = []model.Directory{}
	}
	if len(dirs) > 0 {
		listing.SelectedFolder = dirs[0].ID
	}

	for _, p := range photos {
		key := strconv.FormatInt(p.DirectoryID, 10)
		listing.PhotosByFolder[key] = append(listing.PhotosByFolder[key], model.PhotoView{
			ID:        p.ID,
			Name:      p.FileName,
			Date:      p.DateModified.UTC().Format(dateLayout),
			Thumbnail: ThumbnailURL(p.DirectoryID, p.FileName),
		})
	}
	return listing, nil
}

// ResolvePhotoFile returns the absolute path of fileName inside the indexed
// directory folderID under baseDir. The file must exist on disk; the index
// may be stale.
func (s *Service) ResolvePhotoFile(ctx context.Context, baseDir string, folderID int64, fileName string) (string, error) {
	if fileName == "" || fileName == "." || fileName == ".." || strings.ContainsAny(fileName, `/\`) {
		return "", ErrNotFound
	}

	dir, err := s.photos.GetDirectory(ctx, folderID)
	if err != nil {
		return "", err
	}
	if dir == nil {
		return "", ErrNotFound
	}

	p := filepath.Join(baseDir, filepath.FromSlash(dir.Path), fileName)
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", p, err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.Mode().IsRegular() {
		return "", ErrNotFound
	}
	return abs, nil
}
