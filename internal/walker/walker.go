// Package walker traverses a photo tree and groups image files by the
// directory that directly contains them.
package walker

import (
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"strings"

	"github.com/go-git/go-billy/v5"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
}

// IsImage reports whether name carries a supported image extension.
func IsImage(name string) bool {
	return imageExtensions[strings.ToLower(path.Ext(name))]
}

// Index maps a slash-separated directory path, relative to the walk root,
// to the image file names found directly in it. The root is "".
type Index map[string][]string

// Dirs returns the indexed directory paths in lexical order.
func (ix Index) Dirs() []string {
	dirs := make([]string, 0, len(ix))
	for d := range ix {
		dirs = append(dirs, d)
	}
	slices.Sort(dirs)
	return dirs
}

// PhotoCount returns the number of files across all directories.
func (ix Index) PhotoCount() int {
	n := 0
	for _, files := range ix {
		n += len(files)
	}
	return n
}

// File is one image found by Files.
type File struct {
	Path string
	Name string
	Size int64
}

// Walk indexes every directory under the root of fsys that directly holds
// at least one image. Unreadable entries are logged and skipped.
func Walk(fsys billy.Filesystem, logger *slog.Logger) Index {
	return walkDir(fsys, "", logger)
}

func walkDir(fsys billy.Filesystem, rel string, logger *slog.Logger) Index {
	result := Index{}

	entries, err := readDir(fsys, rel)
	if err != nil {
		logger.Warn("read directory", "dir", displayPath(rel), "error", err)
		return result
	}

	var images []string
	for _, entry := range entries {
		entryPath := path.Join(rel, entry.Name())
		info, err := resolve(fsys, entryPath, entry)
		if err != nil {
			logger.Warn("stat entry", "path", entryPath, "error", err)
			continue
		}

		switch {
		case info.IsDir():
			for dir, files := range walkDir(fsys, entryPath, logger) {
				result[dir] = files
			}
		case info.Mode().IsRegular() && IsImage(entry.Name()):
			images = append(images, entry.Name())
		}
	}

	if len(images) > 0 {
		result[rel] = images
	}
	return result
}

// Files lists every image under the root of fsys depth-first, in lexical
// order within each directory.
func Files(fsys billy.Filesystem, logger *slog.Logger) []File {
	var files []File
	collectFiles(fsys, "", logger, &files)
	return files
}

func collectFiles(fsys billy.Filesystem, rel string, logger *slog.Logger, out *[]File) {
	entries, err := readDir(fsys, rel)
	if err != nil {
		logger.Warn("read directory", "dir", displayPath(rel), "error", err)
		return
	}

	for _, entry := range entries {
		entryPath := path.Join(rel, entry.Name())
		info, err := resolve(fsys, entryPath, entry)
		if err != nil {
			logger.Warn("stat entry", "path", entryPath, "error", err)
			continue
		}

		switch {
		case info.IsDir():
			collectFiles(fsys, entryPath, logger, out)
		case info.Mode().IsRegular() && IsImage(entry.Name()):
			*out = append(*out, File{
				Path: entryPath,
				Name: entry.Name(),
				Size: info.Size(),
			})
		}
	}
}

func readDir(fsys billy.Filesystem, rel string) ([]fs.FileInfo, error) {
	entries, err := fsys.ReadDir(rel)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(entries, func(a, b fs.FileInfo) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return entries, nil
}

// resolve follows symlinks to files. Symlinked directories are reported as
// plain symlinks so the walk cannot loop.
func resolve(fsys billy.Filesystem, entryPath string, entry fs.FileInfo) (fs.FileInfo, error) {
	if entry.Mode()&fs.ModeSymlink == 0 {
		return entry, nil
	}
	info, err := fsys.Stat(entryPath)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return entry, nil
	}
	return info, nil
}

func displayPath(rel string) string {
	if rel == "" {
		return "(root)"
	}
	return rel
}
