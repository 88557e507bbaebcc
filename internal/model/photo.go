package model

import "time"

// Directory is one folder of the indexed photo tree. Path is relative to the
// scanned source directory; the root itself has the empty path.
type Directory struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Path       string `json:"path"`
	PhotoCount int    `json:"photoCount"`
}

type Photo struct {
	ID           int64     `json:"id"`
	DirectoryID  int64     `json:"directoryId"`
	FileName     string    `json:"fileName"`
	FilePath     string    `json:"filePath"`
	FileSize     int64     `json:"fileSize"`
	DateModified time.Time `json:"dateModified"`
}

// PhotoView is the presentation shape of a photo returned by the listing.
type PhotoView struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Date      string `json:"date"`
	Thumbnail string `json:"thumbnail"`
}

type PhotoListing struct {
	SelectedFolder int64                  `json:"selectedFolder"`
	Directories    []Directory            `json:"directories"`
	PhotosByFolder map[string][]PhotoView `json:"photosByFolder"`
}
