package backup

import (
	"io"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	defaultContentType = "application/octet-stream"
	sniffLen           = 512
)

var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".svg":  "image/svg+xml",
	".heic": "image/heic",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
}

// ContentType maps a file name to the content type uploaded with it.
func ContentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(name))]; ok {
		return ct
	}
	return defaultContentType
}

// DetectContentType returns ContentType(name) for extensions in the table.
// Other files are sniffed and keep an image or video result; anything else
// is application/octet-stream. r is rewound before returning.
func DetectContentType(r io.ReadSeeker, name string) (string, error) {
	if ct := ContentType(name); ct != defaultContentType {
		return ct, nil
	}

	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	if n > 0 {
		ct := mimetype.Detect(buf[:n]).String()
		if strings.HasPrefix(ct, "image/") || strings.HasPrefix(ct, "video/") {
			return ct, nil
		}
	}
	return defaultContentType, nil
}
