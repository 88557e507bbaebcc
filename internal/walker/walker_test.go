package walker

import (
	"io"
	"log/slog"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTree(t *testing.T, files map[string]string) billy.Filesystem {
	t.Helper()
	fsys := memfs.New()
	for name, content := range files {
		require.NoError(t, util.WriteFile(fsys, name, []byte(content), 0o644))
	}
	return fsys
}

func TestIsImage(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"a.jpg", true},
		{"a.JPEG", true},
		{"a.Png", true},
		{"a.gif", true},
		{"a.webp", true},
		{"a.bmp", true},
		{"a.txt", false},
		{"a.heic", false},
		{"jpg", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsImage(tt.name), tt.name)
	}
}

func TestWalkFiltersAndGroups(t *testing.T) {
	fsys := newTree(t, map[string]string{
		"a.jpg":     "a",
		"b.txt":     "b",
		"sub/c.png": "c",
	})

	ix := Walk(fsys, discard)

	assert.Equal(t, Index{"": {"a.jpg"}, "sub": {"c.png"}}, ix)
	assert.Equal(t, 2, ix.PhotoCount())
	assert.Equal(t, []string{"", "sub"}, ix.Dirs())
}

func TestWalkOmitsDirectoriesWithoutDirectImages(t *testing.T) {
	fsys := newTree(t, map[string]string{
		"readme.md":                 "x",
		"2024/summer/beach/one.jpg": "1",
		"2024/summer/beach/two.JPG": "2",
		"2024/notes.txt":            "n",
	})
	require.NoError(t, fsys.MkdirAll("empty/deeper", 0o755))

	ix := Walk(fsys, discard)

	assert.Equal(t, Index{"2024/summer/beach": {"one.jpg", "two.JPG"}}, ix)
}

func TestWalkEmptyTree(t *testing.T) {
	ix := Walk(memfs.New(), discard)
	assert.Empty(t, ix)
}

func TestWalkMissingRoot(t *testing.T) {
	fsys, err := memfs.New().Chroot("nope")
	require.NoError(t, err)

	ix := Walk(fsys, discard)
	assert.Empty(t, ix)
}

func TestFilesOrderAndSizes(t *testing.T) {
	fsys := newTree(t, map[string]string{
		"z.jpg":        "zz",
		"b/2.png":      "222",
		"b/1.gif":      "1",
		"a/deep/x.bmp": "xxxx",
		"a/skip.doc":   "no",
	})

	files := Files(fsys, discard)

	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{"a/deep/x.bmp", "b/1.gif", "b/2.png", "z.jpg"}, paths)
	assert.Equal(t, "x.bmp", files[0].Name)
	assert.EqualValues(t, 4, files[0].Size)
	assert.EqualValues(t, 2, files[3].Size)
}
