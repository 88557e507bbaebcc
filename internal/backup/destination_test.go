package backup

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/photobackup/internal/model"
)

type mockS3Client struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (m *mockS3Client) PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	m.inputs = append(m.inputs, input)
	m.bodies = append(m.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestLocalDestinationPut(t *testing.T) {
	root := filepath.Join(t.TempDir(), "backups")
	dest, err := NewLocalDestination(root)
	require.NoError(t, err)

	err = dest.Put(context.Background(), "2024/a.jpg", strings.NewReader("jpeg"), 4, "image/jpeg")
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(root, "2024", "a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(got))
	assert.NoFileExists(t, filepath.Join(root, "2024", "a.jpg.tmp"))
}

func TestLocalDestinationOverwrites(t *testing.T) {
	dest, err := NewLocalDestination(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, dest.Put(ctx, "a.jpg", strings.NewReader("old"), 3, ""))
	require.NoError(t, dest.Put(ctx, "a.jpg", strings.NewReader("newer"), 5, ""))

	got, err := os.ReadFile(filepath.Join(dest.root, "a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "newer", string(got))
}

func TestLocalDestinationRejectsEscape(t *testing.T) {
	dest, err := NewLocalDestination(t.TempDir())
	require.NoError(t, err)

	err = dest.Put(context.Background(), "../outside.jpg", strings.NewReader("x"), 1, "")
	assert.Error(t, err)
}

func TestLocalDestinationShortWrite(t *testing.T) {
	root := t.TempDir()
	dest, err := NewLocalDestination(root)
	require.NoError(t, err)

	err = dest.Put(context.Background(), "a.jpg", strings.NewReader("ab"), 10, "")
	assert.Error(t, err)
	assert.NoFileExists(t, filepath.Join(root, "a.jpg"))
	assert.NoFileExists(t, filepath.Join(root, "a.jpg.tmp"))
}

func TestS3DestinationPut(t *testing.T) {
	client := &mockS3Client{}
	dest := NewS3Destination(client, "photos", "/nightly/")

	err := dest.Put(context.Background(), "sub/c.png", strings.NewReader("png"), 3, ContentType("c.png"))
	require.NoError(t, err)

	require.Len(t, client.inputs, 1)
	in := client.inputs[0]
	assert.Equal(t, "photos", aws.ToString(in.Bucket))
	assert.Equal(t, "nightly/sub/c.png", aws.ToString(in.Key))
	assert.Equal(t, "image/png", aws.ToString(in.ContentType))
	assert.EqualValues(t, 3, aws.ToInt64(in.ContentLength))
	assert.Equal(t, "png", string(client.bodies[0]))
}

func TestS3DestinationKeyWithoutPrefix(t *testing.T) {
	dest := NewS3Destination(&mockS3Client{}, "photos", "")
	assert.Equal(t, "a.jpg", dest.Key("a.jpg"))
}

func TestS3DestinationError(t *testing.T) {
	client := &mockS3Client{err: &smithy.GenericAPIError{Code: "AccessDenied", Message: "no write access"}}
	dest := NewS3Destination(client, "photos", "")

	err := dest.Put(context.Background(), "a.jpg", strings.NewReader("x"), 1, "image/jpeg")
	require.Error(t, err)
	assert.Equal(t, "AccessDenied: no write access", errorMessage(err))
}

func TestOpener(t *testing.T) {
	client := &mockS3Client{}
	open := newOpener(Config{LocalPath: t.TempDir(), S3: S3Config{Bucket: "photos"}}, client)

	d, err := open(model.DestinationLocal, "")
	require.NoError(t, err)
	assert.IsType(t, &LocalDestination{}, d)

	override := filepath.Join(t.TempDir(), "elsewhere")
	d, err = open(model.DestinationLocal, override)
	require.NoError(t, err)
	local := d.(*LocalDestination)
	assert.Equal(t, override, local.root)

	d, err = open(model.DestinationS3, "prefix")
	require.NoError(t, err)
	remote := d.(*S3Destination)
	assert.Equal(t, "photos", remote.bucket)
	assert.Equal(t, "prefix/a.jpg", remote.Key("a.jpg"))

	_, err = open(model.Destination("ftp"), "")
	assert.ErrorIs(t, err, ErrInvalidDestination)
}

func TestContentType(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"a.jpg", "image/jpeg"},
		{"a.JPEG", "image/jpeg"},
		{"a.png", "image/png"},
		{"a.webp", "image/webp"},
		{"clip.mov", "video/quicktime"},
		{"noext", "application/octet-stream"},
		{"a.raw", "application/octet-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ContentType(tt.name))
		})
	}
}

func TestDetectContentType(t *testing.T) {
	png := "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"

	tests := []struct {
		name string
		body string
		file string
		want string
	}{
		{"extension wins over content", png, "photo.jpg", "image/jpeg"},
		{"text with known extension", "not really a jpeg", "a.jpg", "image/jpeg"},
		{"empty with known extension", "", "a.gif", "image/gif"},
		{"unknown extension is sniffed", png, "upload.bin", "image/png"},
		{"unknown extension and content", "plain", "notes", "application/octet-stream"},
		{"empty without extension", "", "blank", "application/octet-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := strings.NewReader(tt.body)
			got, err := DetectContentType(r, tt.file)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			rest, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, tt.body, string(rest), "reader must be rewound")
		})
	}
}
