package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/dukerupert/photobackup/internal/model"
)

// Destination receives the files of a backup session one at a time.
type Destination interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
}

// Opener resolves a destination kind and the optional per-request path to a
// Destination. It returns ErrDestinationUnavailable when the kind is known
// but not configured.
type Opener func(dest model.Destination, destPath string) (Destination, error)

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// Config holds destination configuration.
type Config struct {
	// LocalPath is used for local backups that do not name a path.
	LocalPath string
	S3        S3Config
}

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client builds a client from static credentials when they are set and
// from the default AWS credential chain otherwise.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts := s3.Options{
			Region:       cfg.Region,
			Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
			UsePathStyle: cfg.Endpoint != "",
		}
		if cfg.Endpoint != "" {
			opts.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		return s3.New(opts), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// NewOpener returns an Opener for cfg. The S3 client is only built when a
// bucket is configured.
func NewOpener(ctx context.Context, cfg Config) (Opener, error) {
	var client s3Client
	if cfg.S3.Bucket != "" {
		c, err := NewS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		client = c
	}
	return newOpener(cfg, client), nil
}

func newOpener(cfg Config, client s3Client) Opener {
	return func(dest model.Destination, destPath string) (Destination, error) {
		switch dest {
		case model.DestinationLocal:
			root := destPath
			if root == "" {
				root = cfg.LocalPath
			}
			if root == "" {
				return nil, fmt.Errorf("%w: no local backup path configured", ErrDestinationUnavailable)
			}
			return NewLocalDestination(root)
		case model.DestinationS3:
			if client == nil {
				return nil, fmt.Errorf("%w: no S3 bucket configured", ErrDestinationUnavailable)
			}
			return NewS3Destination(client, cfg.S3.Bucket, destPath), nil
		default:
			return nil, fmt.Errorf("%w: %q", ErrInvalidDestination, dest)
		}
	}
}

// LocalDestination copies files under a root directory, keeping their
// relative layout.
type LocalDestination struct {
	root string
}

// NewLocalDestination creates a LocalDestination rooted at root, creating the
// directory if needed.
func NewLocalDestination(root string) (*LocalDestination, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create backup root %q: %w", root, err)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve backup root: %w", err)
	}
	return &LocalDestination{root: absRoot}, nil
}

func (l *LocalDestination) abs(key string) (string, error) {
	joined := filepath.Join(l.root, filepath.Clean(filepath.FromSlash(key)))
	rel, err := filepath.Rel(l.root, joined)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %q escapes backup root", key)
	}
	return joined, nil
}

// Put streams body to key using a temp file and an atomic rename.
func (l *LocalDestination) Put(ctx context.Context, key string, body io.Reader, size int64, _ string) error {
	dest, err := l.abs(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return fmt.Errorf("mkdir %q: %w", filepath.Dir(dest), err)
	}

	tmp := dest + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("open tmp %q: %w", tmp, err)
	}

	n, werr := io.Copy(f, body)
	cerr := f.Close()

	if werr != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("write %q: %w", key, werr)
	}
	if cerr != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("close %q: %w", key, cerr)
	}
	if size >= 0 && n != size {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("write %q: copied %d of %d bytes", key, n, size)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("rename %q: %w", key, err)
	}
	return nil
}

// S3Destination uploads files to a bucket under an optional key prefix.
type S3Destination struct {
	client s3Client
	bucket string
	prefix string
}

func NewS3Destination(client s3Client, bucket, prefix string) *S3Destination {
	return &S3Destination{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// Key returns the object key a relative file path is stored under.
func (d *S3Destination) Key(rel string) string {
	if d.prefix == "" {
		return rel
	}
	return path.Join(d.prefix, rel)
}

// Put reads the whole file and uploads it as a single object.
func (d *S3Destination) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read %q: %w", key, err)
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("read %q: got %d of %d bytes", key, len(data), size)
	}

	_, err = d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(d.bucket),
		Key:           aws.String(d.Key(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("upload to s3: %w", err)
	}
	return nil
}

// errorMessage renders err for an upload record, preferring the service
// error code when the failure came from the storage API.
func errorMessage(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
	return err.Error()
}
