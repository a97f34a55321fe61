// Package publish uploads finished output archives to an S3-compatible
// object store.
package publish

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/rshade/slidetiler/internal/logging"
)

// Options configures the S3 publisher.
type Options struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// S3 uploads archives to one bucket.
type S3 struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3 connects to the object store and creates the bucket if it does not
// exist yet.
func NewS3(ctx context.Context, opts Options) (*S3, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if !exists {
		if err = client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &S3{client: client, bucket: opts.Bucket, prefix: opts.Prefix}, nil
}

// ObjectKey returns "<prefix>/<runID>/<archive file name>".
func ObjectKey(prefix, runID, archivePath string) string {
	parts := make([]string, 0, 3)
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, runID, filepath.Base(archivePath))
	return path.Join(parts...)
}

// Publish uploads the archive and returns its s3:// location.
func (s *S3) Publish(ctx context.Context, runID, archivePath string) (string, error) {
	key := ObjectKey(s.prefix, runID, archivePath)

	info, err := s.client.FPutObject(ctx, s.bucket, key, archivePath, minio.PutObjectOptions{
		ContentType: "application/zip",
		UserMetadata: map[string]string{
			"run-id": runID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload archive: %w", err)
	}

	location := fmt.Sprintf("s3://%s/%s", s.bucket, key)
	logging.FromContext(ctx).Info().Ctx(ctx).
		Str("component", "publish").
		Str("location", location).
		Int64("bytes", info.Size).
		Msg("archive published")
	return location, nil
}
