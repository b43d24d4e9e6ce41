// Package blob provides object storage for extracted assets using MinIO.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/NightMareKD/crawler-medicine/internal/logger"
)

// Config holds object storage configuration.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// Store uploads and downloads asset bytes. Uploads are idempotent:
// re-uploading the same path overwrites the previous object, which is
// the behavior retried segregation relies on.
type Store struct {
	client *miniogo.Client
	bucket string
	logger logger.Interface
}

// NewStore creates a MinIO-backed asset store.
func NewStore(cfg Config, log logger.Interface) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("blob storage endpoint required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("blob storage bucket required")
	}

	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	log.Info("asset store initialized", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)

	return &Store{client: client, bucket: cfg.Bucket, logger: log}, nil
}

// Upload writes data to path and returns the storage path usable as a
// stable reference.
func (s *Store) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(
		ctx,
		s.bucket,
		path,
		bytes.NewReader(data),
		int64(len(data)),
		miniogo.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		return "", fmt.Errorf("failed to upload asset: %w", err)
	}

	s.logger.Debug("uploaded asset", "path", path, "size", len(data))
	return path, nil
}

// Download returns the bytes stored at path.
func (s *Store) Download(ctx context.Context, path string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, path, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to open asset %s: %w", path, err)
	}
	defer obj.Close()

	data, readErr := io.ReadAll(obj)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read asset %s: %w", path, readErr)
	}

	return data, nil
}

// HealthCheck verifies connectivity and that the bucket exists.
func (s *Store) HealthCheck(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("blob storage health check failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}

var (
	// invalidObjectNameChars matches characters that are problematic in
	// MinIO/S3 object names.
	invalidObjectNameChars = regexp.MustCompile(`[\\?*|<>:"\x00-\x1F ]`)
	consecutiveUnderscores = regexp.MustCompile(`_{2,}`)
)

// SanitizeObjectName normalizes a path segment for use in object keys.
func SanitizeObjectName(name string) string {
	if name == "" {
		return "unknown"
	}

	normalized := strings.ToLower(name)
	normalized = invalidObjectNameChars.ReplaceAllString(normalized, "_")
	normalized = consecutiveUnderscores.ReplaceAllString(normalized, "_")
	normalized = strings.Trim(normalized, "_")

	if normalized == "" {
		return "unknown"
	}
	return normalized
}
