package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/claimsight/document-processing-service/internal/config"
	"github.com/claimsight/document-processing-service/internal/domain"
)

// GCSStore is a BlobStore backed by Google Cloud Storage.
type GCSStore struct {
	client  *gcs.Client
	bucket  string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewGCSStore creates a BlobStore backed by the configured GCS bucket.
// Credentials come from the explicit service account JSON when set,
// otherwise Application Default Credentials.
func NewGCSStore(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("bucket %q not accessible: %w", cfg.Bucket, err)
	}

	timeout := cfg.OperationTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	logger.Info().Str("bucket", cfg.Bucket).Msg("blob store initialized")

	return &GCSStore{
		client:  client,
		bucket:  cfg.Bucket,
		timeout: timeout,
		logger:  logger.With().Str("component", "blob-store").Logger(),
	}, nil
}

// Write stores the blob under key with the given content type.
func (s *GCSStore) Write(ctx context.Context, key string, data []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	wc := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	wc.ContentType = contentType

	if _, err := wc.Write(data); err != nil {
		return domain.NewTransientInfraError("blob store", fmt.Sprintf("write %s: %v", key, err), err)
	}
	if err := wc.Close(); err != nil {
		return domain.NewTransientInfraError("blob store", fmt.Sprintf("close writer %s: %v", key, err), err)
	}

	s.logger.Debug().Str("key", key).Int("bytes", len(data)).Msg("blob written")
	return nil
}

// Read returns the blob stored under key.
func (s *GCSStore) Read(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rc, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, domain.NewNotFoundError("blob", key)
		}
		return nil, domain.NewTransientInfraError("blob store", fmt.Sprintf("open %s: %v", key, err), err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, domain.NewTransientInfraError("blob store", fmt.Sprintf("read %s: %v", key, err), err)
	}
	return data, nil
}

// Delete removes the blob stored under key.
func (s *GCSStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil
		}
		return domain.NewTransientInfraError("blob store", fmt.Sprintf("delete %s: %v", key, err), err)
	}
	return nil
}

// Exists reports whether a blob is stored under key.
func (s *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		return false, domain.NewTransientInfraError("blob store", fmt.Sprintf("stat %s: %v", key, err), err)
	}
	return true, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

var _ BlobStore = (*GCSStore)(nil)
