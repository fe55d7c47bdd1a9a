package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/storage"
)

// GCSBackend uploads objects to Google Cloud Storage using application
// default credentials, resolved lazily and cached for the process lifetime.
type GCSBackend struct {
	mu     sync.Mutex
	client *storage.Client
}

// NewGCSBackend builds a GCSBackend; the client is resolved on first Upload.
func NewGCSBackend() *GCSBackend {
	return &GCSBackend{}
}

// ValidateConfig requires a bucket name.
func (b *GCSBackend) ValidateConfig(cfg Config) []string {
	if cfg.Bucket == "" {
		return []string{"gcs: bucket is required"}
	}
	return nil
}

func (b *GCSBackend) resolveClient(ctx context.Context) (*storage.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		return b.client, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs: building client: %w", err)
	}
	b.client = client
	return client, nil
}

// Upload writes content to bucket/key.
func (b *GCSBackend) Upload(ctx context.Context, cfg Config, key string, content []byte, contentType string) (UploadResult, error) {
	client, err := b.resolveClient(ctx)
	if err != nil {
		return UploadResult{}, err
	}

	w := client.Bucket(cfg.Bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(content); err != nil {
		w.Close()
		return UploadResult{}, fmt.Errorf("gcs: writing object: %w", err)
	}
	if err := w.Close(); err != nil {
		return UploadResult{}, fmt.Errorf("gcs: finalizing object: %w", err)
	}
	return UploadResult{ETag: w.Attrs().Etag}, nil
}

// Exists reports whether key exists in bucket.
func (b *GCSBackend) Exists(ctx context.Context, cfg Config, key string) (bool, error) {
	client, err := b.resolveClient(ctx)
	if err != nil {
		return false, err
	}

	_, err = client.Bucket(cfg.Bucket).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("gcs: reading object attrs: %w", err)
	}
	return true, nil
}
