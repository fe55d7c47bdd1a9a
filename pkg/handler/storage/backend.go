package storage

import (
	"context"
	"fmt"
)

// UploadResult is a backend's outcome for one object upload.
type UploadResult struct {
	// ETag is the backend-reported content identifier, when one is returned.
	ETag string
}

// Backend is implemented by each object storage provider (S3, GCS, Azure).
type Backend interface {
	// ValidateConfig checks provider-specific config fields.
	ValidateConfig(cfg Config) []string
	// Upload writes content to bucket/key and returns the backend's result.
	Upload(ctx context.Context, cfg Config, key string, content []byte, contentType string) (UploadResult, error)
	// Exists reports whether an object exists at bucket/key.
	Exists(ctx context.Context, cfg Config, key string) (bool, error)
}

// Factory resolves a Backend by provider name.
type Factory struct {
	backends map[Provider]Backend
}

// NewFactory builds a Factory with the three built-in backends registered.
func NewFactory() *Factory {
	f := &Factory{backends: map[Provider]Backend{}}
	f.Register(ProviderS3, NewS3Backend())
	f.Register(ProviderGCS, NewGCSBackend())
	f.Register(ProviderAzure, NewAzureBackend())
	return f
}

// Register adds or replaces the backend for a provider name.
func (f *Factory) Register(provider Provider, b Backend) {
	f.backends[provider] = b
}

// Get resolves a backend by provider name.
func (f *Factory) Get(provider Provider) (Backend, error) {
	b, ok := f.backends[provider]
	if !ok {
		return nil, fmt.Errorf("storage: no backend registered for provider %q", provider)
	}
	return b, nil
}
