package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
)

// AzureBackend uploads blobs to Azure Blob Storage using a per-account
// connection string, or an account URL with the default Azure credential.
// Clients are resolved lazily and cached by connection string plus URL.
type AzureBackend struct {
	mu      sync.Mutex
	clients map[string]*azblob.Client
}

// NewAzureBackend builds an AzureBackend; clients are resolved on first Upload.
func NewAzureBackend() *AzureBackend {
	return &AzureBackend{clients: map[string]*azblob.Client{}}
}

// ValidateConfig requires a bucket (container) name plus either a connection
// string or an account URL (for ambient-credential auth).
func (b *AzureBackend) ValidateConfig(cfg Config) []string {
	var errs []string
	if cfg.Bucket == "" {
		errs = append(errs, "azure: bucket (container) is required")
	}
	if cfg.ConnectionString == "" && cfg.AccountURL == "" {
		errs = append(errs, "azure: connectionString or accountUrl is required")
	}
	return errs
}

func (b *AzureBackend) resolveClient(cfg Config) (*azblob.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cacheKey := cfg.ConnectionString + cfg.AccountURL
	if client, ok := b.clients[cacheKey]; ok {
		return client, nil
	}

	if cfg.ConnectionString != "" {
		client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
		if err != nil {
			return nil, fmt.Errorf("azure: building client: %w", err)
		}
		b.clients[cacheKey] = client
		return client, nil
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("azure: resolving default credential: %w", err)
	}
	client, err := azblob.NewClient(cfg.AccountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azure: building client: %w", err)
	}
	b.clients[cacheKey] = client
	return client, nil
}

// Upload writes content to container/key.
func (b *AzureBackend) Upload(ctx context.Context, cfg Config, key string, content []byte, contentType string) (UploadResult, error) {
	client, err := b.resolveClient(cfg)
	if err != nil {
		return UploadResult{}, err
	}

	resp, err := client.UploadBuffer(ctx, cfg.Bucket, key, content, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return UploadResult{}, fmt.Errorf("azure: uploading blob: %w", err)
	}

	etag := ""
	if resp.ETag != nil {
		etag = string(*resp.ETag)
	}
	return UploadResult{ETag: etag}, nil
}

// Exists reports whether key exists in container.
func (b *AzureBackend) Exists(ctx context.Context, cfg Config, key string) (bool, error) {
	client, err := b.resolveClient(cfg)
	if err != nil {
		return false, err
	}

	_, err = client.ServiceClient().NewContainerClient(cfg.Bucket).NewBlobClient(key).GetProperties(ctx, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return false, nil
		}
		return false, fmt.Errorf("azure: reading blob properties: %w", err)
	}
	return true, nil
}
