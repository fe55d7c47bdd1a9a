package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Backend uploads objects to Amazon S3 using the ambient AWS credential
// chain, or a destination's static key pair when one is configured. Clients
// are resolved lazily and cached per region and access key id.
type S3Backend struct {
	mu      sync.Mutex
	clients map[string]*s3.Client
}

// NewS3Backend builds an S3Backend; clients are resolved on first Upload.
func NewS3Backend() *S3Backend {
	return &S3Backend{clients: map[string]*s3.Client{}}
}

// ValidateConfig requires a bucket name.
func (b *S3Backend) ValidateConfig(cfg Config) []string {
	if cfg.Bucket == "" {
		return []string{"s3: bucket is required"}
	}
	return nil
}

func (b *S3Backend) resolveClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cacheKey := cfg.Region + ":" + cfg.AccessKeyID
	if client, ok := b.clients[cacheKey]; ok {
		return client, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: loading aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	b.clients[cacheKey] = client
	return client, nil
}

// Upload puts content at bucket/key.
func (b *S3Backend) Upload(ctx context.Context, cfg Config, key string, content []byte, contentType string) (UploadResult, error) {
	client, err := b.resolveClient(ctx, cfg)
	if err != nil {
		return UploadResult{}, err
	}

	out, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return UploadResult{}, fmt.Errorf("s3: putting object: %w", err)
	}
	return UploadResult{ETag: aws.ToString(out.ETag)}, nil
}

// Exists reports whether key exists in bucket via HeadObject.
func (b *S3Backend) Exists(ctx context.Context, cfg Config, key string) (bool, error) {
	client, err := b.resolveClient(ctx, cfg)
	if err != nil {
		return false, err
	}

	_, err = client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(cfg.Bucket), Key: aws.String(key)})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("s3: heading object: %w", err)
	}
	return true, nil
}
