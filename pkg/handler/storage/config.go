// Package storage implements the object-storage delivery handler: upload to
// S3, Google Cloud Storage, or Azure Blob Storage, returning the object key
// as the cross-system reference.
package storage

import (
	"encoding/json"
	"strings"
	"time"
)

// Provider names the supported object storage backends.
type Provider string

const (
	ProviderS3    Provider = "s3"
	ProviderGCS   Provider = "gcp"
	ProviderAzure Provider = "azure"
)

// Config is the decoded shape of a storage destination's config JSON.
type Config struct {
	ProviderName Provider `json:"provider"`
	Bucket       string   `json:"bucket"`
	Region       string   `json:"region,omitempty"`
	// Path is the destination's object key prefix, per the wire config shape.
	Path       string `json:"path,omitempty"`
	KeyPattern string `json:"keyPattern,omitempty"`
	// ConnectionString carries the Azure Storage account connection string;
	// unused by S3 and GCS.
	ConnectionString string `json:"connectionString,omitempty"`
	// AccountURL, when set instead of ConnectionString, makes the Azure
	// backend authenticate via the ambient Azure credential chain (managed
	// identity, workload identity, CLI login) rather than a shared secret.
	AccountURL string `json:"accountUrl,omitempty"`
	// AccessKeyID and SecretAccessKey pin the S3 backend to a static
	// credential pair for this destination instead of the ambient AWS
	// credential chain, for tenants whose bucket lives in a different
	// account than the one the delivery process runs in.
	AccessKeyID     string `json:"accessKeyId,omitempty"`
	SecretAccessKey string `json:"secretAccessKey,omitempty"`
}

// DefaultKeyPattern is the object key layout used when a destination does
// not configure its own keyPattern.
const DefaultKeyPattern = "{organizationId}/{type}/{deliveryId}-{timestamp}.json"

// RawDecode unmarshals a destination's raw config JSON into Config.
func RawDecode(raw json.RawMessage) (Config, error) {
	var cfg Config
	err := json.Unmarshal(raw, &cfg)
	return cfg, err
}

// ResolveKey substitutes {organizationId}, {type}, {deliveryId}, and
// {timestamp} placeholders in the configured (or default) object key
// pattern, prefixed by cfg.Path when set.
func ResolveKey(cfg Config, deliveryID, organizationID, eventType string, timestamp time.Time) string {
	pattern := cfg.KeyPattern
	if pattern == "" {
		pattern = DefaultKeyPattern
	}
	replacer := strings.NewReplacer(
		"{deliveryId}", deliveryID,
		"{organizationId}", organizationID,
		"{type}", eventType,
		"{timestamp}", timestamp.UTC().Format("20060102T150405Z"),
	)
	key := replacer.Replace(pattern)
	if cfg.Path != "" {
		key = strings.TrimSuffix(cfg.Path, "/") + "/" + strings.TrimPrefix(key, "/")
	}
	return key
}
