// Package sftp implements the SFTP delivery handler: pooled SSH/SFTP
// connections, filename pattern substitution, and a post-upload integrity
// check against the remote file size.
package sftp

import (
	"encoding/json"
	"strings"
	"time"
)

// Config is the decoded shape of an SFTP destination's config JSON.
type Config struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	Username       string `json:"username"`
	Password       string `json:"password,omitempty"`
	PrivateKey     string `json:"privateKey,omitempty"`
	RemotePath     string `json:"remotePath"`
	FilenamePattern string `json:"filenamePattern,omitempty"`
}

// DefaultFilenamePattern is used when a destination does not configure its
// own filenamePattern.
const DefaultFilenamePattern = "{type}-{deliveryId}-{timestamp}.json"

// DirMode and FileMode are applied to created remote directories and files.
const (
	DirMode  = 0o755
	FileMode = 0o644
)

// PoolIdleTimeout and PoolMaxSize bound the SFTP connection pool. The pool
// size matches the email package's SMTP pool; the idle timeout is twice as
// long.
const (
	PoolIdleTimeout = 10 * time.Minute
	PoolMaxSize     = 10
)

// RawDecode unmarshals a destination's raw config JSON into Config.
func RawDecode(raw json.RawMessage) (Config, error) {
	var cfg Config
	err := json.Unmarshal(raw, &cfg)
	return cfg, err
}

// ResolveFilename substitutes {deliveryId}, {organizationId}, {type}, and
// {timestamp} placeholders in the configured (or default) filename pattern.
func ResolveFilename(pattern, deliveryID, organizationID, eventType string, timestamp time.Time) string {
	if pattern == "" {
		pattern = DefaultFilenamePattern
	}
	replacer := strings.NewReplacer(
		"{deliveryId}", deliveryID,
		"{organizationId}", organizationID,
		"{type}", eventType,
		"{timestamp}", timestamp.UTC().Format("20060102T150405Z"),
	)
	return replacer.Replace(pattern)
}
