package sftp

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/wisbric/auditdelivery/pkg/handler"
	"github.com/wisbric/auditdelivery/pkg/retry"
)

// Handler delivers payloads as uploaded files over SFTP.
type Handler struct {
	pool *ConnectionPool
}

// New builds an SFTP Handler with its own connection pool.
func New() *Handler {
	return &Handler{pool: NewConnectionPool()}
}

// ValidateConfig checks the SFTP destination config for structural validity.
func (h *Handler) ValidateConfig(raw json.RawMessage) handler.ConfigValidation {
	cfg, err := RawDecode(raw)
	if err != nil {
		return handler.ConfigValidation{Valid: false, Errors: []string{"config is not valid JSON: " + err.Error()}}
	}

	var errs []string
	if cfg.Host == "" {
		errs = append(errs, "host is required")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}
	if cfg.Username == "" {
		errs = append(errs, "username is required")
	}
	if cfg.Password == "" && cfg.PrivateKey == "" {
		errs = append(errs, "either password or privateKey is required")
	}
	if cfg.RemotePath == "" {
		errs = append(errs, "remotePath is required")
	} else if strings.Contains(cfg.RemotePath, "..") {
		errs = append(errs, "remotePath must not contain traversal sequences")
	}

	return handler.ConfigValidation{Valid: len(errs) == 0, Errors: errs}
}

// TestConnection dials, authenticates, and stats the configured remote path.
func (h *Handler) TestConnection(ctx context.Context, raw json.RawMessage) handler.ConnectionTestResult {
	cfg, err := RawDecode(raw)
	if err != nil {
		return handler.ConnectionTestResult{Success: false, Error: err.Error()}
	}

	start := time.Now()
	client, err := h.pool.Acquire(cfg)
	elapsed := time.Since(start)
	if err != nil {
		return handler.ConnectionTestResult{Success: false, ResponseTime: elapsed, Error: err.Error()}
	}
	defer h.pool.Release(cfg, client)

	if _, err := client.Stat(cfg.RemotePath); err != nil {
		return handler.ConnectionTestResult{Success: false, ResponseTime: elapsed, Error: fmt.Sprintf("remotePath not reachable: %v", err)}
	}

	return handler.ConnectionTestResult{Success: true, ResponseTime: elapsed, Details: "connected and remote path verified"}
}

// Deliver uploads the payload envelope as a file named per the destination's
// filename pattern, creating the remote directory if needed, then verifies
// the upload by comparing remote file size against the bytes sent.
func (h *Handler) Deliver(ctx context.Context, payload handler.Payload, raw json.RawMessage) handler.DeliveryResult {
	cfg, err := RawDecode(raw)
	if err != nil {
		return handler.DeliveryResult{Success: false, Error: "invalid config: " + err.Error(), Retryable: false}
	}

	now := time.Now().UTC()
	body, err := handler.BuildEnvelope(payload, now)
	if err != nil {
		return handler.DeliveryResult{Success: false, Error: "building envelope: " + err.Error(), Retryable: false}
	}

	filename := ResolveFilename(cfg.FilenamePattern, payload.DeliveryID.String(), payload.OrganizationID.String(), payload.Type, now)
	remoteFile := path.Join(cfg.RemotePath, filename)

	start := time.Now()
	client, err := h.pool.Acquire(cfg)
	if err != nil {
		elapsed := time.Since(start)
		classification := retry.ClassifyError(err)
		return handler.DeliveryResult{Success: false, ResponseTime: elapsed, Error: err.Error(), Retryable: classification.Retryable}
	}
	defer h.pool.Release(cfg, client)

	if err := client.MkdirAll(cfg.RemotePath); err != nil {
		elapsed := time.Since(start)
		classification := retry.ClassifyError(err)
		return handler.DeliveryResult{Success: false, ResponseTime: elapsed, Error: "creating remote directory: " + err.Error(), Retryable: classification.Retryable}
	}
	_ = client.Chmod(cfg.RemotePath, DirMode)

	f, err := client.Create(remoteFile)
	if err != nil {
		elapsed := time.Since(start)
		classification := retry.ClassifyError(err)
		return handler.DeliveryResult{Success: false, ResponseTime: elapsed, Error: "creating remote file: " + err.Error(), Retryable: classification.Retryable}
	}

	written, err := f.Write(body)
	closeErr := f.Close()
	elapsed := time.Since(start)
	if err != nil {
		classification := retry.ClassifyError(err)
		return handler.DeliveryResult{Success: false, ResponseTime: elapsed, Error: "writing remote file: " + err.Error(), Retryable: classification.Retryable}
	}
	if closeErr != nil {
		classification := retry.ClassifyError(closeErr)
		return handler.DeliveryResult{Success: false, ResponseTime: elapsed, Error: "closing remote file: " + closeErr.Error(), Retryable: classification.Retryable}
	}
	_ = client.Chmod(remoteFile, FileMode)

	info, err := client.Stat(remoteFile)
	if err != nil {
		classification := retry.ClassifyError(err)
		return handler.DeliveryResult{Success: false, ResponseTime: elapsed, Error: "verifying uploaded file: " + err.Error(), Retryable: classification.Retryable}
	}
	if info.Size() != int64(written) || info.Size() != int64(len(body)) {
		err := fmt.Errorf("integrity check failed: remote size %d does not match sent size %d", info.Size(), len(body))
		classification := retry.ClassifyError(err)
		return handler.DeliveryResult{
			Success:      false,
			ResponseTime: elapsed,
			Error:        err.Error(),
			Retryable:    classification.Retryable,
		}
	}

	deliveredAt := time.Now().UTC()
	return handler.DeliveryResult{
		Success:              true,
		ResponseTime:         elapsed,
		DeliveredAt:          &deliveredAt,
		CrossSystemReference: remoteFile,
		StatusCode:           0,
	}
}

// SupportsFeature reports which optional capabilities this handler provides.
func (h *Handler) SupportsFeature(f handler.Feature) bool {
	switch f {
	case handler.FeatureRetryWithBackoff, handler.FeatureConnectionPooling:
		return true
	default:
		return false
	}
}

// ConfigSchema returns a JSON-schema-shaped description of Config.
func (h *Handler) ConfigSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"required": ["host", "port", "username", "remotePath"],
		"properties": {
			"host": {"type": "string"},
			"port": {"type": "integer", "minimum": 1, "maximum": 65535},
			"username": {"type": "string"},
			"password": {"type": "string"},
			"privateKey": {"type": "string"},
			"remotePath": {"type": "string"},
			"filenamePattern": {"type": "string"}
		}
	}`)
}
