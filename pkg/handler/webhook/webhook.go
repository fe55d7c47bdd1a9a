// Package webhook implements the HTTP delivery handler: POST/PUT with a
// signed JSON envelope and security headers.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/auditdelivery/pkg/handler"
	"github.com/wisbric/auditdelivery/pkg/retry"
	"github.com/wisbric/auditdelivery/pkg/secret"
)

// Config is the decoded shape of a webhook destination's config JSON.
type Config struct {
	URL                string            `json:"url"`
	Method             string            `json:"method"`
	Headers            map[string]string `json:"headers,omitempty"`
	TimeoutMs          int               `json:"timeout,omitempty"`
	RetryConfig        *RetryConfig      `json:"retryConfig,omitempty"`
}

// RetryConfig mirrors the per-destination retry overrides from DestinationConfig.
type RetryConfig struct {
	MaxRetries        int `json:"maxRetries"`
	BackoffMultiplier int `json:"backoffMultiplier"`
	MaxBackoffDelay   int `json:"maxBackoffDelay"`
}

// SecretSource resolves the active signing secrets for a destination.
type SecretSource interface {
	GetActiveSecrets(ctx context.Context, destinationID uuid.UUID) ([]secret.Secret, error)
	RecordUsage(ctx context.Context, id uuid.UUID)
}

// Handler delivers payloads over HTTP with HMAC request signing.
type Handler struct {
	client  *http.Client
	secrets SecretSource
}

// New builds a webhook Handler using the given secret source for signing.
func New(secrets SecretSource) *Handler {
	return &Handler{
		client:  &http.Client{Timeout: handler.DefaultTimeout},
		secrets: secrets,
	}
}

// ValidateConfig checks the webhook destination config for structural validity.
func (h *Handler) ValidateConfig(raw json.RawMessage) handler.ConfigValidation {
	var cfg Config
	var errs, warnings []string

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return handler.ConfigValidation{Valid: false, Errors: []string{"config is not valid JSON: " + err.Error()}}
	}

	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "url must be an absolute http(s) URL")
	}
	method := strings.ToUpper(cfg.Method)
	if method != "" && method != "POST" && method != "PUT" {
		errs = append(errs, "method must be POST or PUT")
	}
	if cfg.TimeoutMs != 0 && (cfg.TimeoutMs < 1000 || cfg.TimeoutMs > 300000) {
		errs = append(errs, "timeout must be between 1000 and 300000 ms")
	}
	if u != nil && u.Scheme == "http" {
		warnings = append(warnings, "url uses plain http; https is recommended")
	}

	return handler.ConfigValidation{Valid: len(errs) == 0, Errors: errs, Warnings: warnings}
}

// TestConnection sends a lightweight probe request (HEAD, falling back to
// GET) and reports latency and status.
func (h *Handler) TestConnection(ctx context.Context, raw json.RawMessage) handler.ConnectionTestResult {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return handler.ConnectionTestResult{Success: false, Error: err.Error()}
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, cfg.URL, nil)
	if err != nil {
		return handler.ConnectionTestResult{Success: false, Error: err.Error()}
	}
	resp, err := h.client.Do(req)
	if err == nil && (resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented) {
		resp.Body.Close()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
		if err != nil {
			return handler.ConnectionTestResult{Success: false, Error: err.Error()}
		}
		resp, err = h.client.Do(req)
	}
	elapsed := time.Since(start)
	if err != nil {
		return handler.ConnectionTestResult{Success: false, ResponseTime: elapsed, Error: err.Error()}
	}
	defer resp.Body.Close()

	return handler.ConnectionTestResult{
		Success:      resp.StatusCode < 500,
		ResponseTime: elapsed,
		Details:      fmt.Sprintf("status %d", resp.StatusCode),
	}
}

// Deliver signs and POSTs/PUTs the payload envelope to the configured URL.
func (h *Handler) Deliver(ctx context.Context, payload handler.Payload, raw json.RawMessage) handler.DeliveryResult {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return handler.DeliveryResult{Success: false, Error: "invalid config: " + err.Error(), Retryable: false}
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodPost
	}

	now := time.Now().UTC()
	body, err := handler.BuildEnvelope(payload, now)
	if err != nil {
		return handler.DeliveryResult{Success: false, Error: "building envelope: " + err.Error(), Retryable: false}
	}

	timeout := handler.DefaultTimeout
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return handler.DeliveryResult{Success: false, Error: err.Error(), Retryable: false}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "auditdelivery-webhook/1.0")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("X-Delivery-ID", payload.DeliveryID.String())
	req.Header.Set("X-Organization-ID", payload.OrganizationID.String())
	req.Header.Set("X-Correlation-ID", payload.CorrelationID)
	req.Header.Set("X-Timestamp", now.Format(time.RFC3339))

	algorithm, signature, secretID := h.sign(ctx, payload.DestinationID, body)
	if signature != "" {
		req.Header.Set("X-Signature", signature)
		req.Header.Set("X-Algorithm", algorithm)
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		classification := retry.ClassifyError(err)
		return handler.DeliveryResult{Success: false, ResponseTime: elapsed, Error: err.Error(), Retryable: classification.Retryable}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if secretID != uuid.Nil {
		h.secrets.RecordUsage(ctx, secretID)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		classification := retry.ClassifyHTTPStatus(resp.StatusCode, nil)
		return handler.DeliveryResult{
			Success:      false,
			ResponseTime: elapsed,
			StatusCode:   resp.StatusCode,
			Error:        fmt.Sprintf("webhook returned status %d: %s", resp.StatusCode, truncate(respBody, 500)),
			Retryable:    classification.Retryable,
		}
	}

	deliveredAt := time.Now().UTC()
	return handler.DeliveryResult{
		Success:              true,
		ResponseTime:         elapsed,
		DeliveredAt:          &deliveredAt,
		StatusCode:           resp.StatusCode,
		CrossSystemReference: extractCrossSystemReference(resp.Header, respBody),
	}
}

// sign computes the X-Signature header over the canonical body bytes using
// the destination's active primary secret, if one exists.
func (h *Handler) sign(ctx context.Context, destinationID uuid.UUID, body []byte) (algorithm, signature string, secretID uuid.UUID) {
	if h.secrets == nil {
		return "", "", uuid.Nil
	}
	secrets, err := h.secrets.GetActiveSecrets(ctx, destinationID)
	if err != nil || len(secrets) == 0 {
		return "", "", uuid.Nil
	}
	active := secrets[0]
	return active.Algorithm, Sign(active.Algorithm, active.Key, body), active.ID
}

// Sign computes hex(HMAC(algorithm, secret, body)). Unrecognized algorithm
// names fall back to HMAC-SHA256, the default assigned to secrets that don't
// specify one.
func Sign(algorithm, secretKey string, body []byte) string {
	mac := hmac.New(hashFuncFor(algorithm), []byte(secretKey))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func hashFuncFor(algorithm string) func() hash.Hash {
	switch algorithm {
	case "HMAC-SHA512":
		return sha512.New
	default:
		return sha256.New
	}
}

// Verify checks a received signature against the body and secret within a
// clock-skew tolerance on the timestamp header value. A receiver library
// embeds this to validate inbound deliveries, passing the algorithm recorded
// against the secret that produced the signature.
func Verify(algorithm, secretKey, signature string, body []byte, timestamp time.Time, skew time.Duration) bool {
	if skew <= 0 {
		skew = 5 * time.Minute
	}
	if time.Since(timestamp).Abs() > skew {
		return false
	}
	expected := Sign(algorithm, secretKey, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// SupportsFeature reports which optional capabilities this handler provides.
func (h *Handler) SupportsFeature(f handler.Feature) bool {
	switch f {
	case handler.FeatureSignatureVerification, handler.FeatureIdempotency, handler.FeatureRetryWithBackoff, handler.FeatureConnectionPooling:
		return true
	default:
		return false
	}
}

// ConfigSchema returns a JSON-schema-shaped description of Config.
func (h *Handler) ConfigSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"required": ["url"],
		"properties": {
			"url": {"type": "string", "format": "uri"},
			"method": {"type": "string", "enum": ["POST", "PUT"]},
			"headers": {"type": "object"},
			"timeout": {"type": "integer", "minimum": 1000, "maximum": 300000}
		}
	}`)
}

var crossSystemHeaders = []string{"x-request-id", "x-correlation-id", "x-trace-id"}
var crossSystemBodyFields = []string{"id", "requestId", "correlationId", "traceId", "reference"}

// extractCrossSystemReference finds the first matching header, then falls
// back to common body fields, case-insensitively.
func extractCrossSystemReference(headers http.Header, body []byte) string {
	for _, h := range crossSystemHeaders {
		if v := headers.Get(h); v != "" {
			return v
		}
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err == nil {
		for _, field := range crossSystemBodyFields {
			if v, ok := decoded[field]; ok {
				if s, ok := v.(string); ok && s != "" {
					return s
				}
			}
		}
	}
	return ""
}
