package delivery

import "errors"

// Sentinel error codes surfaced to producers and the admin API. Callers
// should use errors.Is against these; HTTP handlers translate them to the
// status codes documented alongside each one.
var (
	// ErrDestinationNotFound means the referenced destination id does not
	// exist for the calling organization. HTTP 404.
	ErrDestinationNotFound = errors.New("DESTINATION_NOT_FOUND")

	// ErrDestinationDisabled means the destination exists but is soft-disabled.
	// HTTP 409.
	ErrDestinationDisabled = errors.New("DESTINATION_DISABLED")

	// ErrInvalidConfig means the destination config failed ValidateConfig.
	// HTTP 422.
	ErrInvalidConfig = errors.New("INVALID_CONFIG")

	// ErrDuplicateIdempotencyKey is not itself returned as a failure: an
	// enqueue with a duplicate key returns the existing delivery id with no
	// error. It is exported so callers that want to detect "this was already
	// enqueued" can check an EnqueueResult's Created field (false) instead.
	ErrDuplicateIdempotencyKey = errors.New("DUPLICATE_IDEMPOTENCY_KEY")

	// ErrCircuitOpen means the destination's circuit breaker currently
	// suppresses delivery. Transient — HTTP 503.
	ErrCircuitOpen = errors.New("CIRCUIT_OPEN")

	// ErrRateLimited means a handler's advisory rate limiter denied the
	// attempt. Transient — HTTP 429.
	ErrRateLimited = errors.New("RATE_LIMITED")

	// ErrRetriesExhausted means a delivery reached its max retry count and
	// was marked terminally failed. HTTP 200 on status queries (informational,
	// not an API error) — exported so callers can compare against it directly.
	ErrRetriesExhausted = errors.New("RETRIES_EXHAUSTED")
)
