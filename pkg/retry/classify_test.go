package retry

import (
	"errors"
	"testing"
)

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantRetryable bool
	}{
		{name: "unauthorized is terminal", status: 401, wantRetryable: false},
		{name: "forbidden is terminal", status: 403, wantRetryable: false},
		{name: "not found is terminal", status: 404, wantRetryable: false},
		{name: "rate limited is retryable", status: 429, wantRetryable: true},
		{name: "internal server error is retryable", status: 500, wantRetryable: true},
		{name: "bad gateway is retryable", status: 502, wantRetryable: true},
		{name: "not implemented is terminal", status: 501, wantRetryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyHTTPStatus(tt.status, nil)
			if got.Retryable != tt.wantRetryable {
				t.Errorf("ClassifyHTTPStatus(%d) retryable = %v, want %v", tt.status, got.Retryable, tt.wantRetryable)
			}
		})
	}
}

func TestClassifyHTTPStatus_CustomCodes(t *testing.T) {
	custom := map[int]bool{599: true}
	got := ClassifyHTTPStatus(599, custom)
	if !got.Retryable {
		t.Error("expected custom retryable status code to be retryable")
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantRetryable bool
	}{
		{name: "nil error", err: nil, wantRetryable: false},
		{name: "connection reset", err: errors.New("dial tcp: connect: ECONNRESET"), wantRetryable: true},
		{name: "timeout text", err: errors.New("request timed out after 30s"), wantRetryable: true},
		{name: "rate limit text", err: errors.New("rate limit exceeded"), wantRetryable: true},
		{name: "invalid config", err: errors.New("invalid config: missing url"), wantRetryable: false},
		{name: "destination disabled", err: errors.New("destination disabled"), wantRetryable: false},
		{name: "auth failure", err: errors.New("auth failed: bad credentials"), wantRetryable: false},
		{name: "integrity check failed", err: errors.New("integrity check failed"), wantRetryable: false},
		{name: "unclassified", err: errors.New("something weird happened"), wantRetryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.err)
			if got.Retryable != tt.wantRetryable {
				t.Errorf("ClassifyError(%v) retryable = %v, want %v", tt.err, got.Retryable, tt.wantRetryable)
			}
		})
	}
}
