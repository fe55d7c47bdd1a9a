package retry

import (
	"testing"
	"time"
)

func TestCalculateBackoff_Exponential(t *testing.T) {
	cfg := Config{
		BaseDelay:  time.Second,
		Multiplier: 2,
		MaxDelay:   time.Minute,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: time.Second},
		{attempt: 2, want: 2 * time.Second},
		{attempt: 3, want: 4 * time.Second},
		{attempt: 0, want: time.Second}, // clamped to attempt 1
	}

	for _, tt := range tests {
		got := cfg.CalculateBackoff(tt.attempt)
		if got != tt.want {
			t.Errorf("CalculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestCalculateBackoff_CappedAtMaxDelay(t *testing.T) {
	cfg := Config{
		BaseDelay:  time.Second,
		Multiplier: 2,
		MaxDelay:   5 * time.Second,
	}

	got := cfg.CalculateBackoff(10)
	if got != 5*time.Second {
		t.Errorf("CalculateBackoff(10) = %v, want capped at %v", got, 5*time.Second)
	}
}

func TestCalculateBackoff_JitterWithinBounds(t *testing.T) {
	cfg := Config{
		BaseDelay:        time.Second,
		Multiplier:       2,
		MaxDelay:         time.Minute,
		JitterEnabled:    true,
		JitterMaxPercent: 10,
	}

	for i := 0; i < 50; i++ {
		got := cfg.CalculateBackoff(2)
		if got < 2*time.Second {
			t.Fatalf("jittered backoff %v below base exponential delay %v", got, 2*time.Second)
		}
		if got > 2*time.Second+time.Duration(float64(2*time.Second)*0.10) {
			t.Fatalf("jittered backoff %v exceeds 10%% bound", got)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.BaseDelay != time.Second {
		t.Errorf("BaseDelay = %v, want 1s", cfg.BaseDelay)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.MaxRetries)
	}
}
