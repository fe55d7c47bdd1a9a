package health

import (
	"testing"
	"time"

	"github.com/wisbric/auditdelivery/internal/db"
)

func TestTransition_ClosedToOpen(t *testing.T) {
	cfg := Config{FailureThreshold: 3, RecoveryTimeout: time.Minute}
	h := db.DestinationHealth{CircuitBreakerState: db.CircuitClosed}
	now := time.Now()

	h = cfg.transition(h, false, now)
	h = cfg.transition(h, false, now)
	if h.CircuitBreakerState != db.CircuitClosed {
		t.Fatalf("circuit opened early at %d failures", h.ConsecutiveFailures)
	}

	h = cfg.transition(h, false, now)
	if h.CircuitBreakerState != db.CircuitOpen {
		t.Fatalf("expected circuit open at failure threshold, got %s", h.CircuitBreakerState)
	}
	if h.CircuitBreakerOpenedAt == nil {
		t.Fatal("expected CircuitBreakerOpenedAt to be set")
	}
}

func TestTransition_ClosedResetsOnSuccess(t *testing.T) {
	cfg := Config{FailureThreshold: 3, RecoveryTimeout: time.Minute}
	h := db.DestinationHealth{CircuitBreakerState: db.CircuitClosed, ConsecutiveFailures: 2}
	h = cfg.transition(h, true, time.Now())
	if h.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, want reset to 0", h.ConsecutiveFailures)
	}
}

func TestTransition_OpenStaysOpenUntilRecoveryTimeout(t *testing.T) {
	cfg := Config{FailureThreshold: 3, RecoveryTimeout: time.Minute}
	opened := time.Now()
	h := db.DestinationHealth{CircuitBreakerState: db.CircuitOpen, CircuitBreakerOpenedAt: &opened}

	h = cfg.transition(h, true, opened.Add(30*time.Second))
	if h.CircuitBreakerState != db.CircuitOpen {
		t.Fatalf("expected circuit to stay open before recovery timeout, got %s", h.CircuitBreakerState)
	}
}

func TestTransition_HalfOpenClosesOnSuccess(t *testing.T) {
	cfg := Config{FailureThreshold: 3, RecoveryTimeout: time.Minute}
	opened := time.Now()
	h := db.DestinationHealth{CircuitBreakerState: db.CircuitOpen, CircuitBreakerOpenedAt: &opened}

	h = cfg.transition(h, true, opened.Add(2*time.Minute))
	if h.CircuitBreakerState != db.CircuitClosed {
		t.Fatalf("expected half-open to close on success, got %s", h.CircuitBreakerState)
	}
}

func TestTransition_HalfOpenReopensOnFailure(t *testing.T) {
	cfg := Config{FailureThreshold: 3, RecoveryTimeout: time.Minute}
	opened := time.Now()
	h := db.DestinationHealth{CircuitBreakerState: db.CircuitOpen, CircuitBreakerOpenedAt: &opened}

	h = cfg.transition(h, false, opened.Add(2*time.Minute))
	if h.CircuitBreakerState != db.CircuitOpen {
		t.Fatalf("expected half-open trial failure to reopen circuit, got %s", h.CircuitBreakerState)
	}
}

func TestShouldAllowDelivery(t *testing.T) {
	cfg := Config{RecoveryTimeout: time.Minute}
	opened := time.Now()

	tests := []struct {
		name     string
		h        db.DestinationHealth
		disabled bool
		now      time.Time
		want     bool
	}{
		{
			name: "disabled destination never allowed",
			h:    db.DestinationHealth{CircuitBreakerState: db.CircuitClosed}, disabled: true,
			now: opened, want: false,
		},
		{
			name: "closed circuit allowed",
			h:    db.DestinationHealth{CircuitBreakerState: db.CircuitClosed},
			now:  opened, want: true,
		},
		{
			name: "open circuit before recovery timeout blocked",
			h:    db.DestinationHealth{CircuitBreakerState: db.CircuitOpen, CircuitBreakerOpenedAt: &opened},
			now:  opened.Add(10 * time.Second), want: false,
		},
		{
			name: "open circuit past recovery timeout allowed",
			h:    db.DestinationHealth{CircuitBreakerState: db.CircuitOpen, CircuitBreakerOpenedAt: &opened},
			now:  opened.Add(2 * time.Minute), want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cfg.ShouldAllowDelivery(tt.h, tt.disabled, tt.now)
			if got != tt.want {
				t.Errorf("ShouldAllowDelivery() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name     string
		h        db.DestinationHealth
		disabled bool
		want     db.HealthStatus
	}{
		{name: "disabled", h: db.DestinationHealth{TotalDeliveries: 10, SuccessRate: 1}, disabled: true, want: db.HealthDisabled},
		{name: "no deliveries yet", h: db.DestinationHealth{TotalDeliveries: 0}, want: db.HealthHealthy},
		{name: "healthy", h: db.DestinationHealth{TotalDeliveries: 10, SuccessRate: 0.99}, want: db.HealthHealthy},
		{name: "degraded", h: db.DestinationHealth{TotalDeliveries: 10, SuccessRate: 0.80}, want: db.HealthDegraded},
		{name: "unhealthy", h: db.DestinationHealth{TotalDeliveries: 10, SuccessRate: 0.50}, want: db.HealthUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveStatus(tt.h, tt.disabled)
			if got != tt.want {
				t.Errorf("DeriveStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}
