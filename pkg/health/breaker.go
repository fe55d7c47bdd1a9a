// Package health tracks per-destination delivery success/failure accounting
// and drives the circuit breaker state machine that suppresses delivery to
// failing endpoints until they recover.
package health

import (
	"time"

	"github.com/wisbric/auditdelivery/internal/db"
)

// Config holds circuit breaker tunables, sourced from
// delivery.circuitBreaker.* configuration.
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
}

// DefaultConfig returns sensible defaults: 5 consecutive failures opens the
// circuit, 30s recovery timeout.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 1,
	}
}

// transition applies one delivery outcome to a health row and returns the
// updated row. It implements the closed/open/half-open state machine
// exactly as specified: closed->open at the failure threshold, open->half-open
// after the recovery timeout elapses, half-open->closed on success or back to
// open on failure.
func (c Config) transition(h db.DestinationHealth, success bool, now time.Time) db.DestinationHealth {
	switch h.CircuitBreakerState {
	case db.CircuitOpen:
		if now.Sub(*h.CircuitBreakerOpenedAt) >= c.RecoveryTimeout {
			h.CircuitBreakerState = db.CircuitHalfOpen
		} else {
			return h
		}
		fallthrough
	case db.CircuitHalfOpen:
		if success {
			h.CircuitBreakerState = db.CircuitClosed
			h.ConsecutiveFailures = 0
		} else {
			h.CircuitBreakerState = db.CircuitOpen
			opened := now
			h.CircuitBreakerOpenedAt = &opened
		}
	case db.CircuitClosed:
		if success {
			h.ConsecutiveFailures = 0
		} else {
			h.ConsecutiveFailures++
			if h.ConsecutiveFailures >= c.FailureThreshold {
				h.CircuitBreakerState = db.CircuitOpen
				opened := now
				h.CircuitBreakerOpenedAt = &opened
			}
		}
	default:
		h.CircuitBreakerState = db.CircuitClosed
	}
	return h
}

// ShouldAllowDelivery reports whether a delivery attempt may proceed for a
// destination in the given health state: false iff the circuit is open and
// the recovery timeout has not yet elapsed, or the destination is disabled.
func (c Config) ShouldAllowDelivery(h db.DestinationHealth, disabled bool, now time.Time) bool {
	if disabled {
		return false
	}
	if h.CircuitBreakerState != db.CircuitOpen {
		return true
	}
	if h.CircuitBreakerOpenedAt == nil {
		return true
	}
	return now.Sub(*h.CircuitBreakerOpenedAt) >= c.RecoveryTimeout
}

// DeriveStatus classifies a destination's health from its recent success
// rate: healthy >= 95%, degraded in [70%, 95%), unhealthy below 70% with
// recent activity.
func DeriveStatus(h db.DestinationHealth, disabled bool) db.HealthStatus {
	if disabled {
		return db.HealthDisabled
	}
	if h.TotalDeliveries == 0 {
		return db.HealthHealthy
	}
	switch {
	case h.SuccessRate >= 0.95:
		return db.HealthHealthy
	case h.SuccessRate >= 0.70:
		return db.HealthDegraded
	default:
		return db.HealthUnhealthy
	}
}
