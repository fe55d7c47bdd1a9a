// Package download implements the Download Manager: time-limited download
// link validation, access recording, analytics, and expired-link cleanup
// for type=download destinations.
package download

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/auditdelivery/internal/db"
)

// DefaultCleanupInterval is how often a scheduled sweep removes expired or
// inactive links, absent a config override.
const DefaultCleanupInterval = 60 * time.Minute

// LinkStore is the subset of db.DownloadLinkStore the manager depends on.
type LinkStore interface {
	Create(ctx context.Context, p db.CreateDownloadLinkParams) (db.DownloadLink, error)
	Get(ctx context.Context, id uuid.UUID) (db.DownloadLink, error)
	RecordAccess(ctx context.Context, id uuid.UUID, rec db.AccessRecord) (db.DownloadLink, error)
	Revoke(ctx context.Context, id uuid.UUID, reason string) error
	CleanupExpired(ctx context.Context) (int64, error)
	ListByOrg(ctx context.Context, orgID uuid.UUID, start, end time.Time, objectType string) ([]db.DownloadLink, error)
}

// Manager is the Download Manager (C9): link lifecycle, access validation,
// access recording, and analytics.
type Manager struct {
	links LinkStore
}

// New builds a Manager over the given link store.
func New(links LinkStore) *Manager {
	return &Manager{links: links}
}

// AccessDecision is the result of ValidateAccess.
type AccessDecision struct {
	Allowed         bool
	Reason          string
	RemainingAccess int
	TimeUntilExpiry time.Duration
}

// ValidateAccess checks a link's expiry, active flag, and access budget
// without recording the attempt; callers record separately via RecordAccess
// so a caller that wants to serve bytes can decide after validation.
func (m *Manager) ValidateAccess(ctx context.Context, linkID uuid.UUID) (AccessDecision, error) {
	link, err := m.links.Get(ctx, linkID)
	if err != nil {
		return AccessDecision{}, fmt.Errorf("download: loading link: %w", err)
	}

	if !link.IsActive {
		return AccessDecision{Allowed: false, Reason: "link has been revoked"}, nil
	}

	now := time.Now()
	if !now.Before(link.ExpiresAt) {
		return AccessDecision{Allowed: false, Reason: "link has expired"}, nil
	}

	if link.MaxAccess > 0 && link.AccessCount >= link.MaxAccess {
		return AccessDecision{Allowed: false, Reason: "link has reached its maximum access count"}, nil
	}

	remaining := 0
	if link.MaxAccess > 0 {
		remaining = link.MaxAccess - link.AccessCount
	}

	return AccessDecision{
		Allowed:         true,
		RemainingAccess: remaining,
		TimeUntilExpiry: link.ExpiresAt.Sub(now),
	}, nil
}

// RecordAccess appends an access attempt, success or failure, with the
// accessor's identity, IP, and user agent.
func (m *Manager) RecordAccess(ctx context.Context, linkID uuid.UUID, success bool, userID, ip, userAgent string) (db.DownloadLink, error) {
	rec := db.AccessRecord{
		At:        time.Now().UTC(),
		Success:   success,
		UserID:    userID,
		IP:        ip,
		UserAgent: userAgent,
	}
	link, err := m.links.RecordAccess(ctx, linkID, rec)
	if err != nil {
		return db.DownloadLink{}, fmt.Errorf("download: recording access: %w", err)
	}
	return link, nil
}

// Revoke deactivates a link ahead of its natural expiry.
func (m *Manager) Revoke(ctx context.Context, linkID uuid.UUID, reason string) error {
	return m.links.Revoke(ctx, linkID, reason)
}

// CleanupExpiredLinks removes expired or inactive rows and returns bytes
// freed. delivery.Service runs it from a background ticker at its configured
// DownloadCleanupInterval, or DefaultCleanupInterval when that is unset.
func (m *Manager) CleanupExpiredLinks(ctx context.Context) (int64, error) {
	return m.links.CleanupExpired(ctx)
}
