package secret

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/auditdelivery/internal/db"
)

// DefaultAlgorithm is used when a caller does not specify one.
const DefaultAlgorithm = "HMAC-SHA256"

// MaxActiveSecrets bounds how many secrets may be simultaneously active per
// destination (primary plus one retired secret during a rotation overlap).
const MaxActiveSecrets = 2

// Store is the subset of internal/db's SecretStore that Manager depends on.
type Store interface {
	Create(ctx context.Context, p db.CreateSecretParams) (db.WebhookSecret, error)
	FindActiveByDestinationID(ctx context.Context, destinationID uuid.UUID) ([]db.WebhookSecret, error)
	DemotePrimary(ctx context.Context, destinationID uuid.UUID, rotatedAt time.Time) error
	DeactivateAll(ctx context.Context, destinationID uuid.UUID) error
	MarkInactive(ctx context.Context, id uuid.UUID) error
	RecordUsage(ctx context.Context, id uuid.UUID, at time.Time) error
	CleanupExpired(ctx context.Context) (int64, error)
	CountActive(ctx context.Context, destinationID uuid.UUID) (int, error)
}

// Manager owns the lifecycle of webhook signing secrets: generation,
// at-rest encryption, rotation, and BYOS configuration.
type Manager struct {
	store  Store
	cipher *cipherAEAD
}

// NewManager builds a Manager. encryptionKeyHex must be a 64-hex-char
// (32-byte) key; NewManager refuses to construct if it is missing, so the
// secret manager cannot silently run without encryption.
func NewManager(store Store, encryptionKeyHex string) (*Manager, error) {
	c, err := NewCipher(encryptionKeyHex)
	if err != nil {
		return nil, err
	}
	return &Manager{store: store, cipher: c}, nil
}

// Secret is the decrypted, caller-facing view of a webhook secret.
type Secret struct {
	ID            uuid.UUID
	DestinationID uuid.UUID
	Key           string
	Algorithm     string
	IsPrimary     bool
	IsActive      bool
	ExpiresAt     *time.Time
}

// CreateOptions configures CreateSecret.
type CreateOptions struct {
	SecretKey string     `json:"secretKey,omitempty"` // if empty, a 64-byte random secret is generated
	Algorithm string     `json:"algorithm,omitempty" validate:"omitempty,oneof=HMAC-SHA256 HMAC-SHA512"`
	IsPrimary bool       `json:"isPrimary,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// CreateSecret generates (or accepts) a secret, validates it, encrypts it,
// and stores it. If IsPrimary is set, prior primaries are demoted but remain
// active through their own expiry/overlap window.
func (m *Manager) CreateSecret(ctx context.Context, destinationID uuid.UUID, opts CreateOptions) (Secret, error) {
	raw := opts.SecretKey
	if raw == "" {
		raw = generateRandomSecret()
	} else {
		result := Validate(raw)
		if !result.Valid {
			return Secret{}, fmt.Errorf("secret: invalid secret: %v", result.Errors)
		}
	}

	algorithm := opts.Algorithm
	if algorithm == "" {
		algorithm = DefaultAlgorithm
	}

	if opts.IsPrimary {
		if err := m.store.DemotePrimary(ctx, destinationID, time.Now().UTC()); err != nil {
			return Secret{}, fmt.Errorf("secret: demoting prior primary: %w", err)
		}
	}

	envelope, err := m.cipher.Encrypt(raw)
	if err != nil {
		return Secret{}, fmt.Errorf("secret: encrypting secret: %w", err)
	}

	row, err := m.store.Create(ctx, db.CreateSecretParams{
		DestinationID: destinationID,
		SecretKey:     envelope,
		Algorithm:     algorithm,
		IsPrimary:     opts.IsPrimary,
		ExpiresAt:     opts.ExpiresAt,
	})
	if err != nil {
		return Secret{}, fmt.Errorf("secret: storing secret: %w", err)
	}

	return Secret{
		ID:            row.ID,
		DestinationID: row.DestinationID,
		Key:           raw,
		Algorithm:     row.Algorithm,
		IsPrimary:     row.IsPrimary,
		IsActive:      row.IsActive,
		ExpiresAt:     row.ExpiresAt,
	}, nil
}

// GetActiveSecrets returns decrypted active secrets for a destination,
// primary first, for use by the webhook handler when signing a request.
func (m *Manager) GetActiveSecrets(ctx context.Context, destinationID uuid.UUID) ([]Secret, error) {
	rows, err := m.store.FindActiveByDestinationID(ctx, destinationID)
	if err != nil {
		return nil, fmt.Errorf("secret: loading active secrets: %w", err)
	}

	out := make([]Secret, 0, len(rows))
	for _, row := range rows {
		plaintext, err := m.cipher.Decrypt(row.SecretKey)
		if err != nil {
			return nil, fmt.Errorf("secret: decrypting secret %s: %w", row.ID, err)
		}
		out = append(out, Secret{
			ID:            row.ID,
			DestinationID: row.DestinationID,
			Key:           plaintext,
			Algorithm:     row.Algorithm,
			IsPrimary:     row.IsPrimary,
			IsActive:      row.IsActive,
			ExpiresAt:     row.ExpiresAt,
		})
	}
	return out, nil
}

// RotateOptions configures RotateSecret.
type RotateOptions struct {
	NewSecretKey  string        `json:"newSecretKey,omitempty"` // if empty, a new secret is generated
	OverlapPeriod time.Duration `json:"overlapPeriod,omitempty" validate:"gte=0"`
}

// RotateSecret creates a new primary secret and keeps the previous primary
// active (but no longer primary) through the overlap window, after which it
// should be retired by a scheduled call to CleanupExpiredSecrets.
func (m *Manager) RotateSecret(ctx context.Context, destinationID uuid.UUID, opts RotateOptions) (Secret, error) {
	n, err := m.store.CountActive(ctx, destinationID)
	if err != nil {
		return Secret{}, fmt.Errorf("secret: counting active secrets: %w", err)
	}
	if n >= MaxActiveSecrets {
		return Secret{}, fmt.Errorf("secret: destination already has %d active secrets (max %d)", n, MaxActiveSecrets)
	}

	overlapExpiry := time.Now().UTC().Add(opts.OverlapPeriod)
	return m.CreateSecret(ctx, destinationID, CreateOptions{
		SecretKey: opts.NewSecretKey,
		IsPrimary: true,
		ExpiresAt: &overlapExpiry,
	})
}

// BYOSOptions configures ConfigureBYOS.
type BYOSOptions struct {
	SecretKey       string `json:"secretKey" validate:"required"`
	Algorithm       string `json:"algorithm,omitempty" validate:"omitempty,oneof=HMAC-SHA256 HMAC-SHA512"`
	RotationManaged bool   `json:"rotationManaged,omitempty"`
}

// ConfigureBYOS deactivates every existing secret for a destination and
// installs a single customer-supplied secret as primary. When
// RotationManaged is false, no expiration is assigned — the customer owns
// rotation entirely.
func (m *Manager) ConfigureBYOS(ctx context.Context, destinationID uuid.UUID, opts BYOSOptions) (Secret, error) {
	result := Validate(opts.SecretKey)
	if !result.Valid {
		return Secret{}, fmt.Errorf("secret: invalid BYOS secret: %v", result.Errors)
	}

	if err := m.store.DeactivateAll(ctx, destinationID); err != nil {
		return Secret{}, fmt.Errorf("secret: deactivating prior secrets: %w", err)
	}

	var expiresAt *time.Time
	if opts.RotationManaged {
		t := time.Now().UTC().Add(90 * 24 * time.Hour)
		expiresAt = &t
	}

	return m.CreateSecret(ctx, destinationID, CreateOptions{
		SecretKey: opts.SecretKey,
		Algorithm: opts.Algorithm,
		IsPrimary: true,
		ExpiresAt: expiresAt,
	})
}

// CleanupExpiredSecrets deletes inactive, expired secret rows.
func (m *Manager) CleanupExpiredSecrets(ctx context.Context) (int64, error) {
	n, err := m.store.CleanupExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("secret: cleaning up expired secrets: %w", err)
	}
	return n, nil
}

// RecordUsage is called by the webhook handler after a secret signs a request.
func (m *Manager) RecordUsage(ctx context.Context, id uuid.UUID) {
	_ = m.store.RecordUsage(ctx, id, time.Now().UTC())
}

func generateRandomSecret() string {
	b := make([]byte, 64)
	if _, err := rand.Read(b); err != nil {
		panic("secret: crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
