package httpserver

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// Identity is the authenticated caller attached to the request context by
// APIKeyAuth. Every admin API operation is scoped to Identity.OrganizationID.
type Identity struct {
	OrganizationID uuid.UUID
	Role           string
	KeyPrefix      string
}

type identityContextKey struct{}

// FromContext extracts the authenticated Identity, or nil if unauthenticated.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityContextKey{}).(*Identity)
	return id
}

// KeyLookup resolves a hashed API key to its owning identity. internal/db's
// APIKeyStore implements this without httpserver importing pgx directly.
type KeyLookup interface {
	LookupHash(ctx context.Context, hash string) (orgID uuid.UUID, role string, keyPrefix string, err error)
}

// APIKeyAuth authenticates requests by hashing the header named headerName
// and looking it up via lookup. Unauthenticated requests are rejected with
// 401 before reaching any handler mounted behind this middleware.
func APIKeyAuth(lookup KeyLookup, headerName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(headerName)
			if raw == "" {
				RespondError(w, http.StatusUnauthorized, "unauthorized", "missing API key")
				return
			}

			hash := HashAPIKey(raw)
			orgID, role, prefix, err := lookup.LookupHash(r.Context(), hash)
			if err != nil {
				RespondError(w, http.StatusUnauthorized, "unauthorized", "invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey{}, &Identity{
				OrganizationID: orgID,
				Role:           role,
				KeyPrefix:      prefix,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects requests whose Identity.Role does not match role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := FromContext(r.Context())
			if id == nil || subtle.ConstantTimeCompare([]byte(id.Role), []byte(role)) != 1 {
				RespondError(w, http.StatusForbidden, "forbidden", fmt.Sprintf("role %q required", role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GenerateAPIKey creates a random 32-byte API key with a display prefix and
// returns the raw key (shown once), its SHA-256 hash (stored), and the
// prefix (shown in listings).
func GenerateAPIKey() (raw, hash, prefix string) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	raw = "ad_" + hex.EncodeToString(b)
	hash = HashAPIKey(raw)
	prefix = raw[:9]
	return raw, hash, prefix
}

// HashAPIKey returns the hex-encoded SHA-256 hash of a raw API key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
