// Package secret implements the webhook signing secret lifecycle: generation,
// envelope encryption at rest, validation, rotation with an overlap window,
// and bring-your-own-secret (BYOS) configuration.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrMissingKey is returned by NewCipher when the service-wide encryption
// key is absent; the secret manager must refuse to start in that case.
var ErrMissingKey = errors.New("secret: SECRET_ENCRYPTION_KEY is required")

// cipherAEAD performs AES-256-GCM envelope encryption with a per-record
// random 96-bit nonce. Ciphertext is stored as "hex(nonce):hex(ciphertext)".
// GCM is authenticated encryption, so a tampered ciphertext fails to decrypt
// rather than silently producing garbage plaintext.
type cipherAEAD struct {
	aead cipher.AEAD
}

// NewCipher builds an AEAD cipher from a 256-bit hex-encoded key. keyHex
// must decode to exactly 32 bytes.
func NewCipher(keyHex string) (*cipherAEAD, error) {
	if keyHex == "" {
		return nil, ErrMissingKey
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("secret: decoding encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("secret: encryption key must be 32 bytes (got %d)", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secret: creating AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secret: creating GCM mode: %w", err)
	}
	return &cipherAEAD{aead: aead}, nil
}

// Encrypt returns the ciphertext envelope "hex(nonce):hex(ct)" for plaintext.
func (c *cipherAEAD) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secret: generating nonce: %w", err)
	}
	ct := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt reverses Encrypt given the stored envelope.
func (c *cipherAEAD) Decrypt(envelope string) (string, error) {
	parts := strings.SplitN(envelope, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("secret: malformed ciphertext envelope")
	}
	nonce, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("secret: decoding nonce: %w", err)
	}
	ct, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("secret: decoding ciphertext: %w", err)
	}
	pt, err := c.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("secret: decrypting: %w", err)
	}
	return string(pt), nil
}
