package email

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/wneessen/go-mail"
)

// PoolIdleTimeout is how long an idle SMTP client may sit in the pool
// before ReapIdle drops it.
const PoolIdleTimeout = 5 * time.Minute

// PoolMaxSize bounds the number of pooled clients per credential fingerprint.
const PoolMaxSize = 10

type pooledClient struct {
	client   *mail.Client
	lastUsed time.Time
}

// ConnectionPool holds SMTP clients keyed by a fingerprint of their
// connection credentials, so concurrent deliveries to the same mailbox
// reuse an established connection instead of re-dialing every send.
type ConnectionPool struct {
	mu      sync.Mutex
	clients map[string][]*pooledClient
}

// NewConnectionPool builds an empty ConnectionPool.
func NewConnectionPool() *ConnectionPool {
	return &ConnectionPool{clients: map[string][]*pooledClient{}}
}

func fingerprint(cfg SMTPConfig) string {
	user := ""
	if cfg.Auth != nil {
		user = cfg.Auth.User
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", cfg.Host, cfg.Port, user)))
	return hex.EncodeToString(sum[:8])
}

// Acquire returns a pooled client for cfg, dialing a new one if the pool for
// this fingerprint is empty or at capacity with none idle.
func (p *ConnectionPool) Acquire(ctx context.Context, cfg SMTPConfig) (*mail.Client, error) {
	key := fingerprint(cfg)

	p.mu.Lock()
	bucket := p.clients[key]
	if len(bucket) > 0 {
		pc := bucket[len(bucket)-1]
		p.clients[key] = bucket[:len(bucket)-1]
		p.mu.Unlock()
		return pc.client, nil
	}
	p.mu.Unlock()

	opts := []mail.Option{mail.WithPort(cfg.Port)}
	if cfg.Auth != nil {
		opts = append(opts, mail.WithSMTPAuth(mail.SMTPAuthPlain), mail.WithUsername(cfg.Auth.User), mail.WithPassword(cfg.Auth.Pass))
	}
	if cfg.Secure {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("dialing smtp client: %w", err)
	}
	return client, nil
}

// Release returns a client to its pool, dropping it instead if the pool for
// this fingerprint is already at PoolMaxSize.
func (p *ConnectionPool) Release(cfg SMTPConfig, client *mail.Client) {
	key := fingerprint(cfg)

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.clients[key]) >= PoolMaxSize {
		return
	}
	p.clients[key] = append(p.clients[key], &pooledClient{client: client, lastUsed: time.Now()})
}

// ReapIdle drops clients that have sat idle past PoolIdleTimeout; it does
// not call Close on them. Nothing in this module calls ReapIdle.
func (p *ConnectionPool) ReapIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().Add(-PoolIdleTimeout)
	for key, bucket := range p.clients {
		kept := bucket[:0]
		for _, pc := range bucket {
			if pc.lastUsed.Before(cutoff) {
				continue
			}
			kept = append(kept, pc)
		}
		p.clients[key] = kept
	}
}

func newAttachmentReader(content []byte) func(io.Writer) (int64, error) {
	return func(w io.Writer) (int64, error) {
		n, err := io.Copy(w, bytes.NewReader(content))
		return n, err
	}
}
