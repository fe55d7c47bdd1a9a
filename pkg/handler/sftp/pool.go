package sftp

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

type pooledConn struct {
	client   *sftp.Client
	sshConn  *ssh.Client
	lastUsed time.Time
}

// ConnectionPool holds SFTP clients keyed by a fingerprint of host, port,
// and username, reusing an authenticated connection across deliveries to
// the same destination instead of re-dialing SSH on every upload.
type ConnectionPool struct {
	mu      sync.Mutex
	clients map[string][]*pooledConn
	sshConn map[*sftp.Client]*ssh.Client
}

// NewConnectionPool builds an empty ConnectionPool.
func NewConnectionPool() *ConnectionPool {
	return &ConnectionPool{
		clients: map[string][]*pooledConn{},
		sshConn: map[*sftp.Client]*ssh.Client{},
	}
}

func fingerprint(cfg Config) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", cfg.Host, cfg.Port, cfg.Username)))
	return hex.EncodeToString(sum[:8])
}

// Acquire returns a pooled *sftp.Client for cfg, dialing and authenticating
// a new SSH connection if none is idle in the pool.
func (p *ConnectionPool) Acquire(cfg Config) (*sftp.Client, error) {
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

	auth, err := resolveAuth(cfg)
	if err != nil {
		return nil, err
	}

	sshConfig := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	sshConn, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return nil, fmt.Errorf("sftp: dialing ssh: %w", err)
	}

	client, err := sftp.NewClient(sshConn)
	if err != nil {
		sshConn.Close()
		return nil, fmt.Errorf("sftp: establishing sftp session: %w", err)
	}

	p.mu.Lock()
	p.sshConn[client] = sshConn
	p.mu.Unlock()

	return client, nil
}

// Release returns a client to its pool, closing it (and its underlying SSH
// connection) instead if the pool for this fingerprint is already at
// PoolMaxSize.
func (p *ConnectionPool) Release(cfg Config, client *sftp.Client) {
	key := fingerprint(cfg)

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.clients[key]) >= PoolMaxSize {
		p.closeLocked(client)
		return
	}
	p.clients[key] = append(p.clients[key], &pooledConn{client: client, lastUsed: time.Now()})
}

// ReapIdle closes and drops clients that have sat idle past PoolIdleTimeout.
func (p *ConnectionPool) ReapIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().Add(-PoolIdleTimeout)
	for key, bucket := range p.clients {
		kept := bucket[:0]
		for _, pc := range bucket {
			if pc.lastUsed.Before(cutoff) {
				p.closeLocked(pc.client)
				continue
			}
			kept = append(kept, pc)
		}
		p.clients[key] = kept
	}
}

// closeLocked closes client and its paired ssh.Client; callers must hold p.mu.
func (p *ConnectionPool) closeLocked(client *sftp.Client) {
	client.Close()
	if conn, ok := p.sshConn[client]; ok {
		conn.Close()
		delete(p.sshConn, client)
	}
}

func resolveAuth(cfg Config) ([]ssh.AuthMethod, error) {
	if cfg.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(cfg.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("sftp: parsing private key: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	if cfg.Password != "" {
		return []ssh.AuthMethod{ssh.Password(cfg.Password)}, nil
	}
	return nil, fmt.Errorf("sftp: config must set either privateKey or password")
}
