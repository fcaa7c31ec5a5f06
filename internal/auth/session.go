package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

// DefaultSessionTTL is how long a session token stays valid.
const DefaultSessionTTL = 24 * time.Hour

const tokenBytes = 32

// SessionRegistry maps opaque session tokens to usernames.
type SessionRegistry interface {
	// Create issues a new token for username.
	Create(ctx context.Context, username string) (string, error)
	// Resolve returns the username for token. Expired sessions are removed
	// and reported as absent.
	Resolve(ctx context.Context, token string) (string, bool, error)
	// Delete removes token. Unknown tokens are not an error.
	Delete(ctx context.Context, token string) error
}

// NewToken returns 32 bytes from crypto/rand, URL-safe base64 encoded.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

type session struct {
	username  string
	createdAt time.Time
}

// MemoryRegistry keeps sessions in process memory. Sessions do not survive a
// restart.
type MemoryRegistry struct {
	mu       sync.Mutex
	sessions map[string]session
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryRegistry creates an empty registry whose sessions live for ttl.
func NewMemoryRegistry(ttl time.Duration) *MemoryRegistry {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &MemoryRegistry{
		sessions: make(map[string]session),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (r *MemoryRegistry) Create(_ context.Context, username string) (string, error) {
	token, err := NewToken()
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[token] = session{username: username, createdAt: r.now()}
	return token, nil
}

func (r *MemoryRegistry) Resolve(_ context.Context, token string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[token]
	if !ok {
		return "", false, nil
	}
	if r.now().Sub(s.createdAt) > r.ttl {
		delete(r.sessions, token)
		return "", false, nil
	}
	return s.username, true, nil
}

func (r *MemoryRegistry) Delete(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, token)
	return nil
}

// Len returns the number of stored sessions, expired ones included.
func (r *MemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
