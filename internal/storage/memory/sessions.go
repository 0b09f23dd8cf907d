package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xenking/kart-commerce/internal/domain/cart"
)

var _ cart.SessionStore = (*Sessions)(nil)

type session struct {
	number    string
	expiresAt time.Time
}

// Sessions is a cart.SessionStore with sliding expiration.
type Sessions struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]session
}

// NewSessions returns a session store whose entries expire ttl after their
// last access.
func NewSessions(ttl time.Duration) *Sessions {
	return &Sessions{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]session),
	}
}

func (s *Sessions) Lookup(_ context.Context, token string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	sess, ok := s.sessions[token]
	if !ok {
		return "", false, nil
	}
	if !now.Before(sess.expiresAt) {
		delete(s.sessions, token)
		return "", false, nil
	}
	sess.expiresAt = now.Add(s.ttl)
	s.sessions[token] = sess
	return sess.number, true, nil
}

func (s *Sessions) Save(_ context.Context, token, number string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = session{number: number, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *Sessions) ForgetNumber(_ context.Context, number string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, sess := range s.sessions {
		if sess.number == number {
			delete(s.sessions, token)
		}
	}
	return nil
}
