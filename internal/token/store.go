package token

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

const (
	tokenTTL   = 120 * time.Second
	tokenBytes = 32
)

// Store issues and consumes short-lived single-use unlock tokens gating the
// top quality tier. There is no limit on outstanding tokens.
type Store struct {
	mu     sync.Mutex
	tokens map[string]time.Time
	now    func() time.Time
}

func NewStore() *Store {
	return &Store{
		tokens: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Issue generates a cryptographically random token valid for two minutes.
func (s *Store) Issue() string {
	buf := make([]byte, tokenBytes)
	_, _ = rand.Read(buf)
	tok := base64.RawURLEncoding.EncodeToString(buf)

	s.mu.Lock()
	s.tokens[tok] = s.now().Add(tokenTTL)
	s.mu.Unlock()
	return tok
}

// Consume validates the token and deletes it in the same step, so a second
// call with the same token always fails. Expired entries are deleted as a
// side effect of being presented.
func (s *Store) Consume(tok string) bool {
	if tok == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.tokens[tok]
	if !ok {
		return false
	}
	delete(s.tokens, tok)
	return s.now().Before(expiry)
}

// SetClock overrides the time source. Intended for test setup only.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}
