package oauthflow

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// StatePayload is what an issued state token stands for: the user starting
// the flow and the deep link to send them back to afterwards.
type StatePayload struct {
	UID      string
	DeepLink string
}

type stateEntry struct {
	payload StatePayload
	issued  time.Time
}

// StateStore issues and consumes the OAuth state tokens that tie a provider
// callback back to a user. Tokens are single-use random values held
// server-side, so the callback URL never carries the user id or any
// client-forgeable state.
type StateStore struct {
	mu      sync.Mutex
	entries map[string]stateEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewStateStore creates a store whose tokens expire after ttl.
func NewStateStore(ttl time.Duration) *StateStore {
	return &StateStore{
		entries: make(map[string]stateEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (s *StateStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Issue mints a new state token for a user. Expired entries are purged
// opportunistically so abandoned flows do not accumulate.
func (s *StateStore) Issue(uid, deepLink string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for token, entry := range s.entries {
		if now.Sub(entry.issued) > s.ttl {
			delete(s.entries, token)
		}
	}

	token := uuid.NewString()
	s.entries[token] = stateEntry{
		payload: StatePayload{UID: uid, DeepLink: deepLink},
		issued:  now,
	}
	return token
}

// Consume redeems a state token exactly once. A second redemption, or a
// token past its TTL, reports false.
func (s *StateStore) Consume(token string) (StatePayload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[token]
	if !ok {
		return StatePayload{}, false
	}
	delete(s.entries, token)
	if s.now().Sub(entry.issued) > s.ttl {
		return StatePayload{}, false
	}
	return entry.payload, true
}
