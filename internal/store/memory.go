package store

import (
	"context"
	"sync"
	"time"

	"github.com/attache-app/attache/internal/provider"
)

type credKey struct {
	uid      string
	provider provider.Provider
}

// MemoryStore is an in-process TokenStore. It backs tests and single-node
// development deployments; production uses the sqlite store.
type MemoryStore struct {
	mu       sync.RWMutex
	creds    map[credKey]*provider.Credential
	pending  map[string]*PendingAction
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store. pendingTTL bounds how
// long an unconfirmed action stays readable; zero disables expiry.
func NewMemoryStore(pendingTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		creds:   make(map[credKey]*provider.Credential),
		pending: make(map[string]*PendingAction),
		ttl:     pendingTTL,
		now:     time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) GetCredential(_ context.Context, uid string, p provider.Provider) (*provider.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[credKey{uid, p}]
	if !ok {
		return nil, nil
	}
	cp := *cred
	return &cp, nil
}

func (s *MemoryStore) SaveCredential(_ context.Context, uid string, cred *provider.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := credKey{uid, cred.Provider}
	s.creds[key] = mergeCredential(s.creds[key], cred)
	return nil
}

func (s *MemoryStore) GetPendingAction(_ context.Context, uid string) (*PendingAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	action, ok := s.pending[uid]
	if !ok {
		return nil, nil
	}
	if action.Expired(s.now(), s.ttl) {
		delete(s.pending, uid)
		return nil, nil
	}
	cp := *action
	return &cp, nil
}

func (s *MemoryStore) SetPendingAction(_ context.Context, uid string, action *PendingAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *action
	s.pending[uid] = &cp
	return nil
}

func (s *MemoryStore) ClearPendingAction(_ context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, uid)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
