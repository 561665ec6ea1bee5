package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/attache-app/attache/internal/provider"
)

// PendingAction is a stored, not-yet-executed side effect awaiting explicit
// user confirmation. At most one exists per user; a new proposal replaces
// any older one wholesale.
type PendingAction struct {
	Type      provider.ActionType `json:"actionType"`
	Provider  provider.Provider   `json:"provider"`
	Payload   json.RawMessage     `json:"payload"`
	CreatedAt time.Time           `json:"createdAt"`
}

// Expired reports whether the action is past the given TTL at now.
// A zero ttl disables expiry.
func (a *PendingAction) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(a.CreatedAt) > ttl
}

// StorageError wraps failures of the persistence layer. Callers can rely on
// errors.As to distinguish storage faults from domain outcomes.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// TokenStore persists per-user provider credentials and the single pending
// action slot. Implementations must be safe for concurrent use.
//
// GetCredential and GetPendingAction return (nil, nil) when nothing is
// stored. SaveCredential merges: a write without a refresh token preserves
// a previously stored one, since providers do not reissue it on every
// exchange. GetPendingAction enforces the TTL lazily, deleting expired
// entries on read; delete failures during that cleanup are swallowed
// because a stale row heals itself on the next overwrite or expiry check.
type TokenStore interface {
	GetCredential(ctx context.Context, uid string, p provider.Provider) (*provider.Credential, error)
	SaveCredential(ctx context.Context, uid string, cred *provider.Credential) error

	GetPendingAction(ctx context.Context, uid string) (*PendingAction, error)
	SetPendingAction(ctx context.Context, uid string, action *PendingAction) error
	ClearPendingAction(ctx context.Context, uid string) error

	Close() error
}

// mergeCredential applies merge-upsert semantics: fields present in next
// win, but an absent refresh token keeps the previous one.
func mergeCredential(prev, next *provider.Credential) *provider.Credential {
	merged := *next
	if merged.RefreshToken == "" && prev != nil {
		merged.RefreshToken = prev.RefreshToken
	}
	return &merged
}
