package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attache-app/attache/internal/provider"
)

func TestMemoryStore_CredentialMergePreservesRefreshToken(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	err := s.SaveCredential(ctx, "u1", &provider.Credential{
		Provider:     provider.Google,
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		TokenType:    "Bearer",
	})
	require.NoError(t, err)

	// A refresh reissues the access token but omits the refresh token.
	err = s.SaveCredential(ctx, "u1", &provider.Credential{
		Provider:    provider.Google,
		AccessToken: "at-2",
		TokenType:   "Bearer",
	})
	require.NoError(t, err)

	cred, err := s.GetCredential(ctx, "u1", provider.Google)
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "at-2", cred.AccessToken)
	assert.Equal(t, "rt-1", cred.RefreshToken, "omitted refresh token must be preserved")
}

func TestMemoryStore_CredentialIsolationByProviderAndUser(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	require.NoError(t, s.SaveCredential(ctx, "u1", &provider.Credential{Provider: provider.Google, AccessToken: "g"}))
	require.NoError(t, s.SaveCredential(ctx, "u1", &provider.Credential{Provider: provider.Microsoft, AccessToken: "m"}))

	google, err := s.GetCredential(ctx, "u1", provider.Google)
	require.NoError(t, err)
	require.NotNil(t, google)
	assert.Equal(t, "g", google.AccessToken)

	ms, err := s.GetCredential(ctx, "u1", provider.Microsoft)
	require.NoError(t, err)
	require.NotNil(t, ms)
	assert.Equal(t, "m", ms.AccessToken)

	missing, err := s.GetCredential(ctx, "u2", provider.Google)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryStore_PendingActionOverwrite(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	first := &PendingAction{
		Type:      provider.ActionSendEmail,
		Provider:  provider.Google,
		Payload:   json.RawMessage(`{"to":"a@b.com"}`),
		CreatedAt: time.Now(),
	}
	second := &PendingAction{
		Type:      provider.ActionCreateEvent,
		Provider:  provider.Google,
		Payload:   json.RawMessage(`{"title":"Standup"}`),
		CreatedAt: time.Now(),
	}

	require.NoError(t, s.SetPendingAction(ctx, "u1", first))
	require.NoError(t, s.SetPendingAction(ctx, "u1", second))

	got, err := s.GetPendingAction(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, provider.ActionCreateEvent, got.Type)
}

func TestMemoryStore_PendingActionTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10 * time.Minute)

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	current := base
	s.SetClock(func() time.Time { return current })

	action := &PendingAction{
		Type:      provider.ActionDeleteEvent,
		Provider:  provider.Microsoft,
		Payload:   json.RawMessage(`{"eventId":"ev-1"}`),
		CreatedAt: base,
	}
	require.NoError(t, s.SetPendingAction(ctx, "u1", action))

	// Just inside the TTL the action is still readable.
	current = base.Add(9 * time.Minute)
	got, err := s.GetPendingAction(ctx, "u1")
	require.NoError(t, err)
	assert.NotNil(t, got)

	// Past the TTL the read deletes it lazily.
	current = base.Add(11 * time.Minute)
	got, err = s.GetPendingAction(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStore_ClearPendingAction(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	require.NoError(t, s.SetPendingAction(ctx, "u1", &PendingAction{
		Type:      provider.ActionSendEmail,
		Provider:  provider.Google,
		Payload:   json.RawMessage(`{}`),
		CreatedAt: time.Now(),
	}))
	require.NoError(t, s.ClearPendingAction(ctx, "u1"))

	got, err := s.GetPendingAction(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Clearing an empty slot is not an error.
	assert.NoError(t, s.ClearPendingAction(ctx, "u1"))
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(t.TempDir()+"/store.db", 10*time.Minute)
	require.NoError(t, err)
	defer s.Close()

	err = s.SaveCredential(ctx, "u1", &provider.Credential{
		Provider:     provider.Google,
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		TokenType:    "Bearer",
		Scope:        "mail calendar",
		Expiry:       time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	// Merge-upsert without a refresh token.
	err = s.SaveCredential(ctx, "u1", &provider.Credential{
		Provider:    provider.Google,
		AccessToken: "at-2",
		TokenType:   "Bearer",
	})
	require.NoError(t, err)

	cred, err := s.GetCredential(ctx, "u1", provider.Google)
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "at-2", cred.AccessToken)
	assert.Equal(t, "rt-1", cred.RefreshToken)

	action := &PendingAction{
		Type:      provider.ActionSendEmail,
		Provider:  provider.Google,
		Payload:   json.RawMessage(`{"to":"a@b.com","subject":"Hi","bodyText":"Hello"}`),
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.SetPendingAction(ctx, "u1", action))

	got, err := s.GetPendingAction(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, action.Type, got.Type)
	assert.JSONEq(t, string(action.Payload), string(got.Payload))

	require.NoError(t, s.ClearPendingAction(ctx, "u1"))
	got, err = s.GetPendingAction(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStore_RejectsInvalidActionType(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(t.TempDir()+"/store.db", 0)
	require.NoError(t, err)
	defer s.Close()

	err = s.SetPendingAction(ctx, "u1", &PendingAction{
		Type:      provider.ActionType("drop_table"),
		Provider:  provider.Google,
		Payload:   json.RawMessage(`{}`),
		CreatedAt: time.Now(),
	})
	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
}
