package oauthflow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/attache-app/attache/internal/provider"
	"github.com/attache-app/attache/internal/store"
)

func newTestFlow(t *testing.T, tokenEndpoint string) (*Flow, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore(0)
	cfg := &oauth2.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "https://api.example.com/v1/oauth/google/callback",
		Scopes:       []string{"scope-a", "scope-b"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.example.com/auth",
			TokenURL: tokenEndpoint,
		},
	}
	flow := New(map[provider.Provider]*oauth2.Config{provider.Google: cfg}, st, 15*time.Minute, nil)
	return flow, st
}

func TestStateStore_ConsumeOnce(t *testing.T) {
	s := NewStateStore(15 * time.Minute)
	token := s.Issue("u1", "app://settings")

	payload, ok := s.Consume(token)
	require.True(t, ok)
	assert.Equal(t, "u1", payload.UID)
	assert.Equal(t, "app://settings", payload.DeepLink)

	_, ok = s.Consume(token)
	assert.False(t, ok, "state tokens are single-use")

	_, ok = s.Consume("never-issued")
	assert.False(t, ok)
}

func TestStateStore_Expiry(t *testing.T) {
	s := NewStateStore(15 * time.Minute)
	base := time.Now()
	s.SetClock(func() time.Time { return base })

	token := s.Issue("u1", "")
	s.SetClock(func() time.Time { return base.Add(16 * time.Minute) })

	_, ok := s.Consume(token)
	assert.False(t, ok)
}

func TestStartURL_CarriesStateAndOfflineAccess(t *testing.T) {
	flow, _ := newTestFlow(t, "https://accounts.example.com/token")

	url, err := flow.StartURL("u1", provider.Google, "app://done")
	require.NoError(t, err)
	assert.Contains(t, url, "https://accounts.example.com/auth")
	assert.Contains(t, url, "access_type=offline")
	assert.Contains(t, url, "state=")
	assert.Contains(t, url, "client_id=client-id")

	_, err = flow.StartURL("u1", provider.Microsoft, "")
	assert.Error(t, err, "unconfigured provider cannot start")
}

func TestHandleCallback_ExchangesAndStoresCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "auth-code", r.Form.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"access_token": "at-1",
			"refresh_token": "rt-1",
			"token_type": "Bearer",
			"expires_in": 3600
		}`))
	}))
	t.Cleanup(srv.Close)

	flow, st := newTestFlow(t, srv.URL)
	startURL, err := flow.StartURL("u1", provider.Google, "app://done")
	require.NoError(t, err)
	state := stateParam(t, startURL)

	deepLink, err := flow.HandleCallback(context.Background(), provider.Google, "auth-code", state)
	require.NoError(t, err)
	assert.Equal(t, "app://done", deepLink)

	cred, err := st.GetCredential(context.Background(), "u1", provider.Google)
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "at-1", cred.AccessToken)
	assert.Equal(t, "rt-1", cred.RefreshToken)
	assert.Equal(t, "scope-a scope-b", cred.Scope)
}

func TestHandleCallback_ReexchangeWithoutRefreshTokenKeepsStoredOne(t *testing.T) {
	refresh := "rt-first"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if refresh != "" {
			_, _ = w.Write([]byte(`{"access_token":"at-1","refresh_token":"` + refresh + `","token_type":"Bearer","expires_in":3600}`))
			refresh = ""
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"at-2","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)

	flow, st := newTestFlow(t, srv.URL)
	for range 2 {
		startURL, err := flow.StartURL("u1", provider.Google, "")
		require.NoError(t, err)
		_, err = flow.HandleCallback(context.Background(), provider.Google, "auth-code", stateParam(t, startURL))
		require.NoError(t, err)
	}

	cred, err := st.GetCredential(context.Background(), "u1", provider.Google)
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "at-2", cred.AccessToken, "access token is refreshed")
	assert.Equal(t, "rt-first", cred.RefreshToken, "missing refresh token preserves the stored one")
}

func TestHandleCallback_RejectsUnknownState(t *testing.T) {
	flow, _ := newTestFlow(t, "https://accounts.example.com/token")

	_, err := flow.HandleCallback(context.Background(), provider.Google, "auth-code", "forged-state")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestStatus(t *testing.T) {
	flow, st := newTestFlow(t, "https://accounts.example.com/token")
	require.NoError(t, st.SaveCredential(context.Background(), "u1", &provider.Credential{
		Provider:    provider.Google,
		AccessToken: "tok",
	}))

	status, err := flow.Status(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, status[provider.Google])

	status, err = flow.Status(context.Background(), "u2")
	require.NoError(t, err)
	assert.False(t, status[provider.Google])
}

func stateParam(t *testing.T, rawURL string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}
