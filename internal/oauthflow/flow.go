// Package oauthflow drives the provider connect flow: building the consent
// URL, validating the callback, exchanging the authorization code, and
// persisting the resulting credential.
package oauthflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/attache-app/attache/internal/logging"
	"github.com/attache-app/attache/internal/provider"
	"github.com/attache-app/attache/internal/store"
)

// ErrInvalidState is returned for a callback whose state token is unknown,
// already used, or expired.
var ErrInvalidState = errors.New("invalid or expired oauth state")

// Flow handles the connect flow for all configured providers.
type Flow struct {
	configs map[provider.Provider]*oauth2.Config
	states  *StateStore
	store   store.TokenStore
	logger  *slog.Logger
}

// New creates a Flow over the per-provider OAuth configs. Providers absent
// from configs are not connectable.
func New(configs map[provider.Provider]*oauth2.Config, st store.TokenStore, stateTTL time.Duration, logger *slog.Logger) *Flow {
	if logger == nil {
		logger = slog.Default()
	}
	flows := make(map[provider.Provider]*oauth2.Config)
	for p, cfg := range configs {
		if cfg != nil {
			flows[p] = cfg
		}
	}
	return &Flow{
		configs: flows,
		states:  NewStateStore(stateTTL),
		store:   st,
		logger:  logger,
	}
}

// StartURL returns the provider consent URL for a user. deepLink, when
// non-empty, is where the callback redirects the browser after a successful
// exchange.
func (f *Flow) StartURL(uid string, p provider.Provider, deepLink string) (string, error) {
	cfg, ok := f.configs[p]
	if !ok {
		return "", fmt.Errorf("provider %s is not configured", p)
	}

	state := f.states.Issue(uid, deepLink)
	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline}
	if p == provider.Google {
		// Google only reissues a refresh token when consent is forced.
		opts = append(opts, oauth2.ApprovalForce)
	}
	return cfg.AuthCodeURL(state, opts...), nil
}

// HandleCallback redeems the state token, exchanges the authorization code,
// and stores the credential. It returns the deep link captured at start
// time, which may be empty.
func (f *Flow) HandleCallback(ctx context.Context, p provider.Provider, code, state string) (string, error) {
	cfg, ok := f.configs[p]
	if !ok {
		return "", fmt.Errorf("provider %s is not configured", p)
	}

	payload, ok := f.states.Consume(state)
	if !ok {
		return "", ErrInvalidState
	}

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return "", &provider.UpstreamError{
			Provider:  p,
			Operation: "oauth.exchange",
			Status:    0,
			Body:      err.Error(),
		}
	}

	cred := &provider.Credential{
		Provider:     p,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Scope:        strings.Join(cfg.Scopes, " "),
		Expiry:       token.Expiry,
	}
	if err := f.store.SaveCredential(ctx, payload.UID, cred); err != nil {
		return "", err
	}

	f.logger.Info("provider connected",
		logging.Operation("oauth.callback"),
		logging.Provider(string(p)),
		logging.UserHash(payload.UID))

	return payload.DeepLink, nil
}

// Status reports, per configured provider, whether the user has a stored
// credential.
func (f *Flow) Status(ctx context.Context, uid string) (map[provider.Provider]bool, error) {
	status := make(map[provider.Provider]bool, len(f.configs))
	for p := range f.configs {
		cred, err := f.store.GetCredential(ctx, uid, p)
		if err != nil {
			return nil, err
		}
		status[p] = cred != nil
	}
	return status, nil
}

// Configured reports whether a provider can be connected at all.
func (f *Flow) Configured(p provider.Provider) bool {
	_, ok := f.configs[p]
	return ok
}
