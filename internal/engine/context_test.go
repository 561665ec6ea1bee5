package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attache-app/attache/internal/provider"
	"github.com/attache-app/attache/internal/store"
)

type failingClient struct {
	fakeClient
}

func (f *failingClient) ListRecentMail(context.Context, *provider.Credential, provider.ListMailOptions) ([]provider.MailMessage, error) {
	return nil, errors.New("inbox down")
}

func newContextFixture(t *testing.T, client provider.ActionClient) (*ContextBuilder, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore(0)
	registry := provider.NewRegistry(map[provider.Provider]provider.ActionClient{
		provider.Google: client,
	})
	return NewContextBuilder(st, registry, 30*time.Second, 5, 3, nil), st
}

func connect(t *testing.T, st *store.MemoryStore, uid string) {
	t.Helper()
	require.NoError(t, st.SaveCredential(context.Background(), uid, &provider.Credential{
		Provider:    provider.Google,
		AccessToken: "tok",
	}))
}

func TestSnapshot_RendersMailAndEvents(t *testing.T) {
	client := &fakeClient{
		mail: []provider.MailMessage{
			{ID: "m1", From: "Ana <ana@example.com>", Subject: "Status", Date: "2026-03-02T09:00:00Z"},
		},
		events: []provider.Event{
			{ID: "e1", Title: "Planning", Start: "2026-03-03T14:00:00Z", End: "2026-03-03T15:00:00Z"},
		},
	}
	builder, st := newContextFixture(t, client)
	connect(t, st, "u1")

	text := builder.Snapshot(context.Background(), "u1")
	assert.Contains(t, text, "Connected providers: google")
	assert.Contains(t, text, "Status")
	assert.Contains(t, text, "[id e1] Planning")
}

func TestSnapshot_CachesWithinTTL(t *testing.T) {
	client := &fakeClient{}
	builder, st := newContextFixture(t, client)
	connect(t, st, "u1")

	base := time.Now()
	builder.SetClock(func() time.Time { return base })

	builder.Snapshot(context.Background(), "u1")
	builder.Snapshot(context.Background(), "u1")
	assert.Equal(t, 1, client.mailCalls, "second snapshot inside the TTL is served from cache")
	assert.Equal(t, 1, client.eventCalls)

	builder.SetClock(func() time.Time { return base.Add(time.Minute) })
	builder.Snapshot(context.Background(), "u1")
	assert.Equal(t, 2, client.mailCalls, "stale cache triggers a refetch")
}

func TestSnapshot_InvalidateForcesRefetch(t *testing.T) {
	client := &fakeClient{}
	builder, st := newContextFixture(t, client)
	connect(t, st, "u1")

	builder.Snapshot(context.Background(), "u1")
	builder.Invalidate("u1")
	builder.Snapshot(context.Background(), "u1")
	assert.Equal(t, 2, client.mailCalls)
}

func TestSnapshot_DegradesOnPartialFailure(t *testing.T) {
	client := &failingClient{fakeClient: fakeClient{
		events: []provider.Event{{ID: "e1", Title: "Planning", Start: "2026-03-03T14:00:00Z", End: "2026-03-03T15:00:00Z"}},
	}}
	builder, st := newContextFixture(t, client)
	connect(t, st, "u1")

	text := builder.Snapshot(context.Background(), "u1")
	assert.Contains(t, text, "unavailable", "mail failure is reported, not fatal")
	assert.Contains(t, text, "Planning", "calendar still renders")
}

func TestSnapshot_NoProvidersConnected(t *testing.T) {
	builder, _ := newContextFixture(t, &fakeClient{})

	text := builder.Snapshot(context.Background(), "u1")
	assert.Contains(t, text, "No providers connected")
}
