package msgraph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attache-app/attache/internal/provider"
)

func testCredential() *provider.Credential {
	return &provider.Credential{
		Provider:    provider.Microsoft,
		AccessToken: "test-token",
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	}
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient("client-id", "client-secret", nil, 5*time.Second, nil)
	c.SetBaseURL(srv.URL)
	return c, srv
}

func TestListRecentMail_NormalizesMessages(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/mailFolders/inbox/messages", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "3", r.URL.Query().Get("$top"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"value": []map[string]any{
				{
					"id":               "m1",
					"subject":          "Status report",
					"bodyPreview":      "Attached below",
					"receivedDateTime": "2026-03-02T09:00:00Z",
					"from": map[string]any{
						"emailAddress": map[string]any{"name": "Ana", "address": "ana@example.com"},
					},
				},
			},
		})
	}))

	msgs, err := c.ListRecentMail(context.Background(), testCredential(), provider.ListMailOptions{Max: 3})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "Ana <ana@example.com>", msgs[0].From)
	assert.Equal(t, "Status report", msgs[0].Subject)
}

func TestListRecentMail_EmptyResultIsNotError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"value": []any{}})
	}))

	msgs, err := c.ListRecentMail(context.Background(), testCredential(), provider.ListMailOptions{})
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestListRecentMail_UpstreamError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":"ErrorAccessDenied"}}`))
	}))

	_, err := c.ListRecentMail(context.Background(), testCredential(), provider.ListMailOptions{})
	var upstream *provider.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusForbidden, upstream.Status)
	assert.Equal(t, provider.Microsoft, upstream.Provider)
	assert.Contains(t, upstream.Body, "ErrorAccessDenied")
}

func TestListCalendarEvents_NormalizesTimes(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/calendarview", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"value": []map[string]any{
				{
					"id":      "e1",
					"subject": "Planning",
					"start":   map[string]any{"dateTime": "2026-03-03T14:00:00.0000000", "timeZone": "UTC"},
					"end":     map[string]any{"dateTime": "2026-03-03T15:00:00.0000000", "timeZone": "UTC"},
				},
				{
					"id":       "e2",
					"subject":  "Offsite",
					"isAllDay": true,
					"start":    map[string]any{"dateTime": "2026-03-04T00:00:00.0000000", "timeZone": "UTC"},
					"end":      map[string]any{"dateTime": "2026-03-05T00:00:00.0000000", "timeZone": "UTC"},
				},
			},
		})
	}))

	events, err := c.ListCalendarEvents(context.Background(), testCredential(), provider.ListEventsOptions{
		WindowStart: time.Now(),
		WindowEnd:   time.Now().Add(72 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "2026-03-03T14:00:00Z", events[0].Start)
	assert.Equal(t, "2026-03-04", events[1].Start, "all-day events normalize to date-only")
	assert.Equal(t, "2026-03-05", events[1].End)
}

func TestCreateCalendarEvent(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/me/events", r.URL.Path)

		var body graphEvent
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Dentist", body.Subject)
		require.NotNil(t, body.Start)
		assert.Equal(t, "2026-03-05T09:00:00Z", body.Start.DateTime)

		body.ID = "created-1"
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(body)
	}))

	ev, err := c.CreateCalendarEvent(context.Background(), testCredential(), &provider.CreateEventInput{
		Title:    "Dentist",
		StartISO: "2026-03-05T09:00:00Z",
		EndISO:   "2026-03-05T09:30:00Z",
	})
	require.NoError(t, err)
	assert.Equal(t, "created-1", ev.ID)
	assert.Equal(t, "Dentist", ev.Title)
}

func TestDeleteCalendarEvent_GoneIsSuccess(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "deleted", status: http.StatusNoContent},
		{name: "already gone", status: http.StatusNotFound},
		{name: "gone", status: http.StatusGone},
		{name: "forbidden", status: http.StatusForbidden, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, http.MethodDelete, r.Method)
				w.WriteHeader(tt.status)
			}))

			err := c.DeleteCalendarEvent(context.Background(), testCredential(), "ev-1")
			if tt.wantErr {
				var upstream *provider.UpstreamError
				assert.ErrorAs(t, err, &upstream)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSendMail_BuildsGraphPayload(t *testing.T) {
	var got map[string]any
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/me/sendMail", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))

	res, err := c.SendMail(context.Background(), testCredential(), &provider.SendMailInput{
		To:       "a@b.com",
		Subject:  "Hi",
		BodyText: "Hello",
		Cc:       []string{"c@b.com"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)

	message := got["message"].(map[string]any)
	assert.Equal(t, "Hi", message["subject"])
	to := message["toRecipients"].([]any)
	require.Len(t, to, 1)
}

func TestSendMail_RequiresRecipientAndSubject(t *testing.T) {
	c := NewClient("id", "secret", nil, time.Second, nil)

	_, err := c.SendMail(context.Background(), testCredential(), &provider.SendMailInput{Subject: "x"})
	assert.Error(t, err)

	_, err = c.SendMail(context.Background(), testCredential(), &provider.SendMailInput{To: "a@b.com"})
	assert.Error(t, err)
}
