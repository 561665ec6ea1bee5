package msgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/attache-app/attache/internal/provider"
)

const graphBase = "https://graph.microsoft.com/v1.0"

// DefaultScopes are requested during the consent flow when no explicit
// scope list is configured. offline_access is required for refresh tokens.
var DefaultScopes = []string{
	"offline_access",
	"Mail.Read",
	"Mail.Send",
	"Calendars.ReadWrite",
}

// RefreshFunc is invoked when a call caused the access token to be
// refreshed, so the caller can persist the new credential.
type RefreshFunc func(ctx context.Context, cred *provider.Credential)

// Client implements provider.ActionClient over the Microsoft Graph REST
// API. Graph has no Go SDK in use here; the surface needed is five routes,
// so a thin JSON client over net/http keeps the dependency honest.
type Client struct {
	conf      *oauth2.Config
	base      string
	timeout   time.Duration
	onRefresh RefreshFunc
}

// NewClient creates a Graph adapter. baseURL overrides the Graph endpoint
// for tests; empty selects the public endpoint.
func NewClient(clientID, clientSecret string, scopes []string, timeout time.Duration, onRefresh RefreshFunc) *Client {
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Client{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     microsoft.AzureADEndpoint("common"),
			Scopes:       scopes,
		},
		base:      graphBase,
		timeout:   timeout,
		onRefresh: onRefresh,
	}
}

// OAuthConfig exposes the oauth2 configuration for the consent flow.
func (c *Client) OAuthConfig() *oauth2.Config {
	return c.conf
}

// SetBaseURL overrides the Graph endpoint, for tests.
func (c *Client) SetBaseURL(base string) {
	c.base = base
}

func (c *Client) httpClient(ctx context.Context, cred *provider.Credential) (*http.Client, func()) {
	tok := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    cred.TokenType,
		Expiry:       cred.Expiry,
	}
	ts := c.conf.TokenSource(ctx, tok)
	client := oauth2.NewClient(ctx, ts)
	client.Timeout = c.timeout

	finish := func() {
		if c.onRefresh == nil {
			return
		}
		refreshed, err := ts.Token()
		if err != nil || refreshed.AccessToken == cred.AccessToken {
			return
		}
		c.onRefresh(ctx, &provider.Credential{
			Provider:     provider.Microsoft,
			AccessToken:  refreshed.AccessToken,
			RefreshToken: refreshed.RefreshToken,
			TokenType:    refreshed.TokenType,
			Scope:        cred.Scope,
			Expiry:       refreshed.Expiry,
		})
	}
	return client, finish
}

// do performs one Graph request and decodes a JSON response into out when
// out is non-nil. Non-2xx answers become provider.UpstreamError.
func (c *Client) do(ctx context.Context, client *http.Client, op, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reqBody)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &provider.UpstreamError{
			Provider:  provider.Microsoft,
			Operation: op,
			Status:    resp.StatusCode,
			Body:      string(raw),
		}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
	}
	return nil
}

type graphMessage struct {
	ID             string `json:"id"`
	Subject        string `json:"subject"`
	BodyPreview    string `json:"bodyPreview"`
	ReceivedAt     string `json:"receivedDateTime"`
	ConversationID string `json:"conversationId"`
	From           struct {
		EmailAddress struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
}

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone,omitempty"`
}

type graphEvent struct {
	ID          string         `json:"id,omitempty"`
	Subject     string         `json:"subject"`
	IsAllDay    bool           `json:"isAllDay,omitempty"`
	Start       *graphDateTime `json:"start,omitempty"`
	End         *graphDateTime `json:"end,omitempty"`
	Location    *struct {
		DisplayName string `json:"displayName"`
	} `json:"location,omitempty"`
	Body *struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body,omitempty"`
	Attendees []graphAttendee `json:"attendees,omitempty"`
}

type graphAttendee struct {
	Type         string `json:"type,omitempty"`
	EmailAddress struct {
		Address string `json:"address"`
		Name    string `json:"name,omitempty"`
	} `json:"emailAddress"`
}

// ListRecentMail returns the most recent inbox messages.
func (c *Client) ListRecentMail(ctx context.Context, cred *provider.Credential, opts provider.ListMailOptions) ([]provider.MailMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	client, finish := c.httpClient(ctx, cred)
	defer finish()

	max := opts.Max
	if max <= 0 {
		max = 10
	}
	q := url.Values{}
	q.Set("$top", fmt.Sprintf("%d", max))
	q.Set("$orderby", "receivedDateTime desc")
	q.Set("$select", "id,subject,bodyPreview,from,receivedDateTime,conversationId")

	var result struct {
		Value []graphMessage `json:"value"`
	}
	if err := c.do(ctx, client, "list mail", http.MethodGet, "/me/mailFolders/inbox/messages?"+q.Encode(), nil, &result); err != nil {
		return nil, err
	}

	messages := make([]provider.MailMessage, 0, len(result.Value))
	for _, m := range result.Value {
		from := m.From.EmailAddress.Address
		if m.From.EmailAddress.Name != "" {
			from = fmt.Sprintf("%s <%s>", m.From.EmailAddress.Name, m.From.EmailAddress.Address)
		}
		messages = append(messages, provider.MailMessage{
			ID:      m.ID,
			From:    from,
			Subject: m.Subject,
			Date:    m.ReceivedAt,
			Snippet: m.BodyPreview,
		})
	}
	return messages, nil
}

// ListCalendarEvents returns events within the window via calendarView,
// which expands recurring events into instances.
func (c *Client) ListCalendarEvents(ctx context.Context, cred *provider.Credential, opts provider.ListEventsOptions) ([]provider.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	client, finish := c.httpClient(ctx, cred)
	defer finish()

	max := opts.MaxResults
	if max <= 0 {
		max = 20
	}
	q := url.Values{}
	q.Set("startDateTime", opts.WindowStart.UTC().Format(time.RFC3339))
	q.Set("endDateTime", opts.WindowEnd.UTC().Format(time.RFC3339))
	q.Set("$top", fmt.Sprintf("%d", max))
	q.Set("$orderby", "start/dateTime")

	var result struct {
		Value []graphEvent `json:"value"`
	}
	if err := c.do(ctx, client, "list events", http.MethodGet, "/me/calendarview?"+q.Encode(), nil, &result); err != nil {
		return nil, err
	}

	events := make([]provider.Event, 0, len(result.Value))
	for _, e := range result.Value {
		events = append(events, toEvent(e))
	}
	return events, nil
}

func toEvent(e graphEvent) provider.Event {
	ev := provider.Event{
		ID:    e.ID,
		Title: e.Subject,
	}
	if e.Start != nil {
		ev.Start = normalizeGraphTime(e.Start.DateTime, e.IsAllDay)
	}
	if e.End != nil {
		ev.End = normalizeGraphTime(e.End.DateTime, e.IsAllDay)
	}
	if e.Location != nil {
		ev.Location = e.Location.DisplayName
	}
	if e.Body != nil {
		ev.Description = e.Body.Content
	}
	for _, a := range e.Attendees {
		if a.EmailAddress.Address != "" {
			ev.Attendees = append(ev.Attendees, a.EmailAddress.Address)
		}
	}
	return ev
}

// normalizeGraphTime converts Graph's fractional-second timestamps to
// ISO-8601. All-day events reduce to the date part.
func normalizeGraphTime(s string, allDay bool) string {
	if s == "" {
		return ""
	}
	if allDay && len(s) >= 10 {
		return s[:10]
	}
	if t, err := time.Parse("2006-01-02T15:04:05.9999999", s); err == nil {
		return t.Format(time.RFC3339)
	}
	return s
}

// CreateCalendarEvent creates an event on the default calendar.
func (c *Client) CreateCalendarEvent(ctx context.Context, cred *provider.Credential, in *provider.CreateEventInput) (*provider.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	client, finish := c.httpClient(ctx, cred)
	defer finish()

	body := graphEvent{
		Subject: in.Title,
		Start:   &graphDateTime{DateTime: in.StartISO, TimeZone: "UTC"},
		End:     &graphDateTime{DateTime: in.EndISO, TimeZone: "UTC"},
	}
	if in.Location != "" {
		body.Location = &struct {
			DisplayName string `json:"displayName"`
		}{DisplayName: in.Location}
	}
	if in.Description != "" {
		body.Body = &struct {
			ContentType string `json:"contentType"`
			Content     string `json:"content"`
		}{ContentType: "text", Content: in.Description}
	}
	for _, email := range in.Attendees {
		att := graphAttendee{Type: "required"}
		att.EmailAddress.Address = email
		body.Attendees = append(body.Attendees, att)
	}

	var created graphEvent
	if err := c.do(ctx, client, "create event", http.MethodPost, "/me/events", body, &created); err != nil {
		return nil, err
	}
	out := toEvent(created)
	return &out, nil
}

// DeleteCalendarEvent deletes an event. Graph answers 204 on success; 404
// or 410 means the event is already gone, which counts as success.
func (c *Client) DeleteCalendarEvent(ctx context.Context, cred *provider.Credential, eventID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	client, finish := c.httpClient(ctx, cred)
	defer finish()

	err := c.do(ctx, client, "delete event", http.MethodDelete, "/me/events/"+url.PathEscape(eventID), nil, nil)
	if err != nil {
		var upstream *provider.UpstreamError
		if errors.As(err, &upstream) && (upstream.Status == http.StatusNotFound || upstream.Status == http.StatusGone) {
			return nil
		}
		return err
	}
	return nil
}

// SendMail sends an email through Graph's sendMail action, which answers
// 202 with an empty body; Graph does not return the created message id.
func (c *Client) SendMail(ctx context.Context, cred *provider.Credential, in *provider.SendMailInput) (*provider.SendMailResult, error) {
	if in.To == "" {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	if in.Subject == "" {
		return nil, fmt.Errorf("subject is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	client, finish := c.httpClient(ctx, cred)
	defer finish()

	type recipient struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	}
	mkRecipients := func(addrs []string) []recipient {
		out := make([]recipient, 0, len(addrs))
		for _, a := range addrs {
			var r recipient
			r.EmailAddress.Address = a
			out = append(out, r)
		}
		return out
	}

	body := map[string]any{
		"message": map[string]any{
			"subject": in.Subject,
			"body": map[string]any{
				"contentType": "Text",
				"content":     in.BodyText,
			},
			"toRecipients":  mkRecipients([]string{in.To}),
			"ccRecipients":  mkRecipients(in.Cc),
			"bccRecipients": mkRecipients(in.Bcc),
		},
		"saveToSentItems": true,
	}

	if err := c.do(ctx, client, "send mail", http.MethodPost, "/me/sendMail", body, nil); err != nil {
		return nil, err
	}
	return &provider.SendMailResult{ID: "graph:accepted"}, nil
}
