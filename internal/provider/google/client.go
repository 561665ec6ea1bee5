package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/attache-app/attache/internal/provider"
)

// DefaultScopes are requested during the consent flow when no explicit
// scope list is configured.
var DefaultScopes = []string{
	gmail.GmailReadonlyScope,
	gmail.GmailSendScope,
	calendar.CalendarEventsScope,
}

// RefreshFunc is invoked when a provider call caused the access token to be
// refreshed, so the caller can persist the new credential.
type RefreshFunc func(ctx context.Context, cred *provider.Credential)

// Client implements provider.ActionClient over the Gmail and Calendar APIs.
type Client struct {
	conf      *oauth2.Config
	timeout   time.Duration
	onRefresh RefreshFunc
}

// NewClient creates a Google adapter. clientID/clientSecret are the OAuth
// client registration used to refresh access tokens. timeout bounds every
// upstream call. onRefresh may be nil.
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
			Endpoint:     googleoauth.Endpoint,
			Scopes:       scopes,
		},
		timeout:   timeout,
		onRefresh: onRefresh,
	}
}

// OAuthConfig exposes the oauth2 configuration for the consent flow.
func (c *Client) OAuthConfig() *oauth2.Config {
	return c.conf
}

// httpClient builds an authenticated HTTP client from a stored credential.
// The returned finish func detects a silent token refresh and reports the
// new credential through onRefresh.
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
		updated := &provider.Credential{
			Provider:     provider.Google,
			AccessToken:  refreshed.AccessToken,
			RefreshToken: refreshed.RefreshToken,
			TokenType:    refreshed.TokenType,
			Scope:        cred.Scope,
			Expiry:       refreshed.Expiry,
		}
		c.onRefresh(ctx, updated)
	}
	return client, finish
}

func (c *Client) gmailService(ctx context.Context, cred *provider.Credential) (*gmail.Service, func(), error) {
	client, finish := c.httpClient(ctx, cred)
	svc, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, nil, fmt.Errorf("create gmail service: %w", err)
	}
	return svc, finish, nil
}

func (c *Client) calendarService(ctx context.Context, cred *provider.Credential) (*calendar.Service, func(), error) {
	client, finish := c.httpClient(ctx, cred)
	svc, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, nil, fmt.Errorf("create calendar service: %w", err)
	}
	return svc, finish, nil
}

// wrapUpstream converts googleapi errors into provider.UpstreamError.
func wrapUpstream(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &provider.UpstreamError{
			Provider:  provider.Google,
			Operation: op,
			Status:    apiErr.Code,
			Body:      truncate(apiErr.Body, 512),
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// ListRecentMail returns the most recent inbox messages.
func (c *Client) ListRecentMail(ctx context.Context, cred *provider.Credential, opts provider.ListMailOptions) ([]provider.MailMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	svc, finish, err := c.gmailService(ctx, cred)
	if err != nil {
		return nil, err
	}
	defer finish()

	max := opts.Max
	if max <= 0 {
		max = 10
	}
	list, err := svc.Users.Messages.List("me").LabelIds("INBOX").MaxResults(max).Context(ctx).Do()
	if err != nil {
		return nil, wrapUpstream("list mail", err)
	}

	messages := make([]provider.MailMessage, 0, len(list.Messages))
	for _, ref := range list.Messages {
		msg, err := svc.Users.Messages.Get("me", ref.Id).
			Format("metadata").
			MetadataHeaders("From", "Subject", "Date").
			Context(ctx).Do()
		if err != nil {
			return nil, wrapUpstream("get mail", err)
		}
		messages = append(messages, provider.MailMessage{
			ID:      msg.Id,
			From:    headerValue(msg, "From"),
			Subject: headerValue(msg, "Subject"),
			Date:    headerValue(msg, "Date"),
			Snippet: msg.Snippet,
		})
	}
	return messages, nil
}

func headerValue(msg *gmail.Message, name string) string {
	if msg == nil || msg.Payload == nil {
		return ""
	}
	for _, h := range msg.Payload.Headers {
		if h.Name == name {
			return h.Value
		}
	}
	return ""
}

// ListCalendarEvents returns events within the window from the primary
// calendar, normalized to ISO-8601 (date-only for all-day events).
func (c *Client) ListCalendarEvents(ctx context.Context, cred *provider.Credential, opts provider.ListEventsOptions) ([]provider.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	svc, finish, err := c.calendarService(ctx, cred)
	if err != nil {
		return nil, err
	}
	defer finish()

	max := opts.MaxResults
	if max <= 0 {
		max = 20
	}
	call := svc.Events.List("primary").
		TimeMin(opts.WindowStart.Format(time.RFC3339)).
		TimeMax(opts.WindowEnd.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(max).
		Context(ctx)

	res, err := call.Do()
	if err != nil {
		return nil, wrapUpstream("list events", err)
	}

	events := make([]provider.Event, 0, len(res.Items))
	for _, item := range res.Items {
		events = append(events, toEvent(item))
	}
	return events, nil
}

// toEvent normalizes a Google Calendar event. All-day events carry only a
// Date; the conversion must not assume DateTime is present.
func toEvent(item *calendar.Event) provider.Event {
	ev := provider.Event{}
	if item == nil {
		return ev
	}
	ev.ID = item.Id
	ev.Title = item.Summary
	ev.Location = item.Location
	ev.Description = item.Description
	ev.Start = eventTime(item.Start)
	ev.End = eventTime(item.End)
	for _, a := range item.Attendees {
		if a.Email != "" {
			ev.Attendees = append(ev.Attendees, a.Email)
		}
	}
	return ev
}

func eventTime(dt *calendar.EventDateTime) string {
	if dt == nil {
		return ""
	}
	if dt.DateTime != "" {
		return dt.DateTime
	}
	return dt.Date
}

// CreateCalendarEvent creates an event on the primary calendar.
func (c *Client) CreateCalendarEvent(ctx context.Context, cred *provider.Credential, in *provider.CreateEventInput) (*provider.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	svc, finish, err := c.calendarService(ctx, cred)
	if err != nil {
		return nil, err
	}
	defer finish()

	event := &calendar.Event{
		Summary:     in.Title,
		Description: in.Description,
		Location:    in.Location,
		Start:       &calendar.EventDateTime{DateTime: in.StartISO},
		End:         &calendar.EventDateTime{DateTime: in.EndISO},
	}
	for _, email := range in.Attendees {
		event.Attendees = append(event.Attendees, &calendar.EventAttendee{Email: email})
	}

	created, err := svc.Events.Insert("primary", event).Context(ctx).Do()
	if err != nil {
		return nil, wrapUpstream("create event", err)
	}
	out := toEvent(created)
	return &out, nil
}

// DeleteCalendarEvent deletes an event from the primary calendar. A 404 or
// 410 from upstream means the event is already gone, which is the state the
// user asked for.
func (c *Client) DeleteCalendarEvent(ctx context.Context, cred *provider.Credential, eventID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	svc, finish, err := c.calendarService(ctx, cred)
	if err != nil {
		return err
	}
	defer finish()

	if err := svc.Events.Delete("primary", eventID).Context(ctx).Do(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
			return nil
		}
		return wrapUpstream("delete event", err)
	}
	return nil
}

// SendMail sends an email via the Gmail API. The message is assembled as
// RFC 2822 text and base64url-encoded without padding, as the raw transport
// requires.
func (c *Client) SendMail(ctx context.Context, cred *provider.Credential, in *provider.SendMailInput) (*provider.SendMailResult, error) {
	if in.To == "" {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	if in.Subject == "" {
		return nil, fmt.Errorf("subject is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	svc, finish, err := c.gmailService(ctx, cred)
	if err != nil {
		return nil, err
	}
	defer finish()

	raw := encodeRawMessage(in)
	sent, err := svc.Users.Messages.Send("me", &gmail.Message{Raw: raw}).Context(ctx).Do()
	if err != nil {
		return nil, wrapUpstream("send mail", err)
	}
	return &provider.SendMailResult{ID: sent.Id, ThreadID: sent.ThreadId}, nil
}
