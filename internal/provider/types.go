package provider

import (
	"encoding/json"
	"fmt"
	"time"
)

// Provider identifies an external mail/calendar service.
type Provider string

const (
	Google    Provider = "google"
	Microsoft Provider = "microsoft"
)

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	return p == Google || p == Microsoft
}

// ParseProvider converts a string into a Provider.
func ParseProvider(s string) (Provider, error) {
	p := Provider(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown provider %q", s)
	}
	return p, nil
}

// Credential holds the OAuth tokens stored for one (user, provider) pair.
type Credential struct {
	Provider     Provider  `json:"provider"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	TokenType    string    `json:"tokenType,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// ActionType identifies a side-effecting action the user can confirm.
type ActionType string

const (
	ActionSendEmail   ActionType = "send_email"
	ActionCreateEvent ActionType = "create_calendar_event"
	ActionDeleteEvent ActionType = "delete_calendar_event"
)

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionSendEmail, ActionCreateEvent, ActionDeleteEvent:
		return true
	}
	return false
}

// MailMessage is a normalized summary of a received email.
type MailMessage struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Date    string `json:"date"`
	Snippet string `json:"snippet"`
}

// Event is a normalized calendar event. Start and End are ISO-8601 strings;
// all-day events carry date-only values.
type Event struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Start       string   `json:"start"`
	End         string   `json:"end"`
	Location    string   `json:"location,omitempty"`
	Description string   `json:"description,omitempty"`
	Attendees   []string `json:"attendees,omitempty"`
}

// SendMailInput is the payload for sending an email.
type SendMailInput struct {
	To       string   `json:"to"`
	Subject  string   `json:"subject"`
	BodyText string   `json:"bodyText"`
	Cc       []string `json:"cc,omitempty"`
	Bcc      []string `json:"bcc,omitempty"`
}

// SendMailResult reports the identifiers of a sent message.
type SendMailResult struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId,omitempty"`
}

// CreateEventInput is the payload for creating a calendar event.
type CreateEventInput struct {
	Title       string   `json:"title"`
	StartISO    string   `json:"startISO"`
	EndISO      string   `json:"endISO"`
	Description string   `json:"description,omitempty"`
	Location    string   `json:"location,omitempty"`
	Attendees   []string `json:"attendees,omitempty"`
}

// DeleteEventInput is the payload for deleting a calendar event.
type DeleteEventInput struct {
	EventID string `json:"eventId"`
}

// ListMailOptions bounds a recent-mail listing.
type ListMailOptions struct {
	Max int64
}

// ListEventsOptions bounds a calendar listing window.
type ListEventsOptions struct {
	WindowStart time.Time
	WindowEnd   time.Time
	MaxResults  int64
}

// UpstreamError is returned when a provider API answers with a non-2xx
// status. Body carries a truncated copy of the upstream response for
// diagnostics; it must never be forwarded to the client verbatim.
type UpstreamError struct {
	Provider  Provider
	Operation string
	Status    int
	Body      string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s %s: upstream status %d", e.Provider, e.Operation, e.Status)
}

// DecodePayload unmarshals a stored JSON payload into the typed input for
// the given action type.
func DecodePayload(t ActionType, raw json.RawMessage) (any, error) {
	switch t {
	case ActionSendEmail:
		var in SendMailInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		return &in, nil
	case ActionCreateEvent:
		var in CreateEventInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		return &in, nil
	case ActionDeleteEvent:
		var in DeleteEventInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		return &in, nil
	}
	return nil, fmt.Errorf("unknown action type %q", t)
}
