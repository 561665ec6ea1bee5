package provider

import (
	"context"
	"fmt"
)

// ActionClient is the uniform surface every provider adapter implements.
// All calls are bounded by the context deadline supplied by the caller and
// never retry on their own: send/create/delete are side-effecting, so retry
// policy belongs to whoever owns the user interaction.
type ActionClient interface {
	// ListRecentMail returns up to opts.Max recent inbox messages.
	// An empty result is not an error.
	ListRecentMail(ctx context.Context, cred *Credential, opts ListMailOptions) ([]MailMessage, error)

	// ListCalendarEvents returns events inside the window, normalized to
	// ISO-8601 times (date-only for all-day events).
	ListCalendarEvents(ctx context.Context, cred *Credential, opts ListEventsOptions) ([]Event, error)

	// CreateCalendarEvent creates an event and returns its normalized form.
	CreateCalendarEvent(ctx context.Context, cred *Credential, in *CreateEventInput) (*Event, error)

	// DeleteCalendarEvent deletes an event. An upstream "already gone"
	// answer (404/410) is success: the desired state holds either way.
	DeleteCalendarEvent(ctx context.Context, cred *Credential, eventID string) error

	// SendMail sends an email and returns the upstream message identifiers.
	SendMail(ctx context.Context, cred *Credential, in *SendMailInput) (*SendMailResult, error)
}

// Registry maps providers to their adapters.
type Registry struct {
	clients map[Provider]ActionClient
}

// NewRegistry builds a registry over the given adapters. Nil entries are
// skipped so a deployment can run with a single provider configured.
func NewRegistry(clients map[Provider]ActionClient) *Registry {
	r := &Registry{clients: make(map[Provider]ActionClient)}
	for p, c := range clients {
		if c != nil {
			r.clients[p] = c
		}
	}
	return r
}

// Client returns the adapter for a provider.
func (r *Registry) Client(p Provider) (ActionClient, error) {
	c, ok := r.clients[p]
	if !ok {
		return nil, fmt.Errorf("provider %s is not configured", p)
	}
	return c, nil
}

// Providers returns the configured providers.
func (r *Registry) Providers() []Provider {
	out := make([]Provider, 0, len(r.clients))
	for p := range r.clients {
		out = append(out, p)
	}
	return out
}
