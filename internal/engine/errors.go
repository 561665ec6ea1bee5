package engine

import (
	"fmt"

	"github.com/attache-app/attache/internal/provider"
)

// NotConnectedError means the user has no stored credential for the provider
// an action needs. It maps to a 400 at the HTTP boundary: the client must
// send the user through the OAuth flow, not retry.
type NotConnectedError struct {
	Provider provider.Provider
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("%s is not connected", e.Provider)
}

// BadInputError flags an action payload with a missing or unusable field.
type BadInputError struct {
	Field  string
	Reason string
}

func (e *BadInputError) Error() string {
	return fmt.Sprintf("invalid field %q: %s", e.Field, e.Reason)
}

// validateInput checks the required fields of a typed action payload.
func validateInput(t provider.ActionType, in any) error {
	switch t {
	case provider.ActionSendEmail:
		email := in.(*provider.SendMailInput)
		if email.To == "" {
			return &BadInputError{Field: "to", Reason: "recipient is required"}
		}
		if email.Subject == "" {
			return &BadInputError{Field: "subject", Reason: "subject is required"}
		}
		if email.BodyText == "" {
			return &BadInputError{Field: "bodyText", Reason: "body is required"}
		}
	case provider.ActionCreateEvent:
		event := in.(*provider.CreateEventInput)
		if event.Title == "" {
			return &BadInputError{Field: "title", Reason: "title is required"}
		}
		if event.StartISO == "" {
			return &BadInputError{Field: "startISO", Reason: "start time is required"}
		}
		if event.EndISO == "" {
			return &BadInputError{Field: "endISO", Reason: "end time is required"}
		}
	case provider.ActionDeleteEvent:
		del := in.(*provider.DeleteEventInput)
		if del.EventID == "" {
			return &BadInputError{Field: "eventId", Reason: "event id is required"}
		}
	default:
		return &BadInputError{Field: "actionType", Reason: fmt.Sprintf("unknown action type %q", t)}
	}
	return nil
}
