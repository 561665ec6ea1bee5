package engine

import (
	"fmt"
	"strings"

	"github.com/attache-app/attache/internal/provider"
)

// Confirmation phrases are a small closed set matched exactly after
// normalization. Fuzzy matching is deliberately out: a false-positive
// confirmation sends email or mutates a calendar.
var phraseActions = map[string]provider.ActionType{
	"send it":   provider.ActionSendEmail,
	"create it": provider.ActionCreateEvent,
	"delete it": provider.ActionDeleteEvent,
}

// ConfirmationPhrase returns the exact phrase that confirms an action type.
func ConfirmationPhrase(t provider.ActionType) string {
	for phrase, action := range phraseActions {
		if action == t {
			return phrase
		}
	}
	return ""
}

// normalizeText lowers, trims, and strips trailing punctuation so that
// "Send it.", "send it" and "SEND IT!" all match the same phrase.
func normalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimRight(s, ".!?,;: ")
}

func describeAction(t provider.ActionType) string {
	switch t {
	case provider.ActionSendEmail:
		return "an email draft"
	case provider.ActionCreateEvent:
		return "a calendar event draft"
	case provider.ActionDeleteEvent:
		return "a calendar event deletion"
	}
	return "an action"
}

const nothingPendingMessage = "There's nothing waiting for confirmation. Ask me to draft an email or a calendar change first."

func mismatchMessage(pending provider.ActionType) string {
	return fmt.Sprintf("What's pending is %s, not that. Reply %q to confirm it, or tell me what to change.",
		describeAction(pending), ConfirmationPhrase(pending))
}

// proposalMessage renders the canned proposal for a drafted action. The text
// always embeds the exact confirmation phrase; the model never writes this
// message, so it cannot promise execution it did not perform.
func proposalMessage(t provider.ActionType, in any) string {
	var b strings.Builder
	switch t {
	case provider.ActionSendEmail:
		email := in.(*provider.SendMailInput)
		b.WriteString("Here's the email I've drafted:\n\n")
		fmt.Fprintf(&b, "To: %s\n", email.To)
		if len(email.Cc) > 0 {
			fmt.Fprintf(&b, "Cc: %s\n", strings.Join(email.Cc, ", "))
		}
		fmt.Fprintf(&b, "Subject: %s\n\n%s\n\n", email.Subject, email.BodyText)
		fmt.Fprintf(&b, "Reply %q to send it, or tell me what to change.", ConfirmationPhrase(t))
	case provider.ActionCreateEvent:
		event := in.(*provider.CreateEventInput)
		b.WriteString("Here's the event I'll create:\n\n")
		fmt.Fprintf(&b, "Title: %s\n", event.Title)
		fmt.Fprintf(&b, "Start: %s\n", event.StartISO)
		fmt.Fprintf(&b, "End: %s\n", event.EndISO)
		if event.Location != "" {
			fmt.Fprintf(&b, "Location: %s\n", event.Location)
		}
		if len(event.Attendees) > 0 {
			fmt.Fprintf(&b, "Attendees: %s\n", strings.Join(event.Attendees, ", "))
		}
		fmt.Fprintf(&b, "\nReply %q to add it to your calendar, or tell me what to change.", ConfirmationPhrase(t))
	case provider.ActionDeleteEvent:
		del := in.(*provider.DeleteEventInput)
		fmt.Fprintf(&b, "I'll delete event %s from your calendar.\n\n", del.EventID)
		fmt.Fprintf(&b, "Reply %q to confirm. This cannot be undone.", ConfirmationPhrase(t))
	}
	return b.String()
}

// successMessage renders the deterministic post-execution confirmation. It is
// generated locally from the payload that was actually executed.
func successMessage(t provider.ActionType, in any, result any) string {
	switch t {
	case provider.ActionSendEmail:
		email := in.(*provider.SendMailInput)
		return fmt.Sprintf("Sent %q to %s.", email.Subject, email.To)
	case provider.ActionCreateEvent:
		event := in.(*provider.CreateEventInput)
		if created, ok := result.(*provider.Event); ok && created != nil && created.Start != "" {
			return fmt.Sprintf("Created %q from %s to %s.", created.Title, created.Start, created.End)
		}
		return fmt.Sprintf("Created %q from %s to %s.", event.Title, event.StartISO, event.EndISO)
	case provider.ActionDeleteEvent:
		del := in.(*provider.DeleteEventInput)
		return fmt.Sprintf("Deleted event %s.", del.EventID)
	}
	return "Done."
}
