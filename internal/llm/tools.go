package llm

import (
	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
)

// Tool names offered to the model. Every tool is a proposal: nothing the
// model can call executes a side effect. Execution happens only after the
// user types the matching confirmation phrase, outside the model's reach.
const (
	ToolProposeEmail          = "propose_email"
	ToolProposeCalendarEvent  = "propose_calendar_event"
	ToolProposeCalendarDelete = "propose_calendar_delete"
)

// toolSchemaVersion tags the tool set so prompt/schema changes are visible
// in logs when debugging model behavior.
const toolSchemaVersion = "v1"

// ProposalTools returns the fixed tool schema offered on every chat turn.
func ProposalTools() []openai.Tool {
	return []openai.Tool{
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ToolProposeEmail,
				Description: "Draft an email for the user to review. The email is NOT sent until the user explicitly confirms.",
				Parameters: jsonschema.Definition{
					Type: jsonschema.Object,
					Properties: map[string]jsonschema.Definition{
						"to": {
							Type:        jsonschema.String,
							Description: "Recipient email address",
						},
						"subject": {
							Type:        jsonschema.String,
							Description: "Email subject line",
						},
						"bodyText": {
							Type:        jsonschema.String,
							Description: "Plain-text email body",
						},
						"cc": {
							Type:        jsonschema.Array,
							Description: "Optional CC recipients",
							Items:       &jsonschema.Definition{Type: jsonschema.String},
						},
					},
					Required: []string{"to", "subject", "bodyText"},
				},
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ToolProposeCalendarEvent,
				Description: "Draft a calendar event for the user to review. The event is NOT created until the user explicitly confirms.",
				Parameters: jsonschema.Definition{
					Type: jsonschema.Object,
					Properties: map[string]jsonschema.Definition{
						"title": {
							Type:        jsonschema.String,
							Description: "Event title",
						},
						"startISO": {
							Type:        jsonschema.String,
							Description: "Event start as an ISO-8601 timestamp",
						},
						"endISO": {
							Type:        jsonschema.String,
							Description: "Event end as an ISO-8601 timestamp",
						},
						"description": {
							Type:        jsonschema.String,
							Description: "Optional event description",
						},
						"location": {
							Type:        jsonschema.String,
							Description: "Optional event location",
						},
						"attendees": {
							Type:        jsonschema.Array,
							Description: "Optional attendee email addresses",
							Items:       &jsonschema.Definition{Type: jsonschema.String},
						},
					},
					Required: []string{"title", "startISO", "endISO"},
				},
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ToolProposeCalendarDelete,
				Description: "Propose deleting an existing calendar event. The event is NOT deleted until the user explicitly confirms.",
				Parameters: jsonschema.Definition{
					Type: jsonschema.Object,
					Properties: map[string]jsonschema.Definition{
						"eventId": {
							Type:        jsonschema.String,
							Description: "Identifier of the event to delete, taken from the calendar context",
						},
					},
					Required: []string{"eventId"},
				},
			},
		},
	}
}

// KnownTool reports whether name is one of the proposal tools.
func KnownTool(name string) bool {
	switch name {
	case ToolProposeEmail, ToolProposeCalendarEvent, ToolProposeCalendarDelete:
		return true
	}
	return false
}
