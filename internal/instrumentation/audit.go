package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/attache-app/attache/internal/logging"
)

// ActionRecord captures everything about one executed (or attempted) side
// effect for the audit trail: who confirmed it, what ran, against which
// provider, and how it ended.
//
// The UID field is PII-adjacent. By default only its anonymized hash reaches
// the logs; the raw value is written only when audit logging is explicitly
// configured to include it.
type ActionRecord struct {
	// Action type (send_email, create_calendar_event, delete_calendar_event)
	Action string

	// Provider the action ran against (google, microsoft)
	Provider string

	// UID is the confirmed user's identifier.
	UID string

	// ResourceID is the upstream identifier of what was touched (message id,
	// event id), when known.
	ResourceID string

	// Execution details
	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Error     string

	// Tracing context
	TraceID string
	SpanID  string
}

// NewActionRecord creates a record with timing started. Call Complete when
// the action finishes.
func NewActionRecord(action, provider, uid string) *ActionRecord {
	return &ActionRecord{
		Action:    action,
		Provider:  provider,
		UID:       uid,
		StartTime: time.Now(),
	}
}

// WithResource sets the upstream resource identifier.
func (r *ActionRecord) WithResource(id string) *ActionRecord {
	r.ResourceID = id
	return r
}

// WithSpanContext extracts trace context from the current span.
func (r *ActionRecord) WithSpanContext(ctx context.Context) *ActionRecord {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		r.TraceID = span.SpanContext().TraceID().String()
		r.SpanID = span.SpanContext().SpanID().String()
	}
	return r
}

// Complete marks the record as finished and calculates the duration.
func (r *ActionRecord) Complete(err error) *ActionRecord {
	r.Duration = time.Since(r.StartTime)
	r.Success = err == nil
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// Status returns "success" or "error".
func (r *ActionRecord) Status() string {
	if r.Success {
		return StatusSuccess
	}
	return StatusError
}

// logAttrs returns the structured fields for one audit line. includeUID
// switches between the raw user id and its anonymized hash.
func (r *ActionRecord) logAttrs(includeUID bool) []slog.Attr {
	attrs := []slog.Attr{
		slog.String(logging.KeyAction, r.Action),
		slog.String(logging.KeyProvider, r.Provider),
		slog.Duration(logging.KeyDuration, r.Duration),
		slog.Bool("success", r.Success),
	}

	if includeUID {
		attrs = append(attrs, slog.String("uid", r.UID))
	} else {
		attrs = append(attrs, slog.String(logging.KeyUserHash, logging.AnonymizeUID(r.UID)))
	}

	if r.ResourceID != "" {
		attrs = append(attrs, slog.String("resource_id", r.ResourceID))
	}
	if r.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", r.TraceID))
	}
	if r.SpanID != "" {
		attrs = append(attrs, slog.String("span_id", r.SpanID))
	}
	if r.Error != "" {
		attrs = append(attrs, slog.String(logging.KeyError, r.Error))
	}

	return attrs
}

// AuditLogger writes the audit trail for confirmed side effects. Every
// executed or failed action produces exactly one line, regardless of log
// level tuning elsewhere.
type AuditLogger struct {
	logger     *slog.Logger
	includeUID bool
	enabled    bool
}

// NewAuditLogger creates an AuditLogger. With a nil logger the process
// default is used.
func NewAuditLogger(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger,
		includeUID: config.IncludeUID,
		enabled:    config.Enabled,
	}
}

// LogAction writes the audit line for one completed record.
func (al *AuditLogger) LogAction(r *ActionRecord) {
	if !al.enabled {
		return
	}

	attrs := r.logAttrs(al.includeUID)
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}

	if r.Success {
		al.logger.Info("action_executed", args...)
	} else {
		al.logger.Warn("action_failed", args...)
	}
}
