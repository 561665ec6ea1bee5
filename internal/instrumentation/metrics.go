package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys.
const (
	attrMethod    = "method"
	attrPath      = "path"
	attrStatus    = "status"
	attrOperation = "operation"
	attrOutcome   = "outcome"
	attrProvider  = "provider"
	attrAction    = "action"
	attrResult    = "result"
	attrUserHash  = "user_hash"
)

// Metrics provides methods for recording observability metrics.
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	// Chat engine metrics
	chatTurnsTotal metric.Int64Counter
	pendingActions metric.Int64UpDownCounter

	// Executed side effects
	actionsExecutedTotal metric.Int64Counter

	// Provider API metrics
	providerOperationsTotal   metric.Int64Counter
	providerOperationDuration metric.Float64Histogram

	// LLM metrics
	llmCallsTotal   metric.Int64Counter
	llmCallDuration metric.Float64Histogram

	// OAuth metrics
	oauthConnectsTotal metric.Int64Counter

	// detailedLabels controls whether high-cardinality labels are included.
	detailedLabels bool
}

// NewMetrics creates a Metrics instance with all instruments registered.
// detailedLabels controls whether high-cardinality labels (hashed user ids)
// are included.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{
		detailedLabels: detailedLabels,
	}

	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	m.chatTurnsTotal, err = meter.Int64Counter(
		"chat_turns_total",
		metric.WithDescription("Total number of chat turns by engine outcome"),
		metric.WithUnit("{turn}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat_turns_total counter: %w", err)
	}

	m.pendingActions, err = meter.Int64UpDownCounter(
		"pending_actions",
		metric.WithDescription("Number of stored pending actions awaiting confirmation"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pending_actions gauge: %w", err)
	}

	m.actionsExecutedTotal, err = meter.Int64Counter(
		"actions_executed_total",
		metric.WithDescription("Total number of confirmed side effects executed"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create actions_executed_total counter: %w", err)
	}

	m.providerOperationsTotal, err = meter.Int64Counter(
		"provider_operations_total",
		metric.WithDescription("Total number of provider API operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider_operations_total counter: %w", err)
	}

	m.providerOperationDuration, err = meter.Float64Histogram(
		"provider_operation_duration_seconds",
		metric.WithDescription("Provider API operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider_operation_duration_seconds histogram: %w", err)
	}

	m.llmCallsTotal, err = meter.Int64Counter(
		"llm_calls_total",
		metric.WithDescription("Total number of chat-completion calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm_calls_total counter: %w", err)
	}

	m.llmCallDuration, err = meter.Float64Histogram(
		"llm_call_duration_seconds",
		metric.WithDescription("Chat-completion call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm_call_duration_seconds histogram: %w", err)
	}

	m.oauthConnectsTotal, err = meter.Int64Counter(
		"oauth_connects_total",
		metric.WithDescription("Total number of provider connect attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_connects_total counter: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with method, route pattern,
// status code, and duration. path must be the route pattern, never the raw
// URL, to keep cardinality bounded.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m.httpRequestsTotal == nil || m.httpRequestDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	}

	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordChatTurn records one engine turn with its conversational outcome
// (executed, mismatch, nothing_pending, proposed, chat).
func (m *Metrics) RecordChatTurn(ctx context.Context, outcome string) {
	if m.chatTurnsTotal == nil {
		return // Instrumentation not initialized
	}

	m.chatTurnsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrOutcome, outcome),
	))
}

// RecordActionExecuted records a confirmed side effect.
func (m *Metrics) RecordActionExecuted(ctx context.Context, action, provider string) {
	if m.actionsExecutedTotal == nil {
		return // Instrumentation not initialized
	}

	m.actionsExecutedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrAction, action),
		attribute.String(attrProvider, provider),
	))
}

// RecordProviderOperation records a provider API operation with provider
// name, operation, status, and duration.
func (m *Metrics) RecordProviderOperation(ctx context.Context, provider, operation, status string, duration time.Duration) {
	if m.providerOperationsTotal == nil || m.providerOperationDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrProvider, provider),
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	}

	m.providerOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.providerOperationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordLLMCall records one chat-completion round trip.
// Status should be "success" or "error".
func (m *Metrics) RecordLLMCall(ctx context.Context, status string, duration time.Duration) {
	if m.llmCallsTotal == nil || m.llmCallDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrStatus, status),
	}

	m.llmCallsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.llmCallDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordOAuthConnect records a provider connect attempt.
// Result should be one of: "success", "failure", "invalid_state".
func (m *Metrics) RecordOAuthConnect(ctx context.Context, provider, result string) {
	if m.oauthConnectsTotal == nil {
		return // Instrumentation not initialized
	}

	m.oauthConnectsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrProvider, provider),
		attribute.String(attrResult, result),
	))
}

// IncrementPendingActions bumps the pending-action gauge when a proposal is
// stored.
func (m *Metrics) IncrementPendingActions(ctx context.Context) {
	if m.pendingActions == nil {
		return // Instrumentation not initialized
	}

	m.pendingActions.Add(ctx, 1)
}

// DecrementPendingActions lowers the pending-action gauge when a pending
// action is executed, cleared, or expired.
func (m *Metrics) DecrementPendingActions(ctx context.Context) {
	if m.pendingActions == nil {
		return // Instrumentation not initialized
	}

	m.pendingActions.Add(ctx, -1)
}

// RecordActionExecutedForUser is the detailed variant that tags the executed
// action with a hashed user identifier when detailedLabels is enabled.
func (m *Metrics) RecordActionExecutedForUser(ctx context.Context, action, provider, userHash string) {
	if m.actionsExecutedTotal == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrAction, action),
		attribute.String(attrProvider, provider),
	}

	// Only add high-cardinality labels if explicitly enabled
	if m.detailedLabels && userHash != "" {
		attrs = append(attrs, attribute.String(attrUserHash, userHash))
	}

	m.actionsExecutedTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}
