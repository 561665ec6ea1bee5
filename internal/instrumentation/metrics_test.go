package instrumentation

import (
	"context"
	"testing"
	"time"
)

func newTestProvider(t *testing.T, ctx context.Context) *Provider {
	t.Helper()
	provider, err := NewProvider(ctx, Config{
		ServiceName:     "test-service",
		ServiceVersion:  "1.0.0",
		Enabled:         true,
		MetricsExporter: "prometheus",
		TracingExporter: "none",
	})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	t.Cleanup(func() { _ = provider.Shutdown(ctx) })
	return provider
}

func TestMetrics_RecordHTTPRequest(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	metrics := newTestProvider(t, ctx).Metrics()
	if metrics == nil {
		t.Fatal("expected metrics to be non-nil")
	}

	// Should not panic
	metrics.RecordHTTPRequest(ctx, "POST", "/v1/chat", 200, 100*time.Millisecond)
	metrics.RecordHTTPRequest(ctx, "GET", "/v1/oauth/status", 401, 5*time.Millisecond)
}

func TestMetrics_RecordChatTurnAndActions(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	metrics := newTestProvider(t, ctx).Metrics()

	metrics.RecordChatTurn(ctx, "proposed")
	metrics.RecordChatTurn(ctx, "executed")
	metrics.RecordActionExecuted(ctx, "send_email", "google")
	metrics.IncrementPendingActions(ctx)
	metrics.DecrementPendingActions(ctx)
}

func TestMetrics_RecordUpstreamCalls(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	metrics := newTestProvider(t, ctx).Metrics()

	metrics.RecordProviderOperation(ctx, "google", "sendMail", StatusSuccess, 200*time.Millisecond)
	metrics.RecordProviderOperation(ctx, "microsoft", "listCalendarEvents", StatusError, 80*time.Millisecond)
	metrics.RecordLLMCall(ctx, StatusSuccess, 900*time.Millisecond)
	metrics.RecordOAuthConnect(ctx, "google", OAuthResultSuccess)
}

func TestMetrics_NoopWhenUninitialized(t *testing.T) {
	ctx := context.Background()
	m := &Metrics{}

	// A zero Metrics must swallow every call without panicking; this is the
	// shape a disabled provider hands out.
	m.RecordHTTPRequest(ctx, "GET", "/healthz", 200, time.Millisecond)
	m.RecordChatTurn(ctx, "chat")
	m.RecordActionExecuted(ctx, "send_email", "google")
	m.RecordProviderOperation(ctx, "google", "listRecentMail", StatusSuccess, time.Millisecond)
	m.RecordLLMCall(ctx, StatusSuccess, time.Millisecond)
	m.RecordOAuthConnect(ctx, "google", OAuthResultFailure)
	m.IncrementPendingActions(ctx)
	m.DecrementPendingActions(ctx)
	m.RecordActionExecutedForUser(ctx, "send_email", "google", "user:abcd1234")
}
