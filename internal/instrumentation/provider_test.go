package instrumentation

import (
	"context"
	"testing"
)

func TestNewProvider_Disabled(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
		Enabled:        false,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if provider == nil {
		t.Fatal("expected provider to be non-nil")
	}
	if provider.Enabled() {
		t.Error("expected provider to be disabled")
	}
	if provider.Metrics() == nil {
		t.Error("expected metrics to be non-nil even when disabled")
	}
	if provider.Tracer("test") == nil {
		t.Error("expected a noop tracer when disabled")
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Errorf("disabled provider shutdown should be a no-op, got %v", err)
	}
}

func TestNewProvider_Prometheus(t *testing.T) {
	ctx := context.Background()
	provider := newTestProvider(t, ctx)

	if !provider.Enabled() {
		t.Error("expected provider to be enabled")
	}
	if provider.PrometheusHandler() == nil {
		t.Error("expected a prometheus exporter handler")
	}
}

func TestNewProvider_RejectsUnknownExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{
		ServiceName:     "test-service",
		Enabled:         true,
		MetricsExporter: "statsd",
		TracingExporter: ExporterNone,
	})
	if err == nil {
		t.Fatal("expected error for unknown metrics exporter")
	}
}
