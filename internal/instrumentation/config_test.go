package instrumentation

import (
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.ServiceName != "attache" {
		t.Errorf("expected service name 'attache', got %q", config.ServiceName)
	}
	if !config.Enabled {
		t.Error("expected instrumentation to be enabled by default")
	}
	if config.MetricsExporter != ExporterPrometheus {
		t.Errorf("expected prometheus metrics exporter, got %q", config.MetricsExporter)
	}
	if config.TracingExporter != ExporterNone {
		t.Errorf("expected tracing disabled by default, got %q", config.TracingExporter)
	}
	if config.DetailedLabels {
		t.Error("expected detailed labels to be disabled by default")
	}
	if !config.AuditLogging.Enabled {
		t.Error("expected audit logging to be enabled by default")
	}
	if config.AuditLogging.IncludeUID {
		t.Error("expected raw uid logging to be disabled by default")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name: "valid default-like config",
			config: Config{
				MetricsExporter:   ExporterPrometheus,
				TracingExporter:   ExporterNone,
				TraceSamplingRate: 0.1,
			},
		},
		{
			name: "sampling rate out of range",
			config: Config{
				MetricsExporter:   ExporterPrometheus,
				TracingExporter:   ExporterNone,
				TraceSamplingRate: 1.5,
			},
			wantErr: true,
		},
		{
			name: "unknown metrics exporter",
			config: Config{
				MetricsExporter: "statsd",
				TracingExporter: ExporterNone,
			},
			wantErr: true,
		},
		{
			name: "unknown tracing exporter",
			config: Config{
				MetricsExporter: ExporterPrometheus,
				TracingExporter: "jaeger",
			},
			wantErr: true,
		},
		{
			name: "otlp metrics without endpoint",
			config: Config{
				MetricsExporter: ExporterOTLP,
				TracingExporter: ExporterNone,
			},
			wantErr: true,
		},
		{
			name: "otlp tracing without endpoint",
			config: Config{
				MetricsExporter: ExporterPrometheus,
				TracingExporter: ExporterOTLP,
			},
			wantErr: true,
		},
		{
			name: "otlp with endpoint",
			config: Config{
				MetricsExporter: ExporterOTLP,
				TracingExporter: ExporterOTLP,
				OTLPEndpoint:    "localhost:4318",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}
