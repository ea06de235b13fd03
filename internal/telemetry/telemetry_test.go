package telemetry

import (
	"context"
	"testing"

	"chordring/internal/config"
)

func TestInitTracerWithTracingDisabledIsANoop(t *testing.T) {
	shutdown, err := InitTracer(config.TelemetryConfig{Tracing: config.TracingConfig{Enabled: false}}, "test-service", 1)
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestInitTracerWithStdoutExporter(t *testing.T) {
	cfg := config.TelemetryConfig{
		Tracing:  config.TracingConfig{Enabled: true, SampleRatio: 1.0},
		Exporter: "stdout",
	}
	shutdown, err := InitTracer(cfg, "test-service", 42)
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()
}

func TestInitTracerRejectsUnsupportedExporter(t *testing.T) {
	cfg := config.TelemetryConfig{
		Tracing:  config.TracingConfig{Enabled: true},
		Exporter: "jaeger",
	}
	if _, err := InitTracer(cfg, "test-service", 1); err == nil {
		t.Error("expected an error for an unsupported exporter")
	}
}
