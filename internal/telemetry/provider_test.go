package telemetry

import (
	"context"
	"testing"
)

func TestLoadSettings(t *testing.T) {
	t.Setenv("PASTIS_OTEL_ENDPOINT", "http://collector:4318")
	s, err := LoadSettings()
	if err != nil {
		t.Fatal(err)
	}
	if !s.Enabled {
		t.Error("tracing should default to enabled")
	}
	if s.Endpoint != "http://collector:4318" {
		t.Errorf("endpoint: got %q", s.Endpoint)
	}
}

func TestSetup_NoEndpoint(t *testing.T) {
	t.Setenv("PASTIS_OTEL_ENDPOINT", "")
	shutdown, err := Setup(context.Background(), ServiceName)
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("no-op shutdown failed: %v", err)
	}
}

func TestSetup_Disabled(t *testing.T) {
	t.Setenv("PASTIS_OTEL_ENDPOINT", "http://collector:4318")
	t.Setenv("PASTIS_OTEL_ENABLED", "false")
	shutdown, err := Setup(context.Background(), ServiceName)
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("no-op shutdown failed: %v", err)
	}
}

func TestSetup_BadFlag(t *testing.T) {
	t.Setenv("PASTIS_OTEL_ENABLED", "sometimes")
	if _, err := Setup(context.Background(), ServiceName); err == nil {
		t.Error("expected parse error")
	}
}
