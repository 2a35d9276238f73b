package otel

import (
	"context"
	"testing"
)

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: true})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	if m.SessionsStarted == nil {
		t.Error("SessionsStarted is nil")
	}
	if m.SessionsEnded == nil {
		t.Error("SessionsEnded is nil")
	}
	if m.SessionDuration == nil {
		t.Error("SessionDuration is nil")
	}
	if m.HookDispatches == nil {
		t.Error("HookDispatches is nil")
	}
	if m.PluginErrors == nil {
		t.Error("PluginErrors is nil")
	}
	if m.ChecklistChanges == nil {
		t.Error("ChecklistChanges is nil")
	}
	if m.AgentRequests == nil {
		t.Error("AgentRequests is nil")
	}
	if m.AgentDuration == nil {
		t.Error("AgentDuration is nil")
	}
	if m.ProviderFailovers == nil {
		t.Error("ProviderFailovers is nil")
	}
}

func TestNewMetrics_NoopMeter(t *testing.T) {
	// Disabled metrics return a noop meter — instruments should still create
	// without error so call sites never need nil checks.
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics with noop: %v", err)
	}
	if m == nil {
		t.Fatal("expected non-nil Metrics")
	}
}
