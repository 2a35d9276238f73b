package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all focusd metric instruments.
type Metrics struct {
	SessionsStarted   metric.Int64Counter
	SessionsEnded     metric.Int64Counter
	SessionDuration   metric.Float64Histogram
	HookDispatches    metric.Int64Counter
	PluginErrors      metric.Int64Counter
	ChecklistChanges  metric.Int64Counter
	AgentRequests     metric.Int64Counter
	AgentDuration     metric.Float64Histogram
	ProviderFailovers metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.SessionsStarted, err = meter.Int64Counter("focusd.session.started",
		metric.WithDescription("Focus sessions started"),
	)
	if err != nil {
		return nil, err
	}

	m.SessionsEnded, err = meter.Int64Counter("focusd.session.ended",
		metric.WithDescription("Focus sessions ended (attribute early=true for manual stops)"),
	)
	if err != nil {
		return nil, err
	}

	m.SessionDuration, err = meter.Float64Histogram("focusd.session.duration",
		metric.WithDescription("Actual focus session duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.HookDispatches, err = meter.Int64Counter("focusd.plugin.hook_dispatches",
		metric.WithDescription("Plugin hook invocations"),
	)
	if err != nil {
		return nil, err
	}

	m.PluginErrors, err = meter.Int64Counter("focusd.plugin.errors",
		metric.WithDescription("Plugin hook errors and recovered panics"),
	)
	if err != nil {
		return nil, err
	}

	m.ChecklistChanges, err = meter.Int64Counter("focusd.session.checklist_changes",
		metric.WithDescription("Goal checklist item state changes"),
	)
	if err != nil {
		return nil, err
	}

	m.AgentRequests, err = meter.Int64Counter("focusd.agent.requests",
		metric.WithDescription("Assistant chat requests"),
	)
	if err != nil {
		return nil, err
	}

	m.AgentDuration, err = meter.Float64Histogram("focusd.agent.duration",
		metric.WithDescription("Assistant round-trip duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ProviderFailovers, err = meter.Int64Counter("focusd.provider.failovers",
		metric.WithDescription("LLM provider circuit-breaker failovers"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
