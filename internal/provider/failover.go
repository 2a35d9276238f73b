package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pinefield/focusd/internal/otel"
)

// BreakerStore persists circuit-breaker state across restarts. Satisfied by
// persistence.Store.
type BreakerStore interface {
	SetKV(ctx context.Context, key, value string) error
	GetKV(ctx context.Context, key string) (string, bool, error)
}

// breaker tracks failures for one provider.
type breaker struct {
	failures    int
	lastFailure time.Time
	tripped     bool
}

// Failover chains providers: the primary is tried first, then each fallback
// in order. A provider that fails threshold times in a row is skipped until
// cooldown elapses. Failover itself implements Provider.
type Failover struct {
	providers []Provider
	logger    *slog.Logger
	metrics   *otel.Metrics

	mu        sync.Mutex
	breakers  map[string]*breaker
	threshold int
	cooldown  time.Duration
	store     BreakerStore
}

// NewFailover builds a failover chain. providers[0] is the primary.
func NewFailover(providers []Provider, threshold int, cooldown time.Duration, logger *slog.Logger, metrics *otel.Metrics) *Failover {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	breakers := make(map[string]*breaker, len(providers))
	for _, p := range providers {
		breakers[p.Name()] = &breaker{}
	}
	return &Failover{
		providers: providers,
		logger:    logger.With("component", "provider"),
		metrics:   metrics,
		breakers:  breakers,
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// Name identifies the chain by its primary provider.
func (f *Failover) Name() string {
	if len(f.providers) == 0 {
		return "none"
	}
	return f.providers[0].Name()
}

// Chat tries each provider in order, skipping tripped breakers, and returns
// the first successful reply.
func (f *Failover) Chat(ctx context.Context, messages []Message) (string, error) {
	if len(f.providers) == 0 {
		return "", fmt.Errorf("no providers configured")
	}
	var lastErr error
	for i, p := range f.providers {
		if f.isTripped(p.Name()) {
			f.logger.Info("skipping tripped provider", "provider", p.Name())
			continue
		}
		reply, err := p.Chat(ctx, messages)
		if err == nil {
			f.recordSuccess(p.Name())
			return reply, nil
		}
		lastErr = err
		f.recordFailure(p.Name())
		f.logger.Warn("provider failed", "provider", p.Name(), "error", err)
		if i < len(f.providers)-1 {
			f.countFailover(p.Name())
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	if lastErr == nil {
		return "", fmt.Errorf("all providers tripped")
	}
	return "", fmt.Errorf("all providers failed: %w", lastErr)
}

func (f *Failover) isTripped(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.breakers[name]
	if !ok || !b.tripped {
		return false
	}
	if time.Since(b.lastFailure) >= f.cooldown {
		b.tripped = false
		b.failures = 0
		f.logger.Info("circuit breaker reset after cooldown", "provider", name)
		return false
	}
	return true
}

func (f *Failover) recordFailure(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.breakers[name]
	if !ok {
		b = &breaker{}
		f.breakers[name] = b
	}
	b.failures++
	b.lastFailure = time.Now()
	if b.failures >= f.threshold {
		b.tripped = true
		f.logger.Warn("circuit breaker tripped", "provider", name, "failures", b.failures)
	}
	f.persist(name, b)
}

func (f *Failover) recordSuccess(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.breakers[name]
	if !ok {
		return
	}
	b.failures = 0
	b.tripped = false
	f.persist(name, b)
}

type breakerState struct {
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure"`
	Tripped     bool      `json:"tripped"`
}

// SetStore enables persistent breaker state.
func (f *Failover) SetStore(store BreakerStore) {
	f.mu.Lock()
	f.store = store
	f.mu.Unlock()
}

// persist saves one breaker's state. Must be called with f.mu held.
func (f *Failover) persist(name string, b *breaker) {
	if f.store == nil {
		return
	}
	data, err := json.Marshal(breakerState{
		Failures:    b.failures,
		LastFailure: b.lastFailure,
		Tripped:     b.tripped,
	})
	if err != nil {
		return
	}
	_ = f.store.SetKV(context.Background(), "breaker:"+name, string(data))
}

// LoadBreakerState restores breaker state saved by a previous run.
func (f *Failover) LoadBreakerState(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.store == nil {
		return
	}
	for name, b := range f.breakers {
		val, found, err := f.store.GetKV(ctx, "breaker:"+name)
		if err != nil || !found {
			continue
		}
		var state breakerState
		if err := json.Unmarshal([]byte(val), &state); err != nil {
			continue
		}
		b.failures = state.Failures
		b.lastFailure = state.LastFailure
		b.tripped = state.Tripped
	}
}

func (f *Failover) countFailover(from string) {
	if f.metrics == nil || f.metrics.ProviderFailovers == nil {
		return
	}
	f.metrics.ProviderFailovers.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("provider", from)))
}
