// Package feed hands out order-book subscriptions. Every handle owns one independent engine.
package feed

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/depthstream/errs"
	"github.com/coachpo/depthstream/internal/adapters"
	"github.com/coachpo/depthstream/internal/adapters/shared"
	"github.com/coachpo/depthstream/internal/engine"
	"github.com/coachpo/depthstream/internal/observability"
	"github.com/coachpo/depthstream/internal/schema"
	"github.com/coachpo/depthstream/internal/telemetry"
	"github.com/coachpo/depthstream/internal/transport"
)

// Handle identifies one subscription.
type Handle string

func (h Handle) String() string { return string(h) }

// Listener receives the updates of one subscription.
type Listener = engine.Listener

// ListenerFunc adapts a function to Listener.
type ListenerFunc = engine.ListenerFunc

// Option customises a Manager.
type Option func(*Manager)

// WithRegistry replaces the built-in adapter registry.
func WithRegistry(reg *adapters.Registry) Option {
	return func(m *Manager) {
		if reg != nil {
			m.registry = reg
		}
	}
}

// WithVenueOptions sets the adapter options used when building venue's adapter.
func WithVenueOptions(venue schema.Venue, opts shared.Options) Option {
	return func(m *Manager) { m.venueOpts[venue] = opts }
}

// WithEngineConfig sets the engine settings shared by every subscription. The instrument
// field is ignored.
func WithEngineConfig(cfg engine.Config) Option {
	return func(m *Manager) { m.engineCfg = cfg }
}

// WithDialer replaces the websocket dialer of every engine.
func WithDialer(dialer transport.Dialer) Option {
	return func(m *Manager) { m.dialer = dialer }
}

// WithLogger sets the logger handed to every engine.
func WithLogger(logger observability.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMeter records feed metrics for every subscription on meter. An empty environment falls
// back to the one the telemetry provider was built with.
func WithMeter(meter metric.Meter, environment string) Option {
	return func(m *Manager) {
		m.meter = meter
		m.environment = environment
	}
}

// Manager owns the active subscriptions.
type Manager struct {
	registry    *adapters.Registry
	venueOpts   map[schema.Venue]shared.Options
	engineCfg   engine.Config
	dialer      transport.Dialer
	logger      observability.Logger
	meter       metric.Meter
	environment string

	mu      sync.RWMutex
	engines map[Handle]*engine.Engine
	closed  bool
}

// NewManager constructs a manager using the built-in adapters unless overridden.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		registry:  adapters.Default(),
		venueOpts: make(map[schema.Venue]shared.Options),
		logger:    observability.Log(),
		engines:   make(map[Handle]*engine.Engine),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Subscribe starts streaming instrument from venue and returns the handle of the new
// subscription. The engine runs until Unsubscribe, Close, a terminal failure or the
// cancellation of ctx.
func (m *Manager) Subscribe(ctx context.Context, venue schema.Venue, instrument string, listener Listener) (Handle, error) {
	instrument = strings.TrimSpace(instrument)
	adapter, err := m.registry.New(venue, m.venueOpts[venue])
	if err != nil {
		return "", errs.New(venue.Key(), errs.CodeInvalid,
			errs.WithMessage("unsupported venue"),
			errs.WithCause(err))
	}

	handle := Handle(uuid.NewString())
	engineOpts := []engine.Option{
		engine.WithHandle(handle.String()),
		engine.WithLogger(m.logger),
	}
	if m.dialer != nil {
		engineOpts = append(engineOpts, engine.WithDialer(m.dialer))
	}
	if m.meter != nil {
		env := m.environment
		if env == "" {
			env = telemetry.Environment()
		}
		metrics, err := telemetry.NewFeedMetrics(m.meter, telemetry.FeedAttributes(env, venue.Key(), instrument)...)
		if err != nil {
			return "", errs.New(venue.Key(), errs.CodeInvalid,
				errs.WithMessage("create feed metrics"),
				errs.WithCause(err))
		}
		engineOpts = append(engineOpts, engine.WithMetrics(metrics))
	}

	cfg := m.engineCfg
	cfg.Instrument = instrument
	eng, err := engine.New(adapter, listener, cfg, engineOpts...)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", errs.New(venue.Key(), errs.CodeUnavailable, errs.WithMessage("feed manager closed"))
	}
	m.engines[handle] = eng
	m.mu.Unlock()

	m.logger.Info("subscription started",
		observability.F("handle", handle),
		observability.F("venue", venue),
		observability.F("instrument", instrument))
	eng.Start(ctx)
	return handle, nil
}

// Unsubscribe tears down the subscription and waits for its engine to exit.
func (m *Manager) Unsubscribe(handle Handle) error {
	m.mu.Lock()
	eng, ok := m.engines[handle]
	delete(m.engines, handle)
	m.mu.Unlock()
	if !ok {
		return errs.New("", errs.CodeNotFound,
			errs.WithMessage("subscription not found"),
			errs.WithField("handle", handle.String()))
	}
	m.logger.Info("subscription stopped", observability.F("handle", handle))
	return eng.Stop()
}

// Latest returns the most recent status and snapshot of a subscription.
func (m *Manager) Latest(handle Handle) (schema.Update, bool) {
	m.mu.RLock()
	eng, ok := m.engines[handle]
	m.mu.RUnlock()
	if !ok {
		return schema.Update{}, false
	}
	return eng.Latest(), true
}

// Handles lists the active subscriptions.
func (m *Manager) Handles() []Handle {
	m.mu.RLock()
	out := make([]Handle, 0, len(m.engines))
	for handle := range m.engines {
		out = append(out, handle)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Instruments lists the tradable instruments of venue over REST.
func (m *Manager) Instruments(ctx context.Context, venue schema.Venue) ([]schema.Instrument, error) {
	return m.registry.Instruments(ctx, venue, m.venueOpts[venue])
}

// Close stops every subscription concurrently. Later Subscribe calls fail.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	engines := m.engines
	m.engines = make(map[Handle]*engine.Engine)
	m.mu.Unlock()

	var (
		wg      conc.WaitGroup
		errMu   sync.Mutex
		stopErr []error
	)
	for _, eng := range engines {
		wg.Go(func() {
			if err := eng.Stop(); err != nil {
				errMu.Lock()
				stopErr = append(stopErr, err)
				errMu.Unlock()
			}
		})
	}
	wg.Wait()
	return observability.AggregateErrors("feed close", stopErr, observability.F("subscriptions", len(engines)))
}
