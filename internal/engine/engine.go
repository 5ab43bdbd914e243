// Package engine runs one order-book subscription: it supervises the venue connection,
// normalizes frames into the ladders and publishes throttled snapshots to a listener.
package engine

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coachpo/depthstream/errs"
	"github.com/coachpo/depthstream/internal/adapters/template"
	"github.com/coachpo/depthstream/internal/book"
	"github.com/coachpo/depthstream/internal/conductor"
	"github.com/coachpo/depthstream/internal/observability"
	"github.com/coachpo/depthstream/internal/schema"
	"github.com/coachpo/depthstream/internal/supervisor"
	"github.com/coachpo/depthstream/internal/telemetry"
	"github.com/coachpo/depthstream/internal/transport"
)

const (
	// DefaultHeartbeatInterval is the ping cadence while connected.
	DefaultHeartbeatInterval = 25 * time.Second
	// DefaultDialTimeout bounds a single connection attempt.
	DefaultDialTimeout = 10 * time.Second
	// DefaultWriteTimeout bounds a single outbound message.
	DefaultWriteTimeout = 5 * time.Second
)

// Config tunes one engine.
type Config struct {
	Instrument        string
	Depth             int
	ThrottleInterval  time.Duration
	HeartbeatInterval time.Duration
	Retry             supervisor.RetryPolicy
	DialTimeout       time.Duration
	WriteTimeout      time.Duration
	ReadLimit         int64
}

// DefaultConfig returns the standard settings for instrument.
func DefaultConfig(instrument string) Config {
	return Config{
		Instrument:        instrument,
		Depth:             book.DefaultDepth,
		ThrottleInterval:  conductor.DefaultThrottleInterval,
		HeartbeatInterval: DefaultHeartbeatInterval,
		Retry:             supervisor.DefaultRetryPolicy(),
		DialTimeout:       DefaultDialTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		ReadLimit:         transport.DefaultReadLimit,
	}
}

func (c Config) withDefaults() Config {
	c.Instrument = strings.TrimSpace(c.Instrument)
	if c.Depth <= 0 {
		c.Depth = book.DefaultDepth
	}
	if c.ThrottleInterval <= 0 {
		c.ThrottleInterval = conductor.DefaultThrottleInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Retry == (supervisor.RetryPolicy{}) {
		c.Retry = supervisor.DefaultRetryPolicy()
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	return c
}

// Listener receives every status change and every published snapshot. OnUpdate runs on the
// engine goroutine and must not block.
type Listener interface {
	OnUpdate(update schema.Update)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(update schema.Update)

// OnUpdate calls f.
func (f ListenerFunc) OnUpdate(update schema.Update) { f(update) }

// Option customises an Engine.
type Option func(*Engine)

// WithDialer replaces the websocket dialer.
func WithDialer(dialer transport.Dialer) Option {
	return func(e *Engine) {
		if dialer != nil {
			e.dialer = dialer
		}
	}
}

// WithLogger replaces the process logger.
func WithLogger(logger observability.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics records feed metrics.
func WithMetrics(metrics *telemetry.FeedMetrics) Option {
	return func(e *Engine) { e.metrics = metrics }
}

// WithClock replaces time.Now for timestamps and throttle decisions.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithHandle sets the handle stamped on every update.
func WithHandle(handle string) Option {
	return func(e *Engine) { e.handle = handle }
}

// Engine owns one venue+instrument subscription.
type Engine struct {
	adapter   template.Adapter
	cfg       Config
	subscribe []byte
	listener  Listener
	dialer    transport.Dialer
	logger    observability.Logger
	metrics   *telemetry.FeedMetrics
	now       func() time.Time
	handle    string

	mu      sync.Mutex
	started bool
	stopped bool
	stop    chan struct{}
	done    chan struct{}
	stopErr error

	status   atomic.Pointer[schema.Update]
	snapshot atomic.Pointer[schema.BookSnapshot]
}

// New validates the configuration and builds an engine in the Idle state.
func New(adapter template.Adapter, listener Listener, cfg Config, opts ...Option) (*Engine, error) {
	if adapter == nil {
		return nil, errs.New("", errs.CodeInvalid, errs.WithMessage("venue adapter required"))
	}
	cfg = cfg.withDefaults()
	venue := adapter.Venue().Key()
	if cfg.Instrument == "" {
		return nil, errs.New(venue, errs.CodeInvalid, errs.WithMessage("instrument required"))
	}
	subscribe, err := adapter.SubscribeMessage(cfg.Instrument)
	if err != nil {
		return nil, errs.New(venue, errs.CodeInvalid,
			errs.WithMessage("build subscribe message"),
			errs.WithField("instrument", cfg.Instrument),
			errs.WithCause(err))
	}
	e := &Engine{
		adapter:   adapter,
		cfg:       cfg,
		subscribe: subscribe,
		listener:  listener,
		dialer:    transport.WebsocketDialer{ReadLimit: cfg.ReadLimit},
		logger:    observability.Log(),
		now:       time.Now,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.status.Store(&schema.Update{
		Handle: e.handle,
		Status: schema.StateIdle.Status(),
		State:  schema.StateIdle,
		At:     e.now(),
	})
	return e, nil
}

// Venue returns the engine's venue.
func (e *Engine) Venue() schema.Venue { return e.adapter.Venue() }

// Instrument returns the subscribed instrument.
func (e *Engine) Instrument() string { return e.cfg.Instrument }

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Start launches the event loop. The loop ends when the connection settles in Idle or
// Failed, when Stop is called or when ctx is cancelled. Start is a no-op after the first call.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started || e.stopped {
		return
	}
	e.started = true
	go e.run(ctx)
}

// Stop tears the subscription down and waits for every engine goroutine to exit. It returns
// any error raised while closing the transport. A subscription that already failed settles
// back in Idle.
func (e *Engine) Stop() error {
	e.mu.Lock()
	first := !e.stopped
	if first {
		e.stopped = true
		close(e.stop)
	}
	started := e.started
	e.mu.Unlock()
	if !started {
		return nil
	}
	<-e.done
	if first && e.status.Load().State == schema.StateFailed {
		e.logger.Info("connection state changed", e.fields(
			observability.F("from", schema.StateFailed),
			observability.F("to", schema.StateIdle),
		)...)
		e.snapshot.Store(nil)
		e.emit(schema.Update{Status: schema.StateIdle.Status(), State: schema.StateIdle})
	}
	return e.stopErr
}

// Done is closed once the event loop has exited.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Latest returns the most recent status together with the last published snapshot, which is
// nil until the first publish of the current connection attempt.
func (e *Engine) Latest() schema.Update {
	update := *e.status.Load()
	update.Snapshot = e.snapshot.Load()
	return update
}

// emit stores update as the latest status and hands it to the listener. Calls never overlap
// with the event loop.
func (e *Engine) emit(update schema.Update) {
	update.Handle = e.handle
	update.At = e.now()
	status := update
	status.Snapshot = nil
	e.status.Store(&status)
	if e.listener != nil {
		e.listener.OnUpdate(update)
	}
}

func (e *Engine) fields(extra ...observability.Field) []observability.Field {
	fields := make([]observability.Field, 0, len(extra)+3)
	fields = append(fields,
		observability.F("venue", e.adapter.Venue()),
		observability.F("instrument", e.cfg.Instrument),
	)
	if e.handle != "" {
		fields = append(fields, observability.F("handle", e.handle))
	}
	return append(fields, extra...)
}
