// Package adapters wires the built-in venue adapters.
package adapters

import (
	"context"
	"fmt"
	"sync"

	"github.com/coachpo/depthstream/internal/adapters/bybit"
	"github.com/coachpo/depthstream/internal/adapters/deribit"
	"github.com/coachpo/depthstream/internal/adapters/okx"
	"github.com/coachpo/depthstream/internal/adapters/shared"
	"github.com/coachpo/depthstream/internal/adapters/template"
	"github.com/coachpo/depthstream/internal/schema"
)

// Venue is a fully featured adapter: streaming plus REST discovery.
type Venue interface {
	template.Adapter
	template.InstrumentSource
}

// Factory builds an adapter from options.
type Factory func(opts shared.Options) Venue

// Registry maps venues to adapter factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[schema.Venue]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[schema.Venue]Factory)}
}

// Register installs factory for venue, replacing any previous one.
func (r *Registry) Register(venue schema.Venue, factory Factory) {
	if r == nil || factory == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[venue] = factory
}

// New builds the adapter for venue.
func (r *Registry) New(venue schema.Venue, opts shared.Options) (Venue, error) {
	r.mu.RLock()
	factory, ok := r.factories[venue]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("adapters: venue %q not registered", venue)
	}
	return factory(opts), nil
}

// Instruments builds the adapter for venue and lists its instruments.
func (r *Registry) Instruments(ctx context.Context, venue schema.Venue, opts shared.Options) ([]schema.Instrument, error) {
	adapter, err := r.New(venue, opts)
	if err != nil {
		return nil, err
	}
	return adapter.Instruments(ctx)
}

// RegisterAll installs every built-in adapter into the provided registry.
func RegisterAll(reg *Registry) {
	if reg == nil {
		return
	}
	reg.Register(schema.VenueOKX, func(opts shared.Options) Venue { return okx.New(opts) })
	reg.Register(schema.VenueBybit, func(opts shared.Options) Venue { return bybit.New(opts) })
	reg.Register(schema.VenueDeribit, func(opts shared.Options) Venue { return deribit.New(opts) })
}

// Default returns a registry holding every built-in adapter.
func Default() *Registry {
	reg := NewRegistry()
	RegisterAll(reg)
	return reg
}
