// Package template defines the contracts venue adapters implement.
package template

import (
	"github.com/coachpo/depthstream/internal/schema"
)

// Normalizer translates raw venue frames into venue-agnostic book deltas.
// It reports false for anything that is not an order-book update and never panics.
type Normalizer interface {
	Normalize(frame []byte) (schema.BookDelta, bool)
}

// MessageBuilder produces the venue's endpoint and outbound control messages.
type MessageBuilder interface {
	Endpoint() string
	SubscribeMessage(instrument string) ([]byte, error)
	// HeartbeatMessage returns false when the venue needs no application-level ping.
	HeartbeatMessage() ([]byte, bool)
}

// Adapter is everything an engine needs from a venue.
type Adapter interface {
	Normalizer
	MessageBuilder
	Venue() schema.Venue
}
