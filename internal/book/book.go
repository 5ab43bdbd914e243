package book

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/depthstream/internal/schema"
)

var two = decimal.NewFromInt(2)

// Book owns the two ladders of one subscription. It is not safe for concurrent use; the
// engine loop is its only caller.
type Book struct {
	venue      schema.Venue
	instrument string
	depth      int
	bids       []schema.PriceLevel
	asks       []schema.PriceLevel
	sequence   uint64
}

// New constructs an empty book limited to depth levels per side (<=0 uses DefaultDepth).
func New(venue schema.Venue, instrument string, depth int) *Book {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &Book{venue: venue, instrument: instrument, depth: depth}
}

// Depth returns the configured number of levels per side.
func (b *Book) Depth() int {
	return b.depth
}

// Apply merges a normalized frame into both ladders and reports whether anything was applied.
func (b *Book) Apply(delta schema.BookDelta) bool {
	if delta.Replace {
		b.bids = nil
		b.asks = nil
	}
	if delta.Empty() {
		return delta.Replace
	}
	b.bids = Merge(schema.SideBid, b.depth, b.bids, delta.Bids)
	b.asks = Merge(schema.SideAsk, b.depth, b.asks, delta.Asks)
	return true
}

// Reset discards both ladders.
func (b *Book) Reset() {
	b.bids = nil
	b.asks = nil
}

// Bids returns the current bid ladder. Callers must not modify it.
func (b *Book) Bids() []schema.PriceLevel {
	return b.bids
}

// Asks returns the current ask ladder. Callers must not modify it.
func (b *Book) Asks() []schema.PriceLevel {
	return b.asks
}

// Snapshot builds an immutable snapshot of the current ladders. Spread and mid price are
// derived here, at publish time, and are zero while either side is empty.
func (b *Book) Snapshot(now time.Time) *schema.BookSnapshot {
	b.sequence++
	snap := &schema.BookSnapshot{
		Venue:       b.venue,
		Instrument:  b.instrument,
		Bids:        cloneLevels(b.bids),
		Asks:        cloneLevels(b.asks),
		Spread:      decimal.Zero,
		MidPrice:    decimal.Zero,
		Sequence:    b.sequence,
		PublishedAt: now,
	}
	if len(snap.Bids) > 0 && len(snap.Asks) > 0 {
		bestBid := snap.Bids[0].Price
		bestAsk := snap.Asks[0].Price
		snap.Spread = bestAsk.Sub(bestBid)
		snap.MidPrice = bestBid.Add(bestAsk).Div(two)
	}
	return snap
}

func cloneLevels(levels []schema.PriceLevel) []schema.PriceLevel {
	out := make([]schema.PriceLevel, len(levels))
	copy(out, levels)
	return out
}
