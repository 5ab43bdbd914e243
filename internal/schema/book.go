package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side selects one half of the book.
type Side uint8

const (
	// SideBid is the buy side, ordered by descending price.
	SideBid Side = iota
	// SideAsk is the sell side, ordered by ascending price.
	SideAsk
)

func (s Side) String() string {
	if s == SideAsk {
		return "ask"
	}
	return "bid"
}

// Better reports whether price a ranks ahead of price b on this side.
func (s Side) Better(a, b decimal.Decimal) bool {
	if s == SideAsk {
		return a.LessThan(b)
	}
	return a.GreaterThan(b)
}

// PriceLevel is one rung of a ladder. Size is always positive while the level is present.
type PriceLevel struct {
	Price          decimal.Decimal `json:"price"`
	Size           decimal.Decimal `json:"size"`
	CumulativeSize decimal.Decimal `json:"cumulativeSize"`
}

// Delta is an incremental change to one price level. A zero size removes the level.
type Delta struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// BookDelta is the normalized content of one order-book frame.
type BookDelta struct {
	Bids []Delta
	Asks []Delta
	// Replace marks a venue snapshot: both ladders restart from empty before the deltas apply.
	Replace bool
}

// Empty reports whether the delta carries no level changes.
func (d BookDelta) Empty() bool {
	return len(d.Bids) == 0 && len(d.Asks) == 0
}

// BookSnapshot is an immutable published view of both ladders.
type BookSnapshot struct {
	Venue       Venue           `json:"venue"`
	Instrument  string          `json:"instrument"`
	Bids        []PriceLevel    `json:"bids"`
	Asks        []PriceLevel    `json:"asks"`
	Spread      decimal.Decimal `json:"spread"`
	MidPrice    decimal.Decimal `json:"midPrice"`
	Sequence    uint64          `json:"sequence"`
	PublishedAt time.Time       `json:"publishedAt"`
}

// BestBid returns the top bid level when present.
func (s *BookSnapshot) BestBid() (PriceLevel, bool) {
	if s == nil || len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the top ask level when present.
func (s *BookSnapshot) BestAsk() (PriceLevel, bool) {
	if s == nil || len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[0], true
}

// Levels returns the ladder for side.
func (s *BookSnapshot) Levels(side Side) []PriceLevel {
	if s == nil {
		return nil
	}
	if side == SideAsk {
		return s.Asks
	}
	return s.Bids
}
