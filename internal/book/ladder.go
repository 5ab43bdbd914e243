// Package book maintains the fixed-depth bid and ask ladders of one subscription.
package book

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/coachpo/depthstream/internal/schema"
)

// DefaultDepth is the number of levels kept per side when none is configured.
const DefaultDepth = 15

// Merge applies deltas to the current ladder and returns a new sorted, truncated ladder with
// recomputed cumulative sizes. The current slice is never modified. An empty delta list
// returns current unchanged.
func Merge(side schema.Side, depth int, current []schema.PriceLevel, deltas []schema.Delta) []schema.PriceLevel {
	if len(deltas) == 0 {
		return current
	}
	if depth <= 0 {
		depth = DefaultDepth
	}

	levels := make(map[string]schema.PriceLevel, len(current)+len(deltas))
	for _, level := range current {
		levels[priceKey(level.Price)] = level
	}
	for _, delta := range deltas {
		key := priceKey(delta.Price)
		if delta.Size.Sign() <= 0 {
			delete(levels, key)
			continue
		}
		levels[key] = schema.PriceLevel{Price: delta.Price, Size: delta.Size}
	}

	merged := make([]schema.PriceLevel, 0, len(levels))
	for _, level := range levels {
		merged = append(merged, level)
	}
	sort.Slice(merged, func(i, j int) bool {
		return side.Better(merged[i].Price, merged[j].Price)
	})
	if len(merged) > depth {
		merged = merged[:depth]
	}

	total := decimal.Zero
	for i := range merged {
		total = total.Add(merged[i].Size)
		merged[i].CumulativeSize = total
	}
	return merged
}

// priceKey canonicalises a price so "100", "100.0" and "1e2" address the same level.
func priceKey(price decimal.Decimal) string {
	return price.String()
}
