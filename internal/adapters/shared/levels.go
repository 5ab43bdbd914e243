// Package shared provides common utilities for venue adapter implementations.
package shared

import (
	"bytes"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/coachpo/depthstream/internal/schema"
)

var pongMarker = []byte("pong")

// IsPong reports whether the frame is a heartbeat reply. Any frame mentioning pong is skipped
// before decoding, whatever its venue.
func IsPong(frame []byte) bool {
	return bytes.Contains(frame, pongMarker)
}

// Decimal decodes a JSON string or number into a decimal. Null, booleans and non-numeric
// strings are rejected.
func Decimal(raw json.RawMessage) (decimal.Decimal, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return decimal.Zero, false
	}
	var value decimal.Decimal
	if err := value.UnmarshalJSON(trimmed); err != nil {
		return decimal.Zero, false
	}
	return value, true
}

// PairLevels converts `[price, size, ...]` entries into deltas. Trailing elements are ignored.
// Any malformed entry rejects the whole list.
func PairLevels(entries []json.RawMessage) ([]schema.Delta, bool) {
	if len(entries) == 0 {
		return nil, true
	}
	out := make([]schema.Delta, 0, len(entries))
	for _, entry := range entries {
		var fields []json.RawMessage
		if err := json.Unmarshal(entry, &fields); err != nil || len(fields) < 2 {
			return nil, false
		}
		price, ok := Decimal(fields[0])
		if !ok {
			return nil, false
		}
		size, ok := Decimal(fields[1])
		if !ok {
			return nil, false
		}
		out = append(out, schema.Delta{Price: price, Size: size})
	}
	return out, true
}

// IsObject reports whether the raw JSON value is an object.
func IsObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
