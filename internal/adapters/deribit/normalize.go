package deribit

import (
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/coachpo/depthstream/internal/adapters/shared"
	"github.com/coachpo/depthstream/internal/schema"
)

type notification struct {
	Method string `json:"method"`
	Params struct {
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	} `json:"params"`
}

type bookData struct {
	Type string            `json:"type"`
	Bids []json.RawMessage `json:"bids"`
	Asks []json.RawMessage `json:"asks"`
}

// Normalize extracts deltas from a subscription notification. Grouped channels send the
// complete top of book as [price, amount] pairs on every frame, so those replace the ladder.
// Raw channels send [action, price, amount] triplets that merge incrementally unless the
// frame is typed as a snapshot.
func (a *Adapter) Normalize(frame []byte) (schema.BookDelta, bool) {
	if shared.IsPong(frame) {
		return schema.BookDelta{}, false
	}
	var msg notification
	if err := json.Unmarshal(frame, &msg); err != nil {
		return schema.BookDelta{}, false
	}
	if msg.Method != "subscription" || !shared.IsObject(msg.Params.Data) {
		return schema.BookDelta{}, false
	}
	var data bookData
	if err := json.Unmarshal(msg.Params.Data, &data); err != nil {
		return schema.BookDelta{}, false
	}
	bids, bidActions, ok := levels(data.Bids)
	if !ok {
		return schema.BookDelta{}, false
	}
	asks, askActions, ok := levels(data.Asks)
	if !ok {
		return schema.BookDelta{}, false
	}
	grouped := data.Type == "" && !bidActions && !askActions
	delta := schema.BookDelta{Bids: bids, Asks: asks, Replace: grouped || data.Type == "snapshot"}
	if delta.Empty() {
		return schema.BookDelta{}, false
	}
	return delta, true
}

// levels reports whether any entry carried an action.
func levels(entries []json.RawMessage) ([]schema.Delta, bool, bool) {
	out := make([]schema.Delta, 0, len(entries))
	actions := false
	for _, entry := range entries {
		var fields []json.RawMessage
		if err := json.Unmarshal(entry, &fields); err != nil {
			return nil, false, false
		}
		delta, ok := level(fields)
		if !ok {
			return nil, false, false
		}
		actions = actions || len(fields) == 3
		out = append(out, delta)
	}
	return out, actions, true
}

func level(fields []json.RawMessage) (schema.Delta, bool) {
	switch len(fields) {
	case 2:
		price, ok := shared.Decimal(fields[0])
		if !ok {
			return schema.Delta{}, false
		}
		size, ok := shared.Decimal(fields[1])
		if !ok {
			return schema.Delta{}, false
		}
		return schema.Delta{Price: price, Size: size}, true
	case 3:
		var action string
		if err := json.Unmarshal(fields[0], &action); err != nil {
			return schema.Delta{}, false
		}
		price, ok := shared.Decimal(fields[1])
		if !ok {
			return schema.Delta{}, false
		}
		size, ok := shared.Decimal(fields[2])
		if !ok {
			return schema.Delta{}, false
		}
		switch action {
		case "new", "change":
			return schema.Delta{Price: price, Size: size}, true
		case "delete":
			return schema.Delta{Price: price, Size: decimal.Zero}, true
		default:
			return schema.Delta{}, false
		}
	default:
		return schema.Delta{}, false
	}
}
