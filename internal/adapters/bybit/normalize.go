package bybit

import (
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/depthstream/internal/adapters/shared"
	"github.com/coachpo/depthstream/internal/schema"
)

type bookFrame struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
}

type bookData struct {
	Bids []json.RawMessage `json:"b"`
	Asks []json.RawMessage `json:"a"`
}

// Normalize extracts deltas from an orderbook topic push.
func (a *Adapter) Normalize(frame []byte) (schema.BookDelta, bool) {
	if shared.IsPong(frame) {
		return schema.BookDelta{}, false
	}
	var msg bookFrame
	if err := json.Unmarshal(frame, &msg); err != nil {
		return schema.BookDelta{}, false
	}
	if !strings.Contains(msg.Topic, "orderbook") || !shared.IsObject(msg.Data) {
		return schema.BookDelta{}, false
	}
	var data bookData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		return schema.BookDelta{}, false
	}
	bids, ok := shared.PairLevels(data.Bids)
	if !ok {
		return schema.BookDelta{}, false
	}
	asks, ok := shared.PairLevels(data.Asks)
	if !ok {
		return schema.BookDelta{}, false
	}
	delta := schema.BookDelta{Bids: bids, Asks: asks, Replace: msg.Type == "snapshot"}
	if delta.Empty() {
		return schema.BookDelta{}, false
	}
	return delta, true
}
