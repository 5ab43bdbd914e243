package okx

import (
	json "github.com/goccy/go-json"

	"github.com/coachpo/depthstream/internal/adapters/shared"
	"github.com/coachpo/depthstream/internal/schema"
)

type bookFrame struct {
	Arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Action string      `json:"action"`
	Data   []bookEntry `json:"data"`
}

type bookEntry struct {
	Bids []json.RawMessage `json:"bids"`
	Asks []json.RawMessage `json:"asks"`
}

// Normalize extracts deltas from a books channel push. Only data[0] is read.
func (a *Adapter) Normalize(frame []byte) (schema.BookDelta, bool) {
	if shared.IsPong(frame) {
		return schema.BookDelta{}, false
	}
	var msg bookFrame
	if err := json.Unmarshal(frame, &msg); err != nil {
		return schema.BookDelta{}, false
	}
	if msg.Arg.Channel != booksChannel || len(msg.Data) == 0 {
		return schema.BookDelta{}, false
	}
	bids, ok := shared.PairLevels(msg.Data[0].Bids)
	if !ok {
		return schema.BookDelta{}, false
	}
	asks, ok := shared.PairLevels(msg.Data[0].Asks)
	if !ok {
		return schema.BookDelta{}, false
	}
	delta := schema.BookDelta{Bids: bids, Asks: asks, Replace: msg.Action == "snapshot"}
	if delta.Empty() {
		return schema.BookDelta{}, false
	}
	return delta, true
}
