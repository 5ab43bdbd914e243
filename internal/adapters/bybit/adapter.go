// Package bybit adapts the Bybit v5 spot public websocket and REST APIs.
package bybit

import (
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/depthstream/errs"
	"github.com/coachpo/depthstream/internal/adapters/shared"
	"github.com/coachpo/depthstream/internal/schema"
)

const (
	// DefaultEndpoint is the Bybit spot public websocket endpoint.
	DefaultEndpoint = "wss://stream.bybit.com/v5/public/spot"
	// DefaultRESTBaseURL is the Bybit REST API root.
	DefaultRESTBaseURL = "https://api.bybit.com"

	// orderbookDepth is the depth tier requested from the orderbook topic.
	orderbookDepth = "50"
)

var pingMessage = []byte(`{"op":"ping"}`)

// Adapter implements the Bybit spot order-book feed.
type Adapter struct {
	endpoint string
	restBase string
	fetcher  *shared.Fetcher
}

// New constructs a Bybit adapter.
func New(opts shared.Options) *Adapter {
	return &Adapter{
		endpoint: opts.EndpointOr(DefaultEndpoint),
		restBase: opts.RESTBaseOr(DefaultRESTBaseURL),
		fetcher:  shared.NewFetcher(schema.VenueBybit.Key(), opts),
	}
}

// Venue returns schema.VenueBybit.
func (a *Adapter) Venue() schema.Venue { return schema.VenueBybit }

// Endpoint returns the websocket endpoint.
func (a *Adapter) Endpoint() string { return a.endpoint }

type subscribeRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// SubscribeMessage builds the orderbook topic subscription for instrument.
func (a *Adapter) SubscribeMessage(instrument string) ([]byte, error) {
	instrument = strings.TrimSpace(instrument)
	if instrument == "" {
		return nil, errs.New(schema.VenueBybit.Key(), errs.CodeInvalid, errs.WithMessage("instrument required"))
	}
	return json.Marshal(subscribeRequest{
		Op:   "subscribe",
		Args: []string{"orderbook." + orderbookDepth + "." + instrument},
	})
}

// HeartbeatMessage returns the JSON ping frame.
func (a *Adapter) HeartbeatMessage() ([]byte, bool) {
	return append([]byte(nil), pingMessage...), true
}
