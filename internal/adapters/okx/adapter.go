// Package okx adapts the OKX v5 public websocket and REST APIs.
package okx

import (
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/depthstream/errs"
	"github.com/coachpo/depthstream/internal/adapters/shared"
	"github.com/coachpo/depthstream/internal/schema"
)

const (
	// DefaultEndpoint is the OKX public websocket endpoint.
	DefaultEndpoint = "wss://ws.okx.com/ws/v5/public"
	// DefaultRESTBaseURL is the OKX REST API root.
	DefaultRESTBaseURL = "https://www.okx.com"

	booksChannel = "books"
)

var pingMessage = []byte(`{"op":"ping"}`)

// Adapter implements the OKX order-book feed.
type Adapter struct {
	endpoint string
	restBase string
	fetcher  *shared.Fetcher
}

// New constructs an OKX adapter.
func New(opts shared.Options) *Adapter {
	return &Adapter{
		endpoint: opts.EndpointOr(DefaultEndpoint),
		restBase: opts.RESTBaseOr(DefaultRESTBaseURL),
		fetcher:  shared.NewFetcher(schema.VenueOKX.Key(), opts),
	}
}

// Venue returns schema.VenueOKX.
func (a *Adapter) Venue() schema.Venue { return schema.VenueOKX }

// Endpoint returns the websocket endpoint.
func (a *Adapter) Endpoint() string { return a.endpoint }

type subscribeArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type subscribeRequest struct {
	Op   string         `json:"op"`
	Args []subscribeArg `json:"args"`
}

// SubscribeMessage builds the books channel subscription for instrument.
func (a *Adapter) SubscribeMessage(instrument string) ([]byte, error) {
	instrument = strings.TrimSpace(instrument)
	if instrument == "" {
		return nil, errs.New(schema.VenueOKX.Key(), errs.CodeInvalid, errs.WithMessage("instrument required"))
	}
	return json.Marshal(subscribeRequest{
		Op:   "subscribe",
		Args: []subscribeArg{{Channel: booksChannel, InstID: instrument}},
	})
}

// HeartbeatMessage returns the JSON ping frame.
func (a *Adapter) HeartbeatMessage() ([]byte, bool) {
	return append([]byte(nil), pingMessage...), true
}
