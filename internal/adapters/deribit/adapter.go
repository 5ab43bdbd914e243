// Package deribit adapts the Deribit v2 JSON-RPC websocket and REST APIs.
package deribit

import (
	"strings"
	"sync/atomic"

	json "github.com/goccy/go-json"

	"github.com/coachpo/depthstream/errs"
	"github.com/coachpo/depthstream/internal/adapters/shared"
	"github.com/coachpo/depthstream/internal/schema"
)

const (
	// DefaultEndpoint is the Deribit JSON-RPC websocket endpoint.
	DefaultEndpoint = "wss://www.deribit.com/ws/api/v2"
	// DefaultRESTBaseURL is the Deribit REST API root.
	DefaultRESTBaseURL = "https://www.deribit.com"

	// bookChannelSuffix requests ungrouped top-10 levels every 100ms.
	bookChannelSuffix = ".none.10.100ms"
)

// Adapter implements the Deribit order-book feed.
type Adapter struct {
	endpoint string
	restBase string
	fetcher  *shared.Fetcher
	ids      atomic.Int64
}

// New constructs a Deribit adapter.
func New(opts shared.Options) *Adapter {
	return &Adapter{
		endpoint: opts.EndpointOr(DefaultEndpoint),
		restBase: opts.RESTBaseOr(DefaultRESTBaseURL),
		fetcher:  shared.NewFetcher(schema.VenueDeribit.Key(), opts),
	}
}

// Venue returns schema.VenueDeribit.
func (a *Adapter) Venue() schema.Venue { return schema.VenueDeribit }

// Endpoint returns the websocket endpoint.
func (a *Adapter) Endpoint() string { return a.endpoint }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type subscribeParams struct {
	Channels []string `json:"channels"`
}

func (a *Adapter) request(method string, params any) ([]byte, error) {
	return json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      a.ids.Add(1),
		Method:  method,
		Params:  params,
	})
}

// SubscribeMessage builds the public/subscribe request for instrument's book channel.
func (a *Adapter) SubscribeMessage(instrument string) ([]byte, error) {
	instrument = strings.TrimSpace(instrument)
	if instrument == "" {
		return nil, errs.New(schema.VenueDeribit.Key(), errs.CodeInvalid, errs.WithMessage("instrument required"))
	}
	return a.request("public/subscribe", subscribeParams{
		Channels: []string{"book." + instrument + bookChannelSuffix},
	})
}

// HeartbeatMessage returns a public/test request with a fresh id.
func (a *Adapter) HeartbeatMessage() ([]byte, bool) {
	msg, err := a.request("public/test", nil)
	if err != nil {
		return nil, false
	}
	return msg, true
}
