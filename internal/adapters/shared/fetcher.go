package shared

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/coachpo/depthstream/errs"
)

const (
	defaultRequestTimeout    = 10 * time.Second
	defaultRequestsPerSecond = 5
	errorBodyLimit           = 4 << 10
)

// Options configures a venue adapter. Zero values fall back to the venue defaults.
type Options struct {
	// Endpoint overrides the websocket endpoint.
	Endpoint string
	// RESTBaseURL overrides the REST API root used for instrument discovery.
	RESTBaseURL string
	// HTTPClient is used for REST calls; a client with a 10s timeout is created when nil.
	HTTPClient *http.Client
	// RequestsPerSecond paces REST calls.
	RequestsPerSecond float64
}

// EndpointOr returns the configured websocket endpoint or fallback.
func (o Options) EndpointOr(fallback string) string {
	if endpoint := strings.TrimSpace(o.Endpoint); endpoint != "" {
		return endpoint
	}
	return fallback
}

// RESTBaseOr returns the configured REST root without a trailing slash, or fallback.
func (o Options) RESTBaseOr(fallback string) string {
	base := strings.TrimSpace(o.RESTBaseURL)
	if base == "" {
		base = fallback
	}
	return strings.TrimRight(base, "/")
}

// Fetcher performs paced JSON GET requests against a venue REST API.
type Fetcher struct {
	venue   string
	client  *http.Client
	limiter *rate.Limiter
}

// NewFetcher creates a fetcher for venue using the HTTP settings in opts.
func NewFetcher(venue string, opts Options) *Fetcher {
	client := opts.HTTPClient
	if client == nil {
		client = new(http.Client)
		client.Timeout = defaultRequestTimeout
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	return &Fetcher{
		venue:   venue,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// GetJSON requests url and decodes the response body into out.
func (f *Fetcher) GetJSON(ctx context.Context, url string, out any) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: wait for rate limiter: %w", f.venue, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", f.venue, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return errs.New(f.venue, errs.CodeNetwork, errs.WithMessage("instrument request failed"), errs.WithField("url", url), errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode == http.StatusTooManyRequests {
		return errs.New(f.venue, errs.CodeRateLimited, errs.WithHTTP(resp.StatusCode), errs.WithField("url", url))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return errs.New(f.venue, errs.CodeExchange,
			errs.WithHTTP(resp.StatusCode),
			errs.WithRawMessage(strings.TrimSpace(string(body))),
			errs.WithField("url", url))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", f.venue, err)
	}
	return nil
}
