// Package errs provides the structured error envelope shared by depthstream packages.
package errs

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Code identifies a failure category.
type Code string

const (
	// CodeInvalid indicates invalid input such as a malformed endpoint or instrument.
	CodeInvalid Code = "invalid_request"
	// CodeNetwork indicates a transport failure that outlived the retry budget.
	CodeNetwork Code = "network"
	// CodeExchange indicates a venue-side failure reported in a response body.
	CodeExchange Code = "exchange_error"
	// CodeRateLimited indicates the venue rejected a request for exceeding its limits.
	CodeRateLimited Code = "rate_limited"
	// CodeNotFound indicates a missing resource such as an unknown subscription handle.
	CodeNotFound Code = "not_found"
	// CodeUnavailable indicates the component has been shut down.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information for a venue.
type E struct {
	Venue       string
	Code        Code
	HTTP        int
	RawCode     string
	RawMsg      string
	Message     string
	Metadata    map[string]string
	Remediation string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the venue and error code.
func New(venue string, code Code, opts ...Option) *E {
	e := &E{Venue: strings.TrimSpace(venue), Code: code}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage sets the human-readable summary.
func WithMessage(message string) Option {
	return func(e *E) { e.Message = strings.TrimSpace(message) }
}

// WithRemediation records what an operator can do about the failure.
func WithRemediation(remediation string) Option {
	return func(e *E) { e.Remediation = strings.TrimSpace(remediation) }
}

// WithHTTP records the HTTP status of the failed venue request.
func WithHTTP(status int) Option {
	return func(e *E) { e.HTTP = status }
}

// WithRawCode records the venue's own error code.
func WithRawCode(code string) Option {
	return func(e *E) { e.RawCode = strings.TrimSpace(code) }
}

// WithRawMessage records the venue's own error message verbatim.
func WithRawMessage(msg string) Option {
	return func(e *E) { e.RawMsg = msg }
}

// WithCause wraps the underlying error.
func WithCause(err error) Option {
	return func(e *E) { e.cause = err }
}

// WithField adds one metadata pair. Blank keys are ignored.
func WithField(key, value string) Option {
	return func(e *E) {
		key = strings.TrimSpace(key)
		if key == "" {
			return
		}
		if e.Metadata == nil {
			e.Metadata = make(map[string]string, 1)
		}
		e.Metadata[key] = strings.TrimSpace(value)
	}
}

// Error renders the envelope as space separated key=value pairs, free text quoted.
func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString("venue=")
	b.WriteString(orUnknown(e.Venue))
	b.WriteString(" code=")
	b.WriteString(orUnknown(strings.TrimSpace(string(e.Code))))
	if e.HTTP > 0 {
		b.WriteString(" http=")
		b.WriteString(strconv.Itoa(e.HTTP))
	}
	writeQuoted(&b, "message", e.Message)
	writeQuoted(&b, "remediation", e.Remediation)
	writeQuoted(&b, "raw_code", e.RawCode)
	writeQuoted(&b, "raw_msg", e.RawMsg)
	if len(e.Metadata) > 0 {
		keys := make([]string, 0, len(e.Metadata))
		for k := range e.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" meta=")
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(strconv.Quote(e.Metadata[k]))
		}
	}
	if e.cause != nil {
		writeQuoted(&b, "cause", e.cause.Error())
	}
	return b.String()
}

func writeQuoted(b *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	b.WriteByte(' ')
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(strconv.Quote(value))
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func (e *E) Unwrap() error { return e.cause }

// HasCode reports whether err wraps an envelope carrying code.
func HasCode(err error, code Code) bool {
	var e *E
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}
