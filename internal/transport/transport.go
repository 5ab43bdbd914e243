// Package transport abstracts the streaming connection the engine consumes.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	// StatusNormalClosure is the websocket close code for an intentional shutdown.
	StatusNormalClosure = 1000
	// StatusAbnormalClosure is reported when the connection dropped without a close frame.
	StatusAbnormalClosure = 1006
	// StatusInternalError closes a connection the client can no longer use.
	StatusInternalError = 1011
)

// Conn is one open streaming connection. Read is called from a single reader goroutine while
// Write and Close may be called concurrently from the owner.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code int, reason string) error
}

// Dialer opens connections to an endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// CloseError reports how a connection ended.
type CloseError struct {
	Code   int
	Reason string
	Err    error
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("connection closed: code=%d", e.Code)
	}
	return fmt.Sprintf("connection closed: code=%d reason=%q", e.Code, e.Reason)
}

func (e *CloseError) Unwrap() error { return e.Err }

// CloseCode extracts the close code carried by err. Errors without one count as abnormal.
func CloseCode(err error) int {
	var closeErr *CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code
	}
	return StatusAbnormalClosure
}

// IsNormalClosure reports whether err ended the connection with code 1000.
func IsNormalClosure(err error) bool {
	return CloseCode(err) == StatusNormalClosure
}

// ValidateEndpoint checks that endpoint is an absolute ws:// or wss:// URL.
func ValidateEndpoint(endpoint string) error {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return errors.New("endpoint required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "ws", "wss":
	default:
		return fmt.Errorf("endpoint scheme %q not supported", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("endpoint host required")
	}
	return nil
}
