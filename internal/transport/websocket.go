package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/coder/websocket"
)

// DefaultReadLimit bounds a single inbound frame.
const DefaultReadLimit = 2 * 1024 * 1024

// WebsocketDialer dials venues with github.com/coder/websocket.
type WebsocketDialer struct {
	ReadLimit  int64
	HTTPClient *http.Client
	HTTPHeader http.Header
}

// Dial opens a websocket connection to endpoint.
func (d WebsocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	opts := &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: d.HTTPHeader,
	}
	conn, _, err := websocket.Dial(ctx, endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	conn.SetReadLimit(limit)
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		status := websocket.CloseStatus(err)
		if status == -1 {
			return nil, &CloseError{Code: StatusAbnormalClosure, Reason: "", Err: err}
		}
		reason := ""
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			reason = closeErr.Reason
		}
		return nil, &CloseError{Code: int(status), Reason: reason, Err: err}
	}
	return data, nil
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write websocket: %w", err)
	}
	return nil
}

// Close performs the closing handshake. Closing an already closed connection is not an error.
func (c *wsConn) Close(code int, reason string) error {
	if err := c.conn.Close(websocket.StatusCode(code), reason); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close websocket: %w", err)
	}
	return nil
}
