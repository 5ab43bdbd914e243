// Package transporttest provides scriptable in-memory transports for tests.
package transporttest

import (
	"context"
	"errors"
	"sync"

	"github.com/coachpo/depthstream/internal/transport"
)

// ErrRefused is returned by Dialer.Refuse when no error is supplied.
var ErrRefused = errors.New("transporttest: connection refused")

type dialResult struct {
	conn *Conn
	err  error
}

// Dialer hands out queued results. Each Dial blocks until a result is queued or ctx ends.
type Dialer struct {
	mu        sync.Mutex
	results   chan dialResult
	endpoints []string
}

// NewDialer constructs a dialer with room for buffer queued results.
func NewDialer(buffer int) *Dialer {
	if buffer <= 0 {
		buffer = 16
	}
	return &Dialer{results: make(chan dialResult, buffer)}
}

// Accept queues a successful dial and returns the connection it will yield.
func (d *Dialer) Accept() *Conn {
	conn := NewConn()
	d.results <- dialResult{conn: conn}
	return conn
}

// Refuse queues a failed dial.
func (d *Dialer) Refuse(err error) {
	if err == nil {
		err = ErrRefused
	}
	d.results <- dialResult{err: err}
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context, endpoint string) (transport.Conn, error) {
	d.mu.Lock()
	d.endpoints = append(d.endpoints, endpoint)
	d.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-d.results:
		if res.err != nil {
			return nil, res.err
		}
		return res.conn, nil
	}
}

// Dials returns the number of Dial calls so far.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.endpoints)
}

// Endpoints returns the endpoints passed to Dial.
func (d *Dialer) Endpoints() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.endpoints...)
}

// Conn is an in-memory connection driven by the test as the remote side.
type Conn struct {
	mu        sync.Mutex
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
	writes    [][]byte
	writeErr  error
	closeCode int
}

// NewConn constructs an open connection.
func NewConn() *Conn {
	return &Conn{
		frames: make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

// Push delivers a frame from the remote side.
func (c *Conn) Push(frame []byte) {
	c.frames <- append([]byte(nil), frame...)
}

// Drop ends the connection from the remote side with code.
func (c *Conn) Drop(code int, reason string) {
	c.finish(&transport.CloseError{Code: code, Reason: reason})
}

// FailWrites makes every subsequent Write return err (nil restores writes).
func (c *Conn) FailWrites(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

// Writes returns a copy of every frame written by the client.
func (c *Conn) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// ClosedWith returns the code the client closed with, or 0 when it has not closed.
func (c *Conn) ClosedWith() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

// Read implements transport.Conn. Frames pushed before a drop are delivered first.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-c.frames:
		return frame, nil
	default:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case frame := <-c.frames:
		return frame, nil
	case <-c.closed:
		select {
		case frame := <-c.frames:
			return frame, nil
		default:
		}
		return nil, c.closeErr
	}
}

// Write implements transport.Conn.
func (c *Conn) Write(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	select {
	case <-c.closed:
		return errors.New("transporttest: write on closed connection")
	default:
	}
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

// Close implements transport.Conn.
func (c *Conn) Close(code int, reason string) error {
	c.mu.Lock()
	if c.closeCode == 0 {
		c.closeCode = code
	}
	c.mu.Unlock()
	c.finish(&transport.CloseError{Code: code, Reason: reason})
	return nil
}

func (c *Conn) finish(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.closed)
	})
}
