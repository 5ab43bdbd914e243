package schema

import "time"

// ConnectionState is the supervisor's internal lifecycle state.
type ConnectionState uint8

const (
	// StateIdle means no transport is open and none is being attempted.
	StateIdle ConnectionState = iota
	// StateConnecting means a dial is in flight.
	StateConnecting
	// StateConnected means the transport is open and subscribed.
	StateConnected
	// StateClosing means an intentional teardown is closing the transport.
	StateClosing
	// StateReconnecting means a reconnect delay is pending after an abnormal closure.
	StateReconnecting
	// StateFailed is terminal: the retry budget is exhausted or the endpoint is unusable.
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status returns the consumer-facing status for the state.
func (s ConnectionState) Status() Status {
	switch s {
	case StateConnecting, StateReconnecting:
		return StatusConnecting
	case StateConnected:
		return StatusConnected
	case StateFailed:
		return StatusError
	default:
		return StatusDisconnected
	}
}

// Status is the coarse connection status pushed to consumers.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
	// StatusFallback is reserved for a degraded data source and never emitted by the engine.
	StatusFallback Status = "fallback"
)

// Update is pushed to consumers on every status change and every throttled publish.
type Update struct {
	Handle    string
	Status    Status
	State     ConnectionState
	Snapshot  *BookSnapshot
	Attempt   int
	NextDelay time.Duration
	Err       error
	At        time.Time
}
