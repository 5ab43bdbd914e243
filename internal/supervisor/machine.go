// Package supervisor models the connection lifecycle of one subscription as an explicit
// state machine. It holds no timers or transports; the engine loop drives it and acts on the
// transitions it returns.
package supervisor

import (
	"errors"
	"fmt"
	"time"

	"github.com/coachpo/depthstream/internal/schema"
)

// ErrInvalidTransition is returned when an event is not allowed in the current state.
var ErrInvalidTransition = errors.New("supervisor: invalid connection state transition")

// Transition describes one state change.
type Transition struct {
	From    schema.ConnectionState
	To      schema.ConnectionState
	Attempt int
	// Delay is the reconnect delay when To is StateReconnecting.
	Delay time.Duration
}

// Changed reports whether the state actually moved.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// Machine is the connection state machine. It is owned by a single goroutine.
type Machine struct {
	state schema.ConnectionState
	retry *RetrySchedule
}

// NewMachine constructs a machine in StateIdle.
func NewMachine(policy RetryPolicy) *Machine {
	return &Machine{state: schema.StateIdle, retry: NewRetrySchedule(policy)}
}

// State returns the current state.
func (m *Machine) State() schema.ConnectionState {
	return m.state
}

// Retry exposes the retry schedule for reporting.
func (m *Machine) Retry() *RetrySchedule {
	return m.retry
}

// Connect starts a dial: Idle -> Connecting, or Reconnecting -> Connecting once the delay elapsed.
func (m *Machine) Connect() (Transition, error) {
	switch m.state {
	case schema.StateIdle, schema.StateReconnecting:
		return m.move(schema.StateConnecting, 0), nil
	default:
		return Transition{}, m.invalid("connect")
	}
}

// Opened records a successful dial: Connecting -> Connected and resets the retry schedule.
func (m *Machine) Opened() (Transition, error) {
	if m.state != schema.StateConnecting {
		return Transition{}, m.invalid("open")
	}
	m.retry.Reset()
	return m.move(schema.StateConnected, 0), nil
}

// Closed records a transport closure. A normal closure of an open connection returns to Idle
// without retrying; anything else advances the retry schedule and yields Reconnecting, or
// Failed once the schedule is exhausted.
func (m *Machine) Closed(normal bool) (Transition, error) {
	switch m.state {
	case schema.StateConnected:
		if normal {
			return m.move(schema.StateIdle, 0), nil
		}
	case schema.StateConnecting:
	default:
		return Transition{}, m.invalid("close")
	}
	delay, ok := m.retry.Advance()
	if !ok {
		return m.move(schema.StateFailed, 0), nil
	}
	return m.move(schema.StateReconnecting, delay), nil
}

// Fail moves to the terminal Failed state, used when the transport cannot even be constructed.
func (m *Machine) Fail() (Transition, error) {
	if m.state == schema.StateFailed {
		return Transition{}, m.invalid("fail")
	}
	return m.move(schema.StateFailed, 0), nil
}

// BeginClose marks an intentional teardown in progress.
func (m *Machine) BeginClose() Transition {
	return m.move(schema.StateClosing, 0)
}

// Teardown returns to Idle from any state and discards retry progress.
func (m *Machine) Teardown() Transition {
	m.retry.Reset()
	return m.move(schema.StateIdle, 0)
}

func (m *Machine) move(to schema.ConnectionState, delay time.Duration) Transition {
	t := Transition{From: m.state, To: to, Attempt: m.retry.Attempt(), Delay: delay}
	m.state = to
	return t
}

func (m *Machine) invalid(event string) error {
	return fmt.Errorf("%w: %s while %s", ErrInvalidTransition, event, m.state)
}
