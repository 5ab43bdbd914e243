package engine

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/depthstream/errs"
	"github.com/coachpo/depthstream/internal/book"
	"github.com/coachpo/depthstream/internal/conductor"
	"github.com/coachpo/depthstream/internal/observability"
	"github.com/coachpo/depthstream/internal/schema"
	"github.com/coachpo/depthstream/internal/supervisor"
	"github.com/coachpo/depthstream/internal/telemetry"
	"github.com/coachpo/depthstream/internal/transport"
)

// session is one open connection. Its channels are only reachable through loop.sess, so
// dropping the session makes anything its reader still emits unreachable.
type session struct {
	conn   transport.Conn
	cancel context.CancelFunc
	frames chan []byte
	closed chan error
}

type dialResult struct {
	conn transport.Conn
	err  error
}

type dialAttempt struct {
	cancel context.CancelFunc
	result chan dialResult
}

// loop is the state owned by the engine goroutine.
type loop struct {
	e        *Engine
	ctx      context.Context
	machine  *supervisor.Machine
	book     *book.Book
	throttle *conductor.Throttle
	workers  conc.WaitGroup

	sess      *session
	dial      *dialAttempt
	heartbeat *time.Ticker
	reconnect *time.Timer
	publish   *time.Timer

	dirtySince time.Time
	lastErr    error
}

func (e *Engine) run(ctx context.Context) {
	l := &loop{
		e:        e,
		ctx:      ctx,
		machine:  supervisor.NewMachine(e.cfg.Retry),
		book:     book.New(e.adapter.Venue(), e.cfg.Instrument, e.cfg.Depth),
		throttle: conductor.NewThrottle(e.cfg.ThrottleInterval),
	}
	defer close(e.done)
	defer l.workers.Wait()

	l.begin()
	for !l.settled() {
		select {
		case <-ctx.Done():
			l.teardown()
		case <-e.stop:
			l.teardown()
		case res := <-l.dialC():
			l.onDial(res)
		case frame := <-l.framesC():
			l.onFrame(frame)
		case err := <-l.closedC():
			l.onClosed(err)
		case <-tickerC(l.heartbeat):
			l.onHeartbeat()
		case <-timerC(l.reconnect):
			l.reconnect = nil
			l.connect()
		case <-timerC(l.publish):
			l.publish = nil
			l.onPublishTimer()
		}
	}
}

func (l *loop) settled() bool {
	switch l.machine.State() {
	case schema.StateIdle, schema.StateFailed:
		return true
	default:
		return false
	}
}

func (l *loop) begin() {
	endpoint := l.e.adapter.Endpoint()
	if err := transport.ValidateEndpoint(endpoint); err != nil {
		l.lastErr = errs.New(l.e.adapter.Venue().Key(), errs.CodeInvalid,
			errs.WithMessage("invalid transport endpoint"),
			errs.WithField("endpoint", endpoint),
			errs.WithCause(err))
		tr, _ := l.machine.Fail()
		l.transitioned(tr)
		return
	}
	l.connect()
}

func (l *loop) connect() {
	tr, err := l.machine.Connect()
	if err != nil {
		l.e.logger.Error("connect rejected", l.e.fields(observability.F("error", err))...)
		return
	}
	l.e.snapshot.Store(nil)
	l.transitioned(tr)

	ctx, cancel := context.WithTimeout(l.ctx, l.e.cfg.DialTimeout)
	result := make(chan dialResult, 1)
	dialer := l.e.dialer
	endpoint := l.e.adapter.Endpoint()
	l.workers.Go(func() {
		conn, err := dialer.Dial(ctx, endpoint)
		result <- dialResult{conn: conn, err: err}
	})
	l.dial = &dialAttempt{cancel: cancel, result: result}
}

func (l *loop) onDial(res dialResult) {
	l.dial.cancel()
	l.dial = nil
	if res.err != nil {
		l.lastErr = res.err
		l.e.logger.Error("dial failed", l.e.fields(observability.F("error", res.err))...)
		l.closed(false)
		return
	}
	l.open(res.conn)
}

func (l *loop) open(conn transport.Conn) {
	tr, err := l.machine.Opened()
	if err != nil {
		l.e.logger.Error("open rejected", l.e.fields(observability.F("error", err))...)
		_ = conn.Close(transport.StatusNormalClosure, "")
		return
	}
	l.book.Reset()
	l.throttle.Reset()
	l.stopPublish()
	l.lastErr = nil

	ctx, cancel := context.WithCancel(l.ctx)
	sess := &session{
		conn:   conn,
		cancel: cancel,
		frames: make(chan []byte),
		closed: make(chan error, 1),
	}
	l.sess = sess
	l.transitioned(tr)

	if err := l.write(sess, l.e.subscribe); err != nil {
		l.lastErr = err
		l.e.logger.Error("subscribe failed", l.e.fields(observability.F("error", err))...)
		_ = l.dropSession(transport.StatusInternalError, "subscribe failed")
		l.closed(false)
		return
	}
	l.heartbeat = time.NewTicker(l.e.cfg.HeartbeatInterval)
	l.workers.Go(func() { readLoop(ctx, conn, sess.frames, sess.closed) })
}

func readLoop(ctx context.Context, conn transport.Conn, frames chan<- []byte, closed chan<- error) {
	for {
		frame, err := conn.Read(ctx)
		if err != nil {
			closed <- err
			return
		}
		select {
		case frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}

func (l *loop) write(sess *session, data []byte) error {
	ctx, cancel := context.WithTimeout(l.ctx, l.e.cfg.WriteTimeout)
	defer cancel()
	return sess.conn.Write(ctx, data)
}

func (l *loop) onFrame(frame []byte) {
	now := l.e.now()
	l.e.metrics.FrameReceived(l.ctx)

	delta, ok := l.e.adapter.Normalize(frame)
	if !ok {
		l.e.metrics.FrameDropped(l.ctx, telemetry.DropReasonNotBook)
		l.e.logger.Debug("frame ignored", l.e.fields(observability.F("bytes", len(frame)))...)
		return
	}
	if !l.book.Apply(delta) {
		l.e.metrics.FrameDropped(l.ctx, telemetry.DropReasonUnchanged)
		return
	}
	if l.dirtySince.IsZero() {
		l.dirtySince = now
	}
	publish, wait := l.throttle.Offer(now)
	switch {
	case publish:
		l.publishSnapshot(now)
	case wait > 0:
		l.publish = time.NewTimer(wait)
	}
}

func (l *loop) onPublishTimer() {
	now := l.e.now()
	l.throttle.Flush(now)
	l.publishSnapshot(now)
}

func (l *loop) publishSnapshot(now time.Time) {
	snap := l.book.Snapshot(now)
	l.e.snapshot.Store(snap)
	l.e.metrics.SnapshotPublished(l.ctx, now.Sub(l.dirtySince))
	l.dirtySince = time.Time{}
	state := l.machine.State()
	l.emit(schema.Update{
		Status:   state.Status(),
		State:    state,
		Snapshot: snap,
	})
}

func (l *loop) onHeartbeat() {
	if l.sess == nil {
		return
	}
	msg, ok := l.e.adapter.HeartbeatMessage()
	if !ok {
		return
	}
	if err := l.write(l.sess, msg); err != nil {
		l.e.logger.Error("heartbeat send failed", l.e.fields(observability.F("error", err))...)
	}
}

func (l *loop) onClosed(err error) {
	l.lastErr = err
	normal := transport.IsNormalClosure(err)
	l.e.logger.Info("connection closed", l.e.fields(
		observability.F("code", transport.CloseCode(err)),
		observability.F("error", err),
	)...)
	_ = l.dropSession(transport.StatusNormalClosure, "")
	l.closed(normal)
}

// closed feeds a closure into the state machine and schedules the reconnect it asks for.
func (l *loop) closed(normal bool) {
	tr, err := l.machine.Closed(normal)
	if err != nil {
		l.e.logger.Error("close rejected", l.e.fields(observability.F("error", err))...)
		return
	}
	l.transitioned(tr)
	if tr.To == schema.StateReconnecting {
		l.e.metrics.ReconnectScheduled(l.ctx)
		l.reconnect = time.NewTimer(tr.Delay)
	}
}

// dropSession detaches the open connection and closes it with code. Pending publishes and the
// heartbeat die with it.
func (l *loop) dropSession(code int, reason string) error {
	l.stopHeartbeat()
	l.stopPublish()
	l.throttle.Reset()
	l.dirtySince = time.Time{}
	if l.sess == nil {
		return nil
	}
	sess := l.sess
	l.sess = nil
	err := sess.conn.Close(code, reason)
	sess.cancel()
	return err
}

func (l *loop) teardown() {
	from := l.machine.State()
	l.machine.BeginClose()

	var closeErrs []error
	if l.dial != nil {
		l.dial.cancel()
		if res := <-l.dial.result; res.conn != nil {
			closeErrs = append(closeErrs, res.conn.Close(transport.StatusNormalClosure, "teardown"))
		}
		l.dial = nil
	}
	closeErrs = append(closeErrs, l.dropSession(transport.StatusNormalClosure, "teardown"))
	if l.reconnect != nil {
		l.reconnect.Stop()
		l.reconnect = nil
	}
	l.book.Reset()

	tr := l.machine.Teardown()
	tr.From = from
	l.transitioned(tr)
	l.e.stopErr = observability.AggregateErrors("engine teardown", closeErrs, l.e.fields()...)
}

func (l *loop) transitioned(tr supervisor.Transition) {
	if !tr.Changed() {
		return
	}
	l.e.metrics.StateChanged(l.ctx, tr.From.String(), tr.To.String())
	l.e.logger.Info("connection state changed", l.e.fields(
		observability.F("from", tr.From),
		observability.F("to", tr.To),
		observability.F("attempt", tr.Attempt),
		observability.F("delay", tr.Delay),
	)...)

	update := schema.Update{
		Status:  tr.To.Status(),
		State:   tr.To,
		Attempt: tr.Attempt,
	}
	switch tr.To {
	case schema.StateReconnecting:
		update.NextDelay = tr.Delay
	case schema.StateFailed:
		update.Err = l.failure()
	}
	l.emit(update)
}

func (l *loop) failure() error {
	var envelope *errs.E
	if errors.As(l.lastErr, &envelope) && envelope.Code == errs.CodeInvalid {
		return l.lastErr
	}
	policy := l.machine.Retry().Policy()
	return errs.New(l.e.adapter.Venue().Key(), errs.CodeNetwork,
		errs.WithMessage("reconnect attempts exhausted"),
		errs.WithField("instrument", l.e.cfg.Instrument),
		errs.WithField("max_attempts", strconv.Itoa(policy.MaxAttempts)),
		errs.WithCause(l.lastErr))
}

func (l *loop) emit(update schema.Update) {
	l.e.emit(update)
}

func (l *loop) stopHeartbeat() {
	if l.heartbeat != nil {
		l.heartbeat.Stop()
		l.heartbeat = nil
	}
}

func (l *loop) stopPublish() {
	if l.publish != nil {
		l.publish.Stop()
		l.publish = nil
	}
}

func (l *loop) dialC() <-chan dialResult {
	if l.dial == nil {
		return nil
	}
	return l.dial.result
}

func (l *loop) framesC() <-chan []byte {
	if l.sess == nil {
		return nil
	}
	return l.sess.frames
}

func (l *loop) closedC() <-chan error {
	if l.sess == nil {
		return nil
	}
	return l.sess.closed
}

func tickerC(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}
