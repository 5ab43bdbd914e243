package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/coachpo/depthstream/errs"
	"github.com/coachpo/depthstream/internal/adapters/okx"
	"github.com/coachpo/depthstream/internal/adapters/shared"
	"github.com/coachpo/depthstream/internal/schema"
	"github.com/coachpo/depthstream/internal/supervisor"
	"github.com/coachpo/depthstream/internal/transport"
	"github.com/coachpo/depthstream/internal/transport/transporttest"
)

const (
	testEndpoint   = "ws://okx.test/ws/v5/public"
	testInstrument = "BTC-USDT"
	waitTimeout    = 3 * time.Second
)

type recorder struct {
	updates chan schema.Update
}

func newRecorder() *recorder {
	return &recorder{updates: make(chan schema.Update, 1024)}
}

func (r *recorder) OnUpdate(update schema.Update) {
	r.updates <- update
}

// waitFor consumes updates until match accepts one.
func (r *recorder) waitFor(t *testing.T, desc string, match func(schema.Update) bool) schema.Update {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case update := <-r.updates:
			if match(update) {
				return update
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", desc)
			return schema.Update{}
		}
	}
}

func (r *recorder) waitState(t *testing.T, state schema.ConnectionState) schema.Update {
	t.Helper()
	return r.waitFor(t, "state "+state.String(), func(u schema.Update) bool {
		return u.Snapshot == nil && u.State == state
	})
}

func (r *recorder) waitSnapshot(t *testing.T, match func(*schema.BookSnapshot) bool) *schema.BookSnapshot {
	t.Helper()
	update := r.waitFor(t, "snapshot", func(u schema.Update) bool {
		return u.Snapshot != nil && match(u.Snapshot)
	})
	return update.Snapshot
}

// drain returns every update received within d.
func (r *recorder) drain(d time.Duration) []schema.Update {
	var out []schema.Update
	deadline := time.After(d)
	for {
		select {
		case update := <-r.updates:
			out = append(out, update)
		case <-deadline:
			return out
		}
	}
}

func anySnapshot(*schema.BookSnapshot) bool { return true }

func bookFrame(action, bids, asks string) []byte {
	return []byte(`{"arg":{"channel":"books","instId":"BTC-USDT"},"action":"` + action + `","data":[{"bids":` + bids + `,"asks":` + asks + `}]}`)
}

func testConfig() Config {
	cfg := DefaultConfig(testInstrument)
	cfg.ThrottleInterval = 20 * time.Millisecond
	cfg.Retry = supervisor.RetryPolicy{InitialDelay: 20 * time.Millisecond, MaxDelay: 80 * time.Millisecond, MaxAttempts: 5}
	return cfg
}

func newTestEngine(t *testing.T, cfg Config, dialer transport.Dialer, endpoint string) (*Engine, *recorder) {
	t.Helper()
	rec := newRecorder()
	eng, err := New(okx.New(shared.Options{Endpoint: endpoint}), rec, cfg, WithDialer(dialer), WithHandle("h-1"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Stop() })
	return eng, rec
}

func waitDone(t *testing.T, eng *Engine) {
	t.Helper()
	select {
	case <-eng.Done():
	case <-time.After(waitTimeout):
		t.Fatal("engine loop did not exit")
	}
}

func TestNewValidatesInput(t *testing.T) {
	_, err := New(nil, nil, DefaultConfig(testInstrument))
	require.True(t, errs.HasCode(err, errs.CodeInvalid))

	_, err = New(okx.New(shared.Options{}), nil, DefaultConfig("  "))
	require.True(t, errs.HasCode(err, errs.CodeInvalid))

	eng, err := New(okx.New(shared.Options{}), nil, Config{Instrument: testInstrument})
	require.NoError(t, err)
	cfg := eng.Config()
	require.Equal(t, 15, cfg.Depth)
	require.Equal(t, 100*time.Millisecond, cfg.ThrottleInterval)
	require.Equal(t, 25*time.Second, cfg.HeartbeatInterval)
	require.Equal(t, supervisor.DefaultRetryPolicy(), cfg.Retry)
	require.Equal(t, schema.StatusDisconnected, eng.Latest().Status)
	require.NoError(t, eng.Stop())
}

func TestEnginePublishesMergedBook(t *testing.T) {
	dialer := transporttest.NewDialer(0)
	conn := dialer.Accept()
	eng, rec := newTestEngine(t, testConfig(), dialer, testEndpoint)
	eng.Start(context.Background())

	first := rec.waitFor(t, "connecting", func(u schema.Update) bool { return u.State == schema.StateConnecting })
	require.Equal(t, schema.StatusConnecting, first.Status)
	require.Equal(t, "h-1", first.Handle)
	connected := rec.waitState(t, schema.StateConnected)
	require.Equal(t, schema.StatusConnected, connected.Status)

	require.Eventually(t, func() bool { return len(conn.Writes()) >= 1 }, waitTimeout, 5*time.Millisecond)
	require.JSONEq(t, `{"op":"subscribe","args":[{"channel":"books","instId":"BTC-USDT"}]}`, string(conn.Writes()[0]))
	require.Equal(t, []string{testEndpoint}, dialer.Endpoints())

	conn.Push(bookFrame("snapshot", `[["100","1"],["99","2"]]`, `[["101","1.5"]]`))
	snap := rec.waitSnapshot(t, anySnapshot)
	require.Equal(t, schema.VenueOKX, snap.Venue)
	require.Equal(t, testInstrument, snap.Instrument)
	require.Len(t, snap.Bids, 2)
	require.Equal(t, "100", snap.Bids[0].Price.String())
	require.Equal(t, "99", snap.Bids[1].Price.String())
	require.Equal(t, "3", snap.Bids[1].CumulativeSize.String())
	require.Equal(t, "101", snap.Asks[0].Price.String())
	require.Equal(t, "1", snap.Spread.String())
	require.Equal(t, "100.5", snap.MidPrice.String())

	conn.Push(bookFrame("update", `[["100","0"]]`, `[]`))
	snap = rec.waitSnapshot(t, func(s *schema.BookSnapshot) bool { return len(s.Bids) == 1 })
	require.Equal(t, "99", snap.Bids[0].Price.String())
	require.Equal(t, "2", snap.Spread.String())
	require.Equal(t, "100", snap.MidPrice.String())

	latest := eng.Latest()
	require.Equal(t, schema.StatusConnected, latest.Status)
	require.NotNil(t, latest.Snapshot)
	require.Equal(t, "99", latest.Snapshot.Bids[0].Price.String())
}

func TestEngineThrottleCoalescesBursts(t *testing.T) {
	cfg := testConfig()
	cfg.ThrottleInterval = 200 * time.Millisecond
	dialer := transporttest.NewDialer(0)
	conn := dialer.Accept()
	eng, rec := newTestEngine(t, cfg, dialer, testEndpoint)
	eng.Start(context.Background())
	rec.waitState(t, schema.StateConnected)

	conn.Push(bookFrame("update", `[["100","1"]]`, `[]`))
	conn.Push(bookFrame("update", `[["99","1"]]`, `[]`))
	conn.Push(bookFrame("update", `[["98","1"]]`, `[]`))

	var snaps []*schema.BookSnapshot
	for _, update := range rec.drain(500 * time.Millisecond) {
		if update.Snapshot != nil {
			snaps = append(snaps, update.Snapshot)
		}
	}
	require.Len(t, snaps, 2)
	require.Len(t, snaps[0].Bids, 1)
	require.Len(t, snaps[1].Bids, 3)
	require.GreaterOrEqual(t, snaps[1].PublishedAt.Sub(snaps[0].PublishedAt), 190*time.Millisecond)
	require.Less(t, snaps[0].Sequence, snaps[1].Sequence)
}

func TestEngineIgnoresNonBookFrames(t *testing.T) {
	dialer := transporttest.NewDialer(0)
	conn := dialer.Accept()
	eng, rec := newTestEngine(t, testConfig(), dialer, testEndpoint)
	eng.Start(context.Background())
	rec.waitState(t, schema.StateConnected)

	conn.Push([]byte("pong"))
	conn.Push([]byte(`{"event":"subscribe","arg":{"channel":"books","instId":"BTC-USDT"}}`))
	conn.Push([]byte(`not json`))
	conn.Push(bookFrame("update", `[["100","1"]]`, `[]`))

	snap := rec.waitSnapshot(t, anySnapshot)
	require.Len(t, snap.Bids, 1)
	require.Empty(t, snap.Asks)
	require.True(t, snap.Spread.IsZero())
	require.True(t, snap.MidPrice.IsZero())
}

func TestEngineNormalCloseDisconnectsWithoutRetry(t *testing.T) {
	dialer := transporttest.NewDialer(0)
	conn := dialer.Accept()
	eng, rec := newTestEngine(t, testConfig(), dialer, testEndpoint)
	eng.Start(context.Background())
	rec.waitState(t, schema.StateConnected)

	conn.Drop(transport.StatusNormalClosure, "bye")
	idle := rec.waitState(t, schema.StateIdle)
	require.Equal(t, schema.StatusDisconnected, idle.Status)
	waitDone(t, eng)

	require.Equal(t, 1, dialer.Dials())
	for _, update := range rec.drain(50 * time.Millisecond) {
		require.NotEqual(t, schema.StateReconnecting, update.State)
	}
	require.Equal(t, schema.StatusDisconnected, eng.Latest().Status)
}

func TestEngineAbnormalCloseReconnectsWithFreshBook(t *testing.T) {
	dialer := transporttest.NewDialer(0)
	first := dialer.Accept()
	second := dialer.Accept()
	eng, rec := newTestEngine(t, testConfig(), dialer, testEndpoint)
	eng.Start(context.Background())
	rec.waitState(t, schema.StateConnected)

	first.Push(bookFrame("update", `[["100","1"]]`, `[["101","1"]]`))
	rec.waitSnapshot(t, anySnapshot)

	first.Drop(transport.StatusAbnormalClosure, "")
	reconnecting := rec.waitState(t, schema.StateReconnecting)
	require.Equal(t, schema.StatusConnecting, reconnecting.Status)
	require.Equal(t, 1, reconnecting.Attempt)
	require.Equal(t, 20*time.Millisecond, reconnecting.NextDelay)

	connecting := rec.waitState(t, schema.StateConnecting)
	require.GreaterOrEqual(t, connecting.At.Sub(reconnecting.At), 15*time.Millisecond)
	connected := rec.waitState(t, schema.StateConnected)
	require.Zero(t, connected.Attempt)
	require.Equal(t, 2, dialer.Dials())
	require.Eventually(t, func() bool { return len(second.Writes()) == 1 }, waitTimeout, 5*time.Millisecond)

	second.Push(bookFrame("update", `[["90","1"]]`, `[]`))
	snap := rec.waitSnapshot(t, anySnapshot)
	require.Len(t, snap.Bids, 1)
	require.Equal(t, "90", snap.Bids[0].Price.String())
	require.Empty(t, snap.Asks)
}

func TestEngineDefaultBackoffStartsAtOneSecond(t *testing.T) {
	cfg := DefaultConfig(testInstrument)
	dialer := transporttest.NewDialer(0)
	conn := dialer.Accept()
	eng, rec := newTestEngine(t, cfg, dialer, testEndpoint)
	eng.Start(context.Background())
	rec.waitState(t, schema.StateConnected)

	conn.Drop(transport.StatusAbnormalClosure, "")
	reconnecting := rec.waitState(t, schema.StateReconnecting)
	require.Equal(t, time.Second, reconnecting.NextDelay)

	require.NoError(t, eng.Stop())
	idle := rec.waitState(t, schema.StateIdle)
	require.Equal(t, schema.StatusDisconnected, idle.Status)
	require.Equal(t, 1, dialer.Dials())
}

func TestEngineFailsAfterMaxAttempts(t *testing.T) {
	cfg := testConfig()
	cfg.Retry = supervisor.RetryPolicy{InitialDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, MaxAttempts: 5}
	dialer := transporttest.NewDialer(0)
	for range 6 {
		dialer.Refuse(nil)
	}
	eng, rec := newTestEngine(t, cfg, dialer, testEndpoint)
	eng.Start(context.Background())

	var delays []time.Duration
	failed := rec.waitFor(t, "failed", func(u schema.Update) bool {
		if u.State == schema.StateReconnecting {
			delays = append(delays, u.NextDelay)
		}
		return u.State == schema.StateFailed
	})
	require.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond, 4 * time.Millisecond, 4 * time.Millisecond}, delays)
	require.Equal(t, schema.StatusError, failed.Status)
	require.True(t, errs.HasCode(failed.Err, errs.CodeNetwork))
	require.ErrorIs(t, failed.Err, transporttest.ErrRefused)
	waitDone(t, eng)
	require.Equal(t, 6, dialer.Dials())
	require.Equal(t, schema.StatusError, eng.Latest().Status)

	require.NoError(t, eng.Stop())
	idle := rec.waitState(t, schema.StateIdle)
	require.Equal(t, schema.StatusDisconnected, idle.Status)
	require.NoError(t, idle.Err)
	latest := eng.Latest()
	require.Equal(t, schema.StateIdle, latest.State)
	require.Equal(t, schema.StatusDisconnected, latest.Status)
	require.Nil(t, latest.Snapshot)

	require.NoError(t, eng.Stop())
	require.Empty(t, rec.drain(20*time.Millisecond))
}

func TestEngineInvalidEndpointFailsImmediately(t *testing.T) {
	dialer := transporttest.NewDialer(0)
	eng, rec := newTestEngine(t, testConfig(), dialer, "https://www.okx.com")
	eng.Start(context.Background())

	failed := rec.waitState(t, schema.StateFailed)
	require.Equal(t, schema.StatusError, failed.Status)
	require.True(t, errs.HasCode(failed.Err, errs.CodeInvalid))
	waitDone(t, eng)
	require.Zero(t, dialer.Dials())
}

func TestEngineSubscribeFailureReconnects(t *testing.T) {
	dialer := transporttest.NewDialer(0)
	broken := dialer.Accept()
	broken.FailWrites(errors.New("broken pipe"))
	healthy := dialer.Accept()
	eng, rec := newTestEngine(t, testConfig(), dialer, testEndpoint)
	eng.Start(context.Background())

	rec.waitState(t, schema.StateConnected)
	reconnecting := rec.waitState(t, schema.StateReconnecting)
	require.Equal(t, 1, reconnecting.Attempt)
	require.Equal(t, transport.StatusInternalError, broken.ClosedWith())

	rec.waitState(t, schema.StateConnected)
	require.Eventually(t, func() bool { return len(healthy.Writes()) == 1 }, waitTimeout, 5*time.Millisecond)
}

func TestEngineHeartbeatFailuresAreNotFatal(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	dialer := transporttest.NewDialer(0)
	conn := dialer.Accept()
	eng, rec := newTestEngine(t, cfg, dialer, testEndpoint)
	eng.Start(context.Background())
	rec.waitState(t, schema.StateConnected)

	require.Eventually(t, func() bool { return len(conn.Writes()) >= 3 }, waitTimeout, 5*time.Millisecond)
	for _, frame := range conn.Writes()[1:] {
		require.JSONEq(t, `{"op":"ping"}`, string(frame))
	}

	conn.FailWrites(errors.New("write timeout"))
	for _, update := range rec.drain(60 * time.Millisecond) {
		require.Equal(t, schema.StateConnected, update.State)
	}
	require.Equal(t, schema.StatusConnected, eng.Latest().Status)
	require.Equal(t, 1, dialer.Dials())
}

func TestEngineStopTearsDownWithoutLeaks(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dialer := transporttest.NewDialer(0)
	conn := dialer.Accept()
	rec := newRecorder()
	eng, err := New(okx.New(shared.Options{Endpoint: testEndpoint}), rec, testConfig(), WithDialer(dialer))
	require.NoError(t, err)
	eng.Start(context.Background())
	rec.waitState(t, schema.StateConnected)

	conn.Push(bookFrame("update", `[["100","1"]]`, `[]`))
	rec.waitSnapshot(t, anySnapshot)
	conn.Push(bookFrame("update", `[["99","1"]]`, `[]`))

	require.NoError(t, eng.Stop())
	require.NoError(t, eng.Stop())
	require.Equal(t, transport.StatusNormalClosure, conn.ClosedWith())
	idle := rec.waitState(t, schema.StateIdle)
	require.Equal(t, schema.StatusDisconnected, idle.Status)

	// the connection is detached: late frames never reach a listener
	conn.Push(bookFrame("update", `[["98","1"]]`, `[]`))
	require.Empty(t, rec.drain(50*time.Millisecond))
}

func TestEngineStopDuringDial(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dialer := transporttest.NewDialer(0)
	rec := newRecorder()
	eng, err := New(okx.New(shared.Options{Endpoint: testEndpoint}), rec, testConfig(), WithDialer(dialer))
	require.NoError(t, err)
	eng.Start(context.Background())
	rec.waitState(t, schema.StateConnecting)

	require.NoError(t, eng.Stop())
	rec.waitState(t, schema.StateIdle)
}

func TestEngineContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dialer := transporttest.NewDialer(0)
	conn := dialer.Accept()
	eng, rec := newTestEngine(t, testConfig(), dialer, testEndpoint)
	eng.Start(ctx)
	rec.waitState(t, schema.StateConnected)

	cancel()
	rec.waitState(t, schema.StateIdle)
	waitDone(t, eng)
	require.Equal(t, transport.StatusNormalClosure, conn.ClosedWith())
}

func TestEngineOverWebsocket(t *testing.T) {
	subscribed := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = c.CloseNow() }()
		ctx := r.Context()
		_, msg, err := c.Read(ctx)
		if err != nil {
			return
		}
		subscribed <- string(msg)
		frame := bookFrame("snapshot", `[["100","1"],["99","2"]]`, `[["101","1"]]`)
		if err := c.Write(ctx, websocket.MessageText, frame); err != nil {
			return
		}
		for {
			if _, _, err := c.Read(ctx); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	rec := newRecorder()
	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http")
	eng, err := New(okx.New(shared.Options{Endpoint: endpoint}), rec, testConfig())
	require.NoError(t, err)
	eng.Start(context.Background())

	select {
	case msg := <-subscribed:
		require.Contains(t, msg, `"instId":"BTC-USDT"`)
	case <-time.After(waitTimeout):
		t.Fatal("server never received the subscription")
	}
	snap := rec.waitSnapshot(t, anySnapshot)
	require.Equal(t, "1", snap.Spread.String())
	require.Equal(t, "100.5", snap.MidPrice.String())

	require.NoError(t, eng.Stop())
	rec.waitState(t, schema.StateIdle)
}
