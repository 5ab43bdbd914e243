package bybit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/depthstream/errs"
	"github.com/coachpo/depthstream/internal/adapters/shared"
)

func TestSubscribeMessage(t *testing.T) {
	adapter := New(shared.Options{Endpoint: "wss://stream-testnet.bybit.com/v5/public/spot"})
	require.Equal(t, "wss://stream-testnet.bybit.com/v5/public/spot", adapter.Endpoint())

	msg, err := adapter.SubscribeMessage("BTCUSDT")
	require.NoError(t, err)
	require.JSONEq(t, `{"op":"subscribe","args":["orderbook.50.BTCUSDT"]}`, string(msg))

	ping, ok := adapter.HeartbeatMessage()
	require.True(t, ok)
	require.JSONEq(t, `{"op":"ping"}`, string(ping))
}

func TestNormalize(t *testing.T) {
	adapter := New(shared.Options{})

	delta, ok := adapter.Normalize([]byte(`{"topic":"orderbook.50.BTCUSDT","type":"delta","ts":1,"data":{"s":"BTCUSDT","b":[["100","1"]],"a":[["101","0"]],"u":2}}`))
	require.True(t, ok)
	require.False(t, delta.Replace)
	require.Equal(t, "100", delta.Bids[0].Price.String())
	require.True(t, delta.Asks[0].Size.IsZero())

	delta, ok = adapter.Normalize([]byte(`{"topic":"orderbook.50.BTCUSDT","type":"snapshot","data":{"b":[],"a":[["101","3"]]}}`))
	require.True(t, ok)
	require.True(t, delta.Replace)
	require.Len(t, delta.Asks, 1)
}

func TestNormalizeRejects(t *testing.T) {
	adapter := New(shared.Options{})
	for _, frame := range []string{
		`{"success":true,"ret_msg":"pong","op":"ping"}`,
		`{"success":true,"ret_msg":"","op":"subscribe"}`,
		`{"topic":"publicTrade.BTCUSDT","data":[{"p":"1"}]}`,
		`{"topic":"orderbook.50.BTCUSDT","data":[]}`,
		`{"topic":"orderbook.50.BTCUSDT","data":{"b":[],"a":[]}}`,
		`{"topic":"orderbook.50.BTCUSDT","data":{"b":[["1"]],"a":[]}}`,
	} {
		_, ok := adapter.Normalize([]byte(frame))
		require.False(t, ok, frame)
	}
}

func TestInstruments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "spot", r.URL.Query().Get("category"))
		_, _ = w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"category":"spot","list":[
			{"symbol":"BTCUSDT","baseCoin":"BTC","quoteCoin":"USDT","status":"Trading","priceFilter":{"tickSize":"0.01"},"lotSizeFilter":{"minOrderQty":"0.000048"}},
			{"symbol":"XYZUSDT","baseCoin":"XYZ","quoteCoin":"USDT","status":"PreLaunch","priceFilter":{"tickSize":"0.01"},"lotSizeFilter":{"minOrderQty":"1"}}]}}`))
	}))
	defer srv.Close()

	adapter := New(shared.Options{RESTBaseURL: srv.URL, RequestsPerSecond: 100})
	instruments, err := adapter.Instruments(context.Background())
	require.NoError(t, err)
	require.Len(t, instruments, 1)
	require.Equal(t, "BTCUSDT", instruments[0].ID)
	require.Equal(t, "0.000048", instruments[0].LotSize.String())
}

func TestInstrumentsRetCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"retCode":10001,"retMsg":"params error","result":{}}`))
	}))
	defer srv.Close()

	_, err := New(shared.Options{RESTBaseURL: srv.URL, RequestsPerSecond: 100}).Instruments(context.Background())
	require.True(t, errs.HasCode(err, errs.CodeExchange))
}
