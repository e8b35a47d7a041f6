package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/pkg/config"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(config.ExchangeConfig{
		BaseURL:   server.URL,
		APIKey:    "key-1",
		Timeout:   time.Second,
		RateLimit: 100,
	}, logger.Nop())
}

func TestClient_LastPrice(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/ticker/price", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "key-1", r.Header.Get("X-API-KEY"))
		w.Write([]byte(`{"symbol":"BTCUSDT","price":"50900.10"}`))
	})

	price, err := client.PrimarySource().GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 50900.10, price)
}

func TestClient_LastPriceUnavailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.LastPrice(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, contracts.ErrPriceUnavailable)
}

func TestClient_MidPrice(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/book/top", r.URL.Path)
		switch r.URL.Query().Get("symbol") {
		case "BTCUSDT":
			w.Write([]byte(`{"symbol":"BTCUSDT","bid":50000,"ask":50002}`))
		default:
			w.Write([]byte(`{"symbol":"X","bid":"10","ask":"9"}`))
		}
	})

	source := client.SecondarySource()
	assert.Equal(t, "secondary", source.Name())

	price, err := source.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 50001.0, price)

	_, err = source.GetPrice(context.Background(), "X")
	assert.ErrorIs(t, err, contracts.ErrPriceUnavailable, "crossed book")
}

func TestClient_RecentCandles(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "15", r.URL.Query().Get("limit"))
		w.Write([]byte(`[
			{"open_time":1767225600000,"open":"100","high":"104","low":"99","close":"103"},
			{"open_time":1767229200000,"open":"103","high":"105","low":"101","close":"102"}
		]`))
	})

	candles, err := client.RecentCandles(context.Background(), "ETHUSDT", 15)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 104.0, candles[0].High)
	assert.True(t, candles[1].OpenTime.After(candles[0].OpenTime))
}

func TestClient_CloseAtMarket(t *testing.T) {
	var got orderRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"order_id":"o-1","status":"FILLED","avg_price":"49100.5","filled_at":1767225600000}`))
	})

	fill, err := client.CloseAtMarket(context.Background(), contracts.CloseRequest{
		PositionID: "pos-9",
		Symbol:     "BTCUSDT",
		Side:       contracts.SideShort,
		Quantity:   0.02,
		Reason:     contracts.ExitReasonPrimaryTarget,
	})
	require.NoError(t, err)
	assert.Equal(t, "o-1", fill.OrderID)
	assert.Equal(t, 49100.5, fill.Price)

	assert.Equal(t, "BUY", got.Side, "closing a SHORT buys back")
	assert.Equal(t, "pos-9-close", got.ClientOrderID)
	assert.True(t, got.ReduceOnly)
	assert.Equal(t, "0.02", got.Quantity.String())
}

func TestClient_CloseAtMarketRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"REJECTED","message":"reduce only violated"}`))
	})

	_, err := client.CloseAtMarket(context.Background(), contracts.CloseRequest{PositionID: "p", Symbol: "BTCUSDT", Side: contracts.SideLong, Quantity: 1})
	assert.ErrorIs(t, err, contracts.ErrExecution)
}
