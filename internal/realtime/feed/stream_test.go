package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis/exitengine/internal/realtime"
	"github.com/wonny/aegis/exitengine/internal/realtime/cache"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

func TestStreamClient_SubscribesAndUpdatesCache(t *testing.T) {
	subscribed := make(chan subscribeMessage, 4)

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var msg subscribeMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		subscribed <- msg

		for _, symbol := range msg.Symbols {
			conn.WriteJSON(realtime.StreamMessage{Type: "ticker", Symbol: symbol, Price: 50123.5, TS: time.Now().UnixMilli()})
		}
		// garbage frames are skipped
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))

		// hold the connection until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	priceCache := cache.NewPriceCache(time.Minute, nil, logger.Nop())
	client := NewStreamClient("ws"+strings.TrimPrefix(server.URL, "http"), priceCache, logger.Nop())
	client.SetSymbols([]string{"BTCUSDT"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	select {
	case msg := <-subscribed:
		assert.Equal(t, "subscribe", msg.Op)
		assert.Equal(t, []string{"BTCUSDT"}, msg.Symbols)
	case <-time.After(3 * time.Second):
		t.Fatal("no subscription received")
	}

	require.Eventually(t, func() bool {
		price, err := priceCache.GetPrice(context.Background(), "BTCUSDT")
		return err == nil && price == 50123.5
	}, 3*time.Second, 10*time.Millisecond)

	count, last := client.Received()
	assert.Equal(t, int64(1), count)
	assert.False(t, last.IsZero())
	assert.Equal(t, []string{"BTCUSDT"}, client.ActiveSymbols())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestStreamClient_HandleMessage(t *testing.T) {
	priceCache := cache.NewPriceCache(time.Minute, nil, logger.Nop())
	client := NewStreamClient("ws://unused", priceCache, logger.Nop())

	assert.Error(t, client.handleMessage([]byte(`{`)))
	assert.Error(t, client.handleMessage([]byte(`{"type":"ticker","symbol":"","price":1}`)))
	assert.NoError(t, client.handleMessage([]byte(`{"type":"subscribed"}`)))
	assert.NoError(t, client.handleMessage([]byte(`{"type":"error","error":"bad symbol"}`)))
	assert.NoError(t, client.handleMessage([]byte(`{"type":"ticker","symbol":"ETHUSDT","price":3001.25}`)))

	q, ok := priceCache.Get("ETHUSDT")
	require.True(t, ok)
	assert.Equal(t, 3001.25, q.Price)
	assert.Equal(t, string(realtime.SourceStream), q.Source)
}

func TestStreamClient_FutureTimestampIsCapped(t *testing.T) {
	priceCache := cache.NewPriceCache(time.Minute, nil, logger.Nop())
	client := NewStreamClient("ws://unused", priceCache, logger.Nop())

	ahead := time.Now().Add(time.Hour).UnixMilli()
	require.NoError(t, client.handleMessage([]byte(fmt.Sprintf(`{"type":"ticker","symbol":"BTCUSDT","price":50000,"ts":%d}`, ahead))))

	q, ok := priceCache.Get("BTCUSDT")
	require.True(t, ok)
	assert.False(t, q.Timestamp.After(time.Now()), "quote must not be stamped in the future")

	// a later REST quote still replaces the stream quote
	assert.True(t, priceCache.Update(realtime.Quote{
		Symbol: "BTCUSDT", Price: 50100, Timestamp: time.Now(), Source: string(realtime.SourcePrimary),
	}))
	price, err := priceCache.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 50100.0, price)
}

func TestStreamClient_SetSymbolsWithoutConnection(t *testing.T) {
	client := NewStreamClient("ws://unused", cache.NewPriceCache(time.Minute, nil, logger.Nop()), logger.Nop())
	client.SetSymbols([]string{"B", "A"})
	assert.Empty(t, client.ActiveSymbols(), "nothing is subscribed until connected")
}
