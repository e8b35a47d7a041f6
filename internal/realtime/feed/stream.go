package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wonny/aegis/exitengine/internal/realtime"
	"github.com/wonny/aegis/exitengine/internal/realtime/cache"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

const (
	// MaxStreamSymbols is the maximum number of symbols subscribed on one connection
	MaxStreamSymbols = 100

	// Reconnect settings
	reconnectDelay    = 1 * time.Second
	maxReconnectDelay = 1 * time.Minute

	// Ping/Pong settings
	pingInterval = 20 * time.Second
	pongWait     = 45 * time.Second
	writeWait    = 10 * time.Second
)

// subscribeMessage 구독/해지 요청
type subscribeMessage struct {
	Op      string   `json:"op"` // "subscribe" | "unsubscribe"
	Symbols []string `json:"symbols"`
}

// StreamClient keeps the quote cache warm from the exchange ticker stream
// ⭐ SSOT: 웹소켓 연결 및 구독 심볼 관리는 이 클라이언트에서만
type StreamClient struct {
	url    string
	logger *logger.Logger
	cache  *cache.PriceCache

	conn    *websocket.Conn
	connMu  sync.RWMutex
	writeMu sync.Mutex

	wanted        map[string]bool
	activeSymbols map[string]bool
	symbolsMu     sync.Mutex

	received int64
	statsMu  sync.Mutex
	lastMsg  time.Time
}

// NewStreamClient creates a new stream client
func NewStreamClient(url string, priceCache *cache.PriceCache, log *logger.Logger) *StreamClient {
	return &StreamClient{
		url:           url,
		logger:        log.Component("stream"),
		cache:         priceCache,
		wanted:        make(map[string]bool),
		activeSymbols: make(map[string]bool),
	}
}

// Run connects and reads until ctx is cancelled, reconnecting with backoff
func (c *StreamClient) Run(ctx context.Context) error {
	c.logger.WithField("url", c.url).Info("Starting stream client")

	delay := reconnectDelay
	for {
		err := c.connect(ctx)
		if err == nil {
			delay = reconnectDelay
			c.connMu.RLock()
			go c.pingLoop(ctx, c.conn)
			c.connMu.RUnlock()
			err = c.readLoop(ctx)
		}

		c.closeConn()
		if ctx.Err() != nil {
			c.logger.Info("Stream client stopped")
			return nil
		}

		c.logger.WithError(err).WithField("delay", delay).Warn("Stream disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		// Exponential backoff
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// SetSymbols replaces the wanted symbol set and rebalances subscriptions
func (c *StreamClient) SetSymbols(symbols []string) {
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)
	if len(sorted) > MaxStreamSymbols {
		c.logger.WithField("dropped", len(sorted)-MaxStreamSymbols).Warn("Too many stream symbols")
		sorted = sorted[:MaxStreamSymbols]
	}

	c.symbolsMu.Lock()
	c.wanted = make(map[string]bool, len(sorted))
	for _, s := range sorted {
		c.wanted[s] = true
	}
	c.symbolsMu.Unlock()

	c.rebalanceSymbols()
}

// ActiveSymbols returns the currently subscribed symbols
func (c *StreamClient) ActiveSymbols() []string {
	c.symbolsMu.Lock()
	defer c.symbolsMu.Unlock()

	out := make([]string, 0, len(c.activeSymbols))
	for s := range c.activeSymbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Received returns the number of ticker frames applied and the time of the last one
func (c *StreamClient) Received() (int64, time.Time) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.received, c.lastMsg
}

// connect establishes the WebSocket connection and resubscribes
func (c *StreamClient) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	// a fresh connection has no subscriptions
	c.symbolsMu.Lock()
	c.activeSymbols = make(map[string]bool)
	c.symbolsMu.Unlock()

	c.logger.Info("Connected to stream")
	c.rebalanceSymbols()
	return nil
}

func (c *StreamClient) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// readLoop reads messages until the connection fails or ctx ends
func (c *StreamClient) readLoop(ctx context.Context) error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()

	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read failed: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		if err := c.handleMessage(message); err != nil {
			c.logger.WithError(err).Debug("Failed to handle message")
		}
	}
}

// handleMessage applies a ticker frame to the quote cache
func (c *StreamClient) handleMessage(message []byte) error {
	var msg realtime.StreamMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return fmt.Errorf("unmarshal message: %w", err)
	}

	switch msg.Type {
	case "ticker", "":
	case "error":
		c.logger.WithField("error", msg.Error).Warn("Stream error frame")
		return nil
	default:
		return nil
	}

	if msg.Symbol == "" || msg.Price <= 0 {
		return fmt.Errorf("invalid ticker frame: %s", message)
	}

	now := time.Now()
	if c.cache.Update(realtime.Quote{
		Symbol:    msg.Symbol,
		Price:     msg.Price,
		Timestamp: msg.Time(now),
		Source:    string(realtime.SourceStream),
	}) {
		c.statsMu.Lock()
		c.received++
		c.lastMsg = now
		c.statsMu.Unlock()
	}
	return nil
}

// pingLoop sends periodic pings to keep conn alive; it ends with conn
func (c *StreamClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				c.logger.WithError(err).Debug("Failed to send ping")
				return
			}
		}
	}
}

// rebalanceSymbols diffs wanted against active and (un)subscribes the difference
func (c *StreamClient) rebalanceSymbols() {
	c.symbolsMu.Lock()
	var toAdd, toRemove []string
	for s := range c.wanted {
		if !c.activeSymbols[s] {
			toAdd = append(toAdd, s)
		}
	}
	for s := range c.activeSymbols {
		if !c.wanted[s] {
			toRemove = append(toRemove, s)
		}
	}
	c.symbolsMu.Unlock()

	sort.Strings(toAdd)
	sort.Strings(toRemove)

	if len(toRemove) > 0 && c.send(subscribeMessage{Op: "unsubscribe", Symbols: toRemove}) {
		c.markActive(toRemove, false)
	}
	if len(toAdd) > 0 && c.send(subscribeMessage{Op: "subscribe", Symbols: toAdd}) {
		c.markActive(toAdd, true)
	}

	if len(toAdd) > 0 || len(toRemove) > 0 {
		c.logger.WithFields(map[string]interface{}{
			"added":   len(toAdd),
			"removed": len(toRemove),
		}).Info("Rebalanced stream symbols")
	}
}

func (c *StreamClient) markActive(symbols []string, active bool) {
	c.symbolsMu.Lock()
	defer c.symbolsMu.Unlock()
	for _, s := range symbols {
		if active {
			c.activeSymbols[s] = true
		} else {
			delete(c.activeSymbols, s)
		}
	}
}

func (c *StreamClient) send(msg subscribeMessage) bool {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		c.logger.WithError(err).WithField("op", msg.Op).Warn("Failed to write subscription")
		return false
	}
	return true
}
