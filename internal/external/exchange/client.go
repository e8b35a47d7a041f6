package exchange

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/pkg/config"
	"github.com/wonny/aegis/exitengine/pkg/httputil"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

// Client handles communication with the exchange REST API
// ⭐ SSOT: 거래소 REST 호출은 이 클라이언트에서만
type Client struct {
	httpClient   *httputil.Client
	logger       *logger.Logger
	baseURL      string
	secondaryURL string
}

// NewClient creates a new exchange client.
// Retries are owned by callers (price chain, monitor), so the HTTP layer does not retry.
func NewClient(cfg config.ExchangeConfig, log *logger.Logger) *Client {
	httpClient := httputil.New(log, cfg.Timeout).
		DisableRetry().
		WithRateLimit(cfg.RateLimit)
	if cfg.APIKey != "" {
		httpClient.WithHeader("X-API-KEY", cfg.APIKey)
	}

	secondary := cfg.SecondaryURL
	if secondary == "" {
		secondary = cfg.BaseURL
	}

	return &Client{
		httpClient:   httpClient,
		logger:       log.Component("exchange"),
		baseURL:      cfg.BaseURL,
		secondaryURL: secondary,
	}
}

// tickerResponse GET /api/v1/ticker/price
type tickerResponse struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// bookResponse GET /api/v1/book/top
type bookResponse struct {
	Symbol string          `json:"symbol"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
}

// klineResponse GET /api/v1/klines
type klineResponse struct {
	OpenTime int64           `json:"open_time"` // unix millis
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
}

// orderRequest POST /api/v1/orders
type orderRequest struct {
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"` // BUY | SELL
	Type          string          `json:"type"` // MARKET
	Quantity      decimal.Decimal `json:"quantity"`
	ReduceOnly    bool            `json:"reduce_only"`
}

// orderResponse 주문 응답
type orderResponse struct {
	OrderID  string          `json:"order_id"`
	Status   string          `json:"status"`
	AvgPrice decimal.Decimal `json:"avg_price"`
	FilledAt int64           `json:"filled_at"`
	Message  string          `json:"message"`
}

// LastPrice returns the last traded price (primary quote method)
func (c *Client) LastPrice(ctx context.Context, symbol string) (float64, error) {
	var resp tickerResponse
	endpoint := fmt.Sprintf("%s/api/v1/ticker/price?symbol=%s", c.baseURL, url.QueryEscape(symbol))
	if err := c.httpClient.GetJSON(ctx, endpoint, &resp); err != nil {
		return 0, fmt.Errorf("%w: ticker %s: %v", contracts.ErrPriceUnavailable, symbol, err)
	}
	if !resp.Price.IsPositive() {
		return 0, fmt.Errorf("%w: ticker %s returned %s", contracts.ErrPriceUnavailable, symbol, resp.Price)
	}
	return resp.Price.InexactFloat64(), nil
}

// MidPrice returns the top-of-book mid price (secondary quote method)
func (c *Client) MidPrice(ctx context.Context, symbol string) (float64, error) {
	var resp bookResponse
	endpoint := fmt.Sprintf("%s/api/v1/book/top?symbol=%s", c.secondaryURL, url.QueryEscape(symbol))
	if err := c.httpClient.GetJSON(ctx, endpoint, &resp); err != nil {
		return 0, fmt.Errorf("%w: book %s: %v", contracts.ErrPriceUnavailable, symbol, err)
	}
	if !resp.Bid.IsPositive() || !resp.Ask.IsPositive() || resp.Ask.LessThan(resp.Bid) {
		return 0, fmt.Errorf("%w: book %s crossed or empty (bid %s ask %s)", contracts.ErrPriceUnavailable, symbol, resp.Bid, resp.Ask)
	}
	return resp.Bid.Add(resp.Ask).Div(decimal.NewFromInt(2)).InexactFloat64(), nil
}

// RecentCandles implements contracts.CandleProvider over hourly klines
func (c *Client) RecentCandles(ctx context.Context, symbol string, limit int) ([]contracts.Candle, error) {
	var resp []klineResponse
	endpoint := fmt.Sprintf("%s/api/v1/klines?symbol=%s&interval=1h&limit=%s",
		c.baseURL, url.QueryEscape(symbol), strconv.Itoa(limit))
	if err := c.httpClient.GetJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("klines %s: %w", symbol, err)
	}

	candles := make([]contracts.Candle, 0, len(resp))
	for _, k := range resp {
		candles = append(candles, contracts.Candle{
			OpenTime: time.UnixMilli(k.OpenTime).UTC(),
			Open:     k.Open.InexactFloat64(),
			High:     k.High.InexactFloat64(),
			Low:      k.Low.InexactFloat64(),
			Close:    k.Close.InexactFloat64(),
		})
	}
	return candles, nil
}

// CloseAtMarket implements contracts.OrderExecutor with a reduce-only market order.
// The client order id is derived from the position so a resubmitted close is
// deduplicated by the exchange.
func (c *Client) CloseAtMarket(ctx context.Context, req contracts.CloseRequest) (*contracts.Fill, error) {
	side := "SELL"
	if req.Side == contracts.SideShort {
		side = "BUY"
	}

	body := orderRequest{
		ClientOrderID: req.PositionID + "-close",
		Symbol:        req.Symbol,
		Side:          side,
		Type:          "MARKET",
		Quantity:      decimal.NewFromFloat(req.Quantity),
		ReduceOnly:    true,
	}

	var resp orderResponse
	if err := c.httpClient.PostJSONInto(ctx, c.baseURL+"/api/v1/orders", body, &resp); err != nil {
		return nil, fmt.Errorf("%w: close %s: %v", contracts.ErrExecution, req.PositionID, err)
	}

	if resp.Status != "FILLED" || !resp.AvgPrice.IsPositive() {
		return nil, fmt.Errorf("%w: close %s status %s: %s", contracts.ErrExecution, req.PositionID, resp.Status, resp.Message)
	}

	filledAt := time.Now()
	if resp.FilledAt > 0 {
		filledAt = time.UnixMilli(resp.FilledAt)
	}

	c.logger.WithFields(map[string]interface{}{
		"position_id": req.PositionID,
		"symbol":      req.Symbol,
		"order_id":    resp.OrderID,
		"avg_price":   resp.AvgPrice.String(),
		"reason":      string(req.Reason),
	}).Info("Market close filled")

	return &contracts.Fill{
		OrderID:  resp.OrderID,
		Price:    resp.AvgPrice.InexactFloat64(),
		FilledAt: filledAt,
	}, nil
}

// PrimarySource exposes LastPrice as a contracts.PriceSource
func (c *Client) PrimarySource() contracts.PriceSource {
	return &source{name: "primary", fetch: c.LastPrice}
}

// SecondarySource exposes MidPrice as a contracts.PriceSource
func (c *Client) SecondarySource() contracts.PriceSource {
	return &source{name: "secondary", fetch: c.MidPrice}
}

type source struct {
	name  string
	fetch func(ctx context.Context, symbol string) (float64, error)
}

func (s *source) Name() string { return s.name }

func (s *source) GetPrice(ctx context.Context, symbol string) (float64, error) {
	return s.fetch(ctx, symbol)
}
