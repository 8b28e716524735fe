package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/equityrun/internal/config"
	"github.com/sawpanic/equityrun/internal/domain"
	"github.com/sawpanic/equityrun/internal/net/ratelimit"
	"github.com/sawpanic/equityrun/internal/net/retry"
)

const venueAlpaca = "alpaca"

// Client talks to an Alpaca-compatible REST API. Every call is rate
// limited, wrapped in a circuit breaker, and retried with bounded backoff;
// a request that exhausts its retries surfaces as a transient error the
// tick loop skips over.
type Client struct {
	cfg     config.BrokerConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *ratelimit.Limiter
	retry   retry.Policy
}

// NewClient creates a REST broker client from configuration.
func NewClient(cfg config.BrokerConfig) *Client {
	settings := gobreaker.Settings{
		Name:    venueAlpaca,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("venue", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("broker circuit breaker state change")
		},
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: ratelimit.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		retry: retry.Policy{
			MaxAttempts: cfg.MaxRetries,
			Backoff:     cfg.RetryBackoff,
			MaxBackoff:  5 * time.Second,
		},
	}
}

type orderPayload struct {
	Symbol      string `json:"symbol"`
	Notional    string `json:"notional,omitempty"`
	Qty         string `json:"qty,omitempty"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	TimeInForce string `json:"time_in_force"`
}

type orderResponse struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	FilledAvgPrice string `json:"filled_avg_price"`
	FilledQty      string `json:"filled_qty"`
}

func (c *Client) SubmitOrder(ctx context.Context, req OrderRequest) (Fill, error) {
	payload := orderPayload{
		Symbol:      req.Symbol,
		Side:        sideParam(req.Side),
		Type:        "market",
		TimeInForce: c.cfg.TimeInForce,
	}
	if req.Quantity > 0 {
		payload.Qty = decimal.NewFromFloat(req.Quantity).String()
	} else {
		// Notional orders are priced in cents.
		payload.Notional = decimal.NewFromFloat(req.NotionalUSD).Round(2).String()
	}

	var resp orderResponse
	if err := c.do(ctx, "submit_order", http.MethodPost, "/v2/orders", payload, &resp); err != nil {
		return Fill{}, err
	}
	if resp.Status == "rejected" || resp.Status == "canceled" {
		return Fill{}, fmt.Errorf("%w: %s order for %s (%s)", ErrOrderRejected, req.Side, req.Symbol, resp.Status)
	}

	// Market orders fill near-instantly on paper venues; poll briefly for
	// the fill before giving up on this tick's action.
	for attempt := 0; resp.FilledAvgPrice == "" && attempt < 5; attempt++ {
		select {
		case <-ctx.Done():
			return Fill{}, ctx.Err()
		case <-time.After(300 * time.Millisecond):
		}
		if err := c.do(ctx, "poll_order", http.MethodGet, "/v2/orders/"+resp.ID, nil, &resp); err != nil {
			return Fill{}, err
		}
	}
	if resp.FilledAvgPrice == "" {
		return Fill{}, fmt.Errorf("order %s not filled in time", resp.ID)
	}

	price, err := parseFloat(resp.FilledAvgPrice)
	if err != nil {
		return Fill{}, fmt.Errorf("order %s: bad fill price: %w", resp.ID, err)
	}
	qty, err := parseFloat(resp.FilledQty)
	if err != nil {
		return Fill{}, fmt.Errorf("order %s: bad fill qty: %w", resp.ID, err)
	}

	return Fill{
		OrderID:     resp.ID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Price:       price,
		Quantity:    qty,
		NotionalUSD: price * qty,
		FilledAt:    time.Now().UTC(),
		Partial:     resp.Status == "partially_filled",
	}, nil
}

type positionResponse struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	AvgEntryPrice string `json:"avg_entry_price"`
	CurrentPrice  string `json:"current_price"`
	MarketValue   string `json:"market_value"`
}

func (c *Client) OpenPositions(ctx context.Context) ([]domain.Holding, error) {
	var resp []positionResponse
	if err := c.do(ctx, "open_positions", http.MethodGet, "/v2/positions", nil, &resp); err != nil {
		return nil, err
	}

	holdings := make([]domain.Holding, 0, len(resp))
	for _, p := range resp {
		qty, err := parseFloat(p.Qty)
		if err != nil {
			log.Warn().Str("symbol", p.Symbol).Str("qty", p.Qty).Msg("dropping position with bad quantity")
			continue
		}
		avg, err := parseFloat(p.AvgEntryPrice)
		if err != nil {
			log.Warn().Str("symbol", p.Symbol).Str("avg_entry_price", p.AvgEntryPrice).Msg("dropping position with bad avg cost")
			continue
		}
		h := domain.Holding{Symbol: p.Symbol, Quantity: qty, AvgCost: avg}
		if v, err := parseFloat(p.CurrentPrice); err == nil {
			h.CurrentPrice = v
		}
		if v, err := parseFloat(p.MarketValue); err == nil {
			h.MarketValue = v
		}
		holdings = append(holdings, h)
	}
	return holdings, nil
}

type latestTradeResponse struct {
	Trade struct {
		Price float64 `json:"p"`
	} `json:"trade"`
}

func (c *Client) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	var resp latestTradeResponse
	if err := c.do(ctx, "latest_price", http.MethodGet, "/v2/stocks/"+symbol+"/trades/latest", nil, &resp); err != nil {
		return 0, err
	}
	if resp.Trade.Price <= 0 {
		return 0, fmt.Errorf("no trade price for %s", symbol)
	}
	return resp.Trade.Price, nil
}

type accountResponse struct {
	Equity string `json:"equity"`
	Cash   string `json:"cash"`
}

func (c *Client) GetAccount(ctx context.Context) (Account, error) {
	var resp accountResponse
	if err := c.do(ctx, "account", http.MethodGet, "/v2/account", nil, &resp); err != nil {
		return Account{}, err
	}
	equity, err := parseFloat(resp.Equity)
	if err != nil {
		return Account{}, fmt.Errorf("bad account equity: %w", err)
	}
	cash, err := parseFloat(resp.Cash)
	if err != nil {
		return Account{}, fmt.Errorf("bad account cash: %w", err)
	}
	return Account{EquityUSD: equity, CashUSD: cash}, nil
}

// do runs one API call through the limiter, breaker and retry policy.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	return c.retry.Do(ctx, op, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx, venueAlpaca); err != nil {
			return err
		}
		_, err := c.breaker.Execute(func() (any, error) {
			return nil, c.roundTrip(ctx, method, path, body, out)
		})
		return err
	})
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return retry.Permanent(err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.cfg.APIKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.cfg.APISecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	case resp.StatusCode >= 400:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return retry.Permanent(fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, b))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return retry.Permanent(fmt.Errorf("%s %s: decode: %w", method, path, err))
	}
	return nil
}

func sideParam(s domain.Side) string {
	if s == domain.SideSell {
		return "sell"
	}
	return "buy"
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty numeric field")
	}
	return strconv.ParseFloat(s, 64)
}
