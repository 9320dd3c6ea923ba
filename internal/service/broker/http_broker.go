// Package broker places live market orders over the broker's REST API.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"GammaScalp/internal/domain/models"
	"GammaScalp/internal/service/ratelimit"
	xhttp "GammaScalp/pkg/http"
	"GammaScalp/pkg/logger"
)

var ErrRateLimited = errors.New("order rate limit exceeded")

// Config of the HTTP broker.
type Config struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	Attempts     int
	OrdersPerSec float64
	OrderBurst   float64
}

// Option configures the broker.
type Option func(*Config)

func WithTimeout(d time.Duration) Option { return func(c *Config) { c.Timeout = d } }

func WithAttempts(n int) Option { return func(c *Config) { c.Attempts = n } }

// WithOrderRate limits order submission to perSec with a burst.
func WithOrderRate(perSec, burst float64) Option {
	return func(c *Config) {
		c.OrdersPerSec = perSec
		c.OrderBurst = burst
	}
}

type orderRequest struct {
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol"`
	Qty           int    `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
}

type orderResponse struct {
	ID             string  `json:"id"`
	Status         string  `json:"status"`
	FilledQty      int     `json:"filled_qty"`
	FilledAvgPrice float64 `json:"filled_avg_price"`
}

// HTTPBroker submits market orders and returns the average fill price.
type HTTPBroker struct {
	cfg     Config
	client  *xhttp.Client
	limiter *ratelimit.Limiter
	lgr     *logger.Logger
}

// New builds a broker client for baseURL.
func New(baseURL, apiKey string, lgr *logger.Logger, opts ...Option) (*HTTPBroker, error) {
	cfg := Config{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		APIKey:       apiKey,
		Timeout:      5 * time.Second,
		Attempts:     1,
		OrdersPerSec: 5,
		OrderBurst:   5,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("broker: base url required")
	}
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &HTTPBroker{
		cfg:     cfg,
		client:  xhttp.NewClient(xhttp.WithTimeout(cfg.Timeout)),
		limiter: ratelimit.New(),
		lgr:     lgr.With(logger.String("component", "broker")),
	}, nil
}

func (b *HTTPBroker) Name() string { return "broker" }

// PlaceMarketOrder sends a day market order. A single client order id is
// reused across retries so the broker can dedupe them.
func (b *HTTPBroker) PlaceMarketOrder(ctx context.Context, symbol string, qty int, side models.Side) (float64, error) {
	if qty < 1 {
		return 0, fmt.Errorf("broker: invalid quantity %d", qty)
	}
	if !b.limiter.Allow("orders", b.cfg.OrderBurst, b.cfg.OrdersPerSec) {
		return 0, ErrRateLimited
	}

	req := orderRequest{
		ClientOrderID: uuid.NewString(),
		Symbol:        symbol,
		Qty:           qty,
		Side:          side.String(),
		Type:          "market",
		TimeInForce:   "day",
	}
	var resp orderResponse
	start := time.Now()
	err := b.client.SendAndParseWithRetry(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    b.cfg.BaseURL + "/orders",
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"Authorization": "Bearer " + b.cfg.APIKey,
		},
		Body: req,
	}, &resp, b.cfg.Attempts)
	if err != nil {
		return 0, fmt.Errorf("place order: %w", err)
	}
	if resp.FilledAvgPrice <= 0 {
		return 0, fmt.Errorf("order %s not filled (status %s)", resp.ID, resp.Status)
	}

	b.lgr.Info("order filled",
		logger.Symbol(symbol),
		logger.String("side", req.Side),
		logger.Int("qty", qty),
		logger.String("order_id", resp.ID),
		logger.Float64("price", resp.FilledAvgPrice),
		logger.Duration("latency", time.Since(start)))
	return resp.FilledAvgPrice, nil
}
