package forecast

import (
	"context"
	"fmt"
	"time"

	"TickRelay/internal/domain/models"
	xhttp "TickRelay/pkg/http"
	applogger "TickRelay/pkg/logger"
)

// minHistory is the fewest closing prices the model accepts.
const minHistory = 30

var validHorizons = map[int]bool{1: true, 7: true, 30: true}

// Client calls the forecasting sidecar. The sidecar is optional
// infrastructure: callers treat every error as "no forecast available".
type Client struct {
	baseURL string
	client  *xhttp.Client
	log     *applogger.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *xhttp.Client) Option {
	return func(f *Client) { f.client = c }
}

// NewClient creates a forecast client against baseURL.
func NewClient(baseURL string, log *applogger.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		client:  xhttp.NewClient(xhttp.WithTimeout(30 * time.Second)),
		log:     log.With("forecast"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type predictRequest struct {
	Symbol  string    `json:"symbol"`
	Prices  []float64 `json:"prices"`
	Horizon int       `json:"horizon"`
}

// Predict requests a direction forecast for symbol from its recent
// closing prices. Horizon is in days and must be 1, 7 or 30.
func (c *Client) Predict(ctx context.Context, symbol string, prices []float64, horizon int) (*models.Prediction, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	if !validHorizons[horizon] {
		return nil, fmt.Errorf("unsupported horizon %d", horizon)
	}
	if len(prices) < minHistory {
		return nil, fmt.Errorf("need at least %d prices, have %d", minHistory, len(prices))
	}

	var p models.Prediction
	err := c.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    c.baseURL + "/predict",
		Body: predictRequest{
			Symbol:  symbol,
			Prices:  prices,
			Horizon: horizon,
		},
	}, &p)
	if err != nil {
		return nil, fmt.Errorf("predict %s: %w", symbol, err)
	}
	p.Symbol = symbol
	p.Horizon = horizon
	return &p, nil
}
