package history

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"TickRelay/internal/domain/models"
	drepo "TickRelay/internal/domain/repository"
	"TickRelay/pkg/cache"
	xhttp "TickRelay/pkg/http"
	applogger "TickRelay/pkg/logger"
)

// Provider fetches historical candles from the exchange REST API to
// backfill pages the in-memory window cannot cover. Responses are
// cached; the provider sits off the live path and is always
// best-effort.
type Provider struct {
	baseURL  string
	client   *xhttp.Client
	cache    cache.Service
	cacheTTL time.Duration
	log      *applogger.Logger
}

// ProviderOption configures the Provider.
type ProviderOption func(*Provider)

// WithCache enables response caching with the given TTL.
func WithCache(c cache.Service, ttl time.Duration) ProviderOption {
	return func(p *Provider) {
		p.cache = c
		p.cacheTTL = ttl
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *xhttp.Client) ProviderOption {
	return func(p *Provider) { p.client = c }
}

// NewProvider creates a candle source against baseURL.
func NewProvider(baseURL string, log *applogger.Logger, opts ...ProviderOption) *Provider {
	p := &Provider{
		baseURL: baseURL,
		client:  xhttp.NewClient(xhttp.WithTimeout(10 * time.Second)),
		log:     log.With("history"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// candlesResponse is the exchange REST shape: rows of string columns
// [ts, open, high, low, close, volume, ...], newest first.
type candlesResponse struct {
	Code string     `json:"code"`
	Msg  string     `json:"msg"`
	Data [][]string `json:"data"`
}

// Candles returns up to limit bars for (symbol, interval), oldest
// first.
func (p *Provider) Candles(ctx context.Context, symbol string, interval drepo.Interval, limit int) ([]models.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	key := cache.Key("candles", symbol, string(interval), limit)

	if p.cache != nil {
		var cached []models.Candle
		if err := p.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		}
	}

	var resp candlesResponse
	err := p.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    p.baseURL + "/api/v5/market/candles",
		QueryParams: map[string][]string{
			"instId": {symbol},
			"bar":    {string(interval)},
			"limit":  {strconv.Itoa(limit)},
		},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("fetch candles: %w", err)
	}
	if resp.Code != "0" {
		return nil, fmt.Errorf("provider error %s: %s", resp.Code, resp.Msg)
	}

	out := make([]models.Candle, 0, len(resp.Data))
	for _, row := range resp.Data {
		c, err := parseRow(row)
		if err != nil {
			p.log.Warn("dropping malformed candle row",
				applogger.String("symbol", symbol),
				applogger.Error(err),
			)
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart < out[j].BucketStart })

	if p.cache != nil && len(out) > 0 {
		if err := p.cache.Set(ctx, key, out, p.cacheTTL); err != nil {
			p.log.Warn("cache write failed", applogger.Error(err))
		}
	}
	return out, nil
}

func parseRow(row []string) (models.Candle, error) {
	if len(row) < 6 {
		return models.Candle{}, fmt.Errorf("row has %d columns", len(row))
	}
	ts, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("ts: %w", err)
	}
	vals := make([]float64, 5)
	for i := 0; i < 5; i++ {
		v, err := strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return models.Candle{}, fmt.Errorf("column %d: %w", i+1, err)
		}
		vals[i] = v
	}
	return models.Candle{
		BucketStart: ts,
		Open:        vals[0],
		High:        vals[1],
		Low:         vals[2],
		Close:       vals[3],
		Volume:      vals[4],
	}, nil
}
