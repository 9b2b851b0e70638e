package repository

import (
	"context"

	"TickRelay/internal/domain/models"
)

// TickerHandler consumes normalized ticker events from the upstream feed.
type TickerHandler func(t *models.Ticker)

// MarketStream is the single outbound connection to the exchange tick
// stream. Implementations own reconnection; the requested subscription
// set survives reconnects without caller intervention.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, symbols []string) error
	OnTicker(h TickerHandler)
	Close() error
	IsConnected() bool
}

// HistorySink receives (symbol, price, volume) points consumed by the
// downstream insight-generation module. Sink failures must never
// interrupt the relay's own state updates.
type HistorySink interface {
	Record(ctx context.Context, symbol string, price, volume float64, ts int64) error
	Close() error
}

// CandleSource serves historical candles used only to backfill gaps when
// the in-memory series is shorter than a requested page. Consulted off
// the live path, never blocking it.
type CandleSource interface {
	Candles(ctx context.Context, symbol string, interval Interval, limit int) ([]models.Candle, error)
}

// Metrics records operational counters for the relay.
type Metrics interface {
	RecordTickReceived(symbol string)
	RecordBatchBroadcast(size int)
	RecordAnomaly(symbol string)
	RecordReconnect()
	RecordSubscribers(n int)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
}
