package models

import "time"

// Ticker is one normalized price update for a single instrument,
// produced from a raw upstream frame. Immutable after creation.
type Ticker struct {
	Symbol    string
	Price     float64
	Open24h   float64
	High24h   float64
	Low24h    float64
	Volume24h float64 // cumulative 24h volume as reported upstream
	BestBid   float64
	BestAsk   float64
	Timestamp int64 // unix milliseconds
}

// Candle is an OHLCV summary for one (symbol, interval, bucket).
// BucketStart is aligned to the interval boundary. A candle is mutated
// only while its bucket is current; once the bucket advances it is frozen.
type Candle struct {
	BucketStart int64   `json:"bucketStart"` // unix ms, floor(ts/intervalMs)*intervalMs
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
}

// TickerUpdate is an enriched ticker as delivered to subscribers.
type TickerUpdate struct {
	Symbol       string  `json:"symbol"`
	Price        float64 `json:"price"`
	Change24h    float64 `json:"change24h"`
	ChangePct24h float64 `json:"changePct24h"`
	High24h      float64 `json:"high24h"`
	Low24h       float64 `json:"low24h"`
	Volume24h    float64 `json:"volume24h"`
	BestBid      float64 `json:"bestBid"`
	BestAsk      float64 `json:"bestAsk"`
	MarketCap    float64 `json:"marketCap,omitempty"`
	Timestamp    int64   `json:"timestamp"`
	Time         string  `json:"time"` // RFC3339, human-readable
}

// TradeSide is the estimated direction of an abnormal volume event.
// It is a heuristic derived from price movement; the upstream feed
// carries no per-trade side information.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// AnomalyEvent is a detected abnormal-volume ("whale") occurrence.
// Events are append-only and never mutated after creation.
type AnomalyEvent struct {
	Symbol     string    `json:"symbol"`
	Side       TradeSide `json:"estimatedSide"`
	Delta      float64   `json:"delta"`
	Price      float64   `json:"price"`
	USDValue   float64   `json:"usdValue"`
	Multiplier float64   `json:"multiplier"` // delta / rolling average delta
	Timestamp  int64     `json:"timestamp"`
}

// Prediction is a price forecast returned by the forecast sidecar.
type Prediction struct {
	Symbol          string    `json:"symbol"`
	Direction       string    `json:"direction"` // "up", "down", "neutral"
	Confidence      float64   `json:"confidence"`
	PredictedChange float64   `json:"predicted_change"`
	PredictedPrice  float64   `json:"predicted_price"`
	Forecast        []float64 `json:"forecast"`
	Horizon         int       `json:"horizon"`
	ModelVersion    string    `json:"model_version"`
}

// FormatTime renders a unix-ms timestamp as RFC3339 in UTC.
func FormatTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
