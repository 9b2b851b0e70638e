package candles

import (
	"sync"

	"TickRelay/internal/domain/models"
	drepo "TickRelay/internal/domain/repository"
)

// series holds the bounded closed-candle history plus the one mutable
// in-progress candle for a single (symbol, interval) pair.
type series struct {
	closed  []models.Candle
	current *models.Candle
}

// Aggregator derives OHLCV candles from ticker events. It is keyed by
// (symbol, interval): every configured interval is aggregated
// independently. Closed candles are append-only and never revised.
type Aggregator struct {
	mu        sync.RWMutex
	intervals []drepo.Interval
	capacity  int
	data      map[string]map[drepo.Interval]*series
	lastPrice map[string]float64
	lastVol   map[string]float64
}

// New creates an aggregator for the given intervals with a bounded
// per-series history of capacity closed candles.
func New(intervals []drepo.Interval, capacity int) *Aggregator {
	if capacity <= 0 {
		capacity = 500
	}
	if len(intervals) == 0 {
		intervals = []drepo.Interval{drepo.DefaultInterval()}
	}
	return &Aggregator{
		intervals: intervals,
		capacity:  capacity,
		data:      make(map[string]map[drepo.Interval]*series),
		lastPrice: make(map[string]float64),
		lastVol:   make(map[string]float64),
	}
}

// Ingest updates every interval series for the ticker's symbol.
// Out-of-order ticks (bucket older than the current one) are dropped;
// the upstream feed is assumed ordered per symbol.
func (a *Aggregator) Ingest(t *models.Ticker) {
	if t == nil || t.Symbol == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.lastPrice[t.Symbol] = t.Price

	// per-tick traded volume approximated from the cumulative 24h figure;
	// the rolling window can shrink it, so clamp at zero
	var volDelta float64
	if prev, ok := a.lastVol[t.Symbol]; ok && t.Volume24h > prev {
		volDelta = t.Volume24h - prev
	}
	a.lastVol[t.Symbol] = t.Volume24h

	bySymbol, ok := a.data[t.Symbol]
	if !ok {
		bySymbol = make(map[drepo.Interval]*series, len(a.intervals))
		a.data[t.Symbol] = bySymbol
	}

	for _, iv := range a.intervals {
		s, ok := bySymbol[iv]
		if !ok {
			s = &series{}
			bySymbol[iv] = s
		}
		a.apply(s, iv, t, volDelta)
	}
}

func (a *Aggregator) apply(s *series, iv drepo.Interval, t *models.Ticker, volDelta float64) {
	bucket := iv.BucketStart(t.Timestamp)

	if s.current == nil {
		s.current = &models.Candle{
			BucketStart: bucket,
			Open:        t.Price,
			High:        t.Price,
			Low:         t.Price,
			Close:       t.Price,
			Volume:      volDelta,
		}
		return
	}

	switch {
	case bucket == s.current.BucketStart:
		if t.Price > s.current.High {
			s.current.High = t.Price
		}
		if t.Price < s.current.Low {
			s.current.Low = t.Price
		}
		s.current.Close = t.Price
		s.current.Volume += volDelta
	case bucket > s.current.BucketStart:
		// freeze the previous candle and open a new one
		s.closed = append(s.closed, *s.current)
		if len(s.closed) > a.capacity {
			s.closed = s.closed[len(s.closed)-a.capacity:]
		}
		s.current = &models.Candle{
			BucketStart: bucket,
			Open:        t.Price,
			High:        t.Price,
			Low:         t.Price,
			Close:       t.Price,
			Volume:      volDelta,
		}
	default:
		// out-of-order arrival: drop
	}
}

// Series returns the most recent limit candles for (symbol, interval).
// Closed candles come first in bucket order; the final entry is the live
// in-progress candle when one exists. The returned slice is a copy.
func (a *Aggregator) Series(symbol string, iv drepo.Interval, limit int) []models.Candle {
	a.mu.RLock()
	defer a.mu.RUnlock()

	bySymbol, ok := a.data[symbol]
	if !ok {
		return nil
	}
	s, ok := bySymbol[iv]
	if !ok {
		return nil
	}

	total := len(s.closed)
	if s.current != nil {
		total++
	}
	if limit <= 0 || limit > total {
		limit = total
	}
	if limit == 0 {
		return nil
	}

	out := make([]models.Candle, 0, limit)
	closedNeeded := limit
	if s.current != nil {
		closedNeeded--
	}
	if closedNeeded > 0 {
		out = append(out, s.closed[len(s.closed)-closedNeeded:]...)
	}
	if s.current != nil {
		out = append(out, *s.current)
	}
	return out
}

// LatestPrice returns the last raw tick price for a symbol, independent
// of candle state. Used as a live anchor when historical bars are
// unavailable.
func (a *Aggregator) LatestPrice(symbol string) (float64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.lastPrice[symbol]
	return p, ok
}

// Intervals returns the configured interval set.
func (a *Aggregator) Intervals() []drepo.Interval {
	return a.intervals
}
