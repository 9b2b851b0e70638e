package whale

import (
	"sync"
	"time"

	"TickRelay/internal/domain/models"
	drepo "TickRelay/internal/domain/repository"
	applogger "TickRelay/pkg/logger"
)

// Listener receives anomaly events synchronously as they fire.
type Listener func(*models.AnomalyEvent)

// symbolState is the rolling volume baseline for one instrument.
type symbolState struct {
	lastCumVolume float64
	lastPrice     float64
	deltas        []float64
	deltaSum      float64
	touchedAt     time.Time
	seeded        bool
}

// Detector flags abnormal volume deltas against a rolling per-symbol
// baseline. The upstream feed carries cumulative 24h volume, so each
// tick contributes the absolute difference from the previous reading.
type Detector struct {
	windowSize int
	minSamples int
	multiplier float64
	minUSD     float64
	idleExpiry time.Duration

	log     *applogger.Logger
	metrics drepo.Metrics
	now     func() time.Time

	mu        sync.Mutex
	states    map[string]*symbolState
	events    []models.AnomalyEvent // bounded ring, newest last
	eventCap  int
	listeners []Listener
}

// Option configures the Detector.
type Option func(*Detector)

// WithWindow sets the rolling sample window size and the cold-start
// minimum sample count.
func WithWindow(size, minSamples int) Option {
	return func(d *Detector) {
		d.windowSize = size
		d.minSamples = minSamples
	}
}

// WithThresholds sets the multiplier and minimum USD notional gates.
func WithThresholds(multiplier, minUSD float64) Option {
	return func(d *Detector) {
		d.multiplier = multiplier
		d.minUSD = minUSD
	}
}

// WithIdleExpiry sets how long a symbol's baseline survives without
// fresh ticks before it is reset.
func WithIdleExpiry(ttl time.Duration) Option {
	return func(d *Detector) { d.idleExpiry = ttl }
}

// WithEventCap bounds the retained event history.
func WithEventCap(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.eventCap = n
		}
	}
}

// New creates a Detector with the given options.
func New(log *applogger.Logger, metrics drepo.Metrics, opts ...Option) *Detector {
	d := &Detector{
		windowSize: 50,
		minSamples: 10,
		multiplier: 8,
		minUSD:     50_000,
		idleExpiry: 10 * time.Minute,
		eventCap:   200,
		log:        log.With("whale"),
		metrics:    metrics,
		now:        time.Now,
		states:     make(map[string]*symbolState),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// OnAnomaly registers a synchronous listener. Listeners are isolated
// from each other: a panic in one is recovered and logged without
// suppressing delivery to the rest.
func (d *Detector) OnAnomaly(l Listener) {
	d.mu.Lock()
	d.listeners = append(d.listeners, l)
	d.mu.Unlock()
}

// ProcessTick folds one tick into the symbol's baseline and returns an
// event when the volume delta clears every gate: the baseline is warm,
// the delta is at least multiplier times the rolling average, and the
// notional value meets the USD floor.
func (d *Detector) ProcessTick(symbol string, price, cumVolume float64, ts int64) *models.AnomalyEvent {
	if symbol == "" || price <= 0 {
		return nil
	}

	d.mu.Lock()
	ev := d.processLocked(symbol, price, cumVolume, ts)
	listeners := d.listeners
	d.mu.Unlock()

	if ev != nil {
		d.metrics.RecordAnomaly(symbol)
		for _, l := range listeners {
			d.dispatch(l, ev)
		}
	}
	return ev
}

func (d *Detector) processLocked(symbol string, price, cumVolume float64, ts int64) *models.AnomalyEvent {
	now := d.now()

	st, ok := d.states[symbol]
	if ok && d.idleExpiry > 0 && now.Sub(st.touchedAt) > d.idleExpiry {
		// stale baseline would skew the comparison; start over
		d.log.Debug("baseline expired", applogger.String("symbol", symbol))
		ok = false
	}
	if !ok {
		st = &symbolState{}
		d.states[symbol] = st
	}
	st.touchedAt = now

	prevPrice := st.lastPrice
	st.lastPrice = price

	if !st.seeded {
		st.seeded = true
		st.lastCumVolume = cumVolume
		return nil
	}

	delta := cumVolume - st.lastCumVolume
	if delta < 0 {
		delta = -delta
	}
	st.lastCumVolume = cumVolume
	if delta == 0 {
		return nil
	}

	var ev *models.AnomalyEvent
	if len(st.deltas) >= d.minSamples {
		avg := st.deltaSum / float64(len(st.deltas))
		usd := delta * price
		if avg > 0 && delta/avg >= d.multiplier && usd >= d.minUSD {
			ev = &models.AnomalyEvent{
				Symbol:     symbol,
				Side:       sideFromPrices(price, prevPrice),
				Delta:      delta,
				Price:      price,
				USDValue:   usd,
				Multiplier: delta / avg,
				Timestamp:  ts,
			}
			d.events = append(d.events, *ev)
			if len(d.events) > d.eventCap {
				d.events = d.events[len(d.events)-d.eventCap:]
			}
		}
	}

	st.deltas = append(st.deltas, delta)
	st.deltaSum += delta
	if len(st.deltas) > d.windowSize {
		st.deltaSum -= st.deltas[0]
		st.deltas = st.deltas[1:]
	}
	return ev
}

// sideFromPrices is a heuristic only: the feed carries no per-trade
// side, so a rising price is read as buy pressure and a falling one as
// sell pressure.
func sideFromPrices(price, prev float64) models.TradeSide {
	if prev > 0 && price < prev {
		return models.SideSell
	}
	return models.SideBuy
}

func (d *Detector) dispatch(l Listener, ev *models.AnomalyEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("anomaly listener panicked",
				applogger.String("symbol", ev.Symbol),
				applogger.Any("panic", r),
			)
			d.metrics.RecordError("whale_listener")
		}
	}()
	l(ev)
}

// Recent returns up to limit events, newest first.
func (d *Detector) Recent(limit int) []models.AnomalyEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return newestFirst(d.events, limit, func(models.AnomalyEvent) bool { return true })
}

// BySymbol returns up to limit events for one symbol, newest first.
func (d *Detector) BySymbol(symbol string, limit int) []models.AnomalyEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return newestFirst(d.events, limit, func(e models.AnomalyEvent) bool { return e.Symbol == symbol })
}

func newestFirst(events []models.AnomalyEvent, limit int, keep func(models.AnomalyEvent) bool) []models.AnomalyEvent {
	if limit <= 0 {
		limit = len(events)
	}
	out := make([]models.AnomalyEvent, 0, limit)
	for i := len(events) - 1; i >= 0 && len(out) < limit; i-- {
		if keep(events[i]) {
			out = append(out, events[i])
		}
	}
	return out
}
