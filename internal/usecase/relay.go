package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"TickRelay/internal/domain/models"
	drepo "TickRelay/internal/domain/repository"
	"TickRelay/internal/service/candles"
	"TickRelay/internal/service/whale"
	applogger "TickRelay/pkg/logger"
)

// Hub is the downstream fan-out surface the relay publishes to.
type Hub interface {
	Broadcast(f *models.ServerFrame)
	SendToTopic(topic string, f *models.ServerFrame)
}

// Relay wires the upstream feed to the aggregator, the anomaly
// detector, the history sink and the subscriber hub. Incoming ticks are
// coalesced per symbol between batch cycles: only the most recent tick
// per symbol survives to the next flush, trading completeness for
// freshness and bounded downstream throughput.
type Relay struct {
	stream  drepo.MarketStream
	agg     *candles.Aggregator
	det     *whale.Detector
	sink    drepo.HistorySink
	hub     Hub
	log     *applogger.Logger
	metrics drepo.Metrics

	symbols       []string
	batchInterval time.Duration
	sinkTimeout   time.Duration

	mu        sync.Mutex
	pending   map[string]*models.Ticker
	lastState map[string]models.TickerUpdate
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// RelayOption configures the Relay.
type RelayOption func(*Relay)

// WithBatchInterval sets the flush cadence.
func WithBatchInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.batchInterval = d
		}
	}
}

// WithSinkTimeout bounds each history sink write.
func WithSinkTimeout(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.sinkTimeout = d
		}
	}
}

// NewRelay creates the orchestrator for the given instrument set.
func NewRelay(
	stream drepo.MarketStream,
	agg *candles.Aggregator,
	det *whale.Detector,
	sink drepo.HistorySink,
	hub Hub,
	symbols []string,
	log *applogger.Logger,
	metrics drepo.Metrics,
	opts ...RelayOption,
) *Relay {
	r := &Relay{
		stream:        stream,
		agg:           agg,
		det:           det,
		sink:          sink,
		hub:           hub,
		symbols:       append([]string(nil), symbols...),
		batchInterval: time.Second,
		sinkTimeout:   5 * time.Second,
		log:           log.With("relay"),
		metrics:       metrics,
		pending:       make(map[string]*models.Ticker),
		lastState:     make(map[string]models.TickerUpdate),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start connects upstream, subscribes the configured instrument set and
// begins the batch cycle. Whale events bypass the cycle and are pushed
// to subscribers the moment they fire.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("relay: already started")
	}
	r.running = true
	r.mu.Unlock()

	r.stream.OnTicker(r.handleTick)
	r.det.OnAnomaly(func(ev *models.AnomalyEvent) {
		r.hub.Broadcast(&models.ServerFrame{
			Type:      models.FrameWhaleAlert,
			Alert:     ev,
			Timestamp: time.Now().UnixMilli(),
		})
	})

	if err := r.stream.Connect(ctx); err != nil {
		r.markStopped()
		return fmt.Errorf("relay start: %w", err)
	}
	if err := r.stream.Subscribe(ctx, r.symbols); err != nil {
		// the recorded set is resent after reconnect, so a failed first
		// subscribe is not fatal
		r.log.Warn("initial subscribe failed", applogger.Error(err))
		r.metrics.RecordError("subscribe")
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.mu.Lock()
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	go r.loop(loopCtx, done)
	r.log.Info("started",
		applogger.Int("symbols", len(r.symbols)),
		applogger.Duration("batch_interval", r.batchInterval),
	)
	return nil
}

// Stop cancels the batch cycle and closes the upstream connection. When
// it returns, no further flushes or upstream callbacks occur.
func (r *Relay) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	done := r.done
	r.running = false
	r.cancel = nil
	r.done = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := r.stream.Close()
	if done != nil {
		<-done
	}
	r.log.Info("stopped")
	return err
}

func (r *Relay) markStopped() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

// handleTick coalesces: last write per symbol wins within a cycle.
func (r *Relay) handleTick(t *models.Ticker) {
	r.mu.Lock()
	r.pending[t.Symbol] = t
	r.mu.Unlock()
}

func (r *Relay) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.batchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.flush(ctx)
		}
	}
}

// flush drains the coalescing map and delivers one enriched batch. A
// failure processing one symbol never blocks the rest of the batch.
func (r *Relay) flush(ctx context.Context) {
	r.mu.Lock()
	if len(r.pending) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.pending
	r.pending = make(map[string]*models.Ticker)
	r.mu.Unlock()

	start := time.Now()
	updates := make([]models.TickerUpdate, 0, len(batch))
	for _, t := range batch {
		u, err := r.processOne(ctx, t)
		if err != nil {
			r.log.Warn("symbol dropped from batch",
				applogger.String("symbol", t.Symbol),
				applogger.Error(err),
			)
			r.metrics.RecordError("batch_symbol")
			continue
		}
		updates = append(updates, u)
	}
	if len(updates) == 0 {
		return
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].Symbol < updates[j].Symbol })

	now := time.Now().UnixMilli()
	r.hub.Broadcast(&models.ServerFrame{
		Type:           models.FrameTickerBatch,
		Updates:        updates,
		BatchTimestamp: now,
	})
	for i := range updates {
		u := updates[i]
		r.hub.SendToTopic(u.Symbol, &models.ServerFrame{
			Type:      models.FrameTicker,
			Topic:     u.Symbol,
			Data:      &u,
			Timestamp: now,
		})
	}

	r.metrics.RecordBatchBroadcast(len(updates))
	r.metrics.RecordLatency("batch_flush", time.Since(start).Seconds())
}

// processOne feeds one coalesced tick through enrichment, the
// aggregator, the detector and the history sink. Sink failures are
// logged and swallowed; derived state is already updated by then.
func (r *Relay) processOne(ctx context.Context, t *models.Ticker) (u models.TickerUpdate, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("process %s: %v", t.Symbol, rec)
		}
	}()

	u = enrich(t)

	r.mu.Lock()
	r.lastState[t.Symbol] = u
	r.mu.Unlock()

	r.agg.Ingest(t)
	r.det.ProcessTick(t.Symbol, t.Price, t.Volume24h, t.Timestamp)
	r.metrics.RecordLastPrice(t.Symbol, t.Price)

	if r.sink != nil {
		sinkCtx, cancel := context.WithTimeout(ctx, r.sinkTimeout)
		if serr := r.sink.Record(sinkCtx, t.Symbol, t.Price, t.Volume24h, t.Timestamp); serr != nil {
			r.log.Warn("history sink write failed",
				applogger.String("symbol", t.Symbol),
				applogger.Error(serr),
			)
			r.metrics.RecordError("history_sink")
		}
		cancel()
	}
	return u, nil
}

// Snapshot returns the last known enriched state for every symbol,
// sorted by symbol. Used to replay current state to late-joining
// subscribers.
func (r *Relay) Snapshot() []models.TickerUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.TickerUpdate, 0, len(r.lastState))
	for _, u := range r.lastState {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// LastUpdate returns the most recent enriched state for one symbol.
func (r *Relay) LastUpdate(symbol string) (models.TickerUpdate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.lastState[symbol]
	return u, ok
}

// Symbols returns the configured instrument set.
func (r *Relay) Symbols() []string {
	return append([]string(nil), r.symbols...)
}
