package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	ticksReceived  *prometheus.CounterVec
	batchesTotal   prometheus.Counter
	batchSize      prometheus.Histogram
	anomaliesTotal *prometheus.CounterVec
	reconnects     prometheus.Counter
	subscribers    prometheus.Gauge
	errorsTotal    *prometheus.CounterVec
	lastPrice      *prometheus.GaugeVec
	latency        *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		ticksReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickrelay_ticks_received_total",
				Help: "Total number of upstream ticks received",
			},
			[]string{"symbol"},
		),
		batchesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tickrelay_batches_broadcast_total",
				Help: "Total number of ticker batches broadcast to subscribers",
			},
		),
		batchSize: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tickrelay_batch_size",
				Help:    "Number of coalesced symbols per broadcast batch",
				Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
			},
		),
		anomaliesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickrelay_whale_events_total",
				Help: "Total number of abnormal-volume events detected",
			},
			[]string{"symbol"},
		),
		reconnects: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tickrelay_upstream_reconnects_total",
				Help: "Total number of upstream reconnect attempts",
			},
		),
		subscribers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tickrelay_subscribers",
				Help: "Number of currently connected subscribers",
			},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickrelay_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tickrelay_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tickrelay_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordTickReceived counts one normalized upstream tick.
func (r *Recorder) RecordTickReceived(symbol string) {
	r.ticksReceived.WithLabelValues(symbol).Inc()
}

// RecordBatchBroadcast counts one broadcast batch and its size.
func (r *Recorder) RecordBatchBroadcast(size int) {
	r.batchesTotal.Inc()
	r.batchSize.Observe(float64(size))
}

// RecordAnomaly counts one whale event.
func (r *Recorder) RecordAnomaly(symbol string) {
	r.anomaliesTotal.WithLabelValues(symbol).Inc()
}

// RecordReconnect counts one upstream reconnect attempt.
func (r *Recorder) RecordReconnect() {
	r.reconnects.Inc()
}

// RecordSubscribers records the current subscriber count.
func (r *Recorder) RecordSubscribers(n int) {
	r.subscribers.Set(float64(n))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
