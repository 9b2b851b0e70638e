package di

import (
	"context"
	"fmt"
	"time"

	"TickRelay/internal/domain/models"
	"TickRelay/internal/domain/repository"
	"TickRelay/internal/handler/api"
	"TickRelay/internal/hub"
	internalrepo "TickRelay/internal/repository"
	"TickRelay/internal/service/candles"
	"TickRelay/internal/service/forecast"
	"TickRelay/internal/service/history"
	"TickRelay/internal/service/okx"
	"TickRelay/internal/service/whale"
	"TickRelay/internal/usecase"
	"TickRelay/pkg/cache"
	pkgch "TickRelay/pkg/clickhouse"
	"TickRelay/pkg/config"
	xhttp "TickRelay/pkg/http"
	pkgkafka "TickRelay/pkg/kafka"
	applogger "TickRelay/pkg/logger"
	"TickRelay/pkg/metrics"
	"TickRelay/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideMarketStream creates the OKX upstream client.
func ProvideMarketStream(cfg *config.Config, log *applogger.Logger, m repository.Metrics) repository.MarketStream {
	return okx.New(cfg.Upstream.URL, cfg.Upstream.Channel, log, m,
		okx.WithBackoff(cfg.Upstream.BackoffMin, cfg.Upstream.BackoffMax, cfg.Upstream.BackoffFactor),
		okx.WithPingInterval(cfg.Upstream.PingInterval),
		okx.WithHandshakeTimeout(cfg.Upstream.HandshakeTO),
		okx.WithStableAfter(cfg.Upstream.StableAfter),
	)
}

// ProvideAggregator creates the candle aggregator over the configured
// intervals.
func ProvideAggregator(cfg *config.Config) *candles.Aggregator {
	intervals := make([]repository.Interval, 0, len(cfg.Candles.Intervals))
	for _, s := range cfg.Candles.Intervals {
		intervals = append(intervals, repository.NormalizeInterval(s))
	}
	return candles.New(intervals, cfg.Candles.Capacity)
}

// ProvideDetector creates the volume anomaly detector.
func ProvideDetector(cfg *config.Config, log *applogger.Logger, m repository.Metrics) *whale.Detector {
	return whale.New(log, m,
		whale.WithWindow(cfg.Whale.WindowSize, cfg.Whale.MinSamples),
		whale.WithThresholds(cfg.Whale.Multiplier, cfg.Whale.MinUSD),
		whale.WithIdleExpiry(cfg.Whale.IdleExpiry),
		whale.WithEventCap(cfg.Whale.EventCap),
	)
}

// ProvideHistorySink selects the history backend: a Kafka producer, a
// direct ClickHouse writer, or a no-op when disabled.
func ProvideHistorySink(cfg *config.Config) (repository.HistorySink, error) {
	switch cfg.History.Backend {
	case "kafka":
		producer, err := pkgkafka.NewProducer(
			pkgkafka.WithBrokers(cfg.Kafka.Brokers),
			pkgkafka.WithCompression(cfg.Kafka.Compression),
			pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
			pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
			pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
			pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
			pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
			pkgkafka.WithHashByKey(true),
		)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		return internalrepo.NewKafkaHistorySink(producer, cfg.Kafka.Topic), nil

	case "clickhouse":
		client, err := pkgch.NewClient(
			pkgch.WithHost(cfg.ClickHouse.Host),
			pkgch.WithPort(cfg.ClickHouse.Port),
			pkgch.WithDatabase(cfg.ClickHouse.Database),
			pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
			pkgch.WithMaxConnections(10, 5),
			pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
			pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
			pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
			pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
		)
		if err != nil {
			return nil, fmt.Errorf("clickhouse client: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.InitSchema(ctx, internalrepo.HistorySchema); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("clickhouse schema: %w", err)
		}
		return internalrepo.NewClickHouseHistorySink(client.DB(), "price_history"), nil

	default:
		return internalrepo.NopHistorySink{}, nil
	}
}

// ProvideCache picks Redis when configured, an in-process LRU
// otherwise.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	if cfg.Redis.Enabled {
		c, err := cache.NewRedisCache(
			cache.WithRedisAddr(cfg.Redis.Addr),
			cache.WithRedisPassword(cfg.Redis.Password),
			cache.WithRedisDB(cfg.Redis.DB),
		)
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		return c, nil
	}
	return cache.NewMemoryCache(), nil
}

// ProvideCandleSource creates the historical backfill provider, nil
// when no provider URL is configured.
func ProvideCandleSource(cfg *config.Config, log *applogger.Logger, c cache.Service) repository.CandleSource {
	if cfg.History.ProviderURL == "" {
		return nil
	}
	return history.NewProvider(cfg.History.ProviderURL, log,
		history.WithCache(c, cfg.History.CacheTTL),
		history.WithHTTPClient(xhttp.NewClient(xhttp.WithTimeout(cfg.History.Timeout))),
	)
}

// ProvideForecastClient creates the forecasting sidecar client, nil
// when disabled.
func ProvideForecastClient(cfg *config.Config, log *applogger.Logger) *forecast.Client {
	if cfg.Forecast.URL == "" {
		return nil
	}
	return forecast.NewClient(cfg.Forecast.URL, log,
		forecast.WithHTTPClient(xhttp.NewClient(xhttp.WithTimeout(cfg.Forecast.Timeout))),
	)
}

// ProvideHub creates the subscriber hub.
func ProvideHub(cfg *config.Config, log *applogger.Logger, m repository.Metrics) *hub.Hub {
	return hub.New(cfg.Hub.AuthSecret, log, m,
		hub.WithHeartbeat(cfg.Hub.HeartbeatInterval),
		hub.WithTopicInterval(cfg.Hub.TopicInterval),
		hub.WithWriteTimeout(cfg.Hub.WriteTimeout),
		hub.WithSendBuffer(cfg.Hub.SendBuffer),
	)
}

// ProvideRelay creates the orchestrator and wires snapshot replay into
// the hub.
func ProvideRelay(
	cfg *config.Config,
	stream repository.MarketStream,
	agg *candles.Aggregator,
	det *whale.Detector,
	sink repository.HistorySink,
	h *hub.Hub,
	log *applogger.Logger,
	m repository.Metrics,
) *usecase.Relay {
	relay := usecase.NewRelay(stream, agg, det, sink, h, cfg.Upstream.Symbols, log, m,
		usecase.WithBatchInterval(cfg.Relay.BatchInterval),
		usecase.WithSinkTimeout(cfg.History.Timeout),
	)
	// replay current state so late joiners need not wait a batch cycle
	h.OnConnect(func(send hub.SendFunc) {
		snap := relay.Snapshot()
		if len(snap) == 0 {
			return
		}
		send(&models.ServerFrame{
			Type:           models.FrameTickerBatch,
			Updates:        snap,
			BatchTimestamp: time.Now().UnixMilli(),
		})
	})
	return relay
}

// ProvideCandlesUseCase creates the candle read path.
func ProvideCandlesUseCase(agg *candles.Aggregator, source repository.CandleSource, log *applogger.Logger) *usecase.CandlesUseCase {
	return usecase.NewCandlesUseCase(agg, source, log)
}

// ProvideHandler creates the HTTP surface.
func ProvideHandler(
	log *applogger.Logger,
	candlesUC *usecase.CandlesUseCase,
	relay *usecase.Relay,
	det *whale.Detector,
	fc *forecast.Client,
	h *hub.Hub,
	stream repository.MarketStream,
) xhttp.Handler {
	return api.NewMarketHandler(log, candlesUC, relay, det, fc, h, stream)
}

// ProvideApp assembles the application.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	relay *usecase.Relay,
	h *hub.Hub,
	sink repository.HistorySink,
	c cache.Service,
	handler xhttp.Handler,
) *server.App {
	return server.New(cfg, log, relay, h, sink, c, handler)
}
