package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"TickRelay/internal/domain/repository"
	pkgkafka "TickRelay/pkg/kafka"
)

// pricePoint is the wire schema of one history record.
type pricePoint struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Volume    float64 `json:"volume"`
	Timestamp int64   `json:"ts"` // unix ms
}

// KafkaHistorySink publishes price points to a Kafka topic, keyed by
// symbol so per-symbol ordering survives partitioning.
type KafkaHistorySink struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaHistorySink(producer *pkgkafka.Producer, topic string) repository.HistorySink {
	return &KafkaHistorySink{producer: producer, topic: topic}
}

func (s *KafkaHistorySink) Record(ctx context.Context, symbol string, price, volume float64, ts int64) error {
	if symbol == "" || ts == 0 {
		return fmt.Errorf("history: symbol and ts required")
	}
	err := s.producer.Publish(ctx, s.topic, []byte(symbol), pricePoint{
		Symbol:    symbol,
		Price:     price,
		Volume:    volume,
		Timestamp: ts,
	})
	if err != nil {
		return fmt.Errorf("publish history: %w", err)
	}
	return nil
}

func (s *KafkaHistorySink) Close() error {
	return s.producer.Close()
}

// ClickHouseHistorySink writes price points straight into a ClickHouse
// table.
type ClickHouseHistorySink struct {
	db    *sql.DB
	table string
}

func NewClickHouseHistorySink(db *sql.DB, table string) repository.HistorySink {
	return &ClickHouseHistorySink{db: db, table: table}
}

func (s *ClickHouseHistorySink) Record(ctx context.Context, symbol string, price, volume float64, ts int64) error {
	if symbol == "" || ts == 0 {
		return fmt.Errorf("history: symbol and ts required")
	}
	q := fmt.Sprintf("INSERT INTO %s (ts, symbol, price, volume) VALUES (?, ?, ?, ?)", s.table)
	if _, err := s.db.ExecContext(ctx, q, time.UnixMilli(ts), symbol, price, volume); err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

func (s *ClickHouseHistorySink) Close() error {
	return s.db.Close()
}

// HistorySchema is the DDL the ClickHouse sink expects.
var HistorySchema = []string{
	`CREATE TABLE IF NOT EXISTS price_history (
		ts DateTime64(3),
		symbol LowCardinality(String),
		price Float64,
		volume Float64
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMMDD(ts)
	ORDER BY (symbol, ts)`,
}

// NopHistorySink discards every record. Used when no history backend is
// configured.
type NopHistorySink struct{}

func (NopHistorySink) Record(context.Context, string, float64, float64, int64) error { return nil }
func (NopHistorySink) Close() error                                                 { return nil }
