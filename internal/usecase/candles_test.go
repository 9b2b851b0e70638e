package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"TickRelay/internal/domain/models"
	drepo "TickRelay/internal/domain/repository"
	"TickRelay/internal/service/candles"
	applogger "TickRelay/pkg/logger"
)

type fakeSource struct {
	candles []models.Candle
	err     error
	calls   int
}

func (s *fakeSource) Candles(context.Context, string, drepo.Interval, int) ([]models.Candle, error) {
	s.calls++
	return s.candles, s.err
}

func liveAgg(n int) *candles.Aggregator {
	a := candles.New([]drepo.Interval{drepo.I1m}, 100)
	for i := int64(0); i < int64(n); i++ {
		a.Ingest(&models.Ticker{Symbol: "BTC-USDT", Price: float64(100 + i), Timestamp: i * 60_000})
	}
	return a
}

func TestGetCandlesValidation(t *testing.T) {
	uc := NewCandlesUseCase(liveAgg(0), nil, applogger.Nop())
	if _, err := uc.GetCandles(context.Background(), GetCandlesParams{Interval: drepo.I1m}); err == nil {
		t.Fatalf("expected error for missing symbol")
	}
	if _, err := uc.GetCandles(context.Background(), GetCandlesParams{Symbol: "BTC-USDT", Interval: "7m"}); err == nil {
		t.Fatalf("expected error for bad interval")
	}
}

func TestGetCandlesLiveOnly(t *testing.T) {
	src := &fakeSource{}
	uc := NewCandlesUseCase(liveAgg(10), src, applogger.Nop())

	res, err := uc.GetCandles(context.Background(), GetCandlesParams{
		Symbol: "BTC-USDT", Interval: drepo.I1m, Limit: 5,
	})
	if err != nil {
		t.Fatalf("get candles: %v", err)
	}
	if res.Count != 5 {
		t.Fatalf("expected 5 candles, got %d", res.Count)
	}
	if src.calls != 0 {
		t.Fatalf("expected no backfill when live window covers the page")
	}
}

func TestGetCandlesBackfillsShortSeries(t *testing.T) {
	// live window has 3 candles; history provides older ones
	src := &fakeSource{candles: []models.Candle{
		{BucketStart: -120_000, Open: 90, Close: 91},
		{BucketStart: -60_000, Open: 91, Close: 92},
		{BucketStart: 0, Open: 999, Close: 999}, // overlaps live, must be dropped
	}}
	uc := NewCandlesUseCase(liveAgg(3), src, applogger.Nop())

	res, err := uc.GetCandles(context.Background(), GetCandlesParams{
		Symbol: "BTC-USDT", Interval: drepo.I1m, Limit: 10,
	})
	if err != nil {
		t.Fatalf("get candles: %v", err)
	}
	if res.Count != 5 {
		t.Fatalf("expected 2 historical + 3 live, got %d", res.Count)
	}
	if res.Candles[0].BucketStart != -120_000 {
		t.Fatalf("expected history first, got %+v", res.Candles[0])
	}
	// the live candle wins where buckets overlap
	if res.Candles[2].Open == 999 {
		t.Fatalf("historical candle shadowed the live one")
	}
}

func TestGetCandlesRangeFilter(t *testing.T) {
	uc := NewCandlesUseCase(liveAgg(10), nil, applogger.Nop())

	res, err := uc.GetCandles(context.Background(), GetCandlesParams{
		Symbol:   "BTC-USDT",
		Interval: drepo.I1m,
		Limit:    100,
		From:     time.UnixMilli(2 * 60_000),
		To:       time.UnixMilli(5 * 60_000),
	})
	if err != nil {
		t.Fatalf("get candles: %v", err)
	}
	// buckets 2m, 3m, 4m; the To bound is exclusive
	if res.Count != 3 {
		t.Fatalf("expected 3 candles in range, got %d", res.Count)
	}
	if res.Candles[0].BucketStart != 2*60_000 || res.Candles[2].BucketStart != 4*60_000 {
		t.Fatalf("unexpected range %+v", res.Candles)
	}
}

func TestGetCandlesBackfillErrorFallsBackToLive(t *testing.T) {
	src := &fakeSource{err: errors.New("provider down")}
	uc := NewCandlesUseCase(liveAgg(3), src, applogger.Nop())

	res, err := uc.GetCandles(context.Background(), GetCandlesParams{
		Symbol: "BTC-USDT", Interval: drepo.I1m, Limit: 10,
	})
	if err != nil {
		t.Fatalf("get candles: %v", err)
	}
	if res.Count != 3 {
		t.Fatalf("expected live series on provider error, got %d", res.Count)
	}
}
