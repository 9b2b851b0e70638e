package candles

import (
	"testing"

	"TickRelay/internal/domain/models"
	drepo "TickRelay/internal/domain/repository"
)

func tick(symbol string, ms int64, price, vol float64) *models.Ticker {
	return &models.Ticker{Symbol: symbol, Price: price, Volume24h: vol, Timestamp: ms}
}

func TestSameBucketOHLC(t *testing.T) {
	a := New([]drepo.Interval{drepo.I1m}, 100)

	// ticks at 0s, 5s, 9s land in the same 1m bucket
	a.Ingest(tick("BTC-USDT", 0, 100, 0))
	a.Ingest(tick("BTC-USDT", 5_000, 102, 0))
	a.Ingest(tick("BTC-USDT", 9_000, 99, 0))

	got := a.Series("BTC-USDT", drepo.I1m, 10)
	if len(got) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(got))
	}
	c := got[0]
	if c.Open != 100 || c.High != 102 || c.Low != 99 || c.Close != 99 {
		t.Fatalf("unexpected candle %+v", c)
	}
	if c.BucketStart != 0 {
		t.Fatalf("unexpected bucket %d", c.BucketStart)
	}
}

func TestBucketAdvanceFreezesPrevious(t *testing.T) {
	a := New([]drepo.Interval{drepo.I1m}, 100)
	a.Ingest(tick("BTC-USDT", 0, 100, 0))
	a.Ingest(tick("BTC-USDT", 5_000, 102, 0))
	a.Ingest(tick("BTC-USDT", 9_000, 99, 0))

	// tick at 61s closes the first candle unchanged and opens a new one
	a.Ingest(tick("BTC-USDT", 61_000, 105, 0))

	got := a.Series("BTC-USDT", drepo.I1m, 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(got))
	}
	frozen := got[0]
	if frozen.Open != 100 || frozen.High != 102 || frozen.Low != 99 || frozen.Close != 99 {
		t.Fatalf("frozen candle revised: %+v", frozen)
	}
	live := got[1]
	if live.Open != 105 || live.Close != 105 || live.BucketStart != 60_000 {
		t.Fatalf("unexpected live candle %+v", live)
	}

	// later ticks must not touch the frozen candle
	a.Ingest(tick("BTC-USDT", 65_000, 1, 0))
	again := a.Series("BTC-USDT", drepo.I1m, 10)
	if again[0] != frozen {
		t.Fatalf("closed candle changed after later ticks: %+v vs %+v", again[0], frozen)
	}
}

func TestOutOfOrderTickDropped(t *testing.T) {
	a := New([]drepo.Interval{drepo.I1m}, 100)
	a.Ingest(tick("BTC-USDT", 61_000, 105, 0))
	a.Ingest(tick("BTC-USDT", 30_000, 1, 0)) // older bucket

	got := a.Series("BTC-USDT", drepo.I1m, 10)
	if len(got) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(got))
	}
	if got[0].Low == 1 {
		t.Fatalf("out-of-order tick mutated current candle")
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	a := New([]drepo.Interval{drepo.I1m}, 3)
	// five closed candles plus one live
	for i := int64(0); i < 6; i++ {
		a.Ingest(tick("BTC-USDT", i*60_000, float64(100+i), 0))
	}

	got := a.Series("BTC-USDT", drepo.I1m, 100)
	// 3 closed (capacity) + 1 in-progress
	if len(got) != 4 {
		t.Fatalf("expected 4 candles, got %d", len(got))
	}
	if got[0].Open != 102 {
		t.Fatalf("expected oldest surviving candle open=102, got %+v", got[0])
	}
}

func TestIntervalsAreIndependent(t *testing.T) {
	a := New([]drepo.Interval{drepo.I1m, drepo.I5m}, 100)
	a.Ingest(tick("BTC-USDT", 0, 100, 0))
	a.Ingest(tick("BTC-USDT", 61_000, 110, 0))  // new 1m bucket, same 5m bucket
	a.Ingest(tick("BTC-USDT", 301_000, 120, 0)) // new 5m bucket

	m1 := a.Series("BTC-USDT", drepo.I1m, 100)
	m5 := a.Series("BTC-USDT", drepo.I5m, 100)
	if len(m1) != 3 {
		t.Fatalf("expected 3 1m candles, got %d", len(m1))
	}
	if len(m5) != 2 {
		t.Fatalf("expected 2 5m candles, got %d", len(m5))
	}
	if m5[0].Open != 100 || m5[0].Close != 110 || m5[0].High != 110 {
		t.Fatalf("unexpected closed 5m candle %+v", m5[0])
	}
}

func TestSeriesLimit(t *testing.T) {
	a := New([]drepo.Interval{drepo.I1m}, 100)
	for i := int64(0); i < 10; i++ {
		a.Ingest(tick("BTC-USDT", i*60_000, float64(i), 0))
	}
	got := a.Series("BTC-USDT", drepo.I1m, 3)
	if len(got) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(got))
	}
	// last entry must be the live candle
	if got[2].Open != 9 {
		t.Fatalf("expected live candle last, got %+v", got[2])
	}
}

func TestLatestPrice(t *testing.T) {
	a := New([]drepo.Interval{drepo.I1m}, 100)
	if _, ok := a.LatestPrice("BTC-USDT"); ok {
		t.Fatalf("expected no price before ingest")
	}
	a.Ingest(tick("BTC-USDT", 1_000, 42, 0))
	p, ok := a.LatestPrice("BTC-USDT")
	if !ok || p != 42 {
		t.Fatalf("expected 42, got %v %v", p, ok)
	}
}
