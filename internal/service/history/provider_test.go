package history

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	drepo "TickRelay/internal/domain/repository"
	"TickRelay/pkg/cache"
	applogger "TickRelay/pkg/logger"
)

const sampleBody = `{"code":"0","msg":"","data":[
	["120000","102","103","101","102.5","7","0","0","1"],
	["60000","101","102","100","102","5","0","0","1"],
	["0","100","101","99","101","3","0","0","1"],
	["oops","1","1","1","1","1","0","0","1"]
]}`

func newTestProvider(t *testing.T, body string, hits *atomic.Int64, opts ...ProviderOption) *Provider {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if r.URL.Path != "/api/v5/market/candles" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewProvider(srv.URL, applogger.Nop(), opts...)
}

func TestCandlesParsesOldestFirst(t *testing.T) {
	p := newTestProvider(t, sampleBody, nil)

	got, err := p.Candles(context.Background(), "BTC-USDT", drepo.I1m, 10)
	if err != nil {
		t.Fatalf("candles: %v", err)
	}
	// the malformed fourth row is dropped
	if len(got) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(got))
	}
	if got[0].BucketStart != 0 || got[2].BucketStart != 120_000 {
		t.Fatalf("expected oldest first, got %+v", got)
	}
	c := got[1]
	if c.Open != 101 || c.High != 102 || c.Low != 100 || c.Close != 102 || c.Volume != 5 {
		t.Fatalf("unexpected candle %+v", c)
	}
}

func TestCandlesProviderError(t *testing.T) {
	p := newTestProvider(t, `{"code":"51001","msg":"instrument not found","data":[]}`, nil)
	if _, err := p.Candles(context.Background(), "NOPE-USDT", drepo.I1m, 10); err == nil {
		t.Fatalf("expected provider error")
	}
}

func TestCandlesServedFromCache(t *testing.T) {
	var hits atomic.Int64
	mem := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })
	p := newTestProvider(t, sampleBody, &hits, WithCache(mem, time.Minute))

	for i := 0; i < 3; i++ {
		got, err := p.Candles(context.Background(), "BTC-USDT", drepo.I1m, 10)
		if err != nil {
			t.Fatalf("candles: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 candles, got %d", len(got))
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("expected a single upstream hit, got %d", hits.Load())
	}
}
