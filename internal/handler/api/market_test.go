package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"TickRelay/internal/domain/models"
	drepo "TickRelay/internal/domain/repository"
	"TickRelay/internal/hub"
	"TickRelay/internal/service/candles"
	"TickRelay/internal/service/whale"
	"TickRelay/internal/usecase"
	applogger "TickRelay/pkg/logger"

	"github.com/labstack/echo/v4"
)

type nopMetrics struct{}

func (nopMetrics) RecordTickReceived(string)       {}
func (nopMetrics) RecordBatchBroadcast(int)        {}
func (nopMetrics) RecordAnomaly(string)            {}
func (nopMetrics) RecordReconnect()                {}
func (nopMetrics) RecordSubscribers(int)           {}
func (nopMetrics) RecordError(string)              {}
func (nopMetrics) RecordLastPrice(string, float64) {}
func (nopMetrics) RecordLatency(string, float64)   {}

type stubStream struct {
	mu        sync.Mutex
	handler   drepo.TickerHandler
	connected bool
}

func (s *stubStream) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

func (s *stubStream) Subscribe(context.Context, []string) error { return nil }

func (s *stubStream) OnTicker(h drepo.TickerHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

func (s *stubStream) Close() error { return nil }

func (s *stubStream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *stubStream) emit(t *models.Ticker) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(t)
	}
}

type nopHub struct{}

func (nopHub) Broadcast(*models.ServerFrame)           {}
func (nopHub) SendToTopic(string, *models.ServerFrame) {}

// newTestAPI wires a handler over live in-memory components; ticks are
// fed through the relay's own batch cycle.
func newTestAPI(t *testing.T) (*echo.Echo, *usecase.Relay, *stubStream) {
	t.Helper()
	log := applogger.Nop()
	agg := candles.New([]drepo.Interval{drepo.I1m, drepo.I1h}, 500)
	det := whale.New(log, nopMetrics{})
	stream := &stubStream{}
	relay := usecase.NewRelay(stream, agg, det, nil, nopHub{},
		[]string{"BTC-USDT"}, log, nopMetrics{},
		usecase.WithBatchInterval(2*time.Millisecond))
	if err := relay.Start(context.Background()); err != nil {
		t.Fatalf("start relay: %v", err)
	}
	t.Cleanup(func() { _ = relay.Stop() })
	candlesUC := usecase.NewCandlesUseCase(agg, nil, log)
	h := hub.New("secret", log, nopMetrics{})

	handler := NewMarketHandler(log, candlesUC, relay, det, nil, h, stream)
	e := echo.New()
	handler.RegisterRoutes(e)
	return e, relay, stream
}

// feed emits a tick and waits for the batch cycle to surface it.
func feed(t *testing.T, relay *usecase.Relay, stream *stubStream, tk *models.Ticker) {
	t.Helper()
	stream.emit(tk)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if u, ok := relay.LastUpdate(tk.Symbol); ok && u.Timestamp == tk.Timestamp {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("tick for %s never flushed", tk.Symbol)
}

func doGet(t *testing.T, e *echo.Echo, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	e, _, _ := newTestAPI(t)
	rec := doGet(t, e, "/api/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Data struct {
			Status   string `json:"status"`
			Upstream bool   `json:"upstream"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.Status != "ok" || !body.Data.Upstream {
		t.Fatalf("unexpected health %+v", body.Data)
	}
}

func TestCandlesEndpoint(t *testing.T) {
	e, relay, stream := newTestAPI(t)
	feed(t, relay, stream, &models.Ticker{Symbol: "BTC-USDT", Price: 100, Timestamp: 60_000})

	rec := doGet(t, e, "/api/candles/BTC-USDT?interval=1m&limit=10")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doGet(t, e, "/api/candles/BTC-USDT?interval=2m")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad interval, got %d", rec.Code)
	}
}

func TestPriceEndpoint(t *testing.T) {
	e, relay, stream := newTestAPI(t)

	if rec := doGet(t, e, "/api/price/BTC-USDT"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any tick, got %d", rec.Code)
	}

	feed(t, relay, stream, &models.Ticker{Symbol: "BTC-USDT", Price: 123, Open24h: 100, Timestamp: 1})

	rec := doGet(t, e, "/api/price/BTC-USDT")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Data models.TickerUpdate `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.Price != 123 || body.Data.Change24h != 23 {
		t.Fatalf("unexpected price payload %+v", body.Data)
	}
}

func TestWhalesEndpoint(t *testing.T) {
	e, _, _ := newTestAPI(t)
	rec := doGet(t, e, "/api/whales?limit=10")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPredictDisabled(t *testing.T) {
	e, _, _ := newTestAPI(t)
	rec := doGet(t, e, "/api/predict/BTC-USDT")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without forecaster, got %d", rec.Code)
	}
}
