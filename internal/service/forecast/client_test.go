package forecast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	applogger "TickRelay/pkg/logger"
)

func prices(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + float64(i)
	}
	return out
}

func TestPredictValidation(t *testing.T) {
	c := NewClient("http://localhost:0", applogger.Nop())

	if _, err := c.Predict(context.Background(), "", prices(30), 7); err == nil {
		t.Fatalf("expected error for missing symbol")
	}
	if _, err := c.Predict(context.Background(), "BTC-USDT", prices(30), 3); err == nil {
		t.Fatalf("expected error for bad horizon")
	}
	if _, err := c.Predict(context.Background(), "BTC-USDT", prices(10), 7); err == nil {
		t.Fatalf("expected error for short history")
	}
}

func TestPredictRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Symbol  string    `json:"symbol"`
			Prices  []float64 `json:"prices"`
			Horizon int       `json:"horizon"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Symbol != "BTC-USDT" || len(req.Prices) != 30 || req.Horizon != 7 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"direction": "up",
			"confidence": 0.73,
			"predicted_change": 2.5,
			"predicted_price": 131.7,
			"forecast": [129.5, 130.1, 131.7],
			"model_version": "timesfm-2.0"
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, applogger.Nop())
	p, err := c.Predict(context.Background(), "BTC-USDT", prices(30), 7)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if p.Symbol != "BTC-USDT" || p.Horizon != 7 {
		t.Fatalf("identity fields not filled: %+v", p)
	}
	if p.Direction != "up" || p.Confidence != 0.73 || len(p.Forecast) != 3 {
		t.Fatalf("unexpected prediction %+v", p)
	}
}

func TestPredictUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"model not loaded"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, applogger.Nop())
	if _, err := c.Predict(context.Background(), "BTC-USDT", prices(30), 1); err == nil {
		t.Fatalf("expected upstream error")
	}
}
