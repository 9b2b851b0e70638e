package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"TickRelay/internal/domain/models"
	applogger "TickRelay/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const testSecret = "hub-test-secret"

type nopMetrics struct{}

func (nopMetrics) RecordTickReceived(string)       {}
func (nopMetrics) RecordBatchBroadcast(int)        {}
func (nopMetrics) RecordAnomaly(string)            {}
func (nopMetrics) RecordReconnect()                {}
func (nopMetrics) RecordSubscribers(int)           {}
func (nopMetrics) RecordError(string)              {}
func (nopMetrics) RecordLastPrice(string, float64) {}
func (nopMetrics) RecordLatency(string, float64)   {}

func signToken(t *testing.T, subject string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func newTestHub(t *testing.T, opts ...Option) (*Hub, string) {
	t.Helper()
	base := []Option{
		WithHeartbeat(time.Minute),
		WithTopicInterval(time.Millisecond),
		WithWriteTimeout(time.Second),
	}
	h := New(testSecret, applogger.Nop(), nopMetrics{}, append(base, opts...)...)

	e := echo.New()
	e.GET("/ws", h.Handle)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { _ = h.Close() })

	return h, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readFrame(t *testing.T, c *websocket.Conn) *models.ServerFrame {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var f models.ServerFrame
	if err := json.Unmarshal(b, &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return &f
}

// expectFrame reads until a frame of the wanted type arrives, skipping
// unrelated interleaved frames.
func expectFrame(t *testing.T, c *websocket.Conn, frameType string) *models.ServerFrame {
	t.Helper()
	for i := 0; i < 10; i++ {
		f := readFrame(t, c)
		if f.Type == frameType {
			return f
		}
	}
	t.Fatalf("frame %q never arrived", frameType)
	return nil
}

func connect(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	c := dial(t, url+"?token="+signToken(t, "user-1"), nil)
	if f := readFrame(t, c); f.Type != models.FrameConnected {
		t.Fatalf("expected connected frame, got %q", f.Type)
	}
	return c
}

func TestAuthFailureClosesWithCode(t *testing.T) {
	_, url := newTestHub(t)
	c := dial(t, url, nil) // no credential

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := c.ReadMessage()
	var ce *websocket.CloseError
	if !websocket.IsCloseError(err, CloseUnauthorized) {
		t.Fatalf("expected close %d, got %v (%T)", CloseUnauthorized, err, ce)
	}
}

func TestAuthRejectsForgedToken(t *testing.T) {
	_, url := newTestHub(t)
	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"})
	s, _ := forged.SignedString([]byte("wrong-secret"))
	c := dial(t, url+"?token="+s, nil)

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := c.ReadMessage()
	if !websocket.IsCloseError(err, CloseUnauthorized) {
		t.Fatalf("expected close %d, got %v", CloseUnauthorized, err)
	}
}

func TestAuthFromBearerAndCookie(t *testing.T) {
	_, url := newTestHub(t)
	tok := signToken(t, "user-2")

	hdr := http.Header{"Authorization": {"Bearer " + tok}}
	c1 := dial(t, url, hdr)
	if f := readFrame(t, c1); f.Type != models.FrameConnected {
		t.Fatalf("bearer auth failed: %q", f.Type)
	}

	hdr = http.Header{"Cookie": {sessionCookie + "=" + tok}}
	c2 := dial(t, url, hdr)
	if f := readFrame(t, c2); f.Type != models.FrameConnected {
		t.Fatalf("cookie auth failed: %q", f.Type)
	}
}

func TestPingPong(t *testing.T) {
	_, url := newTestHub(t)
	c := connect(t, url)

	if err := c.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if f := readFrame(t, c); f.Type != models.FramePong {
		t.Fatalf("expected pong, got %q", f.Type)
	}
}

func TestMalformedFrameIsDroppedNotFatal(t *testing.T) {
	_, url := newTestHub(t)
	c := connect(t, url)

	if err := c.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := c.WriteJSON(map[string]string{"type": "subscribe"}); err != nil { // missing topic
		t.Fatalf("write: %v", err)
	}

	// the connection must still answer pings
	if err := c.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if f := readFrame(t, c); f.Type != models.FramePong {
		t.Fatalf("expected pong after malformed frames, got %q", f.Type)
	}
}

func TestSnapshotReplayOnConnect(t *testing.T) {
	h, url := newTestHub(t)
	h.OnConnect(func(send SendFunc) {
		send(&models.ServerFrame{
			Type:           models.FrameTickerBatch,
			Updates:        []models.TickerUpdate{{Symbol: "BTC-USDT", Price: 100}},
			BatchTimestamp: 42,
		})
	})

	c := connect(t, url)
	f := expectFrame(t, c, models.FrameTickerBatch)
	if len(f.Updates) != 1 || f.Updates[0].Symbol != "BTC-USDT" {
		t.Fatalf("unexpected replay %+v", f)
	}
}

func TestBroadcastReachesAllConnections(t *testing.T) {
	h, url := newTestHub(t)
	c1 := connect(t, url)
	c2 := connect(t, url)

	h.Broadcast(&models.ServerFrame{
		Type:           models.FrameTickerBatch,
		Updates:        []models.TickerUpdate{{Symbol: "ETH-USDT", Price: 10}},
		BatchTimestamp: 1,
	})

	for _, c := range []*websocket.Conn{c1, c2} {
		f := expectFrame(t, c, models.FrameTickerBatch)
		if f.Updates[0].Symbol != "ETH-USDT" {
			t.Fatalf("unexpected broadcast %+v", f)
		}
	}
}

func TestTopicDeliveryFollowsSubscription(t *testing.T) {
	h, url := newTestHub(t)
	sub := connect(t, url)
	other := connect(t, url)

	if err := sub.WriteJSON(map[string]string{"type": "subscribe", "topic": "BTC-USDT"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	f := expectFrame(t, sub, models.FrameSubscribed)
	if f.Topic != "BTC-USDT" {
		t.Fatalf("unexpected ack %+v", f)
	}

	u := models.TickerUpdate{Symbol: "BTC-USDT", Price: 100}
	h.SendToTopic("BTC-USDT", &models.ServerFrame{
		Type: models.FrameTicker, Topic: "BTC-USDT", Data: &u, Timestamp: 1,
	})

	got := expectFrame(t, sub, models.FrameTicker)
	if got.Data == nil || got.Data.Price != 100 {
		t.Fatalf("unexpected topic frame %+v", got)
	}

	// the unsubscribed connection must see nothing on the topic path
	_ = other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := other.ReadMessage(); err == nil {
		t.Fatalf("expected timeout for non-subscriber")
	}

	// after unsubscribe the frames stop
	if err := sub.WriteJSON(map[string]string{"type": "unsubscribe", "topic": "BTC-USDT"}); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	expectFrame(t, sub, models.FrameUnsubscribed)

	h.SendToTopic("BTC-USDT", &models.ServerFrame{
		Type: models.FrameTicker, Topic: "BTC-USDT", Data: &u, Timestamp: 2,
	})
	_ = sub.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := sub.ReadMessage(); err == nil {
		t.Fatalf("expected no topic frames after unsubscribe")
	}
}

func TestTopicSendsAreRateLimited(t *testing.T) {
	h, url := newTestHub(t, WithTopicInterval(time.Hour))
	sub := connect(t, url)

	if err := sub.WriteJSON(map[string]string{"type": "subscribe", "topic": "BTC-USDT"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	expectFrame(t, sub, models.FrameSubscribed)

	u := models.TickerUpdate{Symbol: "BTC-USDT", Price: 100}
	for i := 0; i < 3; i++ {
		h.SendToTopic("BTC-USDT", &models.ServerFrame{
			Type: models.FrameTicker, Topic: "BTC-USDT", Data: &u, Timestamp: int64(i + 1),
		})
	}

	expectFrame(t, sub, models.FrameTicker)
	_ = sub.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := sub.ReadMessage(); err == nil {
		t.Fatalf("expected rate limiter to drop rapid topic frames")
	}
}

func TestHeartbeatTerminatesSilentConnection(t *testing.T) {
	h, url := newTestHub(t, WithHeartbeat(30*time.Millisecond))
	c := connect(t, url)

	// refuse to acknowledge pings
	c.SetPingHandler(func(string) error { return nil })

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break // server dropped us
		}
	}

	deadline := time.Now().Add(time.Second)
	for h.Subscribers() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := h.Subscribers(); n != 0 {
		t.Fatalf("expected silent connection removed, still %d", n)
	}
}

func TestCloseTerminatesEverything(t *testing.T) {
	h, url := newTestHub(t)
	c := connect(t, url)

	if err := h.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	_ = c.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}
	if n := h.Subscribers(); n != 0 {
		t.Fatalf("expected zero subscribers after close, got %d", n)
	}
}
