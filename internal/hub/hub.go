package hub

import (
	"net/http"
	"sync"
	"time"

	"TickRelay/internal/domain/models"
	drepo "TickRelay/internal/domain/repository"
	"TickRelay/internal/service/ratelimit"
	applogger "TickRelay/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	// CloseUnauthorized is sent when connect-time authentication fails.
	CloseUnauthorized = 4401

	maxFrameSize = 512
)

// SendFunc delivers one frame to a single connection.
type SendFunc func(f *models.ServerFrame)

// Hub fans batches and alerts out to authenticated subscriber
// connections. Per-topic sends are rate limited to one frame per topic
// per configured interval; broadcasts are not limited.
type Hub struct {
	auth    *Authenticator
	log     *applogger.Logger
	metrics drepo.Metrics

	heartbeat    time.Duration
	writeTimeout time.Duration
	sendBuffer   int
	limiter      *ratelimit.Limiter
	upgrader     websocket.Upgrader

	mu        sync.RWMutex
	conns     map[*conn]struct{}
	byTopic   map[string]map[*conn]struct{}
	onConnect []func(send SendFunc)
	closed    bool
}

// Option configures the Hub.
type Option func(*Hub)

// WithHeartbeat sets the liveness ping interval.
func WithHeartbeat(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

// WithTopicInterval sets the minimum gap between per-topic sends.
func WithTopicInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.limiter = ratelimit.New(d)
		}
	}
}

// WithWriteTimeout bounds each socket write.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithSendBuffer sets the per-connection outbound queue length.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// New creates a Hub authenticating against the given shared secret.
func New(secret string, log *applogger.Logger, metrics drepo.Metrics, opts ...Option) *Hub {
	h := &Hub{
		auth:         NewAuthenticator(secret),
		log:          log.With("hub"),
		metrics:      metrics,
		heartbeat:    30 * time.Second,
		writeTimeout: 10 * time.Second,
		sendBuffer:   64,
		limiter:      ratelimit.New(time.Second),
		conns:        make(map[*conn]struct{}),
		byTopic:      make(map[string]map[*conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// subscribers are authenticated by token, not origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// OnConnect registers a callback invoked for every newly authenticated
// connection, before any broadcast reaches it. Used to replay current
// state so late joiners need not wait for the next batch cycle.
func (h *Hub) OnConnect(fn func(send SendFunc)) {
	h.mu.Lock()
	h.onConnect = append(h.onConnect, fn)
	h.mu.Unlock()
}

// Handle upgrades one subscriber connection. Authentication is
// attempted exactly once; failure closes the socket with
// CloseUnauthorized and no retry.
func (h *Hub) Handle(c echo.Context) error {
	sock, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	subject, err := h.auth.Authenticate(c.Request())
	if err != nil {
		h.log.Warn("authentication failed", applogger.Error(err))
		h.metrics.RecordError("subscriber_auth")
		msg := websocket.FormatCloseMessage(CloseUnauthorized, "unauthorized")
		_ = sock.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		_ = sock.WriteMessage(websocket.CloseMessage, msg)
		return sock.Close()
	}

	cn := newConn(h, sock, subject)
	if !h.register(cn) {
		return sock.Close()
	}

	go cn.writePump()

	cn.enqueueFrame(models.ConnectedFrame())

	h.mu.RLock()
	callbacks := h.onConnect
	h.mu.RUnlock()
	for _, fn := range callbacks {
		fn(cn.enqueueFrame)
	}

	h.log.Info("subscriber connected", applogger.String("subject", subject))
	cn.readPump()
	return nil
}

func (h *Hub) register(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c] = struct{}{}
	h.metrics.RecordSubscribers(len(h.conns))
	return true
}

// drop removes a connection and releases its resources. Idempotent;
// both pumps call it on their way out.
func (h *Hub) drop(c *conn) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}

	h.mu.Lock()
	delete(h.conns, c)
	for topic := range c.topics {
		h.detachLocked(c, topic)
	}
	n := len(h.conns)
	h.mu.Unlock()

	close(c.done)
	_ = c.sock.Close()
	h.metrics.RecordSubscribers(n)
	h.log.Info("subscriber disconnected", applogger.String("subject", c.subject))
}

func (h *Hub) subscribe(c *conn, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.topics[topic] = struct{}{}
	set, ok := h.byTopic[topic]
	if !ok {
		set = make(map[*conn]struct{})
		h.byTopic[topic] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unsubscribe(c *conn, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(c.topics, topic)
	h.detachLocked(c, topic)
}

func (h *Hub) detachLocked(c *conn, topic string) {
	set, ok := h.byTopic[topic]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.byTopic, topic)
		h.limiter.Forget(topic)
	}
}

// Broadcast delivers one frame to every live connection.
func (h *Hub) Broadcast(f *models.ServerFrame) {
	b, err := f.Encode()
	if err != nil {
		h.log.Error("encode broadcast", applogger.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		c.enqueue(b)
	}
}

// SendToTopic delivers one frame to connections subscribed to topic, at
// most once per topic per configured interval. Frames arriving faster
// are dropped; the batch path carries the consolidated state regardless.
func (h *Hub) SendToTopic(topic string, f *models.ServerFrame) {
	h.mu.RLock()
	set, ok := h.byTopic[topic]
	h.mu.RUnlock()
	if !ok || len(set) == 0 {
		return
	}
	if !h.limiter.Allow(topic) {
		return
	}

	b, err := f.Encode()
	if err != nil {
		h.log.Error("encode topic frame", applogger.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.byTopic[topic] {
		c.enqueue(b)
	}
}

// Subscribers returns the current live connection count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close terminates every connection and rejects new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		h.drop(c)
	}
	h.log.Info("hub closed")
	return nil
}
