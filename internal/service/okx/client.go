package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"TickRelay/internal/domain/models"
	drepo "TickRelay/internal/domain/repository"
	applogger "TickRelay/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
)

// ConnState is the upstream connection lifecycle state.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// Client implements a MarketStream backed by the OKX public WebSocket.
// It owns the single outbound connection, reconnects with capped
// exponential backoff, and resends the requested subscription set after
// every successful reconnect.
type Client struct {
	url          string
	channel      string
	pingInterval time.Duration
	handshakeTO  time.Duration
	stableAfter  time.Duration

	log     *applogger.Logger
	metrics drepo.Metrics
	bo      *backoff.Backoff

	// writeMu serializes frames onto the active connection; the
	// websocket package allows only one concurrent writer, and the
	// pinger races subscription sends otherwise.
	writeMu sync.Mutex

	mu       sync.Mutex
	conn     *websocket.Conn
	symbols  []string
	handler  drepo.TickerHandler
	state    ConnState
	cancel   context.CancelFunc
	loopDone chan struct{}
}

// Option configures the Client.
type Option func(*Client)

// WithBackoff sets the reconnect backoff policy.
func WithBackoff(min, max time.Duration, factor float64) Option {
	return func(c *Client) {
		c.bo = &backoff.Backoff{Min: min, Max: max, Factor: factor, Jitter: true}
	}
}

// WithPingInterval sets how often the client pings the exchange.
func WithPingInterval(d time.Duration) Option {
	return func(c *Client) { c.pingInterval = d }
}

// WithHandshakeTimeout bounds the dial handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) { c.handshakeTO = d }
}

// WithStableAfter sets the connection age after which the backoff
// attempt counter resets.
func WithStableAfter(d time.Duration) Option {
	return func(c *Client) { c.stableAfter = d }
}

// New creates a new OKX MarketStream.
func New(url, channel string, log *applogger.Logger, metrics drepo.Metrics, opts ...Option) *Client {
	c := &Client{
		url:          url,
		channel:      channel,
		pingInterval: 15 * time.Second,
		handshakeTO:  10 * time.Second,
		stableAfter:  time.Minute,
		log:          log.With("okx"),
		metrics:      metrics,
		bo:           &backoff.Backoff{Min: time.Second, Max: 30 * time.Second, Factor: 2, Jitter: true},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnTicker registers the sole consumer of normalized ticker events.
func (c *Client) OnTicker(h drepo.TickerHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Connect dials the exchange and starts the read/reconnect loop. It
// returns once the first handshake completes; subsequent disconnects are
// handled internally.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return fmt.Errorf("okx: already connected")
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("okx connect: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.cancel = cancel
	c.loopDone = done
	c.mu.Unlock()

	c.log.Info("connected", applogger.String("url", c.url))
	go c.run(runCtx, done)
	return nil
}

// Subscribe records the requested instrument set and sends the
// subscription frame. Safe to call again after reconnect; the recorded
// set is resent automatically on every successful reconnect.
func (c *Client) Subscribe(ctx context.Context, symbols []string) error {
	c.mu.Lock()
	c.symbols = append([]string(nil), symbols...)
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return fmt.Errorf("okx: not connected")
	}
	return c.sendSubscribe(conn, symbols)
}

// Close tears down the connection and stops the reconnect loop. The
// pending backoff wait, if any, is cancelled.
func (c *Client) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	done := c.loopDone
	c.state = StateDisconnected
	c.conn = nil
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}
	if done != nil {
		<-done
	}
	return err
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.handshakeTO}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Client) sendSubscribe(conn *websocket.Conn, symbols []string) error {
	args := make([]map[string]string, 0, len(symbols))
	for _, s := range symbols {
		args = append(args, map[string]string{"channel": c.channel, "instId": s})
	}
	msg := map[string]interface{}{"op": "subscribe", "args": args}
	c.writeMu.Lock()
	err := conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	c.log.Info("subscription sent", applogger.Int("symbols", len(symbols)))
	return nil
}

// run owns the connection: it pings, reads frames, and reconnects with
// backoff until ctx is cancelled.
func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	pinger := time.NewTicker(c.pingInterval)
	defer pinger.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-pinger.C:
				c.mu.Lock()
				conn := c.conn
				c.mu.Unlock()
				if conn != nil {
					// OKX expects a literal "ping" text frame
					c.writeMu.Lock()
					_ = conn.WriteMessage(websocket.TextMessage, []byte("ping"))
					c.writeMu.Unlock()
				}
			}
		}
	}()

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		connectedAt := time.Now()
		err := c.readUntilError(conn)
		if ctx.Err() != nil {
			return
		}

		// a connection that survived long enough resets the backoff
		if time.Since(connectedAt) >= c.stableAfter {
			c.bo.Reset()
		}

		c.log.Warn("connection lost", applogger.Error(err))
		c.metrics.RecordError("upstream_read")
		c.setState(StateReconnecting)

		if !c.reconnect(ctx) {
			return
		}
	}
}

// reconnect loops with backoff until a dial succeeds or ctx is
// cancelled. Returns false when cancelled.
func (c *Client) reconnect(ctx context.Context) bool {
	for {
		wait := c.bo.Duration()
		c.log.Info("reconnecting",
			applogger.Duration("backoff", wait),
			applogger.Float64("attempt", c.bo.Attempt()),
		)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}

		c.metrics.RecordReconnect()
		c.setState(StateConnecting)
		conn, err := c.dial(ctx)
		if err != nil {
			// auth and transport failures alike stay on the backoff path;
			// transient upstream outages are expected
			c.log.Warn("reconnect failed", applogger.Error(err))
			c.setState(StateReconnecting)
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.state = StateConnected
		symbols := append([]string(nil), c.symbols...)
		c.mu.Unlock()

		c.log.Info("reconnected")
		if len(symbols) > 0 {
			if err := c.sendSubscribe(conn, symbols); err != nil {
				c.log.Warn("resubscribe failed", applogger.Error(err))
				_ = conn.Close()
				continue
			}
		}
		return true
	}
}

func (c *Client) readUntilError(conn *websocket.Conn) error {
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleFrame(b)
	}
}

type wsFrame struct {
	Event string `json:"event"`
	Code  string `json:"code"`
	Msg   string `json:"msg"`
	Arg   struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data json.RawMessage `json:"data"`
}

type tickerData struct {
	InstID  string `json:"instId"`
	Last    string `json:"last"`
	Open24h string `json:"open24h"`
	High24h string `json:"high24h"`
	Low24h  string `json:"low24h"`
	Vol24h  string `json:"vol24h"`
	BidPx   string `json:"bidPx"`
	AskPx   string `json:"askPx"`
	TS      string `json:"ts"`
}

// handleFrame normalizes one raw frame. Malformed frames are logged and
// dropped; they never propagate as errors to the read loop.
func (c *Client) handleFrame(b []byte) {
	if string(b) == "pong" {
		return
	}

	var f wsFrame
	if err := json.Unmarshal(b, &f); err != nil {
		c.log.Warn("malformed frame", applogger.Error(err))
		c.metrics.RecordError("upstream_parse")
		return
	}

	switch {
	case f.Event == "error":
		c.log.Warn("upstream error event",
			applogger.String("code", f.Code),
			applogger.String("msg", f.Msg),
		)
		return
	case f.Event != "":
		// subscribe/unsubscribe acks
		return
	case f.Arg.Channel != c.channel || len(f.Data) == 0:
		return
	}

	var ticks []tickerData
	if err := json.Unmarshal(f.Data, &ticks); err != nil {
		c.log.Warn("malformed ticker payload", applogger.Error(err))
		c.metrics.RecordError("upstream_parse")
		return
	}

	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler == nil {
		return
	}

	for _, td := range ticks {
		t, err := normalize(&td)
		if err != nil {
			c.log.Warn("dropping tick", applogger.String("instId", td.InstID), applogger.Error(err))
			c.metrics.RecordError("upstream_parse")
			continue
		}
		c.metrics.RecordTickReceived(t.Symbol)
		handler(t)
	}
}

func normalize(td *tickerData) (*models.Ticker, error) {
	if td.InstID == "" {
		return nil, fmt.Errorf("missing instId")
	}
	price, err := strconv.ParseFloat(td.Last, 64)
	if err != nil {
		return nil, fmt.Errorf("last: %w", err)
	}
	ts, err := strconv.ParseInt(td.TS, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("ts: %w", err)
	}

	t := &models.Ticker{
		Symbol:    td.InstID,
		Price:     price,
		Timestamp: ts,
	}
	// secondary fields are best-effort; a ticker without book sides is
	// still usable
	t.Open24h, _ = strconv.ParseFloat(td.Open24h, 64)
	t.High24h, _ = strconv.ParseFloat(td.High24h, 64)
	t.Low24h, _ = strconv.ParseFloat(td.Low24h, 64)
	t.Volume24h, _ = strconv.ParseFloat(td.Vol24h, 64)
	t.BestBid, _ = strconv.ParseFloat(td.BidPx, 64)
	t.BestAsk, _ = strconv.ParseFloat(td.AskPx, 64)
	return t, nil
}
