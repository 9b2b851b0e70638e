package hub

import (
	"sync/atomic"
	"time"

	"TickRelay/internal/domain/models"
	applogger "TickRelay/pkg/logger"

	"github.com/gorilla/websocket"
)

// conn is one authenticated subscriber connection. The read pump is the
// only goroutine that mutates the topic set; the write pump is the only
// goroutine that writes to the socket.
type conn struct {
	hub     *Hub
	sock    *websocket.Conn
	subject string
	send    chan []byte
	done    chan struct{}
	topics  map[string]struct{}
	alive   atomic.Bool
	closed  atomic.Bool
}

func newConn(h *Hub, sock *websocket.Conn, subject string) *conn {
	c := &conn{
		hub:     h,
		sock:    sock,
		subject: subject,
		send:    make(chan []byte, h.sendBuffer),
		done:    make(chan struct{}),
		topics:  make(map[string]struct{}),
	}
	c.alive.Store(true)
	return c
}

// enqueue hands an encoded frame to the write pump without blocking.
// When the buffer is full the frame is dropped; the next batch carries
// fresh state anyway.
func (c *conn) enqueue(b []byte) {
	select {
	case <-c.done:
	case c.send <- b:
	default:
		c.hub.metrics.RecordError("subscriber_backpressure")
	}
}

func (c *conn) enqueueFrame(f *models.ServerFrame) {
	b, err := f.Encode()
	if err != nil {
		c.hub.log.Error("encode frame", applogger.Error(err))
		return
	}
	c.enqueue(b)
}

// readPump consumes client frames until the socket errors. Malformed
// frames are dropped; they never terminate the connection.
func (c *conn) readPump() {
	defer c.hub.drop(c)

	c.sock.SetReadLimit(maxFrameSize)
	c.sock.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			return
		}

		f, err := models.DecodeClientFrame(data)
		if err != nil {
			c.hub.log.Debug("dropping malformed frame",
				applogger.String("subject", c.subject),
				applogger.Error(err),
			)
			c.hub.metrics.RecordError("subscriber_frame")
			continue
		}

		switch f.Type {
		case models.FramePing:
			c.alive.Store(true)
			c.enqueueFrame(models.PongFrame())
		case models.FrameSubscribe:
			c.hub.subscribe(c, f.Topic)
			c.enqueueFrame(&models.ServerFrame{Type: models.FrameSubscribed, Topic: f.Topic})
		case models.FrameUnsubscribe:
			c.hub.unsubscribe(c, f.Topic)
			c.enqueueFrame(&models.ServerFrame{Type: models.FrameUnsubscribed, Topic: f.Topic})
		}
	}
}

// writePump owns all socket writes, including the heartbeat. A
// connection that misses exactly one heartbeat cycle is terminated.
func (c *conn) writePump() {
	ticker := time.NewTicker(c.hub.heartbeat)
	defer func() {
		ticker.Stop()
		c.hub.drop(c)
	}()

	for {
		select {
		case <-c.done:
			_ = c.write(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case b := <-c.send:
			if err := c.write(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			// Swap clears the flag armed by the previous ping; a false
			// result means no acknowledgement arrived in the last cycle
			if !c.alive.Swap(false) {
				c.hub.log.Debug("heartbeat missed", applogger.String("subject", c.subject))
				return
			}
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *conn) write(messageType int, b []byte) error {
	_ = c.sock.SetWriteDeadline(time.Now().Add(c.hub.writeTimeout))
	return c.sock.WriteMessage(messageType, b)
}
