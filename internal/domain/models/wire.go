package models

import (
	"encoding/json"
	"fmt"
)

// Subscriber protocol frames. Both directions use a tagged union
// discriminated by "type"; frames are validated when decoded, not
// treated as open-ended maps.

const (
	// client -> server
	FramePing        = "ping"
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"

	// server -> client
	FrameConnected    = "connected"
	FramePong         = "pong"
	FrameSubscribed   = "subscribed"
	FrameUnsubscribed = "unsubscribed"
	FrameTickerBatch  = "ticker_batch"
	FrameTicker       = "ticker"
	FrameWhaleAlert   = "whale_alert"
)

// ClientFrame is a decoded client -> server message.
type ClientFrame struct {
	Type  string `json:"type"`
	Topic string `json:"topic,omitempty"`
}

// DecodeClientFrame parses and validates an inbound subscriber frame.
func DecodeClientFrame(data []byte) (*ClientFrame, error) {
	var f ClientFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	switch f.Type {
	case FramePing:
	case FrameSubscribe, FrameUnsubscribe:
		if f.Topic == "" {
			return nil, fmt.Errorf("frame %q: topic required", f.Type)
		}
	default:
		return nil, fmt.Errorf("unknown frame type %q", f.Type)
	}
	return &f, nil
}

// ServerFrame is a server -> client message.
type ServerFrame struct {
	Type           string         `json:"type"`
	Topic          string         `json:"topic,omitempty"`
	Updates        []TickerUpdate `json:"updates,omitempty"`
	Data           *TickerUpdate  `json:"data,omitempty"`
	Alert          *AnomalyEvent  `json:"alert,omitempty"`
	Timestamp      int64          `json:"timestamp,omitempty"`
	BatchTimestamp int64          `json:"batchTimestamp,omitempty"`
}

// Encode validates and marshals a server frame.
func (f *ServerFrame) Encode() ([]byte, error) {
	switch f.Type {
	case FrameConnected, FramePong:
	case FrameSubscribed, FrameUnsubscribed:
		if f.Topic == "" {
			return nil, fmt.Errorf("frame %q: topic required", f.Type)
		}
	case FrameTickerBatch:
		if f.BatchTimestamp == 0 {
			return nil, fmt.Errorf("ticker_batch: batchTimestamp required")
		}
	case FrameTicker:
		if f.Topic == "" || f.Data == nil {
			return nil, fmt.Errorf("ticker: topic and data required")
		}
	case FrameWhaleAlert:
		if f.Alert == nil {
			return nil, fmt.Errorf("whale_alert: alert required")
		}
	default:
		return nil, fmt.Errorf("unknown frame type %q", f.Type)
	}
	return json.Marshal(f)
}

// ConnectedFrame builds the handshake acknowledgement.
func ConnectedFrame() *ServerFrame { return &ServerFrame{Type: FrameConnected} }

// PongFrame answers a client ping.
func PongFrame() *ServerFrame { return &ServerFrame{Type: FramePong} }
