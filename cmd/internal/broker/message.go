package broker

import (
	"encoding/json"
	"strings"
	"time"
)

const maxChannelIDLen = 256

// Message is an immutable entry of a channel log.
// IDs are allocated per channel and are not comparable across channels.
type Message struct {
	ID        int64           `json:"id"`
	Channel   string          `json:"channel"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Reason tells a sink why a delivery happened.
type Reason string

const (
	ReasonPublished  Reason = "published"
	ReasonTimeout    Reason = "timeout"
	ReasonSuperseded Reason = "superseded"
)

// Delivery is what a sink receives: zero or more messages in ascending id order.
type Delivery struct {
	Messages []Message
	Reason   Reason
}

// Sink is the transport-specific end of a delivery.
//
// Deliver is called with the channel lock held and must not block. It returns false when
// the delivery was dropped (connection gone or queue full).
type Sink interface {
	Deliver(d Delivery) bool
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(d Delivery) bool

// Deliver implements Sink.
func (f SinkFunc) Deliver(d Delivery) bool { return f(d) }

func normalizeChannel(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > maxChannelIDLen {
		return "", ErrInvalidChannel
	}
	return id, nil
}
