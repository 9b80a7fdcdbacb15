package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Karen86Tonoyan/automatzyacja/cmd/internal/metrics"
)

type options struct {
	timer     Timer
	retention Retention
	now       func() time.Time
	metrics   *metrics.Metrics
}

// Option configures a Broker.
type Option func(*options)

// WithTimer replaces the wall-clock timer used for long-poll expiry.
func WithTimer(t Timer) Option {
	return func(o *options) {
		if t != nil {
			o.timer = t
		}
	}
}

// WithRetention sets the per-channel retention. Invalid values fall back to the default.
func WithRetention(r Retention) Option {
	return func(o *options) {
		if r.Valid() {
			o.retention = r
		}
	}
}

// WithClock sets the clock used to stamp messages.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMetrics records broker activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Broker is the dispatch engine: it appends published messages and hands them to
// every consumer of the channel.
type Broker struct {
	*Registry
	now func() time.Time
}

// New returns a Broker with no channels.
func New(log *slog.Logger, opts ...Option) *Broker {
	if log == nil {
		log = slog.Default()
	}
	o := options{
		timer:     SystemTimer(),
		retention: DefaultRetention(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Broker{
		Registry: newRegistry(log, o),
		now:      o.now,
	}
}

// Publish appends payload to channel and delivers the new message.
//
// Append, long-poll resolution and stream fan-out happen under the channel lock, so any
// registration that runs after Publish returns sees the message in the log, and every
// consumer observes messages of one channel in id order.
// Sinks that cannot accept the message drop it; Publish never waits on a consumer.
func (b *Broker) Publish(ctx context.Context, channel string, payload json.RawMessage) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	id, err := normalizeChannel(channel)
	if err != nil {
		return Message{}, err
	}
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) || !json.Valid(payload) {
		return Message{}, ErrInvalidPayload
	}
	payload = bytes.Clone(payload)

	c := b.channel(id)

	c.mu.Lock()
	defer c.mu.Unlock()

	msg, trimmed := c.log.append(id, payload, b.now().UTC())
	b.metrics.Published()
	if trimmed > 0 {
		b.metrics.Trimmed(trimmed)
		b.log.Debug("broker.channel.trim", "channel", id, "dropped", trimmed, "kept", c.log.len())
	}

	resolved := b.resolveLocked(c, []Message{msg})

	d := Delivery{Messages: []Message{msg}, Reason: ReasonPublished}
	for _, s := range c.subs {
		ok := s.sink.Deliver(d)
		b.metrics.Delivered(metrics.TransportStream, string(ReasonPublished), ok)
		if !ok {
			b.log.Warn("stream.drop", "channel", id, "subscriber", s.id, "message_id", msg.ID)
		}
	}

	b.log.Debug("broker.publish",
		"channel", id,
		"message_id", msg.ID,
		"resolved_waiter", resolved,
		"subscribers", len(c.subs),
	)
	return msg, nil
}

// Stats is a point-in-time view of the broker.
type Stats struct {
	Channels    int `json:"channels"`
	Waiters     int `json:"waiters"`
	Subscribers int `json:"subscribers"`
	Messages    int `json:"messages"`
}

// Stats walks all channels. It takes each channel lock briefly.
func (b *Broker) Stats() Stats {
	b.mu.RLock()
	chans := make([]*Channel, 0, len(b.channels))
	for _, c := range b.channels {
		chans = append(chans, c)
	}
	b.mu.RUnlock()

	st := Stats{Channels: len(chans)}
	for _, c := range chans {
		c.mu.Lock()
		if c.waiter != nil {
			st.Waiters++
		}
		st.Subscribers += len(c.subs)
		st.Messages += c.log.len()
		c.mu.Unlock()
	}
	return st
}

// LastID returns the id of the newest message ever published to channel, or 0.
func (b *Broker) LastID(channel string) int64 {
	c := b.lookup(channel)
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log.lastID()
}
