package broker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Karen86Tonoyan/automatzyacja/cmd/internal/metrics"
)

// Registry owns every channel and the waiter/subscriber bookkeeping on them.
// Channels are created lazily on first reference and are kept for the process lifetime.
type Registry struct {
	log       *slog.Logger
	timer     Timer
	retention Retention
	metrics   *metrics.Metrics

	mu       sync.RWMutex
	channels map[string]*Channel
}

func newRegistry(log *slog.Logger, o options) *Registry {
	return &Registry{
		log:       log,
		timer:     o.timer,
		retention: o.retention,
		metrics:   o.metrics,
		channels:  make(map[string]*Channel),
	}
}

// channel returns the channel for id, creating it if needed.
func (r *Registry) channel(id string) *Channel {
	r.mu.RLock()
	c, ok := r.channels[id]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.channels[id]; ok {
		return c
	}
	c = newChannel(id, r.retention)
	r.channels[id] = c
	r.metrics.ChannelCreated()
	r.log.Debug("broker.channel.create", "channel", id)
	return c
}

func (r *Registry) lookup(id string) *Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channels[id]
}

// ChannelCount returns the number of channels created so far.
func (r *Registry) ChannelCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// MessagesSince returns the stored messages of channel with id > lastID, ascending.
// It never blocks on I/O, never mutates and never creates the channel.
func (r *Registry) MessagesSince(channel string, lastID int64) []Message {
	id, err := normalizeChannel(channel)
	if err != nil {
		return nil
	}
	c := r.lookup(id)
	if c == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log.since(lastID)
}

// RegisterLongPoll suspends a long-poll consumer on channel.
//
// Check and registration are one atomic step: when the log already holds messages newer
// than lastSeenID nothing is registered and the backlog is returned with ErrBacklogPending.
// An outstanding waiter on the same channel is superseded and receives an empty delivery.
// The waiter expires after timeout unless resolved or cancelled first.
func (r *Registry) RegisterLongPoll(channel string, sink Sink, lastSeenID int64, timeout time.Duration) (*Waiter, []Message, error) {
	id, err := normalizeChannel(channel)
	if err != nil {
		return nil, nil, err
	}
	if sink == nil {
		return nil, nil, ErrNilSink
	}
	if timeout <= 0 {
		return nil, nil, ErrInvalidTimeout
	}

	c := r.channel(id)

	c.mu.Lock()
	defer c.mu.Unlock()

	if backlog := c.log.since(lastSeenID); len(backlog) > 0 {
		return nil, backlog, ErrBacklogPending
	}

	// a cursor past the log comes from an earlier process lifetime; ids restarted at 1
	if last := c.log.lastID(); lastSeenID > last {
		r.log.Info("poll.cursor.reset", "channel", id, "last_seen_id", lastSeenID, "last_id", last)
		lastSeenID = last
	}

	if stale := c.waiter; stale != nil {
		c.finishLocked(stale)
		ok := stale.sink.Deliver(Delivery{Reason: ReasonSuperseded})
		r.metrics.Delivered(metrics.TransportLongPoll, string(ReasonSuperseded), ok)
		r.metrics.WaiterAdded(-1)
		r.log.Info("poll.superseded", "channel", id, "waiter", stale.id, "last_seen_id", stale.lastSeenID)
	}

	c.nextWait++
	w := &Waiter{
		id:         c.nextWait,
		channel:    c,
		sink:       sink,
		lastSeenID: lastSeenID,
	}
	c.waiter = w
	w.timer = r.timer.Schedule(timeout, func() { r.ExpireLongPoll(w) })
	r.metrics.WaiterAdded(1)

	r.log.Debug("poll.wait", "channel", id, "waiter", w.id, "last_seen_id", lastSeenID, "timeout", timeout)
	return w, nil, nil
}

// ResolveLongPoll delivers msgs to the channel's waiter, if any, and retires it.
// It reports whether a delivery happened.
func (r *Registry) ResolveLongPoll(channel string, msgs []Message) bool {
	id, err := normalizeChannel(channel)
	if err != nil {
		return false
	}
	c := r.lookup(id)
	if c == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return r.resolveLocked(c, msgs)
}

func (r *Registry) resolveLocked(c *Channel, msgs []Message) bool {
	w := c.waiter
	if w == nil || w.done {
		return false
	}
	if len(msgs) == 0 {
		return false
	}

	c.finishLocked(w)
	ok := w.sink.Deliver(Delivery{Messages: msgs, Reason: ReasonPublished})
	r.metrics.Delivered(metrics.TransportLongPoll, string(ReasonPublished), ok)
	r.metrics.WaiterAdded(-1)
	return true
}

// ExpireLongPoll is the timer path: if w is still registered it receives an empty delivery.
// It is a no-op when w already finished, so a late timer never resolves twice.
func (r *Registry) ExpireLongPoll(w *Waiter) bool {
	if w == nil {
		return false
	}
	c := w.channel

	c.mu.Lock()
	defer c.mu.Unlock()

	if w.done || c.waiter != w {
		return false
	}
	c.finishLocked(w)
	ok := w.sink.Deliver(Delivery{Reason: ReasonTimeout})
	r.metrics.Delivered(metrics.TransportLongPoll, string(ReasonTimeout), ok)
	r.metrics.WaiterAdded(-1)

	r.log.Debug("poll.timeout", "channel", c.ID, "waiter", w.id)
	return true
}

// CancelLongPoll removes w without delivering anything (client went away).
// It reports whether w was still registered.
func (r *Registry) CancelLongPoll(w *Waiter) bool {
	if w == nil {
		return false
	}
	c := w.channel

	c.mu.Lock()
	defer c.mu.Unlock()

	if w.done {
		return false
	}
	c.finishLocked(w)
	r.metrics.WaiterAdded(-1)

	r.log.Debug("poll.cancel", "channel", c.ID, "waiter", w.id)
	return true
}

// HasWaiter reports whether channel currently has an outstanding long-poll waiter.
func (r *Registry) HasWaiter(channel string) bool {
	c := r.lookup(channel)
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waiter != nil
}

// RegisterStream adds a stream subscriber to channel. It never blocks and does not
// touch the long-poll slot.
func (r *Registry) RegisterStream(channel string, sink Sink) (*Subscriber, error) {
	id, err := normalizeChannel(channel)
	if err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, ErrNilSink
	}

	c := r.channel(id)

	c.mu.Lock()
	c.nextSubID++
	s := &Subscriber{id: c.nextSubID, channel: c, sink: sink}
	c.subs[s.id] = s
	c.mu.Unlock()

	r.metrics.SubscriberAdded(1)
	r.log.Info("stream.subscribe", "channel", id, "subscriber", s.id)
	return s, nil
}

// UnregisterStream removes s. It is idempotent.
func (r *Registry) UnregisterStream(s *Subscriber) bool {
	if s == nil {
		return false
	}
	c := s.channel

	c.mu.Lock()
	_, ok := c.subs[s.id]
	delete(c.subs, s.id)
	c.mu.Unlock()

	if ok {
		r.metrics.SubscriberAdded(-1)
		r.log.Info("stream.unsubscribe", "channel", c.ID, "subscriber", s.id)
	}
	return ok
}

// SubscriberCount returns the number of stream subscribers on channel.
func (r *Registry) SubscriberCount(channel string) int {
	c := r.lookup(channel)
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}
