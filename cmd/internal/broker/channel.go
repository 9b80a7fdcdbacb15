package broker

import "sync"

// Channel is the per-channel state: message log, long-poll waiter slot and stream subscribers.
//
// Concurrency guarantees:
//   - every field below mu is read and written only with mu held.
//   - the waiter slot holds at most one waiter.
//   - a waiter finishes exactly once (resolve, expire, supersede or cancel).
type Channel struct {
	ID string

	mu        sync.Mutex
	log       messageLog
	waiter    *Waiter
	subs      map[uint64]*Subscriber
	nextWait  uint64
	nextSubID uint64
}

func newChannel(id string, r Retention) *Channel {
	return &Channel{
		ID:   id,
		log:  newMessageLog(r),
		subs: make(map[uint64]*Subscriber),
	}
}

// Waiter is a long-poll consumer suspended on a channel.
type Waiter struct {
	id         uint64
	channel    *Channel
	sink       Sink
	lastSeenID int64
	timer      TimerHandle
	done       bool
}

// Channel returns the waiter's channel id.
func (w *Waiter) Channel() string { return w.channel.ID }

// LastSeenID is the lastId the poll was registered with.
func (w *Waiter) LastSeenID() int64 { return w.lastSeenID }

// Subscriber is a standing stream subscription.
type Subscriber struct {
	id      uint64
	channel *Channel
	sink    Sink
}

// Channel returns the subscriber's channel id.
func (s *Subscriber) Channel() string { return s.channel.ID }

// finishLocked retires w: marks it done, stops its timer and frees the slot.
func (c *Channel) finishLocked(w *Waiter) {
	w.done = true
	if w.timer != nil {
		w.timer.Stop()
	}
	if c.waiter == w {
		c.waiter = nil
	}
}
