package broker

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	defaultRetentionMax  = 1000
	defaultRetentionKeep = 500
)

// Retention bounds a channel log: once it holds more than Max messages it is cut
// down to the newest Keep.
type Retention struct {
	Max  int
	Keep int
}

// DefaultRetention keeps the newest 500 messages after exceeding 1000.
func DefaultRetention() Retention {
	return Retention{Max: defaultRetentionMax, Keep: defaultRetentionKeep}
}

// Valid reports whether 0 < Keep < Max.
func (r Retention) Valid() bool {
	return r.Keep > 0 && r.Max > r.Keep
}

// messageLog is the append-only store of one channel.
// It is not safe for concurrent use; the owning Channel's lock guards it.
type messageLog struct {
	retention Retention

	seq  int64
	msgs []Message // ordered by ID
}

func newMessageLog(r Retention) messageLog {
	if !r.Valid() {
		r = DefaultRetention()
	}
	return messageLog{
		retention: r,
		msgs:      make([]Message, 0, 16),
	}
}

// append assigns the next id and stores the message. It returns the stored message and
// the number of messages trimmed from the head.
func (l *messageLog) append(channel string, payload json.RawMessage, now time.Time) (Message, int) {
	l.seq++
	msg := Message{
		ID:        l.seq,
		Channel:   channel,
		Payload:   payload,
		CreatedAt: now,
	}
	l.msgs = append(l.msgs, msg)

	if len(l.msgs) <= l.retention.Max {
		return msg, 0
	}

	dropped := len(l.msgs) - l.retention.Keep
	kept := make([]Message, l.retention.Keep, l.retention.Max+1)
	copy(kept, l.msgs[dropped:])
	l.msgs = kept

	return msg, dropped
}

// since returns a copy of all messages with ID > lastID in ascending order.
func (l *messageLog) since(lastID int64) []Message {
	start := sort.Search(len(l.msgs), func(i int) bool { return l.msgs[i].ID > lastID })
	if start >= len(l.msgs) {
		return nil
	}
	return append([]Message(nil), l.msgs[start:]...)
}

func (l *messageLog) len() int { return len(l.msgs) }

func (l *messageLog) lastID() int64 { return l.seq }
