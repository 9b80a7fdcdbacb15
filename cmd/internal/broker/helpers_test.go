package broker

import (
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// manualTimer fires callbacks only when advanced.
type manualTimer struct {
	mu    sync.Mutex
	now   time.Duration
	tasks []*manualTask
}

type manualTask struct {
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
	t       *manualTimer
}

func (t *manualTimer) Schedule(d time.Duration, fn func()) TimerHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	task := &manualTask{at: t.now + d, fn: fn, t: t}
	t.tasks = append(t.tasks, task)
	return task
}

func (k *manualTask) Stop() bool {
	k.t.mu.Lock()
	defer k.t.mu.Unlock()
	if k.stopped || k.fired {
		return false
	}
	k.stopped = true
	return true
}

// Advance moves the clock and runs every due callback outside the timer lock.
func (t *manualTimer) Advance(d time.Duration) {
	t.mu.Lock()
	t.now += d
	var due []*manualTask
	for _, k := range t.tasks {
		if !k.stopped && !k.fired && k.at <= t.now {
			k.fired = true
			due = append(due, k)
		}
	}
	t.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, k := range due {
		k.fn()
	}
}

func (t *manualTimer) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, k := range t.tasks {
		if !k.stopped && !k.fired {
			n++
		}
	}
	return n
}

// recorder is a Sink that keeps every delivery.
type recorder struct {
	mu  sync.Mutex
	got []Delivery
}

func (r *recorder) Deliver(d Delivery) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, d)
	return true
}

func (r *recorder) deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.got...)
}

func (r *recorder) ids() []int64 {
	var out []int64
	for _, d := range r.deliveries() {
		for _, m := range d.Messages {
			out = append(out, m.ID)
		}
	}
	return out
}

func newTestBroker(opts ...Option) (*Broker, *manualTimer) {
	tm := &manualTimer{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(log, append([]Option{WithTimer(tm)}, opts...)...), tm
}

func payload(s string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"text": s})
	return b
}
