// Package longpoll binds held HTTP requests to the broker's long-poll waiter slot.
//
// Every request runs a small state machine:
//
//	checking -> immediate_reply            (backlog)
//	checking -> waiting -> resolved        (deliver | expire | supersede | disconnect)
package longpoll

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/Karen86Tonoyan/automatzyacja/cmd/internal/broker"
)

// States.
const (
	StateChecking       = "checking"
	StateImmediateReply = "immediate_reply"
	StateWaiting        = "waiting"
	StateResolved       = "resolved"
)

// Events.
const (
	EventBacklog    = "backlog"
	EventWait       = "wait"
	EventDeliver    = "deliver"
	EventExpire     = "expire"
	EventSupersede  = "supersede"
	EventDisconnect = "disconnect"
)

// Poll is one inbound long-poll request. It is also the broker sink the waiter delivers to.
type Poll struct {
	Channel string
	LastID  int64

	fsm     *fsm.FSM
	history []string
	result  chan broker.Delivery
}

func newPoll(channel string, lastID int64) *Poll {
	p := &Poll{
		Channel: channel,
		LastID:  lastID,
		result:  make(chan broker.Delivery, 1),
	}

	p.fsm = fsm.NewFSM(
		StateChecking,
		fsm.Events{
			{Name: EventBacklog, Src: []string{StateChecking}, Dst: StateImmediateReply},
			{Name: EventWait, Src: []string{StateChecking}, Dst: StateWaiting},

			{Name: EventDeliver, Src: []string{StateWaiting}, Dst: StateResolved},
			{Name: EventExpire, Src: []string{StateWaiting}, Dst: StateResolved},
			{Name: EventSupersede, Src: []string{StateWaiting}, Dst: StateResolved},
			{Name: EventDisconnect, Src: []string{StateWaiting}, Dst: StateResolved},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				p.history = append(p.history, e.Event)
			},
		},
	)
	return p
}

// Deliver implements broker.Sink. The broker delivers to a waiter at most once, so the
// buffered send never blocks.
func (p *Poll) Deliver(d broker.Delivery) bool {
	select {
	case p.result <- d:
		return true
	default:
		return false
	}
}

// State returns the current state.
func (p *Poll) State() string { return p.fsm.Current() }

// Events returns the events applied so far, in order.
func (p *Poll) Events() []string { return append([]string(nil), p.history...) }

func (p *Poll) transition(ctx context.Context, event string) error {
	if err := p.fsm.Event(ctx, event); err != nil {
		return fmt.Errorf("poll %s -> %s: %w", p.fsm.Current(), event, err)
	}
	return nil
}

func eventFor(r broker.Reason) string {
	switch r {
	case broker.ReasonPublished:
		return EventDeliver
	case broker.ReasonSuperseded:
		return EventSupersede
	default:
		return EventExpire
	}
}
