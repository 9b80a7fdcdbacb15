package realtime

import (
	"context"
	"sync"

	v1 "github.com/Karen86Tonoyan/automatzyacja/shared/contracts/realtime/v1"
)

// Client is the outbound side of one socket session.
//
// Send is never closed; done signals the writer and producers to stop. Close is idempotent.
type Client struct {
	SessionID string
	Send      chan v1.Frame

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		SessionID: sessionID,
		Send:      make(chan v1.Frame, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Done is closed when the session is shutting down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close signals the session goroutines to stop.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// TrySend queues f without waiting. It reports false when the queue is full or closed.
func (c *Client) TrySend(f v1.Frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- f:
		return true
	default:
		return false
	}
}

// SendWait queues f, waiting for room. Token streams use it so chunks are never skipped.
func (c *Client) SendWait(ctx context.Context, f v1.Frame) bool {
	select {
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	case c.Send <- f:
		return true
	}
}
