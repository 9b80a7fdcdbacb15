// Package stream serves channel messages as a text/event-stream.
//
// A subscriber sees only messages published while it is connected. Each message is one
// "id:/data:" frame; comment frames keep idle intermediaries from closing the connection.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Karen86Tonoyan/automatzyacja/cmd/internal/broker"
	"github.com/Karen86Tonoyan/automatzyacja/cmd/internal/httpjson"
)

const (
	defaultKeepAlive  = 15 * time.Second
	defaultQueueSize  = 64
	defaultRetryDelay = 3 * time.Second
)

// Registry is the part of the broker a stream needs.
type Registry interface {
	RegisterStream(channel string, sink broker.Sink) (*broker.Subscriber, error)
	UnregisterStream(s *broker.Subscriber) bool
}

// Config tunes stream connections.
type Config struct {
	KeepAlive  time.Duration
	QueueSize  int
	RetryDelay time.Duration
}

func (c Config) normalized() Config {
	if c.KeepAlive <= 0 {
		c.KeepAlive = defaultKeepAlive
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	return c
}

// Handler serves GET /stream?channel=.
type Handler struct {
	log *slog.Logger
	reg Registry
	cfg Config

	closeOnce sync.Once
	done      chan struct{}
}

// NewHandler returns a stream handler on reg.
func NewHandler(log *slog.Logger, reg Registry, cfg Config) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		log:  log,
		reg:  reg,
		cfg:  cfg.normalized(),
		done: make(chan struct{}),
	}
}

// Close ends every open stream. Used on server shutdown, since streams never go idle.
func (h *Handler) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// queue is the subscriber sink: a bounded buffer the broker fills without blocking.
type queue chan broker.Message

func (q queue) Deliver(d broker.Delivery) bool {
	for _, m := range d.Messages {
		select {
		case q <- m:
		default:
			return false
		}
	}
	return true
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	channel := strings.TrimSpace(r.URL.Query().Get("channel"))
	if channel == "" {
		channel = strings.TrimSpace(r.URL.Query().Get("conversationId"))
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httpjson.WriteError(w, http.StatusInternalServerError, httpjson.CodeInternal, "streaming unsupported")
		return
	}

	q := make(queue, h.cfg.QueueSize)
	sub, err := h.reg.RegisterStream(channel, q)
	if err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, httpjson.CodeInvalidChannel, "channel is required")
		return
	}
	defer h.reg.UnregisterStream(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprintf(w, "retry: %d\n\n: connected\n\n", h.cfg.RetryDelay.Milliseconds()); err != nil {
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(h.cfg.KeepAlive)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case m := <-q:
			if err := writeEvent(w, m); err != nil {
				h.log.Debug("stream.write.fail", "channel", channel, "message_id", m.ID, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, m broker.Message) error {
	data, err := json.Marshal(httpjson.Message(m))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\ndata: %s\n\n", m.ID, data)
	return err
}
