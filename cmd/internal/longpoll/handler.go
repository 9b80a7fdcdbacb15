package longpoll

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Karen86Tonoyan/automatzyacja/cmd/internal/broker"
	"github.com/Karen86Tonoyan/automatzyacja/cmd/internal/httpjson"
	v1 "github.com/Karen86Tonoyan/automatzyacja/shared/contracts/realtime/v1"
)

const (
	defaultTimeout = 25 * time.Second
	defaultMax     = 60 * time.Second
	maxBodyBytes   = 16 << 10
)

// Registry is the part of the broker a long-poll needs.
type Registry interface {
	RegisterLongPoll(channel string, sink broker.Sink, lastSeenID int64, timeout time.Duration) (*broker.Waiter, []broker.Message, error)
	CancelLongPoll(w *broker.Waiter) bool
}

// Config bounds poll timeouts.
type Config struct {
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
}

func (c Config) normalized() Config {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = defaultTimeout
	}
	if c.MaxTimeout <= 0 {
		c.MaxTimeout = defaultMax
	}
	if c.DefaultTimeout > c.MaxTimeout {
		c.DefaultTimeout = c.MaxTimeout
	}
	return c
}

// Handler serves GET /poll and POST /poll.
type Handler struct {
	log *slog.Logger
	reg Registry
	cfg Config
}

// NewHandler returns a long-poll handler on reg.
func NewHandler(log *slog.Logger, reg Registry, cfg Config) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, reg: reg, cfg: cfg.normalized()}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := h.parse(w, r)
	if err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, httpjson.CodeInvalidRequest, err.Error())
		return
	}

	msgs, err := h.Poll(r.Context(), req)
	switch {
	case errors.Is(err, broker.ErrInvalidChannel):
		httpjson.WriteError(w, http.StatusBadRequest, httpjson.CodeInvalidChannel, "channel is required")
		return
	case errors.Is(err, errDisconnected):
		// nobody left to answer
		return
	case err != nil:
		h.log.Error("poll.fail", "channel", req.Channel, "error", err)
		httpjson.WriteError(w, http.StatusInternalServerError, httpjson.CodeInternal, "poll failed")
		return
	}

	httpjson.Write(w, http.StatusOK, v1.PollResponse{Messages: httpjson.Messages(msgs)})
}

var errDisconnected = errors.New("longpoll: client disconnected")

// Request is a parsed poll.
type Request struct {
	Channel string
	LastID  int64
	Timeout time.Duration
}

// Poll runs one long-poll to completion. It returns the messages to answer with (possibly none),
// or errDisconnected when ctx ended first.
func (h *Handler) Poll(ctx context.Context, req Request) ([]broker.Message, error) {
	p := newPoll(req.Channel, req.LastID)
	// transitions must not fail because the request context is gone
	fctx := context.WithoutCancel(ctx)

	waiter, backlog, err := h.reg.RegisterLongPoll(req.Channel, p, req.LastID, req.Timeout)
	switch {
	case errors.Is(err, broker.ErrBacklogPending):
		if err := p.transition(fctx, EventBacklog); err != nil {
			return nil, err
		}
		h.log.Debug("poll.immediate", "channel", req.Channel, "last_id", req.LastID, "count", len(backlog))
		return backlog, nil
	case err != nil:
		return nil, err
	}

	if err := p.transition(fctx, EventWait); err != nil {
		h.reg.CancelLongPoll(waiter)
		return nil, err
	}

	select {
	case d := <-p.result:
		if err := p.transition(fctx, eventFor(d.Reason)); err != nil {
			return nil, err
		}
		return d.Messages, nil

	case <-ctx.Done():
		if !h.reg.CancelLongPoll(waiter) {
			// a delivery won the race; the connection is gone either way
			<-p.result
		}
		if err := p.transition(fctx, EventDisconnect); err != nil {
			return nil, err
		}
		h.log.Debug("poll.disconnect", "channel", req.Channel, "last_id", req.LastID)
		return nil, errDisconnected
	}
}

func (h *Handler) parse(w http.ResponseWriter, r *http.Request) (Request, error) {
	var (
		channel   string
		lastID    int64
		timeoutMS int64
	)

	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		channel = q.Get("channel")
		if channel == "" {
			channel = q.Get("conversationId")
		}
		var err error
		if lastID, err = parseInt(q.Get("lastId"), "lastId"); err != nil {
			return Request{}, err
		}
		if timeoutMS, err = parseInt(q.Get("timeout"), "timeout"); err != nil {
			return Request{}, err
		}

	case http.MethodPost:
		var body v1.PollRequest
		if err := httpjson.Decode(w, r, maxBodyBytes, &body); err != nil {
			return Request{}, errors.New("invalid json body")
		}
		channel = body.Channel
		if channel == "" {
			channel = body.ConversationID
		}
		lastID, timeoutMS = body.LastID, body.TimeoutMS

	default:
		return Request{}, errors.New("method not allowed")
	}

	if lastID < 0 {
		return Request{}, errors.New("lastId must not be negative")
	}
	if timeoutMS < 0 {
		return Request{}, errors.New("timeout must not be negative")
	}

	return Request{
		Channel: strings.TrimSpace(channel),
		LastID:  lastID,
		Timeout: h.timeout(timeoutMS),
	}, nil
}

func (h *Handler) timeout(ms int64) time.Duration {
	if ms <= 0 {
		return h.cfg.DefaultTimeout
	}
	// compare before multiplying; huge values overflow Duration
	if ms >= h.cfg.MaxTimeout.Milliseconds() {
		return h.cfg.MaxTimeout
	}
	return time.Duration(ms) * time.Millisecond
}

func parseInt(s, name string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return n, nil
}
