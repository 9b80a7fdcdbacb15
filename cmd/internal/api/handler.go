// Package api serves the JSON endpoints around the broker: publish, producer send and health.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Karen86Tonoyan/automatzyacja/cmd/internal/broker"
	"github.com/Karen86Tonoyan/automatzyacja/cmd/internal/httpjson"
	"github.com/Karen86Tonoyan/automatzyacja/cmd/internal/producer"
	v1 "github.com/Karen86Tonoyan/automatzyacja/shared/contracts/realtime/v1"
)

const (
	defaultMaxBody     = 256 << 10
	defaultSendTimeout = 2 * time.Minute
)

// Broker is what the handlers need from the dispatch engine.
type Broker interface {
	Publish(ctx context.Context, channel string, payload json.RawMessage) (broker.Message, error)
	ChannelCount() int
}

// Handler wires HTTP endpoints to the broker and the producer.
type Handler struct {
	log    *slog.Logger
	broker Broker
	runner producer.Runner

	started     time.Time
	now         func() time.Time
	maxBody     int64
	sendTimeout time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithClock overrides time.Now for uptime reporting.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// WithMaxBody bounds request bodies.
func WithMaxBody(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

// WithSendTimeout bounds one producer run started by /send.
func WithSendTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.sendTimeout = d
		}
	}
}

// New returns a Handler. runner may be nil, in which case /send answers 503.
func New(log *slog.Logger, b Broker, runner producer.Runner, opts ...Option) *Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		log:         log,
		broker:      b,
		runner:      runner,
		now:         time.Now,
		maxBody:     defaultMaxBody,
		sendTimeout: defaultSendTimeout,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	h.started = h.now()
	return h
}

// Register wires the routes onto r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/publish", h.handlePublish)
	r.Post("/send", h.handleSend)
	r.Get("/health", h.handleHealth)
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req v1.PublishRequest
	if err := httpjson.Decode(w, r, h.maxBody, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, httpjson.CodeInvalidRequest, "invalid json body")
		return
	}

	msg, err := h.broker.Publish(r.Context(), req.Channel, req.Body())
	if err != nil {
		h.writePublishError(w, err)
		return
	}

	httpjson.Write(w, http.StatusOK, v1.PublishResponse{OK: true, Message: httpjson.Message(msg)})
}

func (h *Handler) writePublishError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, broker.ErrInvalidChannel):
		httpjson.WriteError(w, http.StatusBadRequest, httpjson.CodeInvalidChannel, "channel is required")
	case errors.Is(err, broker.ErrInvalidPayload):
		httpjson.WriteError(w, http.StatusBadRequest, httpjson.CodeInvalidPayload, "payload must be a JSON value")
	default:
		h.log.Error("api.publish.fail", "err", err)
		httpjson.WriteError(w, http.StatusInternalServerError, httpjson.CodeInternal, "publish failed")
	}
}

// handleSend runs the producer and publishes its output to the channel as socket-shaped frames,
// so long-poll and stream clients see the same stream_chunk/response sequence a socket would.
func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		httpjson.WriteError(w, http.StatusServiceUnavailable, httpjson.CodeInternal, "producer disabled")
		return
	}

	var req v1.SendRequest
	if err := httpjson.Decode(w, r, h.maxBody, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, httpjson.CodeInvalidRequest, "invalid json body")
		return
	}
	channel := strings.TrimSpace(req.Channel)
	if channel == "" {
		channel = strings.TrimSpace(req.ConversationID)
	}
	if channel == "" {
		httpjson.WriteError(w, http.StatusBadRequest, httpjson.CodeInvalidChannel, "channel is required")
		return
	}

	switch req.Type {
	case v1.TypeRun:
		if strings.TrimSpace(req.Prompt) == "" {
			httpjson.WriteError(w, http.StatusBadRequest, httpjson.CodeInvalidRequest, "prompt is required")
			return
		}
	case v1.TypeCreateChain:
		if err := v1.ValidateSteps(req.Steps); err != nil {
			httpjson.WriteError(w, http.StatusBadRequest, httpjson.CodeInvalidRequest, err.Error())
			return
		}
	default:
		httpjson.WriteError(w, http.StatusBadRequest, httpjson.CodeInvalidRequest, "unknown type")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.sendTimeout)
	defer cancel()

	result, err := h.run(ctx, channel, req)
	if err != nil {
		h.log.Warn("api.send.fail", "channel", channel, "type", req.Type, "err", err)
		h.publishFrame(ctx, channel, v1.Error(err.Error()))
		httpjson.WriteError(w, http.StatusBadGateway, httpjson.CodeUpstream, err.Error())
		return
	}

	h.publishFrame(ctx, channel, v1.Response(result))
	httpjson.Write(w, http.StatusOK, v1.SendResponse{Success: true, Result: result})
}

func (h *Handler) run(ctx context.Context, channel string, req v1.SendRequest) (json.RawMessage, error) {
	var out any
	switch req.Type {
	case v1.TypeRun:
		var onChunk producer.ChunkFunc
		if req.Streaming {
			onChunk = func(tok string) { h.publishFrame(ctx, channel, v1.Chunk(tok)) }
		}
		text, err := h.runner.Run(ctx, channel, req.Prompt, onChunk)
		if err != nil {
			return nil, err
		}
		out = text
	case v1.TypeCreateChain:
		res, err := producer.RunChain(ctx, h.runner, channel, req.Steps)
		if err != nil {
			return nil, err
		}
		out = res
	}
	return json.Marshal(out)
}

func (h *Handler) publishFrame(ctx context.Context, channel string, f v1.Frame) {
	b, err := json.Marshal(f)
	if err != nil {
		h.log.Error("api.send.encode.fail", "channel", channel, "type", f.Type, "err", err)
		return
	}
	// the frame belongs to the channel even if the sender hung up
	if _, err := h.broker.Publish(context.WithoutCancel(ctx), channel, b); err != nil {
		h.log.Error("api.send.publish.fail", "channel", channel, "type", f.Type, "err", err)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httpjson.Write(w, http.StatusOK, v1.Health{
		Status:       "ok",
		ChannelCount: h.broker.ChannelCount(),
		Uptime:       h.now().Sub(h.started).Seconds(),
	})
}
