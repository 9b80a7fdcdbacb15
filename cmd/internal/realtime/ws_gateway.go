// Package realtime is the socket transport: a websocket gateway that binds each connection to a
// channel and routes typed frames between the client and the producer.
//
// Socket traffic bypasses the broker entirely; nothing is stored or replayed.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Karen86Tonoyan/automatzyacja/cmd/internal/ids"
	"github.com/Karen86Tonoyan/automatzyacja/cmd/internal/metrics"
	"github.com/Karen86Tonoyan/automatzyacja/cmd/internal/producer"
	v1 "github.com/Karen86Tonoyan/automatzyacja/shared/contracts/realtime/v1"
)

const (
	// Subprotocol is offered to clients that ask for it; plain connections are accepted too.
	Subprotocol = "comet.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3
)

// Config is the socket policy. Zero durations and sizes take the package defaults.
type Config struct {
	DevInsecure    bool
	OriginRequired bool
	AllowedOrigins []string

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	RateEvents int
	RateWindow time.Duration
}

func (c Config) normalized() Config {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = wsDefaultWriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = wsDefaultReadIdle
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = wsDefaultSendQueueSize
	}
	if c.SendQueueSize < wsMinSendQueueSize {
		c.SendQueueSize = wsMinSendQueueSize
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = heartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = heartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = rateLimitEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = rateLimitWindow
	}
	return c
}

// Gateway is the websocket entrypoint.
//
// It enforces origin policy, rate limits and heartbeats, and hands run/create_chain/clear_memory
// requests to the producer on a per-session worker so reads (and pongs) never stall.
type Gateway struct {
	log     *slog.Logger
	runner  producer.Runner
	metrics *metrics.Metrics
	cfg     Config

	originPatterns []string

	closeOnce sync.Once
	done      chan struct{}
}

// NewGateway returns a gateway serving runner.
func NewGateway(log *slog.Logger, runner producer.Runner, m *metrics.Metrics, cfg Config) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.normalized()
	return &Gateway{
		log:            log,
		runner:         runner,
		metrics:        m,
		cfg:            cfg,
		originPatterns: originPatterns(cfg.AllowedOrigins),
		done:           make(chan struct{}),
	}
}

// Close asks every open session to go away.
func (g *Gateway) Close() {
	g.closeOnce.Do(func() { close(g.done) })
}

// job is a producer request queued by the read loop.
type job struct {
	frame   v1.Frame
	channel string
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(maxFrameBytes)

	sessionID, err := ids.New(ids.PrefixSession, time.Now().UTC())
	if err != nil {
		g.log.Error("ws.session.id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "session id")
		return
	}

	g.metrics.SocketAdded(1)
	defer g.metrics.SocketAdded(-1)
	g.log.Info("ws.session.open", "session_id", sessionID, "remote", r.RemoteAddr)

	client := NewClient(sessionID, g.cfg.SendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)
	jobs := make(chan job, maxPendingJobs)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case f := <-client.Send:
				if err := writeFrame(ctx, conn, f, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-g.done:
				shutdown(websocket.StatusGoingAway, "server shutdown")
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case j := <-jobs:
				g.handleJob(ctx, client, j)
			}
		}
	}()

	var channel string

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		f, err := readFrame(readCtx, conn)
		readCancel()

		var badJSON bool
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				badJSON = true
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		if !rl.Allow(time.Now().UTC()) {
			client.TrySend(v1.Error("too many events"))
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if badJSON {
			client.TrySend(v1.Error("invalid JSON"))
			continue readLoop
		}

		if err := f.Validate(); err != nil {
			client.TrySend(v1.Error(err.Error()))
			continue readLoop
		}

		g.log.Debug("ws.frame", "session_id", sessionID, "type", f.Type)

		if f.Type != v1.TypeInit && channel == "" {
			client.TrySend(v1.Error("init required"))
			continue readLoop
		}

		switch f.Type {
		case v1.TypeInit:
			channel = f.ChannelID()
			if !client.TrySend(v1.InitOK(channel, sessionID)) {
				shutdown(websocket.StatusPolicyViolation, "backpressure")
				break readLoop
			}
			g.log.Info("ws.session.init", "session_id", sessionID, "channel", channel)

		case v1.TypeToolResult:
			g.log.Info("ws.tool_result", "session_id", sessionID, "channel", channel, "call_id", f.CallID, "result_bytes", len(f.Result))

		default:
			if f.Type == v1.TypeRun && len([]rune(f.Prompt)) > maxPromptChars {
				client.TrySend(v1.Error("prompt too long"))
				continue readLoop
			}
			select {
			case jobs <- job{frame: f, channel: channel}:
			default:
				client.TrySend(v1.Error("too many pending requests"))
			}
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone
	<-workerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
	g.log.Info("ws.session.close", "session_id", sessionID, "channel", channel)
}

// handleJob runs one producer request and queues its frames in order.
func (g *Gateway) handleJob(ctx context.Context, client *Client, j job) {
	f := j.frame
	if g.runner == nil {
		client.SendWait(ctx, v1.Error("producer disabled"))
		return
	}

	switch f.Type {
	case v1.TypeRun:
		var onChunk producer.ChunkFunc
		if f.Streaming {
			onChunk = func(tok string) { client.SendWait(ctx, v1.Chunk(tok)) }
		}
		text, err := g.runner.Run(ctx, j.channel, f.Prompt, onChunk)
		if err != nil {
			g.fail(ctx, client, j, err)
			return
		}
		g.respond(ctx, client, text)

	case v1.TypeCreateChain:
		res, err := producer.RunChain(ctx, g.runner, j.channel, f.Steps)
		if err != nil {
			g.fail(ctx, client, j, err)
			return
		}
		g.respond(ctx, client, res)

	case v1.TypeClearMemory:
		g.runner.Clear(j.channel)
		client.SendWait(ctx, v1.Frame{Type: v1.TypeMemoryCleared})
	}
}

func (g *Gateway) respond(ctx context.Context, client *Client, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		client.SendWait(ctx, v1.Error("encode response"))
		return
	}
	client.SendWait(ctx, v1.Response(b))
}

func (g *Gateway) fail(ctx context.Context, client *Client, j job, err error) {
	if ctx.Err() != nil {
		return
	}
	g.log.Warn("ws.job.fail", "session_id", client.SessionID, "channel", j.channel, "type", j.frame.Type, "err", err)
	client.SendWait(ctx, v1.Error(err.Error()))
}

// ---- frame IO ----

// errBadJSON marks a frame that arrived intact but did not decode.
var errBadJSON = errors.New("bad json")

func readFrame(ctx context.Context, conn *websocket.Conn) (v1.Frame, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Frame{}, err
	}
	var f v1.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return v1.Frame{}, errors.Join(errBadJSON, err)
	}
	return f, nil
}

func writeFrame(parent context.Context, conn *websocket.Conn, f v1.Frame, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	switch {
	case errors.Is(err, errBadJSON):
		return readErrBadJSON
	case websocket.CloseStatus(err) != -1:
		return readErrClose
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return readErrCtxDone
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		return readErrConnClosed
	}
	return readErrUnknown
}
