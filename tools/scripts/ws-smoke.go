// Package main is a CI-friendly smoke test against a running server.
//
// It validates:
//   - socket init/init_ok handshake
//   - streamed run (stream_chunk* then response)
//   - clear_memory ack
//   - publish -> long-poll delivery with lastId
//   - publish -> event stream frame
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "github.com/Karen86Tonoyan/automatzyacja/shared/contracts/realtime/v1"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	conn      *websocket.Conn
	sessionID string

	inbox  chan v1.Frame
	errCh  chan error
	onSkip func(v1.Frame)
}

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:8080", "Server base URL")
		origin  = flag.String("origin", "http://localhost", "Origin header for the socket handshake")
		channel = flag.String("channel", fmt.Sprintf("smoke-%d", time.Now().UnixNano()), "Channel to use")
		prompt  = flag.String("prompt", "hello comet", "Prompt for the run step")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	base, err := validateBaseURL(*baseURL)
	if err != nil {
		fatalf("invalid -url: %v", err)
	}

	root := context.Background()

	c := mustConnect(root, wsURL(base), *origin, *channel, *timeout)
	defer closeWS(c.conn)
	if *verbose {
		fmt.Printf("socket: session=%s channel=%s\n", c.sessionID, *channel)
	}

	text := mustRun(root, c, *prompt, *timeout)
	if *verbose {
		fmt.Printf("run: %q\n", text)
	}

	mustWrite(root, c.conn, v1.Frame{Type: v1.TypeClearMemory}, *timeout)
	c.mustReadUntilType(root, v1.TypeMemoryCleared, *timeout, nil)

	sse, events := mustOpenStream(root, base, *channel, *timeout)
	defer func() { _ = sse.Body.Close() }()

	first := mustPublish(root, base, *channel, map[string]string{"text": "a"}, *timeout)
	polled := mustPoll(root, base, *channel, first.ID-1, *timeout)
	if len(polled) != 1 || polled[0].ID != first.ID {
		fatalf("poll: want [%d], got %+v", first.ID, polled)
	}

	mustStreamEvent(events, first.ID, *timeout)

	fmt.Printf("OK: session=%s channel=%s message_id=%d\n", c.sessionID, *channel, first.ID)
}

func validateBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

func wsURL(base *url.URL) string {
	u := *base
	u.Scheme = "ws"
	if base.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	return u.String()
}

func mustConnect(parent context.Context, wsURL, origin, channel string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v", err)
	}
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		conn:  conn,
		inbox: make(chan v1.Frame, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	mustWrite(parent, conn, v1.Frame{Type: v1.TypeInit, Channel: channel}, stepTimeout)
	ack := c.mustReadUntilType(parent, v1.TypeInitOK, stepTimeout, nil)
	if ack.Channel != channel {
		fatalf("init_ok channel mismatch: got=%q want=%q", ack.Channel, channel)
	}
	if strings.TrimSpace(ack.SessionID) == "" {
		fatalf("init_ok missing sessionId")
	}
	c.sessionID = ack.SessionID
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			var f v1.Frame
			if err := json.Unmarshal(data, &f); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- f:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustRun(parent context.Context, c *smokeClient, prompt string, stepTimeout time.Duration) string {
	mustWrite(parent, c.conn, v1.Frame{Type: v1.TypeRun, Prompt: prompt, Streaming: true}, stepTimeout)

	var (
		sb   strings.Builder
		skip = map[string]struct{}{v1.TypeStreamChunk: {}}
	)
	c.onSkip = func(f v1.Frame) { sb.WriteString(f.Chunk) }
	defer func() { c.onSkip = nil }()

	resp := c.mustReadUntilType(parent, v1.TypeResponse, stepTimeout, skip)

	var text string
	if err := json.Unmarshal(resp.Content, &text); err != nil {
		fatalf("unmarshal response content: %v", err)
	}
	if sb.Len() > 0 && sb.String() != text {
		fatalf("chunks do not add up to response: chunks=%q response=%q", sb.String(), text)
	}
	return text
}

func mustPublish(parent context.Context, base *url.URL, channel string, payload any, stepTimeout time.Duration) v1.Message {
	body := mustJSON(v1.PublishRequest{Channel: channel, Payload: mustJSON(payload)})

	var out v1.PublishResponse
	mustDo(parent, http.MethodPost, base.JoinPath("/publish").String(), body, &out, stepTimeout)
	if !out.OK || out.Message.ID <= 0 {
		fatalf("publish: unexpected response %+v", out)
	}
	return out.Message
}

func mustPoll(parent context.Context, base *url.URL, channel string, lastID int64, stepTimeout time.Duration) []v1.Message {
	u := base.JoinPath("/poll")
	q := url.Values{}
	q.Set("channel", channel)
	q.Set("lastId", fmt.Sprint(lastID))
	q.Set("timeout", fmt.Sprint(stepTimeout.Milliseconds()/2))
	u.RawQuery = q.Encode()

	var out v1.PollResponse
	mustDo(parent, http.MethodGet, u.String(), nil, &out, stepTimeout)
	return out.Messages
}

func mustOpenStream(parent context.Context, base *url.URL, channel string, stepTimeout time.Duration) (*http.Response, *bufio.Reader) {
	u := base.JoinPath("/stream")
	u.RawQuery = url.Values{"channel": {channel}}.Encode()

	req, err := http.NewRequestWithContext(parent, http.MethodGet, u.String(), nil)
	if err != nil {
		fatalf("stream request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("stream open: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		fatalf("stream open: status %d", resp.StatusCode)
	}

	// wait for the ": connected" comment so the subscription exists before publishing
	r := bufio.NewReader(resp.Body)
	deadline := time.Now().Add(stepTimeout)
	for time.Now().Before(deadline) {
		line, err := r.ReadString('\n')
		if err != nil {
			fatalf("stream handshake: %v", err)
		}
		if strings.HasPrefix(line, ": connected") {
			return resp, r
		}
	}
	fatalf("stream handshake: timeout")
	return nil, nil
}

func mustStreamEvent(r *bufio.Reader, wantID int64, stepTimeout time.Duration) {
	done := make(chan error, 1)
	go func() {
		want := fmt.Sprintf("id: %d", wantID)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				done <- err
				return
			}
			if strings.TrimSpace(line) == want {
				done <- nil
				return
			}
		}
	}()

	select {
	case err := <-done:
		if err != nil {
			fatalf("stream read: %v", err)
		}
	case <-time.After(stepTimeout):
		fatalf("stream: no frame for id %d", wantID)
	}
}

func mustDo(parent context.Context, method, u string, body []byte, dst any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		fatalf("%s %s: %v", method, u, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, u, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var eb v1.ErrorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		fatalf("%s %s: status=%d code=%q msg=%q", method, u, resp.StatusCode, eb.Error.Code, eb.Error.Message)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		fatalf("%s %s: decode: %v", method, u, err)
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Frame {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q: %v", wantType, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q: %v", wantType, err)
		case f, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q", wantType)
			}
			if f.Type == wantType {
				return f
			}
			if f.Type == v1.TypeError {
				fatalf("server error: %q", f.Error)
			}
			if _, ok := skipTypes[f.Type]; ok {
				if c.onSkip != nil {
					c.onSkip(f)
				}
				continue
			}
			fatalf("unexpected frame type: got=%q want=%q", f.Type, wantType)
		}
	}
}

func mustWrite(parent context.Context, conn *websocket.Conn, f v1.Frame, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(f)
	if err != nil {
		fatalf("marshal frame: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
