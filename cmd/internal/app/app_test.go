package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/Karen86Tonoyan/automatzyacja/shared/contracts/realtime/v1"
)

func newTestApp(t *testing.T, vars map[string]string) *App {
	t.Helper()

	if vars == nil {
		vars = map[string]string{}
	}
	cfg, err := ParseConfig(vars)
	require.NoError(t, err)

	a, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return a
}

func newTestServer(t *testing.T, vars map[string]string) (*App, *httptest.Server) {
	t.Helper()

	a := newTestApp(t, vars)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		a.stream.Close()
		a.ws.Close()
		srv.Close()
	})
	return a, srv
}

func postJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()

	b, err := json.Marshal(v)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func getPoll(t *testing.T, url string) v1.PollResponse {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out v1.PollResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestApp_HealthAndMetrics(t *testing.T) {
	t.Parallel()

	a, srv := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	a.ready.Store(false)
	resp, err = http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var h v1.Health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.Equal(t, "ok", h.Status)
	assert.Zero(t, h.ChannelCount)
}

func TestApp_PublishThenPoll(t *testing.T) {
	t.Parallel()

	_, srv := newTestServer(t, nil)

	resp := postJSON(t, srv.URL+"/publish", v1.PublishRequest{Channel: "c1", Payload: json.RawMessage(`{"text":"hi"}`)})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := getPoll(t, srv.URL+"/poll?channel=c1&lastId=0")
	require.Len(t, out.Messages, 1)
	assert.Equal(t, int64(1), out.Messages[0].ID)
	assert.JSONEq(t, `{"text":"hi"}`, string(out.Messages[0].Payload))

	// other channels are untouched
	resp = postJSON(t, srv.URL+"/publish", v1.PublishRequest{Channel: "c2", Payload: json.RawMessage(`1`)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out = getPoll(t, srv.URL+"/poll?channel=c1&lastId=1&timeout=50")
	assert.Empty(t, out.Messages)
}

func TestApp_HeldPollResolvedByPublish(t *testing.T) {
	t.Parallel()

	a, srv := newTestServer(t, nil)

	got := make(chan v1.PollResponse, 1)
	go func() {
		resp, err := http.Get(srv.URL + "/poll?channel=c1&lastId=0&timeout=5000")
		if err != nil {
			close(got)
			return
		}
		defer func() { _ = resp.Body.Close() }()
		var out v1.PollResponse
		_ = json.NewDecoder(resp.Body).Decode(&out)
		got <- out
	}()

	require.Eventually(t, func() bool { return a.Broker().HasWaiter("c1") }, 2*time.Second, 5*time.Millisecond)

	resp := postJSON(t, srv.URL+"/publish", v1.PublishRequest{Channel: "c1", Payload: json.RawMessage(`"x"`)})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case out, ok := <-got:
		require.True(t, ok, "poll request failed")
		require.Len(t, out.Messages, 1)
		assert.Equal(t, int64(1), out.Messages[0].ID)
	case <-time.After(3 * time.Second):
		t.Fatal("held poll was not resolved")
	}
}

func TestApp_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	_, srv := newTestServer(t, nil)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/publish", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	var eb v1.ErrorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&eb))
	assert.Equal(t, "method_not_allowed", eb.Error.Code)
}

func TestApp_Metrics(t *testing.T) {
	t.Parallel()

	_, srv := newTestServer(t, nil)

	resp := postJSON(t, srv.URL+"/publish", v1.PublishRequest{Channel: "c1", Payload: json.RawMessage(`{}`)})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	mresp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = mresp.Body.Close() }()
	body, err := io.ReadAll(mresp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "comet_messages_published_total 1")
	assert.Contains(t, string(body), "comet_channels 1")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestApp_MetricsDisabled(t *testing.T) {
	t.Parallel()

	_, srv := newTestServer(t, map[string]string{"COMET_METRICS_ENABLED": "false"})

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestApp_SendPublishesToStream(t *testing.T) {
	t.Parallel()

	_, srv := newTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream?channel=c1", nil)
	require.NoError(t, err)
	stream, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = stream.Body.Close() }()
	r := bufio.NewReader(stream.Body)
	readUntil(t, r, ": connected")

	resp := postJSON(t, srv.URL+"/send", v1.SendRequest{Channel: "c1", Type: v1.TypeRun, Prompt: "hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	readUntil(t, r, "id: 1")
	line := readUntil(t, r, "data: ")
	var m v1.Message
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &m))
	var f v1.Frame
	require.NoError(t, json.Unmarshal(m.Payload, &f))
	assert.Equal(t, v1.TypeResponse, f.Type)
	assert.JSONEq(t, `"echo: hi"`, string(f.Content))
}

func TestApp_SocketRun(t *testing.T) {
	t.Parallel()

	_, srv := newTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	writeWS(ctx, t, conn, v1.Frame{Type: v1.TypeInit, Channel: "c1"})
	ack := readWS(ctx, t, conn)
	require.Equal(t, v1.TypeInitOK, ack.Type)
	assert.NotEmpty(t, ack.SessionID)

	writeWS(ctx, t, conn, v1.Frame{Type: v1.TypeRun, Prompt: "hi"})
	res := readWS(ctx, t, conn)
	require.Equal(t, v1.TypeResponse, res.Type)
	assert.JSONEq(t, `"echo: hi"`, string(res.Content))
}

func TestApp_ProducerDisabled(t *testing.T) {
	t.Parallel()

	_, srv := newTestServer(t, map[string]string{"COMET_PRODUCER_DISABLED": "true"})

	resp := postJSON(t, srv.URL+"/send", v1.SendRequest{Channel: "c1", Type: v1.TypeRun, Prompt: "hi"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	writeWS(ctx, t, conn, v1.Frame{Type: v1.TypeInit, Channel: "c1"})
	require.Equal(t, v1.TypeInitOK, readWS(ctx, t, conn).Type)
	writeWS(ctx, t, conn, v1.Frame{Type: v1.TypeRun, Prompt: "hi"})
	f := readWS(ctx, t, conn)
	assert.Equal(t, v1.TypeError, f.Type)
	assert.Equal(t, "producer disabled", f.Error)
}

func TestNew_UnknownProvider(t *testing.T) {
	t.Parallel()

	cfg, err := ParseConfig(map[string]string{"COMET_PRODUCER_PROVIDER": "mystery"})
	require.NoError(t, err)
	_, err = New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}

func TestServe_GracefulShutdownEndsStreams(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- a.Serve(ctx, ln) }()

	base := "http://" + ln.Addr().String()
	stream, err := http.Get(base + "/stream?channel=c1")
	require.NoError(t, err)
	defer func() { _ = stream.Body.Close() }()
	readUntil(t, bufio.NewReader(stream.Body), ": connected")

	cancel()

	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	_, err = io.ReadAll(stream.Body)
	assert.NoError(t, err)
	assert.False(t, a.ready.Load())
}

func readUntil(t *testing.T, r *bufio.Reader, prefix string) string {
	t.Helper()

	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if strings.HasPrefix(line, prefix) {
			return line
		}
	}
}

func writeWS(ctx context.Context, t *testing.T, conn *websocket.Conn, f v1.Frame) {
	t.Helper()

	b, err := json.Marshal(f)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, b))
}

func readWS(ctx context.Context, t *testing.T, conn *websocket.Conn) v1.Frame {
	t.Helper()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var f v1.Frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}
