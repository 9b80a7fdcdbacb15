package realtime

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	v1 "github.com/Karen86Tonoyan/automatzyacja/shared/contracts/realtime/v1"
)

func v1Frame() v1.Frame { return v1.Frame{Type: v1.TypeResponse} }

func TestRateLimiter_SlidingWindow(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(3, time.Second)
	t0 := time.Unix(1000, 0)

	assert.True(t, rl.Allow(t0))
	assert.True(t, rl.Allow(t0.Add(100*time.Millisecond)))
	assert.True(t, rl.Allow(t0.Add(200*time.Millisecond)))
	assert.False(t, rl.Allow(t0.Add(300*time.Millisecond)))

	// the first event left the window
	assert.True(t, rl.Allow(t0.Add(1000*time.Millisecond)))
	assert.False(t, rl.Allow(t0.Add(1050*time.Millisecond)))
	assert.True(t, rl.Allow(t0.Add(1100*time.Millisecond)))
}

func TestOriginHostOnly(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"http://LocalHost:3000": "localhost",
		"https://app.example":   "app.example",
		"127.0.0.1:8080":        "127.0.0.1",
		"example.com":           "example.com",
		"":                      "",
		"http://":               "",
	}
	for in, want := range cases {
		assert.Equal(t, want, originHostOnly(in), in)
	}
}

func TestOriginPatterns(t *testing.T) {
	t.Parallel()

	got := originPatterns([]string{"http://localhost:3000", "http://127.0.0.1", "http://localhost", ""})
	assert.Equal(t, []string{"127.0.0.1", "127.0.0.1:*", "localhost", "localhost:*"}, got)
	assert.Equal(t, []string{"*"}, originPatterns([]string{"http://a", "*"}))
}

func TestEnforceOrigin(t *testing.T) {
	t.Parallel()

	g := NewGateway(nil, nil, nil, Config{OriginRequired: true, AllowedOrigins: []string{"http://localhost:3000"}})

	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	assert.Error(t, g.enforceOrigin(req("")))
	assert.NoError(t, g.enforceOrigin(req("http://localhost:3000")))
	assert.NoError(t, g.enforceOrigin(req("http://localhost:5173")))
	assert.Error(t, g.enforceOrigin(req("http://evil.example")))

	open := NewGateway(nil, nil, nil, Config{})
	assert.NoError(t, open.enforceOrigin(req("")))
	assert.Error(t, open.enforceOrigin(req("http://localhost")))
}

func TestClassifyReadErr(t *testing.T) {
	t.Parallel()

	assert.Equal(t, readErrBadJSON, classifyReadErr(errors.Join(errBadJSON, errors.New("x"))))
	assert.Equal(t, readErrCtxDone, classifyReadErr(context.DeadlineExceeded))
	assert.Equal(t, readErrConnClosed, classifyReadErr(io.EOF))
	assert.Equal(t, readErrUnknown, classifyReadErr(errors.New("x")))
}

func TestClient_SendAfterClose(t *testing.T) {
	t.Parallel()

	c := NewClient("ses_1", 1)
	assert.True(t, c.TrySend(v1Frame()))
	assert.False(t, c.TrySend(v1Frame()))

	c.Close()
	c.Close()
	assert.False(t, c.TrySend(v1Frame()))
	assert.False(t, c.SendWait(context.Background(), v1Frame()))
}
