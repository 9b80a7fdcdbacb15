package longpoll

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Karen86Tonoyan/automatzyacja/cmd/internal/broker"
	v1 "github.com/Karen86Tonoyan/automatzyacja/shared/contracts/realtime/v1"
)

func newTestHandler(t *testing.T) (*Handler, *broker.Broker) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := broker.New(log)
	return NewHandler(log, b, Config{DefaultTimeout: 2 * time.Second, MaxTimeout: 5 * time.Second}), b
}

func publish(t *testing.T, b *broker.Broker, channel, text string) broker.Message {
	t.Helper()
	raw, err := json.Marshal(map[string]string{"text": text})
	require.NoError(t, err)
	m, err := b.Publish(context.Background(), channel, raw)
	require.NoError(t, err)
	return m
}

func decodePoll(t *testing.T, rr *httptest.ResponseRecorder) v1.PollResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var out v1.PollResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.NotNil(t, out.Messages)
	return out
}

// publish a, poll at 0 returns it; poll at 1 times out empty; publish b while polling at 1
// resolves that poll with b.
func TestHandler_Scenario(t *testing.T) {
	t.Parallel()

	h, b := newTestHandler(t)
	publish(t, b, "c1", "a")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/poll?channel=c1&lastId=0", nil))
	out := decodePoll(t, rr)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, int64(1), out.Messages[0].ID)
	assert.JSONEq(t, `{"text":"a"}`, string(out.Messages[0].Payload))

	start := time.Now()
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/poll?channel=c1&lastId=1&timeout=100", nil))
	out = decodePoll(t, rr)
	assert.Empty(t, out.Messages)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.JSONEq(t, `{"messages":[]}`, rr.Body.String())

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/poll?channel=c1&lastId=1&timeout=2000", nil))
		done <- rr
	}()

	require.Eventually(t, func() bool { return b.HasWaiter("c1") }, time.Second, 5*time.Millisecond)
	publish(t, b, "c1", "b")

	select {
	case rr := <-done:
		out := decodePoll(t, rr)
		require.Len(t, out.Messages, 1)
		assert.Equal(t, int64(2), out.Messages[0].ID)
	case <-time.After(time.Second):
		t.Fatal("poll was not resolved by publish")
	}
}

// a client holding a lastId from before a restart still receives the next publish
func TestHandler_StaleCursorReceivesPublish(t *testing.T) {
	t.Parallel()

	h, b := newTestHandler(t)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/poll?channel=c1&lastId=5&timeout=2000", nil))
		done <- rr
	}()

	require.Eventually(t, func() bool { return b.HasWaiter("c1") }, time.Second, 5*time.Millisecond)
	publish(t, b, "c1", "a")

	select {
	case rr := <-done:
		out := decodePoll(t, rr)
		require.Len(t, out.Messages, 1)
		assert.Equal(t, int64(1), out.Messages[0].ID)
	case <-time.After(time.Second):
		t.Fatal("poll with a stale cursor was not resolved by publish")
	}
}

func TestHandler_HugeTimeoutIsClamped(t *testing.T) {
	t.Parallel()

	h, b := newTestHandler(t)
	publish(t, b, "c1", "a")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/poll?channel=c1&lastId=0&timeout=9300000000000", nil))
	out := decodePoll(t, rr)
	require.Len(t, out.Messages, 1)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/poll?channel=c1&lastId=1&timeout=9300000000000", nil).WithContext(ctx)
	go func() {
		if assert.Eventually(t, func() bool { return b.HasWaiter("c1") }, time.Second, 5*time.Millisecond) {
			_, err := b.Publish(context.Background(), "c1", json.RawMessage(`{"text":"b"}`))
			assert.NoError(t, err)
		} else {
			cancel()
		}
	}()
	defer cancel()

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	out = decodePoll(t, rr)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, int64(2), out.Messages[0].ID)
}

func TestHandler_PostBody(t *testing.T) {
	t.Parallel()

	h, b := newTestHandler(t)
	publish(t, b, "c1", "a")
	publish(t, b, "c1", "b")

	body := `{"conversationId":"c1","lastId":1,"timeout":30000}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/poll", strings.NewReader(body)))

	out := decodePoll(t, rr)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, int64(2), out.Messages[0].ID)
}

func TestHandler_BadInput(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t)

	cases := []*http.Request{
		httptest.NewRequest(http.MethodGet, "/poll?lastId=0", nil),
		httptest.NewRequest(http.MethodGet, "/poll?channel=c1&lastId=x", nil),
		httptest.NewRequest(http.MethodGet, "/poll?channel=c1&lastId=-1", nil),
		httptest.NewRequest(http.MethodGet, "/poll?channel=c1&timeout=abc", nil),
		httptest.NewRequest(http.MethodPost, "/poll", strings.NewReader(`{"channel":`)),
		httptest.NewRequest(http.MethodPost, "/poll", strings.NewReader(`{"channel":"c1","extra":true}`)),
	}
	for _, r := range cases {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, r)
		assert.Equal(t, http.StatusBadRequest, rr.Code, r.URL.String())
	}
}

func TestHandler_DisconnectCancelsWaiter(t *testing.T) {
	t.Parallel()

	h, b := newTestHandler(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	rr := httptest.NewRecorder()
	go func() {
		defer close(done)
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/poll?channel=c1", nil).WithContext(ctx))
	}()

	require.Eventually(t, func() bool { return b.HasWaiter("c1") }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not return after disconnect")
	}
	assert.False(t, b.HasWaiter("c1"))
	assert.Zero(t, rr.Body.Len())

	// the next poll registers normally
	publish(t, b, "c1", "x")
	assert.Len(t, b.MessagesSince("c1", 0), 1)
}

func TestHandler_SecondPollSupersedesFirst(t *testing.T) {
	t.Parallel()

	h, b := newTestHandler(t)

	first := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/poll?channel=c1", nil))
		first <- rr
	}()
	require.Eventually(t, func() bool { return b.HasWaiter("c1") }, time.Second, 5*time.Millisecond)

	second := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/poll?channel=c1", nil))
		second <- rr
	}()

	select {
	case rr := <-first:
		assert.Empty(t, decodePoll(t, rr).Messages)
	case <-time.After(time.Second):
		t.Fatal("first poll was not superseded")
	}

	require.Eventually(t, func() bool { return b.HasWaiter("c1") }, time.Second, 5*time.Millisecond)
	publish(t, b, "c1", "x")

	select {
	case rr := <-second:
		assert.Len(t, decodePoll(t, rr).Messages, 1)
	case <-time.After(time.Second):
		t.Fatal("second poll was not resolved")
	}
}

func TestHandler_TimeoutClamp(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t)
	assert.Equal(t, 2*time.Second, h.timeout(0))
	assert.Equal(t, 100*time.Millisecond, h.timeout(100))
	assert.Equal(t, 5*time.Second, h.timeout(600000))
	assert.Equal(t, 5*time.Second, h.timeout(9300000000000))
	assert.Equal(t, 5*time.Second, h.timeout(math.MaxInt64))

	d := NewHandler(nil, nil, Config{})
	assert.Equal(t, 25*time.Second, d.cfg.DefaultTimeout)
	assert.Equal(t, 60*time.Second, d.cfg.MaxTimeout)
}
