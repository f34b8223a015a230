package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/mithrel/pollsock/internal/channel"
	"github.com/mithrel/pollsock/internal/remote"
	"github.com/mithrel/pollsock/internal/server"
	"github.com/mithrel/pollsock/pkg/api"
)

// startUpstream runs a websocket echo server. "bye" makes it hang up.
func startUpstream(t *testing.T) string {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(data) == "bye" {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			_ = conn.WriteMessage(mt, data)
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func startRelay(t *testing.T, cfg *viper.Viper) (*server.Server, string) {
	t.Helper()
	// Session pumps outlive requests, so the relay logs nowhere.
	srv := server.New(cfg, zap.NewNop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts.URL
}

func relayConfig() *viper.Viper {
	v := viper.New()
	v.Set("relay.poll_timeout", "2s")
	v.Set("relay.max_sessions", 8)
	return v
}

func newClient(t *testing.T, base, token string) *remote.Client {
	return remote.New(remote.Config{
		BaseURL:        base,
		Token:          token,
		RequestTimeout: 2 * time.Second,
		PollTimeout:    5 * time.Second,
		Logger:         zaptest.NewLogger(t),
	})
}

// pollUntil polls id until it has collected n events or hits a close.
func pollUntil(t *testing.T, c *remote.Client, id string, n int) []api.Event {
	t.Helper()
	ctx := context.Background()
	var got []api.Event
	deadline := time.Now().Add(5 * time.Second)
	for len(got) < n && time.Now().Before(deadline) {
		evs, err := c.Poll(ctx, id)
		require.NoError(t, err)
		got = append(got, evs...)
		if len(got) > 0 && got[len(got)-1].Type == api.EventClose {
			break
		}
	}
	return got
}

func TestRelayRoundTrip(t *testing.T) {
	ctx := context.Background()
	upstream := startUpstream(t)
	srv, base := startRelay(t, relayConfig())
	c := newClient(t, base, "")

	id, err := c.Open(ctx, upstream)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, 1, srv.Sessions())

	require.NoError(t, c.Send(ctx, id, "hello"))
	require.NoError(t, c.Send(ctx, id, "world"))
	evs := pollUntil(t, c, id, 2)
	assert.Equal(t, []api.Event{
		{Type: api.EventMessage, Msg: "hello"},
		{Type: api.EventMessage, Msg: "world"},
	}, evs)

	require.NoError(t, c.Close(ctx, id))
	require.NoError(t, c.Close(ctx, id), "close is idempotent")
	assert.Equal(t, 0, srv.Sessions())

	_, err = c.Poll(ctx, id)
	assert.True(t, remote.IsNotFound(err), "got %v", err)
	assert.True(t, remote.IsNotFound(c.Send(ctx, id, "gone")))
}

func TestRelayUpstreamHangup(t *testing.T) {
	ctx := context.Background()
	upstream := startUpstream(t)
	srv, base := startRelay(t, relayConfig())
	c := newClient(t, base, "")

	id, err := c.Open(ctx, upstream)
	require.NoError(t, err)
	require.NoError(t, c.Send(ctx, id, "bye"))

	evs := pollUntil(t, c, id, 1)
	require.NotEmpty(t, evs)
	assert.Equal(t, api.Event{Type: api.EventClose}, evs[len(evs)-1])
	assert.Equal(t, 0, srv.Sessions())

	_, err = c.Poll(ctx, id)
	assert.True(t, remote.IsNotFound(err))
}

func TestRelayPollHoldTimeout(t *testing.T) {
	ctx := context.Background()
	cfg := relayConfig()
	cfg.Set("relay.poll_timeout", "50ms")
	_, base := startRelay(t, cfg)
	c := newClient(t, base, "")

	id, err := c.Open(ctx, startUpstream(t))
	require.NoError(t, err)

	start := time.Now()
	evs, err := c.Poll(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, evs)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestRelayAuth(t *testing.T) {
	ctx := context.Background()
	cfg := relayConfig()
	cfg.Set("auth.token", "s3cret")
	_, base := startRelay(t, cfg)
	upstream := startUpstream(t)

	_, err := newClient(t, base, "").Open(ctx, upstream)
	var se *remote.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Status)

	_, err = newClient(t, base, "wrong").Open(ctx, upstream)
	require.ErrorAs(t, err, &se)

	id, err := newClient(t, base, "s3cret").Open(ctx, upstream)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestRelayRejectsBadRequests(t *testing.T) {
	_, base := startRelay(t, relayConfig())

	resp, err := http.Get(base + "/socket/poll?id=x")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(base+"/socket/open", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(base+"/socket/send?id=nope", "application/json", strings.NewReader(`{"msg":"x"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRelayEvictsOldestSession(t *testing.T) {
	ctx := context.Background()
	cfg := relayConfig()
	cfg.Set("relay.max_sessions", 1)
	srv, base := startRelay(t, cfg)
	c := newClient(t, base, "")
	upstream := startUpstream(t)

	first, err := c.Open(ctx, upstream)
	require.NoError(t, err)
	second, err := c.Open(ctx, upstream)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, 1, srv.Sessions())

	_, err = c.Poll(ctx, first)
	assert.True(t, remote.IsNotFound(err))
	require.NoError(t, c.Send(ctx, second, "still here"))
}

func TestRelayUpstreamUnavailable(t *testing.T) {
	ctx := context.Background()
	_, base := startRelay(t, relayConfig())
	c := newClient(t, base, "")

	dead := httptest.NewServer(http.NotFoundHandler())
	address := "ws" + strings.TrimPrefix(dead.URL, "http")
	dead.Close()

	_, err := c.Open(ctx, address)
	var se *remote.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Status)
}

func TestEmulatedChannelOverRelay(t *testing.T) {
	upstream := startUpstream(t)
	srv, base := startRelay(t, relayConfig())

	messages := make(chan string, 8)
	opened := make(chan struct{})
	closed := make(chan struct{})
	ch, err := channel.New(context.Background(), upstream, channel.Options{
		Mode:   channel.ModeEmulated,
		Remote: newClient(t, base, ""),
		Logger: zaptest.NewLogger(t),
		Handlers: channel.Handlers{
			OnOpen:    func() error { close(opened); return nil },
			OnMessage: func(msg string) error { messages <- msg; return nil },
			OnClose:   func() error { close(closed); return nil },
		},
	})
	require.NoError(t, err)

	select {
	case <-opened:
	case <-time.After(5 * time.Second):
		t.Fatal("channel did not open")
	}
	require.NoError(t, ch.Send("ping"))
	select {
	case msg := <-messages:
		assert.Equal(t, "ping", msg)
	case <-time.After(5 * time.Second):
		t.Fatal("no echo")
	}

	// Upstream hangs up; the relay reports a close event.
	require.NoError(t, ch.Send("bye"))
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("channel did not close")
	}
	assert.Equal(t, channel.Closed, ch.State())
	waitClosed(t, ch)
	require.Eventually(t, func() bool { return srv.Sessions() == 0 }, 5*time.Second, 20*time.Millisecond)
}

func TestEmulatedChannelClosesSessionAfterCancel(t *testing.T) {
	upstream := startUpstream(t)
	srv, base := startRelay(t, relayConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	opened := make(chan struct{})
	ch, err := channel.New(ctx, upstream, channel.Options{
		Mode:     channel.ModeEmulated,
		Remote:   newClient(t, base, ""),
		Logger:   zaptest.NewLogger(t),
		Handlers: channel.Handlers{OnOpen: func() error { close(opened); return nil }},
	})
	require.NoError(t, err)

	select {
	case <-opened:
	case <-time.After(5 * time.Second):
		t.Fatal("channel did not open")
	}
	require.Equal(t, 1, srv.Sessions())

	cancel()
	ch.Close()
	waitClosed(t, ch)
	assert.Equal(t, 0, srv.Sessions())
}

func waitClosed(t *testing.T, ch channel.Channel) {
	t.Helper()
	select {
	case <-ch.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("channel did not finish closing")
	}
}
