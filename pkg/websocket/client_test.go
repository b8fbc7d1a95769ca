package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"options_ledger/pkg/logging"
	"options_ledger/pkg/retry"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testConfig(url string) Config {
	return Config{
		URL:          url,
		PingInterval: 100 * time.Millisecond,
		PingWait:     50 * time.Millisecond,
		PongWait:     200 * time.Millisecond,
		Reconnect:    retry.Policy{InitialBackoff: 10 * time.Millisecond, MaxBackoff: 20 * time.Millisecond},
	}
}

// runAsync starts c.Run and returns a func that cancels it and waits for the result
func runAsync(t *testing.T, c *Client) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not return after cancel")
			return nil
		}
	}
}

func TestClient_DeliversMessagesAndHeaders(t *testing.T) {
	var account atomic.Value
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account.Store(r.Header.Get("X-Account"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, m := range []string{`{"type":"option.opened"}`, `{"type":"option.bought"}`} {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(m))
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	received := make(chan string, 4)
	cfg := testConfig(wsURL(server))
	cfg.Header = http.Header{"X-Account": []string{"alice"}}
	client := NewClient(cfg, func(message []byte) { received <- string(message) }, logging.NewNop())

	connected := make(chan struct{}, 1)
	client.SetOnConnected(func() { connected <- struct{}{} })

	stop := runAsync(t, client)
	<-connected
	assert.Equal(t, `{"type":"option.opened"}`, <-received)
	assert.Equal(t, `{"type":"option.bought"}`, <-received)
	assert.Equal(t, "alice", account.Load())
	assert.True(t, client.Connected())

	assert.NoError(t, stop())
	assert.False(t, client.Connected())
}

func TestClient_Heartbeat(t *testing.T) {
	var pings int32
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.SetPingHandler(func(string) error {
			atomic.AddInt32(&pings, 1)
			return conn.WriteControl(websocket.PongMessage, []byte{}, time.Now().Add(time.Second))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}))
	defer server.Close()

	client := NewClient(testConfig(wsURL(server)), nil, logging.NewNop())
	stop := runAsync(t, client)

	time.Sleep(500 * time.Millisecond)
	assert.NoError(t, stop())
	assert.GreaterOrEqual(t, atomic.LoadInt32(&pings), int32(2))
}

func TestClient_ReconnectOnPongTimeout(t *testing.T) {
	var connections int32
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&connections, 1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// swallow pings so the client's read deadline expires
		conn.SetPingHandler(func(string) error { return nil })
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}))
	defer server.Close()

	client := NewClient(testConfig(wsURL(server)), nil, logging.NewNop())
	stop := runAsync(t, client)

	time.Sleep(600 * time.Millisecond)
	assert.NoError(t, stop())
	assert.GreaterOrEqual(t, atomic.LoadInt32(&connections), int32(2))
}

func TestClient_HandshakeRejectedIsPermanent(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		http.Error(w, "Forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClient(testConfig(wsURL(server)), nil, logging.NewNop())
	err := client.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestClient_GivesUpWhenUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(server)
	server.Close()

	cfg := testConfig(url)
	cfg.Reconnect.MaxAttempts = 2
	err := NewClient(cfg, nil, logging.NewNop()).Run(context.Background())
	assert.ErrorContains(t, err, "gave up after 2 attempts")
}

func TestClient_NoGoroutineLeak(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	time.Sleep(100 * time.Millisecond)
	initial := runtime.NumGoroutine()

	cfg := testConfig(wsURL(server))
	cfg.PingInterval = 10 * time.Millisecond
	client := NewClient(cfg, nil, logging.NewNop())
	stop := runAsync(t, client)
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, stop())

	time.Sleep(100 * time.Millisecond)
	// the server side handler may still be unwinding
	assert.LessOrEqual(t, runtime.NumGoroutine(), initial+2, "possible goroutine leak")
}
