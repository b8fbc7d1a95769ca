package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"options_ledger/internal/core"
	"options_ledger/pkg/logging"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub(logging.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx) }()
	t.Cleanup(cancel)
	return hub, cancel
}

func TestForOption(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	evt := ForOption(TypeOptionBought, 9, ts, map[string]interface{}{"buyer": "b"})

	require.NotNil(t, evt.OptionID)
	assert.Equal(t, uint64(9), *evt.OptionID)
	assert.Len(t, evt.ID, 36)
	assert.Equal(t, TypeOptionBought, evt.Type)

	raw, err := json.Marshal(evt)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"option_id":9`)

	raw, err = json.Marshal(New(TypeAdminWithdrawal, ts, nil))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "option_id")
}

func TestHub_BroadcastReachesClients(t *testing.T) {
	hub, _ := startHub(t)
	a, b := NewClient("a"), NewClient("b")
	hub.Register(a)
	hub.Register(b)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	require.True(t, hub.Broadcast(Message{Type: TypeOptionOpened}))
	for _, c := range []*Client{a, b} {
		select {
		case msg := <-c.Outbox():
			assert.Equal(t, TypeOptionOpened, msg.Type)
		case <-time.After(time.Second):
			t.Fatal("message not delivered")
		}
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	hub, _ := startHub(t)
	slow := NewClient("slow")
	hub.Register(slow)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	for i := 0; i < 600; i++ {
		hub.Broadcast(Message{Type: TypeOptionBought})
		time.Sleep(100 * time.Microsecond)
	}
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.False(t, slow.Send(Message{}), "dropped client is closed")
}

func TestHub_ShutdownClosesClientsAndRejectsNew(t *testing.T) {
	hub, cancel := startHub(t)
	c := NewClient("c")
	hub.Register(c)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-hub.done
	_, ok := <-c.Outbox()
	assert.False(t, ok)

	late := NewClient("late")
	hub.Register(late)
	assert.False(t, late.Send(Message{}))
	hub.Unregister(late)
}

func TestDispatcher_DeliversToSinks(t *testing.T) {
	var mu sync.Mutex
	var got []string
	d := NewDispatcher(nil, 2, 16, logging.NewNop(), func(evt core.Event) {
		mu.Lock()
		got = append(got, evt.Type)
		mu.Unlock()
	})

	d.Publish(New(TypeAdminWithdrawal, time.Now(), nil))
	d.Publish(ForOption(TypeOptionOpened, 1, time.Now(), nil))
	d.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{TypeAdminWithdrawal, TypeOptionOpened}, got)

	assert.NotPanics(t, func() { d.Publish(New(TypeAdminWithdrawal, time.Now(), nil)) })
}

func dial(t *testing.T, srv *httptest.Server, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
}

func TestStream_DeliversDispatchedEvents(t *testing.T) {
	hub, _ := startHub(t)
	stream := NewStream(hub, StreamConfig{AllowedOrigins: []string{"http://localhost:3000"}}, logging.NewNop())
	srv := httptest.NewServer(stream)
	defer srv.Close()

	ws, _, err := dial(t, srv, "http://localhost:3000")
	require.NoError(t, err)
	defer ws.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	d := NewDispatcher(hub, 1, 8, logging.NewNop(), LogSink(logging.NewNop()))
	defer d.Stop()
	d.Publish(ForOption(TypeOptionExercised, 4, time.Now(), map[string]interface{}{"price": "2500"}))

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string     `json:"type"`
		Data core.Event `json:"data"`
	}
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, TypeOptionExercised, msg.Type)
	require.NotNil(t, msg.Data.OptionID)
	assert.Equal(t, uint64(4), *msg.Data.OptionID)
	assert.Equal(t, "2500", msg.Data.Data["price"])
}

func TestStream_RejectsUnknownOrigin(t *testing.T) {
	hub, _ := startHub(t)
	srv := httptest.NewServer(NewStream(hub, StreamConfig{AllowedOrigins: []string{"http://ok.local"}}, logging.NewNop()))
	defer srv.Close()

	_, resp, err := dial(t, srv, "http://evil.local")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	ws, _, err := dial(t, srv, "")
	require.NoError(t, err, "clients without Origin are not browsers")
	ws.Close()
}

func TestStream_RateLimitsPerIP(t *testing.T) {
	hub, _ := startHub(t)
	srv := httptest.NewServer(NewStream(hub, StreamConfig{AllowedOrigins: []string{"*"}, RateLimit: 0.001, RateBurst: 1}, logging.NewNop()))
	defer srv.Close()

	ws, _, err := dial(t, srv, "")
	require.NoError(t, err)
	defer ws.Close()

	_, resp, err := dial(t, srv, "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestStream_ConnectionLimit(t *testing.T) {
	hub, _ := startHub(t)
	srv := httptest.NewServer(NewStream(hub, StreamConfig{MaxConnections: 1}, logging.NewNop()))
	defer srv.Close()

	ws, _, err := dial(t, srv, "")
	require.NoError(t, err)
	defer ws.Close()

	_, resp, err := dial(t, srv, "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
