package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	method  string
	path    string
	account string
	apiKey  string
	body    map[string]interface{}
}

// fakeServer records every request and answers with status and body
func fakeServer(t *testing.T, status int, body string) (*httptest.Server, func() []captured) {
	t.Helper()
	var mu sync.Mutex
	var seen []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := captured{
			method:  r.Method,
			path:    r.URL.Path,
			account: r.Header.Get("X-Account"),
			apiKey:  r.Header.Get("X-API-Key"),
		}
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			assert.NoError(t, json.Unmarshal(raw, &c.body))
		}
		mu.Lock()
		seen = append(seen, c)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		return append([]captured{}, seen...)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestWriteCall(t *testing.T) {
	srv, requests := fakeServer(t, http.StatusCreated, `{"id":7}`)

	out, err := execute(t, "--server", srv.URL, "--account", "alice",
		"write-call", "--amount", "1", "--strike", "2000", "--premium", "50", "--days", "7")
	require.NoError(t, err)
	assert.Contains(t, out, `"id": 7`)

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].method)
	assert.Equal(t, "/v1/calls", reqs[0].path)
	assert.Equal(t, "alice", reqs[0].account)
	assert.Equal(t, "2000", reqs[0].body["collateral"], "collateral defaults to the strike")
	assert.Equal(t, "50", reqs[0].body["premium_due"])
	assert.Equal(t, float64(7), reqs[0].body["days_to_expiry"])
}

func TestWritePut_ValidatesLocally(t *testing.T) {
	srv, requests := fakeServer(t, http.StatusCreated, `{"id":1}`)

	_, err := execute(t, "--server", srv.URL, "--account", "alice",
		"write-put", "--amount", "-1", "--strike", "2000", "--premium", "50")
	assert.ErrorContains(t, err, "--amount")

	_, err = execute(t, "--server", srv.URL,
		"write-put", "--amount", "1", "--strike", "2000", "--premium", "50")
	assert.ErrorContains(t, err, "--account is required")

	assert.Empty(t, requests())
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		args []string
		path string
	}{
		{[]string{"buy-call", "3"}, "/v1/calls/3/buy"},
		{[]string{"buy-put", "4"}, "/v1/puts/4/buy"},
		{[]string{"exercise-call", "3"}, "/v1/calls/3/exercise"},
		{[]string{"exercise-put", "4"}, "/v1/puts/4/exercise"},
		{[]string{"expire-worthless", "5"}, "/v1/options/5/expire-worthless"},
		{[]string{"reclaim", "5"}, "/v1/options/5/reclaim"},
	}

	for _, tt := range tests {
		t.Run(tt.args[0], func(t *testing.T) {
			srv, requests := fakeServer(t, http.StatusOK, `{"id":3,"state":"Bought"}`)
			args := append([]string{"--server", srv.URL, "-a", "bob"}, tt.args...)
			_, err := execute(t, args...)
			require.NoError(t, err)

			reqs := requests()
			require.Len(t, reqs, 1)
			assert.Equal(t, http.MethodPost, reqs[0].method)
			assert.Equal(t, tt.path, reqs[0].path)
			assert.Equal(t, "bob", reqs[0].account)
		})
	}
}

func TestTransition_BadID(t *testing.T) {
	srv, requests := fakeServer(t, http.StatusOK, `{}`)
	_, err := execute(t, "--server", srv.URL, "-a", "bob", "buy-call", "abc")
	assert.ErrorContains(t, err, "invalid option id")
	assert.Empty(t, requests())
}

func TestReads(t *testing.T) {
	tests := []struct {
		name string
		args []string
		path string
	}{
		{"get", []string{"get", "9"}, "/v1/options/9"},
		{"price", []string{"price"}, "/v1/price"},
		{"positions default account", []string{"-a", "carol", "positions"}, "/v1/positions/carol"},
		{"positions explicit account", []string{"positions", "dave"}, "/v1/positions/dave"},
		{"balances", []string{"balances", "erin"}, "/v1/balances/erin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, requests := fakeServer(t, http.StatusOK, `{"ok":true}`)
			out, err := execute(t, append([]string{"--server", srv.URL}, tt.args...)...)
			require.NoError(t, err)
			assert.Contains(t, out, `"ok": true`)

			reqs := requests()
			require.Len(t, reqs, 1)
			assert.Equal(t, http.MethodGet, reqs[0].method)
			assert.Equal(t, tt.path, reqs[0].path)
		})
	}
}

func TestPositions_RejectsBadAccount(t *testing.T) {
	srv, requests := fakeServer(t, http.StatusOK, `{}`)
	_, err := execute(t, "--server", srv.URL, "positions", "../admin")
	assert.ErrorContains(t, err, "invalid account")
	assert.Empty(t, requests())
}

func TestApprove(t *testing.T) {
	srv, requests := fakeServer(t, http.StatusOK, `{"owner":"bob","spender":"escrow","allowance":"500"}`)

	_, err := execute(t, "--server", srv.URL, "-a", "bob", "approve", "--amount", "500")
	require.NoError(t, err)

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/v1/approvals", reqs[0].path)
	assert.Equal(t, "escrow", reqs[0].body["spender"])
	assert.Equal(t, "500", reqs[0].body["amount"])
}

func TestWithdraw_SendsAPIKey(t *testing.T) {
	srv, requests := fakeServer(t, http.StatusOK, `{"to":"treasury","amount":"12"}`)

	_, err := execute(t, "--server", srv.URL, "-a", "operator", "--api-key", "secret",
		"withdraw-settlement", "--to", "treasury")
	require.NoError(t, err)

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/v1/admin/withdraw-settlement", reqs[0].path)
	assert.Equal(t, "secret", reqs[0].apiKey)
	assert.Equal(t, "treasury", reqs[0].body["to"])
}

func TestAPIErrorIsDescribed(t *testing.T) {
	srv, _ := fakeServer(t, http.StatusConflict, `{"error":"invalid_state","message":"option already bought"}`)

	_, err := execute(t, "--server", srv.URL, "-a", "bob", "buy-call", "1")
	require.Error(t, err)
	assert.Equal(t, "invalid_state (HTTP 409): option already bought", err.Error())
}

func TestStreamURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080/ws", streamURL("http://localhost:8080"))
	assert.Equal(t, "wss://ledger.example/ws", streamURL("https://ledger.example"))
}

func TestWatch_FiltersAndStopsAtCount(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, typ := range []string{"option.opened", "option.bought", "option.opened", "option.bought", "option.bought"} {
			_ = conn.WriteJSON(map[string]interface{}{"type": typ, "data": map[string]string{"id": "x"}})
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	out, err := execute(t, "--server", srv.URL, "watch", "--type", "option.bought", "--count", "2")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.Contains(t, line, `"type":"option.bought"`)
	}
}
