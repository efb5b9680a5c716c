package solana

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newWSServer starts a server that hands every accepted connection to handle.
func newWSServer(t *testing.T, handle func(c *websocket.Conn)) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer c.Close()
		handle(c)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func drain(c *websocket.Conn) {
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

func readRequest(t *testing.T, c *websocket.Conn) (wsRequest, bool) {
	_, msg, err := c.ReadMessage()
	if err != nil {
		return wsRequest{}, false
	}
	var req wsRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		t.Errorf("unmarshal request: %v", err)
		return wsRequest{}, false
	}
	return req, true
}

func writeNotification(c *websocket.Conn, subID, slot uint64, sig string) error {
	return c.WriteJSON(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "logsNotification",
		"params": map[string]interface{}{
			"subscription": subID,
			"result": map[string]interface{}{
				"context": map[string]interface{}{"slot": slot},
				"value": map[string]interface{}{
					"signature": sig,
					"logs":      []string{"Program log: initialize2"},
					"err":       nil,
				},
			},
		},
	})
}

func TestWSClient_Connect(t *testing.T) {
	url := newWSServer(t, drain)

	client, err := NewWSClient(context.Background(), url, nil)
	require.NoError(t, err)
	defer client.Close()

	assert.False(t, client.closed.Load())
}

func TestWSClient_SubscribeLogs(t *testing.T) {
	received := make(chan wsRequest, 1)
	url := newWSServer(t, func(c *websocket.Conn) {
		req, ok := readRequest(t, c)
		if !ok {
			return
		}
		received <- req

		if err := c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": 12345}); err != nil {
			t.Errorf("write response: %v", err)
			return
		}
		if err := writeNotification(c, 12345, 100, "testsig"); err != nil {
			t.Errorf("write notification: %v", err)
			return
		}
		drain(c)
	})

	client, err := NewWSClient(context.Background(), url, nil)
	require.NoError(t, err)
	defer client.Close()

	sub, err := client.SubscribeLogs(context.Background(), LogsFilter{
		Mentions:   []string{"675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"},
		Commitment: CommitmentConfirmed,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(12345), sub.ID())

	req := <-received
	assert.Equal(t, "logsSubscribe", req.Method)
	require.Len(t, req.Params, 2)
	assert.Equal(t, map[string]interface{}{
		"mentions": []interface{}{"675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"},
	}, req.Params[0])
	assert.Equal(t, map[string]interface{}{"commitment": "confirmed"}, req.Params[1])

	select {
	case notif := <-sub.Notifications():
		assert.Equal(t, "testsig", notif.Signature)
		assert.Len(t, notif.Logs, 1)
		assert.Equal(t, uint64(100), notif.Slot)
		assert.Nil(t, notif.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for notification")
	}
}

func TestWSClient_SubscribeLogs_ZeroHandle(t *testing.T) {
	url := newWSServer(t, func(c *websocket.Conn) {
		req, ok := readRequest(t, c)
		if !ok {
			return
		}
		_ = c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": 0})
		_ = writeNotification(c, 0, 7, "zero")
		drain(c)
	})

	client, err := NewWSClient(context.Background(), url, nil)
	require.NoError(t, err)
	defer client.Close()

	sub, err := client.SubscribeLogs(context.Background(), LogsFilter{Mentions: []string{"p"}})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), sub.ID())

	select {
	case notif := <-sub.Notifications():
		assert.Equal(t, "zero", notif.Signature)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for notification")
	}
}

func TestWSClient_DefaultCommitmentIsFinalized(t *testing.T) {
	received := make(chan wsRequest, 1)
	url := newWSServer(t, func(c *websocket.Conn) {
		req, ok := readRequest(t, c)
		if !ok {
			return
		}
		received <- req
		_ = c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": 1})
		drain(c)
	})

	client, err := NewWSClient(context.Background(), url, nil)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.SubscribeLogs(context.Background(), LogsFilter{Mentions: []string{"p"}})
	require.NoError(t, err)

	req := <-received
	assert.Equal(t, map[string]interface{}{"commitment": "finalized"}, req.Params[1])
}

func TestWSClient_SubscribeLogs_Failures(t *testing.T) {
	tests := []struct {
		name  string
		reply func(c *websocket.Conn, id uint64)
	}{
		{
			name: "missing result",
			reply: func(c *websocket.Conn, id uint64) {
				_ = c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": id})
				drain(c)
			},
		},
		{
			name: "null result",
			reply: func(c *websocket.Conn, id uint64) {
				_ = c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": id, "result": nil})
				drain(c)
			},
		},
		{
			name: "non numeric result",
			reply: func(c *websocket.Conn, id uint64) {
				_ = c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": id, "result": "abc"})
				drain(c)
			},
		},
		{
			name: "error response",
			reply: func(c *websocket.Conn, id uint64) {
				_ = c.WriteJSON(map[string]interface{}{
					"jsonrpc": "2.0",
					"id":      id,
					"error":   map[string]interface{}{"code": -32602, "message": "Invalid params"},
				})
				drain(c)
			},
		},
		{
			name: "connection closed before reply",
			reply: func(c *websocket.Conn, _ uint64) {
				// returning closes the connection
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := newWSServer(t, func(c *websocket.Conn) {
				req, ok := readRequest(t, c)
				if !ok {
					return
				}
				tt.reply(c, req.ID)
			})

			client, err := NewWSClient(context.Background(), url, &WSClientConfig{
				ReconnectDelay: time.Hour,
				RequestTimeout: 2 * time.Second,
			})
			require.NoError(t, err)
			defer client.Close()

			sub, err := client.SubscribeLogs(context.Background(), LogsFilter{Mentions: []string{"p"}})
			require.Error(t, err)
			assert.Nil(t, sub)
			assert.True(t, errors.Is(err, ErrSubscription), "got %v", err)
		})
	}
}

func TestWSClient_Unsubscribe(t *testing.T) {
	methods := make(chan string, 2)
	url := newWSServer(t, func(c *websocket.Conn) {
		for {
			req, ok := readRequest(t, c)
			if !ok {
				return
			}
			methods <- req.Method
			switch req.Method {
			case "logsSubscribe":
				_ = c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": 42})
			case "logsUnsubscribe":
				if len(req.Params) != 1 || req.Params[0] != float64(42) {
					t.Errorf("unexpected unsubscribe params: %v", req.Params)
				}
				_ = c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": true})
			}
		}
	})

	client, err := NewWSClient(context.Background(), url, nil)
	require.NoError(t, err)
	defer client.Close()

	sub, err := client.SubscribeLogs(context.Background(), LogsFilter{Mentions: []string{"p"}})
	require.NoError(t, err)
	require.NoError(t, client.Unsubscribe(context.Background(), sub))

	assert.Equal(t, "logsSubscribe", <-methods)
	assert.Equal(t, "logsUnsubscribe", <-methods)

	client.subsMu.RLock()
	assert.Empty(t, client.subs)
	client.subsMu.RUnlock()
}

func TestWSClient_CloseClosesNotificationChannels(t *testing.T) {
	url := newWSServer(t, func(c *websocket.Conn) {
		req, ok := readRequest(t, c)
		if !ok {
			return
		}
		_ = c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": 3})
		drain(c)
	})

	client, err := NewWSClient(context.Background(), url, nil)
	require.NoError(t, err)

	sub, err := client.SubscribeLogs(context.Background(), LogsFilter{Mentions: []string{"p"}})
	require.NoError(t, err)

	require.NoError(t, client.Close())

	select {
	case _, ok := <-sub.Notifications():
		assert.False(t, ok, "channel should be closed")
	case <-time.After(2 * time.Second):
		t.Fatal("notification channel not closed")
	}
}

func TestWSClient_Close(t *testing.T) {
	url := newWSServer(t, drain)

	client, err := NewWSClient(context.Background(), url, nil)
	require.NoError(t, err)

	require.NoError(t, client.Close())
	assert.True(t, client.closed.Load())

	// Double close should be safe
	require.NoError(t, client.Close())
}

func TestWSClient_SubscribeAfterClose(t *testing.T) {
	url := newWSServer(t, drain)

	client, err := NewWSClient(context.Background(), url, nil)
	require.NoError(t, err)
	client.Close()

	_, err = client.SubscribeLogs(context.Background(), LogsFilter{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubscription)
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestWSClient_CustomConfig(t *testing.T) {
	url := newWSServer(t, drain)

	config := &WSClientConfig{
		ReconnectDelay:    100 * time.Millisecond,
		MaxReconnectDelay: 1 * time.Second,
		PingInterval:      5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Second,
	}

	client, err := NewWSClient(context.Background(), url, config)
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, 5*time.Second, client.config.PingInterval)
	assert.Equal(t, DefaultWSConfig().RequestTimeout, client.config.RequestTimeout)
	assert.Equal(t, DefaultWSConfig().BufferSize, client.config.BufferSize)
}

func TestParseCommitment(t *testing.T) {
	tests := []struct {
		in      string
		want    Commitment
		wantErr bool
	}{
		{"processed", CommitmentProcessed, false},
		{"confirmed", CommitmentConfirmed, false},
		{"finalized", CommitmentFinalized, false},
		{"", CommitmentFinalized, false},
		{"max", "", true},
	}
	for _, tt := range tests {
		got, err := ParseCommitment(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		assert.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

// reconnectConfig makes reconnects fast enough for tests.
func reconnectConfig() *WSClientConfig {
	return &WSClientConfig{
		ReconnectDelay:    10 * time.Millisecond,
		MaxReconnectDelay: 50 * time.Millisecond,
		RequestTimeout:    300 * time.Millisecond,
	}
}

func waitNotification(t *testing.T, sub *Subscription) LogNotification {
	t.Helper()
	select {
	case n, ok := <-sub.Notifications():
		require.True(t, ok, "notification channel closed")
		return n
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for notification")
		return LogNotification{}
	}
}

func TestWSClient_ReconnectResubscribes(t *testing.T) {
	var conns atomic.Int32
	url := newWSServer(t, func(c *websocket.Conn) {
		n := conns.Add(1)
		req, ok := readRequest(t, c)
		if !ok {
			return
		}
		switch n {
		case 1:
			assert.Equal(t, "logsSubscribe", req.Method)
			_ = c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": 100})
			_ = writeNotification(c, 100, 1, "first")
			// returning drops the connection
		default:
			assert.Equal(t, "logsSubscribe", req.Method)
			assert.Equal(t, map[string]interface{}{"commitment": "confirmed"}, req.Params[1], "filter not restored")
			_ = c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": 200})
			_ = writeNotification(c, 200, 2, "second")
			drain(c)
		}
	})

	client, err := NewWSClient(context.Background(), url, reconnectConfig())
	require.NoError(t, err)
	defer client.Close()

	sub, err := client.SubscribeLogs(context.Background(), LogsFilter{
		Mentions:   []string{"p"},
		Commitment: CommitmentConfirmed,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(100), sub.ID())

	assert.Equal(t, "first", waitNotification(t, sub).Signature)
	assert.Equal(t, "second", waitNotification(t, sub).Signature)
	assert.Equal(t, uint64(200), sub.ID())
	assert.NoError(t, sub.Err())
	assert.Equal(t, int32(2), conns.Load())

	client.subsMu.RLock()
	assert.Same(t, sub, client.subs[200])
	assert.NotContains(t, client.subs, uint64(100))
	client.subsMu.RUnlock()
}

func TestWSClient_RejectedResubscribeEndsSubscription(t *testing.T) {
	var conns atomic.Int32
	url := newWSServer(t, func(c *websocket.Conn) {
		n := conns.Add(1)
		req, ok := readRequest(t, c)
		if !ok {
			return
		}
		if n == 1 {
			_ = c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": 7})
			return
		}
		_ = c.WriteJSON(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]interface{}{"code": -32005, "message": "Node is behind"},
		})
		drain(c)
	})

	client, err := NewWSClient(context.Background(), url, reconnectConfig())
	require.NoError(t, err)
	defer client.Close()

	sub, err := client.SubscribeLogs(context.Background(), LogsFilter{Mentions: []string{"p"}})
	require.NoError(t, err)

	select {
	case <-sub.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("subscription not ended after rejected resubscribe")
	}

	err = sub.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubscription)
	var rpcErr *rpcError
	require.True(t, errors.As(err, &rpcErr), "got %v", err)
	assert.Equal(t, -32005, rpcErr.Code)

	client.subsMu.RLock()
	assert.Empty(t, client.subs)
	client.subsMu.RUnlock()
}

func TestWSClient_StalledResubscribeReconnectsAgain(t *testing.T) {
	var conns atomic.Int32
	url := newWSServer(t, func(c *websocket.Conn) {
		n := conns.Add(1)
		req, ok := readRequest(t, c)
		if !ok {
			return
		}
		switch n {
		case 1:
			_ = c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": 1})
		case 2:
			// never answers; the client gives up on this connection
			drain(c)
		default:
			_ = c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": 3})
			_ = writeNotification(c, 3, 9, "after-stall")
			drain(c)
		}
	})

	client, err := NewWSClient(context.Background(), url, reconnectConfig())
	require.NoError(t, err)
	defer client.Close()

	sub, err := client.SubscribeLogs(context.Background(), LogsFilter{Mentions: []string{"p"}})
	require.NoError(t, err)

	assert.Equal(t, "after-stall", waitNotification(t, sub).Signature)
	assert.Equal(t, uint64(3), sub.ID())
	assert.NoError(t, sub.Err())
	assert.GreaterOrEqual(t, conns.Load(), int32(3))
}
