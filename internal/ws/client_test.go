package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/safetyhub/internal/hub"
	"github.com/safetyhub/internal/model"
	"github.com/safetyhub/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	mu           sync.Mutex
	commands     []hub.Command
	sessions     []string
	rejected     int
	disconnected chan string
}

func (d *fakeDispatcher) Dispatch(_ context.Context, conn registry.Conn, sessionID string, cmd hub.Command) (string, error) {
	d.mu.Lock()
	d.commands = append(d.commands, cmd)
	d.sessions = append(d.sessions, sessionID)
	d.mu.Unlock()
	switch cmd.Type {
	case hub.CmdConnect:
		_ = conn.Send(model.Event{Type: model.EventConnectionAck, Payload: map[string]string{"session_id": "s-1"}})
		return "s-1", nil
	case hub.CmdDisconnect:
		return "", nil
	}
	_ = conn.Send(model.Event{Type: model.EventHeartbeatAck})
	return sessionID, nil
}

func (d *fakeDispatcher) Reject(conn registry.Conn, cmd hub.CommandType, err error) {
	d.mu.Lock()
	d.rejected++
	d.mu.Unlock()
	_ = conn.Send(model.Event{Type: model.EventCommandRejected, Payload: map[string]string{"error": err.Error()}})
}

func (d *fakeDispatcher) Disconnect(sessionID string) {
	d.disconnected <- sessionID
}

func serve(t *testing.T, d Dispatcher) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		NewClient(d, conn, Options{SendBuffer: 8}).Start(context.Background())
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	return ev.Type, ev.Payload
}

func TestClientRoundTrip(t *testing.T) {
	d := &fakeDispatcher{disconnected: make(chan string, 1)}
	conn := serve(t, d)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "connect", "payload": map[string]string{"role": "observer"}}))
	typ, payload := readEvent(t, conn)
	assert.Equal(t, "connection_ack", typ)
	assert.JSONEq(t, `{"session_id":"s-1"}`, string(payload))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "heartbeat"}))
	typ, _ = readEvent(t, conn)
	assert.Equal(t, "heartbeat_ack", typ)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	typ, _ = readEvent(t, conn)
	assert.Equal(t, "command_rejected", typ)

	d.mu.Lock()
	assert.Equal(t, []string{"", "s-1"}, d.sessions)
	assert.Equal(t, 1, d.rejected)
	d.mu.Unlock()

	// peer goes away: the hub hears about the bound session
	require.NoError(t, conn.Close())
	select {
	case id := <-d.disconnected:
		assert.Equal(t, "s-1", id)
	case <-time.After(5 * time.Second):
		t.Fatal("disconnect not reported")
	}
}

func TestClientDisconnectCommandClosesSocket(t *testing.T) {
	d := &fakeDispatcher{disconnected: make(chan string, 1)}
	conn := serve(t, d)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "connect"}))
	readEvent(t, conn)
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "disconnect"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	select {
	case id := <-d.disconnected:
		assert.Empty(t, id)
	case <-time.After(5 * time.Second):
		t.Fatal("read pump did not exit")
	}
}

func TestSendNeverBlocks(t *testing.T) {
	c := &Client{send: make(chan model.Event, 1), done: make(chan struct{})}

	require.NoError(t, c.Send(model.Event{Type: model.EventStatsUpdate}))
	assert.ErrorIs(t, c.Send(model.Event{Type: model.EventStatsUpdate}), ErrBufferFull)

	c.Close()
	c.Close()
	assert.ErrorIs(t, c.Send(model.Event{Type: model.EventStatsUpdate}), ErrClosed)
}
