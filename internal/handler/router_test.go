package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/safetyhub/internal/geofence"
	"github.com/safetyhub/internal/hub"
	"github.com/safetyhub/internal/model"
	"github.com/safetyhub/internal/storage/memory"
	"github.com/safetyhub/internal/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	srv   *httptest.Server
	hub   *hub.Hub
	store *memory.Client
}

func newEnv(t *testing.T, vapidPublic string) *env {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	store := memory.New()
	h := hub.New(hub.Options{}, geofence.DefaultZones(), store, nil, nil)
	srv := httptest.NewServer(NewRouter(Deps{
		Ctx:            ctx,
		Hub:            h,
		Store:          store,
		VAPIDPublicKey: vapidPublic,
		AllowedOrigins: "*",
	}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &env{srv: srv, hub: h, store: store}
}

func (e *env) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(e.srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type wireEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": typ, "payload": payload}))
}

// waitFor reads until an event of type typ arrives.
func waitFor(t *testing.T, conn *websocket.Conn, typ string) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var ev wireEvent
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type == typ {
			return ev.Payload
		}
	}
}

func TestWebSocketSOSFlow(t *testing.T) {
	e := newEnv(t, "")

	tourist := e.dial(t)
	send(t, tourist, "connect", map[string]any{"role": "subject", "subject_id": "T1", "display_name": "Asha"})
	var ack struct {
		SessionID string `json:"session_id"`
		Role      string `json:"role"`
	}
	require.NoError(t, json.Unmarshal(waitFor(t, tourist, "connection_ack"), &ack))
	assert.NotEmpty(t, ack.SessionID)
	assert.Equal(t, "subject", ack.Role)

	desk := e.dial(t)
	send(t, desk, "connect", map[string]any{"role": "observer"})
	waitFor(t, desk, "connection_ack")
	var snap struct {
		Users []model.Session `json:"users"`
	}
	require.NoError(t, json.Unmarshal(waitFor(t, desk, "snapshot"), &snap))
	require.Len(t, snap.Users, 1)
	assert.Equal(t, "Asha", snap.Users[0].DisplayName)

	send(t, tourist, "sos_signal", map[string]any{"help_type": "ambulance", "location_text": "Marine Drive"})
	var sosAck struct {
		SOSID      string `json:"sos_id"`
		ETAMinutes int    `json:"eta_minutes"`
	}
	require.NoError(t, json.Unmarshal(waitFor(t, tourist, "sos_ack"), &sosAck))
	assert.Equal(t, 12, sosAck.ETAMinutes)

	var alert struct {
		SOS model.SOSSignal `json:"sos"`
	}
	require.NoError(t, json.Unmarshal(waitFor(t, desk, "new_sos_alert"), &alert))
	assert.Equal(t, sosAck.SOSID, alert.SOS.ID)

	send(t, desk, "dispatch_help", map[string]any{"sos_id": sosAck.SOSID, "eta_minutes": 7})
	var eta struct {
		ETAMinutes int `json:"eta_minutes"`
	}
	require.NoError(t, json.Unmarshal(waitFor(t, tourist, "eta_update"), &eta))
	assert.Equal(t, 7, eta.ETAMinutes)

	// tourist may not resolve
	send(t, tourist, "resolve_sos", map[string]any{"sos_id": sosAck.SOSID})
	var rej struct {
		Command string `json:"command"`
		Kind    string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal(waitFor(t, tourist, "command_rejected"), &rej))
	assert.Equal(t, "resolve_sos", rej.Command)
	assert.Equal(t, "validation", rej.Kind)

	send(t, desk, "resolve_sos", map[string]any{"sos_id": sosAck.SOSID})
	waitFor(t, tourist, "help_arrived")

	resp, err := http.Get(e.srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var status hub.SnapshotPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Empty(t, status.SOS)
	assert.Equal(t, int64(1), status.Stats.TotalSOS)
	assert.Equal(t, 2, status.Stats.ActiveCount)

	// closing the tourist socket removes the session
	require.NoError(t, tourist.Close())
	var users struct {
		Users []model.Session `json:"users"`
	}
	for {
		require.NoError(t, json.Unmarshal(waitFor(t, desk, "users_update"), &users))
		if len(users.Users) == 0 {
			break
		}
	}
}

func TestMalformedCommandRejected(t *testing.T) {
	e := newEnv(t, "")
	conn := e.dial(t)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":`)))
	var rej struct {
		Kind string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal(waitFor(t, conn, "command_rejected"), &rej))
	assert.Equal(t, "validation", rej.Kind)
}

func TestRESTEndpoints(t *testing.T) {
	e := newEnv(t, "BPubKey")

	get := func(path string) (*http.Response, []byte) {
		resp, err := http.Get(e.srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		var buf strings.Builder
		_, err = io.Copy(&buf, resp.Body)
		require.NoError(t, err)
		return resp, []byte(buf.String())
	}

	resp, body := get("/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	resp, body = get("/api/zones")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "earthquake-la")

	resp, _ = get("/api/places/taj/rating")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	rating, _ := json.Marshal(model.RatingPayload{PlaceID: "taj", Stars: 4})
	require.NoError(t, e.store.AppendReport(context.Background(), model.Report{ID: "r1", Kind: model.ReportRating, SubjectID: "T1", Payload: rating, CreatedAt: time.Now()}))
	resp, body = get("/api/places/taj/rating")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"place_id":"taj","average":4,"count":1}`, string(body))

	resp, body = get("/api/reports?kind=rating&limit=5")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"id":"r1"`)
	resp, _ = get("/api/reports?kind=gossip")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = get("/api/sos/history")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"sos":[]}`, string(body))

	resp, body = get("/api/push/vapid-public")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"enabled":true,"vapid_public_key":"BPubKey"}`, string(body))
}

func TestPushSubscribe(t *testing.T) {
	e := newEnv(t, "BPubKey")
	post := func(method, body string) int {
		req, err := http.NewRequest(method, e.srv.URL+"/api/push/subscribe", strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusBadRequest, post(http.MethodPost, `{"subject_id":"T1","subscription":{"endpoint":"not a url"}}`))
	assert.Equal(t, http.StatusBadRequest, post(http.MethodPost, `{"subscription":{"endpoint":"https://push.example/1","keys":{"p256dh":"k","auth":"a"}}}`))
	assert.Equal(t, http.StatusNoContent, post(http.MethodPost, `{"subject_id":"T1","subscription":{"endpoint":"https://push.example/1","keys":{"p256dh":"k","auth":"a"}}}`))

	subs, err := e.store.PushSubscriptions(context.Background(), "T1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "https://push.example/1", subs[0].Endpoint)

	assert.Equal(t, http.StatusNoContent, post(http.MethodDelete, `{"subject_id":"T1","endpoint":"https://push.example/1"}`))
	subs, err = e.store.PushSubscriptions(context.Background(), "T1")
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestPushDisabled(t *testing.T) {
	e := newEnv(t, "")
	resp, err := http.Post(e.srv.URL+"/api/push/subscribe", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestOriginCheck(t *testing.T) {
	h := NewWSHandler(context.Background(), nil, ws.Options{}, "https://desk.example, https://app.example")
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)

	assert.True(t, h.checkOrigin(req))
	req.Header.Set("Origin", "https://app.example")
	assert.True(t, h.checkOrigin(req))
	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, h.checkOrigin(req))
}
