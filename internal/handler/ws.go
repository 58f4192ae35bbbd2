package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/safetyhub/internal/logger"
	"github.com/safetyhub/internal/ws"
)

type WSHandler struct {
	hub            ws.Dispatcher
	opts           ws.Options
	allowedOrigins string
	upgrader       websocket.Upgrader
	// ctx bounds every client; cancelled on shutdown.
	ctx context.Context
}

// NewWSHandler создаёт обработчик WebSocket. allowedOrigins: как в CORS (через запятую или "*").
func NewWSHandler(ctx context.Context, d ws.Dispatcher, opts ws.Options, allowedOrigins string) *WSHandler {
	h := &WSHandler{
		hub:            d,
		opts:           opts,
		allowedOrigins: strings.TrimSpace(allowedOrigins),
		ctx:            ctx,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

// ServeWS upgrades the request. Roles are chosen by the connect command, not here.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}
	ws.NewClient(h.hub, conn, h.opts).Start(h.ctx)
}
