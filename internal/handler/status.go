package handler

import (
	"net/http"

	"github.com/safetyhub/internal/hub"
)

// StatusHandler отдаёт состояние хаба для дашбордов без WebSocket.
type StatusHandler struct {
	hub *hub.Hub
}

func NewStatusHandler(h *hub.Hub) *StatusHandler {
	return &StatusHandler{hub: h}
}

func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Status returns the same view an observer gets as its snapshot.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.hub.Snapshot())
}

func (h *StatusHandler) Zones(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"zones": h.hub.Zones()})
}
