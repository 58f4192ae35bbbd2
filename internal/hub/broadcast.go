package hub

import (
	"context"

	"github.com/safetyhub/internal/failure"
	"github.com/safetyhub/internal/logger"
	"github.com/safetyhub/internal/model"
	"github.com/safetyhub/internal/registry"
)

// send enqueues ev on conn. A full or closed buffer drops the event; the
// receiver resyncs with request_snapshot.
func (h *Hub) send(conn registry.Conn, ev model.Event) {
	if conn == nil {
		return
	}
	if err := conn.Send(ev); err != nil {
		h.dropped.Add(1)
		if h.metrics != nil {
			h.metrics.DroppedEvents.Inc()
		}
		logger.Debugf("hub: %v", failure.Transport("hub.send "+string(ev.Type), err))
	}
}

// broadcast sends ev to every observer. Caller holds the gate (read or write)
// and, for subject events, the subject lock, so per-subject order holds on
// every observer buffer.
func (h *Hub) broadcast(ev model.Event) {
	for _, c := range h.registry.ObserverConns() {
		h.send(c, ev)
	}
}

func (h *Hub) broadcastUsers() {
	h.broadcast(event(model.EventUsersUpdate, UsersUpdatePayload{Users: h.registry.List(model.RoleSubject)}))
}

func (h *Hub) broadcastSOS() {
	h.broadcast(event(model.EventSOSUpdate, SOSUpdatePayload{SOS: h.sos.Open()}))
}

func (h *Hub) broadcastStats() {
	st := h.stats()
	if h.metrics != nil {
		h.metrics.SetSessions(st.Subjects, st.Observers)
		h.metrics.SetOpenSOS(st.OpenSOS)
	}
	h.broadcast(event(model.EventStatsUpdate, st))
}

// toSubject delivers a subject-directed alert on the live connection, if any,
// and queues it for the notifier in the same order.
func (h *Hub) toSubject(subjectID string, ev model.Event) {
	if conn, ok := h.registry.SubjectConn(subjectID); ok {
		h.send(conn, ev)
	}
	if h.notify == nil {
		return
	}
	if err := h.notify.push(subjectID, ev); err != nil {
		h.dropped.Add(1)
		if h.metrics != nil {
			h.metrics.DroppedEvents.Inc()
		}
		logger.Debugf("hub: %v", failure.Transport("hub.notify "+string(ev.Type), err))
	}
}

// Reject reports a failed command to its originator.
func (h *Hub) Reject(conn registry.Conn, cmd CommandType, err error) {
	h.send(conn, event(model.EventCommandRejected, CommandRejectedPayload{
		Command: cmd,
		Kind:    failure.KindOf(err),
		Error:   failure.Message(err),
	}))
}

// journal records an SOS transition. Live state stays authoritative, so store
// errors are only logged.
func (h *Hub) journal(ctx context.Context, s model.SOSSignal) {
	if h.store == nil {
		return
	}
	if err := h.store.SaveSOS(ctx, s); err != nil {
		logger.Errorf("hub: journal sos %s: %v", s.ID, err)
	}
}
