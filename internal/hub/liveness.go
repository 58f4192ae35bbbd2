package hub

import (
	"context"
	"time"

	"github.com/safetyhub/internal/failure"
	"github.com/safetyhub/internal/logger"
	"github.com/safetyhub/internal/model"
)

// Sweep ends sessions that missed their heartbeats and, when
// SOSForceResolveAfter is set, resolves signals whose subject stayed away
// longer than that. Run calls it every SweepInterval.
func (h *Hub) Sweep() {
	now := h.opts.Now()
	cutoff := now.Add(-h.opts.LivenessTimeout)

	for _, s := range h.registry.Stale(cutoff) {
		// a heartbeat may land between Stale and the locks
		alive := func(cur model.Session) bool { return !cur.LastHeartbeatAt.Before(cutoff) }
		if !h.removeSession(context.Background(), s.ID, "heartbeat timeout", alive) {
			continue
		}
		if h.metrics != nil {
			h.metrics.ExpiredSessions.WithLabelValues(string(s.Role)).Inc()
		}
		logger.Warnf("hub: %v", failure.Liveness("hub.Sweep", "%s session %s silent since %s",
			s.Role, logger.MaskID(s.ID), s.LastHeartbeatAt.Format(time.RFC3339)))
	}

	if h.opts.SOSForceResolveAfter > 0 {
		h.forceResolve(now.Add(-h.opts.SOSForceResolveAfter))
	}
}

func (h *Hub) forceResolve(cutoff time.Time) {
	ctx := context.Background()
	for _, sig := range h.sos.DisconnectedSince(cutoff) {
		_, unlock, err := h.lockSignal("hub.forceResolve", sig.ID)
		if err != nil {
			continue
		}
		cur, ok := h.sos.OpenFor(sig.SubjectID)
		if !ok || cur.ID != sig.ID || !cur.SubjectDisconnected || cur.DisconnectedAt == nil || !cur.DisconnectedAt.Before(cutoff) {
			unlock()
			continue
		}
		resolved, err := h.sos.Resolve(sig.ID)
		if err == nil {
			logger.Warnf("hub: sos %s force-resolved, subject gone since %s", sig.ID, cur.DisconnectedAt.Format(time.RFC3339))
			h.finishResolve(ctx, resolved)
		}
		unlock()
	}
}
