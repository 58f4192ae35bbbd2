package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/safetyhub/internal/failure"
	"github.com/safetyhub/internal/logger"
	"github.com/safetyhub/internal/model"
	"github.com/safetyhub/internal/registry"
	"github.com/safetyhub/internal/storage"
)

// Dispatch executes one command received on conn. sessionID is the session
// bound to conn so far ("" before connect); the returned id is the binding
// after the command. A failed command is answered with command_rejected on
// conn and its error is returned as well.
func (h *Hub) Dispatch(ctx context.Context, conn registry.Conn, sessionID string, cmd Command) (next string, err error) {
	defer logger.DeferLogDuration("hub.Dispatch", time.Now())()
	defer func() {
		if rec := recover(); rec != nil {
			logger.Errorf("hub: panic in %s: %v", cmd.Type, rec)
			next, err = sessionID, fmt.Errorf("hub.Dispatch %s: panic: %v", cmd.Type, rec)
		}
		if err != nil {
			h.Reject(conn, cmd.Type, err)
			if k := failure.KindOf(err); k == failure.KindInternal || k == failure.KindInvariant {
				logger.Errorf("hub: %s: %v", cmd.Type, err)
			}
		}
		h.observeCommand(cmd.Type, err)
	}()

	if cmd.Type == CmdConnect {
		if sessionID != "" {
			if _, lerr := h.registry.Lookup(sessionID); lerr == nil {
				return sessionID, failure.Validation("connect", "connection already has a session")
			}
		}
		return h.connect(ctx, conn, cmd.Payload)
	}

	roles, known := allowedRoles[cmd.Type]
	if !known {
		return sessionID, failure.Validation("dispatch", "unknown command type %q", cmd.Type)
	}
	if sessionID == "" {
		return sessionID, failure.Validation(string(cmd.Type), "connect first")
	}
	sess, lerr := h.registry.Lookup(sessionID)
	if lerr != nil {
		return "", failure.Validation(string(cmd.Type), "session expired, reconnect")
	}
	if !slices.Contains(roles, sess.Role) {
		return sessionID, failure.Validation(string(cmd.Type), "%s not allowed for role %s", cmd.Type, sess.Role)
	}

	switch cmd.Type {
	case CmdHeartbeat:
		err = h.heartbeat(conn, sess, cmd.Payload)
	case CmdDisconnect:
		h.removeSession(ctx, sess.ID, "disconnect", nil)
		return "", nil
	case CmdLocationUpdate:
		err = h.locationUpdate(sess, cmd.Payload)
	case CmdSOSSignal:
		err = h.sosSignal(ctx, sess, cmd.Payload)
	case CmdToggleTracking:
		err = h.toggleTracking(conn, sess, cmd.Payload)
	case CmdFileEFIR:
		err = h.fileEFIR(ctx, conn, sess, cmd.Payload)
	case CmdSubmitRating:
		err = h.submitRating(ctx, conn, sess, cmd.Payload)
	case CmdSubmitFeedback:
		err = h.submitFeedback(ctx, conn, sess, cmd.Payload)
	case CmdResolveSOS:
		err = h.resolveSOS(ctx, cmd.Payload)
	case CmdDispatchHelp:
		err = h.dispatchHelp(ctx, cmd.Payload)
	case CmdUpdateETA:
		err = h.updateETA(ctx, cmd.Payload)
	case CmdRequestSnapshot:
		h.gate.Lock()
		h.send(conn, event(model.EventSnapshot, h.snapshot()))
		h.gate.Unlock()
	}
	return sessionID, err
}

func (h *Hub) observeCommand(t CommandType, err error) {
	if h.metrics == nil {
		return
	}
	label := string(t)
	if _, ok := allowedRoles[t]; !ok && t != CmdConnect {
		label = "unknown"
	}
	outcome := "ok"
	if err != nil {
		outcome = string(failure.KindOf(err))
	}
	h.metrics.ObserveCommand(label, outcome)
}

// admit reports whether one more session fits. Replacing a live subject
// session does not grow the registry.
func (h *Hub) admit(role model.Role, subjectID string) error {
	if role == model.RoleSubject {
		if _, ok := h.registry.BySubject(subjectID); ok {
			return nil
		}
	}
	subjects, observers := h.registry.Counts()
	if subjects+observers >= h.opts.MaxConnections {
		return failure.Conflict("connect", "connection limit reached")
	}
	return nil
}

func (h *Hub) services() Services {
	return Services{
		HeartbeatIntervalSec: int(h.opts.HeartbeatInterval / time.Second),
		Geofencing:           len(h.geo.Zones()) > 0,
		Push:                 h.opts.PushEnabled,
	}
}

func (h *Hub) connect(ctx context.Context, conn registry.Conn, payload json.RawMessage) (string, error) {
	var p ConnectPayload
	if err := h.decode("connect", payload, &p); err != nil {
		return "", err
	}
	meta := registry.Metadata{DisplayName: p.DisplayName, Language: p.Language}
	if p.Role == model.RoleObserver {
		return h.connectObserver(conn, meta)
	}

	unlock := h.locks.Lock(p.SubjectID)
	defer unlock()
	h.gate.RLock()
	defer h.gate.RUnlock()

	if err := h.admit(model.RoleSubject, p.SubjectID); err != nil {
		return "", err
	}
	reg, err := h.registry.Register(model.RoleSubject, p.SubjectID, meta, conn)
	if err != nil {
		return "", err
	}
	h.connections.Add(1)
	if reg.ReplacedConn != nil {
		reg.ReplacedConn.Close()
	}

	cleared, reconnected := h.sos.MarkSubjectConnected(p.SubjectID)
	if reconnected {
		h.journal(ctx, cleared)
	}
	prior := &PriorState{
		Resumed:         reg.Resumed,
		TrackingEnabled: reg.Session.TrackingEnabled,
		Location:        reg.Session.Location,
	}
	if open, ok := h.sos.OpenFor(p.SubjectID); ok {
		prior.OpenSOS = &open
	}

	h.send(conn, event(model.EventConnectionAck, ConnectionAckPayload{
		SessionID:   reg.Session.ID,
		Role:        model.RoleSubject,
		DisplayName: reg.Session.DisplayName,
		Services:    h.services(),
		PriorState:  prior,
	}))
	h.broadcastUsers()
	if reconnected {
		h.broadcastSOS()
	}
	h.broadcastStats()

	logger.Event("subject connected", map[string]any{
		"subject_id": logger.MaskID(p.SubjectID),
		"session_id": logger.MaskID(reg.Session.ID),
		"resumed":    reg.Resumed,
		"replaced":   reg.Replaced != nil,
	})
	return reg.Session.ID, nil
}

// connectObserver registers under the write gate so the snapshot it receives
// precedes any incremental event on its buffer.
func (h *Hub) connectObserver(conn registry.Conn, meta registry.Metadata) (string, error) {
	h.gate.Lock()
	defer h.gate.Unlock()

	if err := h.admit(model.RoleObserver, ""); err != nil {
		return "", err
	}
	reg, err := h.registry.Register(model.RoleObserver, "", meta, conn)
	if err != nil {
		return "", err
	}
	h.connections.Add(1)

	h.send(conn, event(model.EventConnectionAck, ConnectionAckPayload{
		SessionID:   reg.Session.ID,
		Role:        model.RoleObserver,
		DisplayName: reg.Session.DisplayName,
		Services:    h.services(),
	}))
	h.send(conn, event(model.EventSnapshot, h.snapshot()))
	h.broadcastStats()

	logger.Event("observer connected", map[string]any{"session_id": logger.MaskID(reg.Session.ID)})
	return reg.Session.ID, nil
}

// Disconnect ends a session whose transport went away. Unknown ids are a no-op.
func (h *Hub) Disconnect(sessionID string) {
	if sessionID == "" {
		return
	}
	h.removeSession(context.Background(), sessionID, "transport closed", nil)
}

// removeSession unregisters sessionID and closes its connection. keep, when
// set, is rechecked under the locks and can veto the removal.
func (h *Hub) removeSession(ctx context.Context, sessionID, reason string, keep func(model.Session) bool) bool {
	sess, err := h.registry.Lookup(sessionID)
	if err != nil {
		return false
	}
	if sess.Role == model.RoleSubject {
		unlock := h.locks.Lock(sess.SubjectID)
		defer unlock()
	}
	h.gate.RLock()
	defer h.gate.RUnlock()

	if keep != nil {
		cur, err := h.registry.Lookup(sessionID)
		if err != nil || keep(cur) {
			return false
		}
	}
	conn, _ := h.registry.Conn(sessionID)
	removed, ok := h.registry.Unregister(sessionID)
	if !ok {
		return false
	}
	if conn != nil {
		conn.Close()
	}

	if removed.Role == model.RoleSubject {
		flagged, ok := h.sos.MarkSubjectDisconnected(removed.SubjectID)
		if ok {
			h.journal(ctx, flagged)
		}
		h.broadcastUsers()
		if ok {
			h.broadcastSOS()
		}
	}
	h.broadcastStats()

	logger.Event("session closed", map[string]any{
		"role":       removed.Role,
		"session_id": logger.MaskID(removed.ID),
		"reason":     reason,
	})
	return true
}

func (h *Hub) heartbeat(conn registry.Conn, sess model.Session, payload json.RawMessage) error {
	var p HeartbeatPayload
	if err := h.decode("heartbeat", payload, &p); err != nil {
		return err
	}
	if sess.Role == model.RoleSubject && p.SubjectID != "" && p.SubjectID != sess.SubjectID {
		return failure.Validation("heartbeat", "subject_id does not match session")
	}
	if err := h.registry.Touch(sess.ID); err != nil {
		return err
	}
	h.send(conn, event(model.EventHeartbeatAck, HeartbeatAckPayload{ServerTime: h.opts.Now()}))
	return nil
}

func (h *Hub) locationUpdate(sess model.Session, payload json.RawMessage) error {
	var p LocationPayload
	if err := h.decode("location_update", payload, &p); err != nil {
		return err
	}

	unlock := h.locks.Lock(sess.SubjectID)
	defer unlock()
	h.gate.RLock()
	defer h.gate.RUnlock()

	sample := model.LocationSample{
		SubjectID:    sess.SubjectID,
		Coordinates:  p.Coordinates,
		LocationText: p.LocationText,
		CapturedAt:   p.CapturedAt,
		ReceivedAt:   h.opts.Now(),
	}
	_, applied, err := h.registry.SetLocation(sess.ID, sample)
	if err != nil {
		return err
	}
	if !applied {
		logger.Debugf("hub: stale location dropped subject=%s", logger.MaskID(sess.SubjectID))
		return nil
	}

	tr := h.geo.Observe(sess.SubjectID, p.Coordinates)
	if tr.Alert() {
		evType := model.EventGeofenceAlert
		if tr.To == model.SeverityRed {
			evType = model.EventRedZoneAlert
		}
		h.toSubject(sess.SubjectID, event(evType, ZoneAlertPayload{Zone: tr.Match.Zone}))
		if h.metrics != nil {
			h.metrics.GeofenceAlerts.WithLabelValues(string(tr.To)).Inc()
		}
	}
	h.broadcastUsers()
	return nil
}

func (h *Hub) sosSignal(ctx context.Context, sess model.Session, payload json.RawMessage) error {
	var p SOSPayload
	if err := h.decode("sos_signal", payload, &p); err != nil {
		return err
	}

	unlock := h.locks.Lock(sess.SubjectID)
	defer unlock()
	h.gate.RLock()
	defer h.gate.RUnlock()

	cur, err := h.registry.Lookup(sess.ID)
	if err != nil {
		return failure.Validation("sos_signal", "session expired, reconnect")
	}
	loc := cur.Location
	if p.Coordinates != nil || p.LocationText != "" {
		loc = &model.LocationSample{
			SubjectID:    sess.SubjectID,
			Coordinates:  p.Coordinates,
			LocationText: p.LocationText,
			ReceivedAt:   h.opts.Now(),
		}
	}
	sig, err := h.sos.Create(sess.SubjectID, cur.DisplayName, p.HelpType, loc)
	if err != nil {
		return err
	}
	h.journal(ctx, sig)
	if h.metrics != nil {
		h.metrics.SOSCreated.WithLabelValues(string(sig.HelpType)).Inc()
	}

	eta := sig.HelpType.DefaultETA()
	h.toSubject(sess.SubjectID, event(model.EventSOSAck, SOSAckPayload{
		SOSID:      sig.ID,
		ETAMinutes: &eta,
		HelpType:   sig.HelpType,
	}))
	h.broadcast(event(model.EventNewSOSAlert, NewSOSAlertPayload{SOS: sig}))
	h.broadcastSOS()
	h.broadcastStats()

	logger.Event("sos created", map[string]any{
		"sos_id":     sig.ID,
		"subject_id": logger.MaskID(sig.SubjectID),
		"help_type":  sig.HelpType,
	})
	return nil
}

func (h *Hub) toggleTracking(conn registry.Conn, sess model.Session, payload json.RawMessage) error {
	var p TrackingPayload
	if err := h.decode("toggle_tracking", payload, &p); err != nil {
		return err
	}

	unlock := h.locks.Lock(sess.SubjectID)
	defer unlock()
	h.gate.RLock()
	defer h.gate.RUnlock()

	updated, err := h.registry.SetTracking(sess.ID, *p.Enabled)
	if err != nil {
		return err
	}
	h.send(conn, event(model.EventTrackingAck, TrackingAckPayload{Enabled: updated.TrackingEnabled}))
	h.broadcastUsers()
	return nil
}

// newReport validates raw against dst and wraps it as an append-only record.
func (h *Hub) newReport(op string, kind model.ReportKind, subjectID string, raw json.RawMessage, dst any) (model.Report, error) {
	if err := h.decode(op, raw, dst); err != nil {
		return model.Report{}, err
	}
	body, err := json.Marshal(dst)
	if err != nil {
		return model.Report{}, fmt.Errorf("%s: marshal: %w", op, err)
	}
	return model.Report{
		ID:        uuid.NewString(),
		Kind:      kind,
		SubjectID: subjectID,
		Payload:   body,
		CreatedAt: h.opts.Now(),
	}, nil
}

func (h *Hub) fileEFIR(ctx context.Context, conn registry.Conn, sess model.Session, payload json.RawMessage) error {
	var p model.EFIRPayload
	r, err := h.newReport("file_efir", model.ReportEFIR, sess.SubjectID, payload, &p)
	if err != nil {
		return err
	}
	if err := h.store.AppendReport(ctx, r); err != nil {
		return fmt.Errorf("file_efir: %w", err)
	}

	unlock := h.locks.Lock(sess.SubjectID)
	defer unlock()
	h.gate.RLock()
	defer h.gate.RUnlock()

	h.send(conn, event(model.EventEFIRAck, EFIRAckPayload{ReferenceID: r.ID}))
	h.broadcast(event(model.EventNewEFIR, NewEFIRPayload{Report: r}))
	return nil
}

func (h *Hub) submitRating(ctx context.Context, conn registry.Conn, sess model.Session, payload json.RawMessage) error {
	var p model.RatingPayload
	r, err := h.newReport("submit_rating", model.ReportRating, sess.SubjectID, payload, &p)
	if err != nil {
		return err
	}
	if err := h.store.AppendReport(ctx, r); err != nil {
		return fmt.Errorf("submit_rating: %w", err)
	}
	agg, err := h.store.PlaceRating(ctx, p.PlaceID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		agg = model.PlaceRating{PlaceID: p.PlaceID, Average: float64(p.Stars), Count: 1}
	case err != nil:
		return fmt.Errorf("submit_rating: %w", err)
	}
	h.send(conn, event(model.EventRatingAck, agg))
	return nil
}

func (h *Hub) submitFeedback(ctx context.Context, conn registry.Conn, sess model.Session, payload json.RawMessage) error {
	var p model.FeedbackPayload
	r, err := h.newReport("submit_feedback", model.ReportFeedback, sess.SubjectID, payload, &p)
	if err != nil {
		return err
	}
	if err := h.store.AppendReport(ctx, r); err != nil {
		return fmt.Errorf("submit_feedback: %w", err)
	}
	h.send(conn, event(model.EventFeedbackAck, FeedbackAckPayload{}))
	return nil
}

// lockSignal takes the lock of the subject owning sosID. The signal's subject
// never changes, so reading it before locking is safe.
func (h *Hub) lockSignal(op, sosID string) (model.SOSSignal, func(), error) {
	sig, err := h.sos.Get(sosID)
	if err != nil {
		return model.SOSSignal{}, nil, failure.NotFound(op, "sos %s not found", sosID)
	}
	unlock := h.locks.Lock(sig.SubjectID)
	h.gate.RLock()
	return sig, func() {
		h.gate.RUnlock()
		unlock()
	}, nil
}

func (h *Hub) resolveSOS(ctx context.Context, payload json.RawMessage) error {
	var p ResolvePayload
	if err := h.decode("resolve_sos", payload, &p); err != nil {
		return err
	}
	_, unlock, err := h.lockSignal("resolve_sos", p.SOSID)
	if err != nil {
		return err
	}
	defer unlock()

	sig, err := h.sos.Resolve(p.SOSID)
	if err != nil {
		return err
	}
	h.finishResolve(ctx, sig)
	return nil
}

// finishResolve emits the events of a resolved signal. Caller holds the
// subject lock and the read gate.
func (h *Hub) finishResolve(ctx context.Context, sig model.SOSSignal) {
	h.journal(ctx, sig)
	h.toSubject(sig.SubjectID, event(model.EventHelpArrived, HelpArrivedPayload{SOSID: sig.ID}))
	h.broadcastSOS()
	h.broadcastStats()
	logger.Event("sos resolved", map[string]any{"sos_id": sig.ID, "subject_id": logger.MaskID(sig.SubjectID)})
}

func (h *Hub) dispatchHelp(ctx context.Context, payload json.RawMessage) error {
	var p DispatchPayload
	if err := h.decode("dispatch_help", payload, &p); err != nil {
		return err
	}
	_, unlock, err := h.lockSignal("dispatch_help", p.SOSID)
	if err != nil {
		return err
	}
	defer unlock()

	sig, err := h.sos.Acknowledge(p.SOSID, p.ETAMinutes)
	if err != nil {
		return err
	}
	h.emitETA(ctx, sig)
	return nil
}

func (h *Hub) updateETA(ctx context.Context, payload json.RawMessage) error {
	var p UpdateETAPayload
	if err := h.decode("update_eta", payload, &p); err != nil {
		return err
	}
	_, unlock, err := h.lockSignal("update_eta", p.SOSID)
	if err != nil {
		return err
	}
	defer unlock()

	sig, err := h.sos.UpdateETA(p.SOSID, *p.ETAMinutes)
	if err != nil {
		return err
	}
	h.emitETA(ctx, sig)
	return nil
}

func (h *Hub) emitETA(ctx context.Context, sig model.SOSSignal) {
	h.journal(ctx, sig)
	eta := 0
	if sig.ETAMinutes != nil {
		eta = *sig.ETAMinutes
	}
	h.toSubject(sig.SubjectID, event(model.EventETAUpdate, ETAUpdatePayload{SOSID: sig.ID, ETAMinutes: eta}))
	h.broadcastSOS()
}
