// Package sos runs the per-subject SOS state machine:
// none -> active -> acknowledged -> resolved, with at most one open signal
// (active or acknowledged) per subject.
package sos

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/safetyhub/internal/failure"
	"github.com/safetyhub/internal/logger"
	"github.com/safetyhub/internal/model"
)

type Manager struct {
	mu      sync.Mutex
	signals map[string]*model.SOSSignal
	open    map[string]string   // subject_id -> sos_id
	history map[string][]string // subject_id -> every sos_id
	total   int64
	now     func() time.Time
}

func NewManager(now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{
		signals: make(map[string]*model.SOSSignal),
		open:    make(map[string]string),
		history: make(map[string][]string),
		now:     now,
	}
}

// Create opens a new signal for subjectID. A subject with an open signal gets
// a Conflict and the existing signal is left unchanged.
func (m *Manager) Create(subjectID, displayName string, help model.HelpType, loc *model.LocationSample) (model.SOSSignal, error) {
	if subjectID == "" {
		return model.SOSSignal{}, failure.Validation("sos.Create", "subject_id required")
	}
	if help == "" {
		help = model.HelpGeneral
	}
	switch help {
	case model.HelpGeneral, model.HelpPolice, model.HelpAmbulance, model.HelpFire:
	default:
		return model.SOSSignal{}, failure.Validation("sos.Create", "unknown help_type %q", help)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.open[subjectID]; ok {
		return model.SOSSignal{}, failure.Conflict("sos.Create", "subject already has open signal %s", id)
	}
	s := &model.SOSSignal{
		ID:          uuid.NewString(),
		SubjectID:   subjectID,
		DisplayName: displayName,
		HelpType:    help,
		Location:    loc,
		CreatedAt:   m.now(),
		Status:      model.SOSActive,
	}
	m.signals[s.ID] = s
	m.open[subjectID] = s.ID
	m.history[subjectID] = append(m.history[subjectID], s.ID)
	m.total++
	if err := m.checkSubject("sos.Create", subjectID); err != nil {
		return model.SOSSignal{}, err
	}
	return *s, nil
}

// Acknowledge moves an active signal to acknowledged. A nil eta uses the help
// type's default estimate.
func (m *Manager) Acknowledge(sosID string, eta *int) (model.SOSSignal, error) {
	if eta != nil && *eta < 0 {
		return model.SOSSignal{}, failure.Validation("sos.Acknowledge", "eta_minutes must not be negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.openSignal("sos.Acknowledge", sosID)
	if err != nil {
		return model.SOSSignal{}, err
	}
	if s.Status == model.SOSAcknowledged {
		return model.SOSSignal{}, failure.Conflict("sos.Acknowledge", "signal %s already acknowledged", sosID)
	}
	minutes := s.HelpType.DefaultETA()
	if eta != nil {
		minutes = *eta
	}
	now := m.now()
	s.Status = model.SOSAcknowledged
	s.AcknowledgedAt = &now
	s.ETAMinutes = &minutes
	s.LastETAUpdateAt = &now
	if err := m.checkSubject("sos.Acknowledge", s.SubjectID); err != nil {
		return model.SOSSignal{}, err
	}
	return *s, nil
}

// UpdateETA overwrites the estimate. An active signal becomes acknowledged.
func (m *Manager) UpdateETA(sosID string, eta int) (model.SOSSignal, error) {
	if eta < 0 {
		return model.SOSSignal{}, failure.Validation("sos.UpdateETA", "eta_minutes must not be negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.openSignal("sos.UpdateETA", sosID)
	if err != nil {
		return model.SOSSignal{}, err
	}
	now := m.now()
	if s.Status == model.SOSActive {
		s.Status = model.SOSAcknowledged
		s.AcknowledgedAt = &now
	}
	minutes := eta
	s.ETAMinutes = &minutes
	s.LastETAUpdateAt = &now
	if err := m.checkSubject("sos.UpdateETA", s.SubjectID); err != nil {
		return model.SOSSignal{}, err
	}
	return *s, nil
}

// Resolve closes a signal. Resolved is terminal.
func (m *Manager) Resolve(sosID string) (model.SOSSignal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.openSignal("sos.Resolve", sosID)
	if err != nil {
		return model.SOSSignal{}, err
	}
	now := m.now()
	s.Status = model.SOSResolved
	s.ResolvedAt = &now
	if m.open[s.SubjectID] == s.ID {
		delete(m.open, s.SubjectID)
	}
	if err := m.checkSubject("sos.Resolve", s.SubjectID); err != nil {
		return model.SOSSignal{}, err
	}
	return *s, nil
}

// MarkSubjectDisconnected flags the subject's open signal, if any.
func (m *Manager) MarkSubjectDisconnected(subjectID string) (model.SOSSignal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.openFor(subjectID)
	if !ok {
		return model.SOSSignal{}, false
	}
	if !s.SubjectDisconnected {
		now := m.now()
		s.SubjectDisconnected = true
		s.DisconnectedAt = &now
	}
	return *s, true
}

// MarkSubjectConnected clears the disconnect flag. ok is false when there was
// nothing to clear.
func (m *Manager) MarkSubjectConnected(subjectID string) (model.SOSSignal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.openFor(subjectID)
	if !ok || !s.SubjectDisconnected {
		return model.SOSSignal{}, false
	}
	s.SubjectDisconnected = false
	s.DisconnectedAt = nil
	return *s, true
}

func (m *Manager) OpenFor(subjectID string) (model.SOSSignal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.openFor(subjectID)
	if !ok {
		return model.SOSSignal{}, false
	}
	return *s, true
}

func (m *Manager) Get(sosID string) (model.SOSSignal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.signals[sosID]
	if !ok {
		return model.SOSSignal{}, failure.NotFound("sos.Get", "signal %s not found", sosID)
	}
	return *s, nil
}

// Open lists open signals, oldest first.
func (m *Manager) Open() []model.SOSSignal {
	m.mu.Lock()
	out := make([]model.SOSSignal, 0, len(m.open))
	for _, id := range m.open {
		out = append(out, *m.signals[id])
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// DisconnectedSince returns open signals whose subject has been gone since
// before cutoff.
func (m *Manager) DisconnectedSince(cutoff time.Time) []model.SOSSignal {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SOSSignal
	for _, id := range m.open {
		s := m.signals[id]
		if s.SubjectDisconnected && s.DisconnectedAt != nil && s.DisconnectedAt.Before(cutoff) {
			out = append(out, *s)
		}
	}
	return out
}

// Counts returns the number of signals ever created and currently open.
func (m *Manager) Counts() (total int64, open int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total, len(m.open)
}

func (m *Manager) openFor(subjectID string) (*model.SOSSignal, bool) {
	id, ok := m.open[subjectID]
	if !ok {
		return nil, false
	}
	s, ok := m.signals[id]
	return s, ok
}

func (m *Manager) openSignal(op, sosID string) (*model.SOSSignal, error) {
	s, ok := m.signals[sosID]
	if !ok {
		return nil, failure.NotFound(op, "signal %s not found", sosID)
	}
	if s.Status == model.SOSResolved {
		return nil, failure.Conflict(op, "signal %s already resolved", sosID)
	}
	return s, nil
}

// checkSubject verifies the one-open-signal rule for subjectID after a mutation.
// Caller holds m.mu.
func (m *Manager) checkSubject(op, subjectID string) error {
	var open []string
	for _, id := range m.history[subjectID] {
		if m.signals[id].Status.Open() {
			open = append(open, id)
		}
	}
	indexed, hasIndex := m.open[subjectID]
	switch {
	case len(open) > 1:
	case len(open) == 1 && hasIndex && indexed == open[0]:
		return nil
	case len(open) == 0 && !hasIndex:
		return nil
	}
	logger.Errorf("sos invariant broken subject=%s open=%v indexed=%q", subjectID, open, indexed)
	return failure.Invariant(op, "subject %s has %d open signals", subjectID, len(open))
}
