package geofence

import (
	"sync"

	"github.com/safetyhub/internal/model"
)

// Transition is the outcome of observing a new classification for a subject.
type Transition struct {
	From  model.Severity
	To    model.Severity
	Match *Match
}

// Alert reports whether the transition is an entry into an alerting severity
// from a strictly lower one.
func (t Transition) Alert() bool {
	return t.To.Alerting() && t.To.Rank() > t.From.Rank()
}

// Tracker holds the last severity seen per subject. It is keyed by subject id,
// so it survives reconnects.
type Tracker struct {
	mu    sync.Mutex
	last  map[string]model.Severity
	zones []model.GeofenceZone
}

func NewTracker(zones []model.GeofenceZone) *Tracker {
	return &Tracker{
		last:  make(map[string]model.Severity),
		zones: zones,
	}
}

func (t *Tracker) Zones() []model.GeofenceZone {
	out := make([]model.GeofenceZone, len(t.zones))
	copy(out, t.zones)
	return out
}

// Observe classifies c and records the new severity for subjectID. Absent
// coordinates leave the stored severity untouched.
func (t *Tracker) Observe(subjectID string, c *model.Coordinates) Transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.last[subjectID]
	if c == nil {
		return Transition{From: prev, To: prev}
	}
	m := Evaluate(c, t.zones)
	next := model.SeverityNone
	if m != nil {
		next = m.Zone.Severity
	}
	t.last[subjectID] = next
	return Transition{From: prev, To: next, Match: m}
}

func (t *Tracker) Last(subjectID string) model.Severity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last[subjectID]
}

// Forget drops the stored severity. Called when a departed subject's retention
// expires, so a later entry alerts again.
func (t *Tracker) Forget(subjectID string) {
	t.mu.Lock()
	delete(t.last, subjectID)
	t.mu.Unlock()
}
