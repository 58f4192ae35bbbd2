// Package registry keeps the live sessions of both roles. It owns the session
// records; the hub decides what a change means for the rest of the system.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/safetyhub/internal/failure"
	"github.com/safetyhub/internal/model"
)

// Conn is the outbound side of a client connection.
type Conn interface {
	// Send enqueues ev without blocking. An error means the event was dropped.
	Send(ev model.Event) error
	Close()
}

// Metadata is the client-supplied part of a connect command.
type Metadata struct {
	DisplayName string
	Language    string
}

// Registration is the result of Register.
type Registration struct {
	Session model.Session
	// Replaced is the previous live session of the same subject, if any.
	// Its connection has not been closed yet.
	Replaced     *model.Session
	ReplacedConn Conn
	// Resumed is true when tracking and location were carried over from a
	// live or recently departed session.
	Resumed bool
}

type entry struct {
	session model.Session
	conn    Conn
}

// retained is what survives a subject's departure until the cache entry expires.
type retained struct {
	tracking bool
	location *model.LocationSample
}

type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*entry
	bySubject map[string]string
	departed  *cache.Cache
	now       func() time.Time
}

// New creates a registry. retention is how long a departed subject's tracking
// flag and last location are kept for a reconnect; now may be nil.
func New(retention time.Duration, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	if retention <= 0 {
		retention = 30 * time.Second
	}
	return &Registry{
		sessions:  make(map[string]*entry),
		bySubject: make(map[string]string),
		departed:  cache.New(retention, 2*retention),
		now:       now,
	}
}

// OnExpire registers fn to run when a departed subject's retained state expires
// without a reconnect. fn runs under the registry read lock and must not call
// back into the registry.
func (r *Registry) OnExpire(fn func(subjectID string)) {
	r.departed.OnEvicted(func(subjectID string, _ any) {
		r.mu.RLock()
		defer r.mu.RUnlock()
		if _, live := r.bySubject[subjectID]; live {
			return
		}
		fn(subjectID)
	})
}

// Register creates a session. For a subject that already has a live session the
// old one is removed from the registry and returned in Replaced; tracking and
// location carry over.
func (r *Registry) Register(role model.Role, subjectID string, meta Metadata, conn Conn) (Registration, error) {
	if !role.Valid() {
		return Registration{}, failure.Validation("registry.Register", "unknown role %q", role)
	}
	if role == model.RoleSubject && subjectID == "" {
		return Registration{}, failure.Validation("registry.Register", "subject_id required")
	}
	if role == model.RoleObserver {
		subjectID = ""
	}

	now := r.now()
	s := model.Session{
		ID:              uuid.NewString(),
		Role:            role,
		SubjectID:       subjectID,
		DisplayName:     meta.DisplayName,
		Language:        meta.Language,
		ConnectedAt:     now,
		LastHeartbeatAt: now,
	}
	var reg Registration

	r.mu.Lock()
	defer r.mu.Unlock()

	if role == model.RoleSubject {
		if oldID, ok := r.bySubject[subjectID]; ok {
			if old, ok := r.sessions[oldID]; ok {
				s.TrackingEnabled = old.session.TrackingEnabled
				s.Location = old.session.Location
				prev := old.session
				reg.Replaced = &prev
				reg.ReplacedConn = old.conn
				reg.Resumed = true
				delete(r.sessions, oldID)
			}
		} else if v, ok := r.departed.Get(subjectID); ok {
			kept := v.(retained)
			s.TrackingEnabled = kept.tracking
			s.Location = kept.location
			reg.Resumed = true
		}
		// Retained state is left to expire: eviction of a live subject is
		// ignored, and Delete would run the eviction hook under r.mu.
		r.bySubject[subjectID] = s.ID
	}
	r.sessions[s.ID] = &entry{session: s, conn: conn}
	reg.Session = s
	return reg, nil
}

// Unregister removes a session. Unknown ids are a no-op so a late disconnect
// from a replaced connection cannot remove its successor.
func (r *Registry) Unregister(sessionID string) (model.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return model.Session{}, false
	}
	delete(r.sessions, sessionID)
	s := e.session
	if s.Role == model.RoleSubject && r.bySubject[s.SubjectID] == sessionID {
		delete(r.bySubject, s.SubjectID)
		r.departed.SetDefault(s.SubjectID, retained{tracking: s.TrackingEnabled, location: s.Location})
	}
	return s, true
}

func (r *Registry) Touch(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return failure.NotFound("registry.Touch", "session %s not registered", sessionID)
	}
	e.session.LastHeartbeatAt = r.now()
	return nil
}

func (r *Registry) Lookup(sessionID string) (model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return model.Session{}, failure.NotFound("registry.Lookup", "session %s not registered", sessionID)
	}
	return e.session, nil
}

// List returns sessions of role ordered by connection time. An empty role
// lists everything.
func (r *Registry) List(role model.Role) []model.Session {
	r.mu.RLock()
	out := make([]model.Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		if role == "" || e.session.Role == role {
			out = append(out, e.session)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

func (r *Registry) BySubject(subjectID string) (model.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.bySubject[subjectID]
	if !ok {
		return model.Session{}, false
	}
	e, ok := r.sessions[id]
	if !ok {
		return model.Session{}, false
	}
	return e.session, true
}

func (r *Registry) SetTracking(sessionID string, enabled bool) (model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return model.Session{}, failure.NotFound("registry.SetTracking", "session %s not registered", sessionID)
	}
	e.session.TrackingEnabled = enabled
	return e.session, nil
}

// SetLocation stores sample as the session's latest location. A sample captured
// before the stored one is ignored and applied is false.
func (r *Registry) SetLocation(sessionID string, sample model.LocationSample) (s model.Session, applied bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return model.Session{}, false, failure.NotFound("registry.SetLocation", "session %s not registered", sessionID)
	}
	if sample.OlderThan(e.session.Location) {
		return e.session, false, nil
	}
	e.session.Location = &sample
	return e.session, true, nil
}

// Stale returns sessions whose last heartbeat is before cutoff.
func (r *Registry) Stale(cutoff time.Time) []model.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Session
	for _, e := range r.sessions {
		if e.session.LastHeartbeatAt.Before(cutoff) {
			out = append(out, e.session)
		}
	}
	return out
}

func (r *Registry) Conn(sessionID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sessionID]
	if !ok || e.conn == nil {
		return nil, false
	}
	return e.conn, true
}

// SubjectConn returns the connection of the subject's live session.
func (r *Registry) SubjectConn(subjectID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.bySubject[subjectID]
	if !ok {
		return nil, false
	}
	e, ok := r.sessions[id]
	if !ok || e.conn == nil {
		return nil, false
	}
	return e.conn, true
}

func (r *Registry) ObserverConns() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Conn, 0, len(r.sessions))
	for _, e := range r.sessions {
		if e.session.Role == model.RoleObserver && e.conn != nil {
			out = append(out, e.conn)
		}
	}
	return out
}

func (r *Registry) Counts() (subjects, observers int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.sessions {
		if e.session.Role == model.RoleSubject {
			subjects++
		} else {
			observers++
		}
	}
	return subjects, observers
}

// Drain removes every session and returns their connections. Used on shutdown.
func (r *Registry) Drain() []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Conn, 0, len(r.sessions))
	for _, e := range r.sessions {
		if e.conn != nil {
			out = append(out, e.conn)
		}
	}
	r.sessions = make(map[string]*entry)
	r.bySubject = make(map[string]string)
	return out
}
