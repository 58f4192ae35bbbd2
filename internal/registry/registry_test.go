package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/safetyhub/internal/failure"
	"github.com/safetyhub/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopConn struct{ closed bool }

func (c *nopConn) Send(model.Event) error { return nil }
func (c *nopConn) Close()                 { c.closed = true }

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *clock { return &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)} }

func TestRegisterRejectsBadIdentity(t *testing.T) {
	r := New(time.Minute, nil)

	_, err := r.Register("admin", "", Metadata{}, nil)
	assert.ErrorIs(t, err, failure.ErrValidation)

	_, err = r.Register(model.RoleSubject, "", Metadata{}, nil)
	assert.ErrorIs(t, err, failure.ErrValidation)
}

func TestRegisterReplacesLiveSubjectSession(t *testing.T) {
	r := New(time.Minute, nil)
	oldConn := &nopConn{}

	first, err := r.Register(model.RoleSubject, "T1", Metadata{DisplayName: "Ann"}, oldConn)
	require.NoError(t, err)
	_, err = r.SetTracking(first.Session.ID, true)
	require.NoError(t, err)
	_, _, err = r.SetLocation(first.Session.ID, model.LocationSample{SubjectID: "T1", LocationText: "gate"})
	require.NoError(t, err)

	second, err := r.Register(model.RoleSubject, "T1", Metadata{DisplayName: "Ann"}, &nopConn{})
	require.NoError(t, err)

	require.NotNil(t, second.Replaced)
	assert.Equal(t, first.Session.ID, second.Replaced.ID)
	assert.Same(t, oldConn, second.ReplacedConn)
	assert.True(t, second.Resumed)
	assert.True(t, second.Session.TrackingEnabled)
	require.NotNil(t, second.Session.Location)
	assert.Equal(t, "gate", second.Session.Location.LocationText)

	_, err = r.Lookup(first.Session.ID)
	assert.ErrorIs(t, err, failure.ErrNotFound)

	// late disconnect of the replaced connection must not drop the new session
	_, removed := r.Unregister(first.Session.ID)
	assert.False(t, removed)
	s, ok := r.BySubject("T1")
	require.True(t, ok)
	assert.Equal(t, second.Session.ID, s.ID)
}

func TestDepartedSubjectStateRetained(t *testing.T) {
	r := New(time.Minute, nil)

	first, err := r.Register(model.RoleSubject, "T1", Metadata{}, nil)
	require.NoError(t, err)
	_, err = r.SetTracking(first.Session.ID, true)
	require.NoError(t, err)

	_, removed := r.Unregister(first.Session.ID)
	require.True(t, removed)
	_, removed = r.Unregister(first.Session.ID)
	assert.False(t, removed, "unregister is idempotent")

	again, err := r.Register(model.RoleSubject, "T1", Metadata{}, nil)
	require.NoError(t, err)
	assert.Nil(t, again.Replaced)
	assert.True(t, again.Resumed)
	assert.True(t, again.Session.TrackingEnabled)

	other, err := r.Register(model.RoleSubject, "T2", Metadata{}, nil)
	require.NoError(t, err)
	assert.False(t, other.Resumed)
	assert.False(t, other.Session.TrackingEnabled)
}

func TestOnExpireRunsForDepartedSubjectsOnly(t *testing.T) {
	r := New(20*time.Millisecond, nil)
	var mu sync.Mutex
	var expired []string
	r.OnExpire(func(subjectID string) {
		mu.Lock()
		expired = append(expired, subjectID)
		mu.Unlock()
	})
	expiredList := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), expired...)
	}

	gone, err := r.Register(model.RoleSubject, "T1", Metadata{}, nil)
	require.NoError(t, err)
	back, err := r.Register(model.RoleSubject, "T2", Metadata{}, nil)
	require.NoError(t, err)
	r.Unregister(gone.Session.ID)
	r.Unregister(back.Session.ID)

	// T2 comes back inside the window and stays connected
	again, err := r.Register(model.RoleSubject, "T2", Metadata{}, nil)
	require.NoError(t, err)
	require.True(t, again.Resumed)

	require.Eventually(t, func() bool {
		return len(expiredList()) > 0
	}, time.Second, 10*time.Millisecond)
	// give the janitor a few more rounds to reach T2's entry
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, []string{"T1"}, expiredList())
	_, live := r.BySubject("T2")
	assert.True(t, live)
}

func TestSetLocationDropsOutOfOrderSamples(t *testing.T) {
	r := New(time.Minute, nil)
	reg, err := r.Register(model.RoleSubject, "T1", Metadata{}, nil)
	require.NoError(t, err)

	newer := time.Date(2026, 1, 1, 12, 0, 10, 0, time.UTC)
	older := newer.Add(-5 * time.Second)

	_, applied, err := r.SetLocation(reg.Session.ID, model.LocationSample{LocationText: "b", CapturedAt: &newer})
	require.NoError(t, err)
	assert.True(t, applied)

	s, applied, err := r.SetLocation(reg.Session.ID, model.LocationSample{LocationText: "a", CapturedAt: &older})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, "b", s.Location.LocationText)

	// no client timestamp: latest wins
	s, applied, err = r.SetLocation(reg.Session.ID, model.LocationSample{LocationText: "c"})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "c", s.Location.LocationText)

	_, _, err = r.SetLocation("missing", model.LocationSample{})
	assert.ErrorIs(t, err, failure.ErrNotFound)
}

func TestTouchAndStale(t *testing.T) {
	c := newClock()
	r := New(time.Minute, c.Now)

	a, err := r.Register(model.RoleSubject, "T1", Metadata{}, nil)
	require.NoError(t, err)
	b, err := r.Register(model.RoleObserver, "ignored", Metadata{}, nil)
	require.NoError(t, err)
	assert.Empty(t, b.Session.SubjectID)

	c.Advance(20 * time.Second)
	require.NoError(t, r.Touch(b.Session.ID))
	c.Advance(15 * time.Second)

	stale := r.Stale(c.Now().Add(-30 * time.Second))
	require.Len(t, stale, 1)
	assert.Equal(t, a.Session.ID, stale[0].ID)

	assert.ErrorIs(t, r.Touch("missing"), failure.ErrNotFound)
}

func TestListCountsAndConns(t *testing.T) {
	c := newClock()
	r := New(time.Minute, c.Now)
	obsConn := &nopConn{}

	_, err := r.Register(model.RoleSubject, "T1", Metadata{}, &nopConn{})
	require.NoError(t, err)
	c.Advance(time.Second)
	_, err = r.Register(model.RoleSubject, "T2", Metadata{}, &nopConn{})
	require.NoError(t, err)
	obs, err := r.Register(model.RoleObserver, "", Metadata{}, obsConn)
	require.NoError(t, err)

	subjects := r.List(model.RoleSubject)
	require.Len(t, subjects, 2)
	assert.Equal(t, "T1", subjects[0].SubjectID)
	assert.Len(t, r.List(""), 3)

	ns, no := r.Counts()
	assert.Equal(t, 2, ns)
	assert.Equal(t, 1, no)

	conns := r.ObserverConns()
	require.Len(t, conns, 1)
	assert.Same(t, obsConn, conns[0])

	got, ok := r.Conn(obs.Session.ID)
	require.True(t, ok)
	assert.Same(t, obsConn, got)

	_, ok = r.SubjectConn("T2")
	assert.True(t, ok)

	assert.Len(t, r.Drain(), 3)
	ns, no = r.Counts()
	assert.Zero(t, ns+no)
}

func TestConcurrentRegisterKeepsOneSessionPerSubject(t *testing.T) {
	r := New(time.Minute, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Register(model.RoleSubject, "T1", Metadata{}, &nopConn{})
		}()
	}
	wg.Wait()
	assert.Len(t, r.List(model.RoleSubject), 1)
}
