package sos

import (
	"sync"
	"testing"
	"time"

	"github.com/safetyhub/internal/failure"
	"github.com/safetyhub/internal/model"
	"github.com/stretchr/testify/suite"
)

type ManagerSuite struct {
	suite.Suite
	now time.Time
	m   *Manager
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.m = NewManager(func() time.Time { return s.now })
}

func (s *ManagerSuite) tick(d time.Duration) { s.now = s.now.Add(d) }

func intp(v int) *int { return &v }

func (s *ManagerSuite) TestCreate() {
	s.Run("defaults help type to general", func() {
		sig, err := s.m.Create("T0", "Zed", "", nil)
		s.Require().NoError(err)
		s.Equal(model.HelpGeneral, sig.HelpType)
		s.Equal(model.SOSActive, sig.Status)
		s.Nil(sig.ETAMinutes)
	})

	s.Run("rejects unknown help type", func() {
		_, err := s.m.Create("T9", "", "rescue-boat", nil)
		s.ErrorIs(err, failure.ErrValidation)
	})

	s.Run("second signal conflicts and leaves the first unchanged", func() {
		first, err := s.m.Create("T1", "Ann", model.HelpPolice, &model.LocationSample{LocationText: "museum"})
		s.Require().NoError(err)

		_, err = s.m.Create("T1", "Ann", model.HelpFire, nil)
		s.ErrorIs(err, failure.ErrConflict)

		open, ok := s.m.OpenFor("T1")
		s.Require().True(ok)
		s.Equal(first, open)
	})
}

func (s *ManagerSuite) TestAcknowledge() {
	s.Run("uses default eta per help type", func() {
		for help, want := range map[model.HelpType]int{
			model.HelpPolice:    8,
			model.HelpAmbulance: 12,
			model.HelpFire:      10,
			model.HelpGeneral:   10,
		} {
			sig, err := s.m.Create("ack-"+string(help), "", help, nil)
			s.Require().NoError(err)
			acked, err := s.m.Acknowledge(sig.ID, nil)
			s.Require().NoError(err)
			s.Equal(model.SOSAcknowledged, acked.Status)
			s.Require().NotNil(acked.ETAMinutes)
			s.Equal(want, *acked.ETAMinutes)
		}
	})

	s.Run("explicit eta and repeat conflicts", func() {
		sig, err := s.m.Create("T2", "", model.HelpAmbulance, nil)
		s.Require().NoError(err)
		s.tick(time.Minute)

		acked, err := s.m.Acknowledge(sig.ID, intp(5))
		s.Require().NoError(err)
		s.Equal(5, *acked.ETAMinutes)
		s.Equal(s.now, *acked.AcknowledgedAt)

		_, err = s.m.Acknowledge(sig.ID, intp(3))
		s.ErrorIs(err, failure.ErrConflict)
	})

	s.Run("unknown id and negative eta", func() {
		_, err := s.m.Acknowledge("nope", nil)
		s.ErrorIs(err, failure.ErrNotFound)

		_, err = s.m.Acknowledge("nope", intp(-1))
		s.ErrorIs(err, failure.ErrValidation)
	})
}

func (s *ManagerSuite) TestUpdateETA() {
	sig, err := s.m.Create("T1", "", model.HelpPolice, nil)
	s.Require().NoError(err)

	s.Run("on active signal acknowledges it", func() {
		upd, err := s.m.UpdateETA(sig.ID, 7)
		s.Require().NoError(err)
		s.Equal(model.SOSAcknowledged, upd.Status)
		s.Equal(7, *upd.ETAMinutes)
		s.NotNil(upd.AcknowledgedAt)
	})

	s.Run("overwrites", func() {
		s.tick(30 * time.Second)
		upd, err := s.m.UpdateETA(sig.ID, 2)
		s.Require().NoError(err)
		s.Equal(2, *upd.ETAMinutes)
		s.Equal(s.now, *upd.LastETAUpdateAt)
	})

	s.Run("after resolve conflicts", func() {
		_, err := s.m.Resolve(sig.ID)
		s.Require().NoError(err)
		_, err = s.m.UpdateETA(sig.ID, 1)
		s.ErrorIs(err, failure.ErrConflict)
	})
}

func (s *ManagerSuite) TestResolve() {
	sig, err := s.m.Create("T1", "", model.HelpGeneral, nil)
	s.Require().NoError(err)

	res, err := s.m.Resolve(sig.ID)
	s.Require().NoError(err)
	s.Equal(model.SOSResolved, res.Status)
	s.NotNil(res.ResolvedAt)
	s.Empty(s.m.Open())

	_, err = s.m.Resolve(sig.ID)
	s.ErrorIs(err, failure.ErrConflict)
	_, err = s.m.Resolve("missing")
	s.ErrorIs(err, failure.ErrNotFound)

	// a resolved subject may raise a new signal
	again, err := s.m.Create("T1", "", model.HelpFire, nil)
	s.Require().NoError(err)
	s.NotEqual(sig.ID, again.ID)

	total, open := s.m.Counts()
	s.Equal(int64(2), total)
	s.Equal(1, open)
}

func (s *ManagerSuite) TestDisconnectFlag() {
	sig, err := s.m.Create("T1", "", model.HelpGeneral, nil)
	s.Require().NoError(err)

	_, ok := s.m.MarkSubjectDisconnected("nobody")
	s.False(ok)

	flagged, ok := s.m.MarkSubjectDisconnected("T1")
	s.Require().True(ok)
	s.True(flagged.SubjectDisconnected)
	s.Equal(model.SOSActive, flagged.Status)
	s.Equal(sig.ID, flagged.ID)

	s.tick(time.Minute)
	s.Len(s.m.DisconnectedSince(s.now.Add(-30*time.Second)), 1)
	s.Empty(s.m.DisconnectedSince(s.now.Add(-2*time.Minute)))

	cleared, ok := s.m.MarkSubjectConnected("T1")
	s.Require().True(ok)
	s.False(cleared.SubjectDisconnected)
	s.Nil(cleared.DisconnectedAt)

	_, ok = s.m.MarkSubjectConnected("T1")
	s.False(ok, "nothing left to clear")
}

func (s *ManagerSuite) TestOpenOrderedByCreation() {
	a, err := s.m.Create("A", "", model.HelpGeneral, nil)
	s.Require().NoError(err)
	s.tick(time.Second)
	b, err := s.m.Create("B", "", model.HelpGeneral, nil)
	s.Require().NoError(err)

	open := s.m.Open()
	s.Require().Len(open, 2)
	s.Equal(a.ID, open[0].ID)
	s.Equal(b.ID, open[1].ID)
}

func (s *ManagerSuite) TestConcurrentCreateKeepsOneOpen() {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok, clash int
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.m.Create("T1", "", model.HelpGeneral, nil)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if failure.KindOf(err) == failure.KindConflict {
				clash++
			}
		}()
	}
	wg.Wait()
	s.Equal(1, ok)
	s.Equal(63, clash)
	s.Len(s.m.Open(), 1)
}
