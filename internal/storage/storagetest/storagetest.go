// Package storagetest is a behaviour suite shared by every storage.Store
// implementation. Backends that need a server call Run only when one is
// configured.
package storagetest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/safetyhub/internal/model"
	"github.com/safetyhub/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises a store. newStore must return an empty store; it is called
// once per subtest.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("ReportsNewestFirstByKind", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.AppendReport(ctx, efir(t, "e1", base)))
		require.NoError(t, s.AppendReport(ctx, rating(t, "r1", "taj", 3, base.Add(time.Second))))
		require.NoError(t, s.AppendReport(ctx, efir(t, "e2", base.Add(2*time.Second))))

		efirs, err := s.Reports(ctx, model.ReportEFIR, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"e2", "e1"}, reportIDs(efirs))

		all, err := s.Reports(ctx, "", 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"e2", "r1"}, reportIDs(all))
	})

	t.Run("PlaceRatingAverages", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		_, err := s.PlaceRating(ctx, "taj")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		require.NoError(t, s.AppendReport(ctx, rating(t, "r1", "taj", 5, base)))
		require.NoError(t, s.AppendReport(ctx, rating(t, "r2", "taj", 4, base.Add(time.Second))))
		require.NoError(t, s.AppendReport(ctx, rating(t, "r3", "fort", 1, base.Add(2*time.Second))))

		got, err := s.PlaceRating(ctx, "taj")
		require.NoError(t, err)
		assert.Equal(t, "taj", got.PlaceID)
		assert.Equal(t, 2, got.Count)
		assert.InDelta(t, 4.5, got.Average, 1e-9)
	})

	t.Run("SOSJournalOverwritesByID", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		a := signal("a", base)
		require.NoError(t, s.SaveSOS(ctx, a))
		require.NoError(t, s.SaveSOS(ctx, signal("b", base.Add(time.Minute))))
		eta := 8
		resolvedAt := base.Add(2 * time.Minute)
		a.Status = model.SOSResolved
		a.ETAMinutes = &eta
		a.ResolvedAt = &resolvedAt
		require.NoError(t, s.SaveSOS(ctx, a))

		hist, err := s.SOSHistory(ctx, 0)
		require.NoError(t, err)
		require.Len(t, hist, 2)
		assert.Equal(t, "b", hist[0].ID)
		assert.Equal(t, model.SOSResolved, hist[1].Status)
		require.NotNil(t, hist[1].ETAMinutes)
		assert.Equal(t, 8, *hist[1].ETAMinutes)
		require.NotNil(t, hist[1].Location)
		assert.Equal(t, "Gateway of India", hist[1].Location.LocationText)

		limited, err := s.SOSHistory(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("PushSubscriptions", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		sub := model.PushSubscription{Endpoint: "https://push.example/1"}
		sub.Keys.P256dh = "p"
		sub.Keys.Auth = "a"

		require.NoError(t, s.AddPushSubscription(ctx, "T1", sub))
		require.NoError(t, s.AddPushSubscription(ctx, "T1", sub))
		subs, err := s.PushSubscriptions(ctx, "T1")
		require.NoError(t, err)
		assert.Len(t, subs, 1)

		other, err := s.PushSubscriptions(ctx, "T2")
		require.NoError(t, err)
		assert.Empty(t, other)

		require.NoError(t, s.RemovePushSubscription(ctx, "T1", sub.Endpoint))
		require.NoError(t, s.RemovePushSubscription(ctx, "T1", sub.Endpoint))
		subs, err = s.PushSubscriptions(ctx, "T1")
		require.NoError(t, err)
		assert.Empty(t, subs)
	})
}

func efir(t *testing.T, id string, at time.Time) model.Report {
	t.Helper()
	payload, err := json.Marshal(model.EFIRPayload{IncidentType: "theft", Description: "bag stolen"})
	require.NoError(t, err)
	return model.Report{ID: id, Kind: model.ReportEFIR, SubjectID: "T1", Payload: payload, CreatedAt: at}
}

func rating(t *testing.T, id, place string, stars int, at time.Time) model.Report {
	t.Helper()
	payload, err := json.Marshal(model.RatingPayload{PlaceID: place, Stars: stars})
	require.NoError(t, err)
	return model.Report{ID: id, Kind: model.ReportRating, SubjectID: "T1", Payload: payload, CreatedAt: at}
}

func signal(id string, at time.Time) model.SOSSignal {
	return model.SOSSignal{
		ID:        id,
		SubjectID: "T-" + id,
		HelpType:  model.HelpPolice,
		Status:    model.SOSActive,
		Location:  &model.LocationSample{SubjectID: "T-" + id, LocationText: "Gateway of India"},
		CreatedAt: at,
	}
}

func reportIDs(rs []model.Report) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}
