package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/safetyhub/internal/model"
	"github.com/safetyhub/internal/storage"
	"github.com/safetyhub/internal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ratingReport(t *testing.T, id, place string, stars int) model.Report {
	t.Helper()
	payload, err := json.Marshal(model.RatingPayload{PlaceID: place, Stars: stars})
	require.NoError(t, err)
	return model.Report{ID: id, Kind: model.ReportRating, SubjectID: "T1", Payload: payload, CreatedAt: time.Now()}
}

func TestPlaceRatingAverages(t *testing.T) {
	ctx := context.Background()
	c := New()

	_, err := c.PlaceRating(ctx, "taj")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, c.AppendReport(ctx, ratingReport(t, "r1", "taj", 5)))
	require.NoError(t, c.AppendReport(ctx, ratingReport(t, "r2", "taj", 4)))
	require.NoError(t, c.AppendReport(ctx, ratingReport(t, "r3", "fort", 1)))

	got, err := c.PlaceRating(ctx, "taj")
	require.NoError(t, err)
	assert.Equal(t, model.PlaceRating{PlaceID: "taj", Average: 4.5, Count: 2}, got)
}

func TestReportsNewestFirstByKind(t *testing.T) {
	ctx := context.Background()
	c := New()
	require.NoError(t, c.AppendReport(ctx, model.Report{ID: "e1", Kind: model.ReportEFIR}))
	require.NoError(t, c.AppendReport(ctx, ratingReport(t, "r1", "taj", 3)))
	require.NoError(t, c.AppendReport(ctx, model.Report{ID: "e2", Kind: model.ReportEFIR}))

	efirs, err := c.Reports(ctx, model.ReportEFIR, 0)
	require.NoError(t, err)
	require.Len(t, efirs, 2)
	assert.Equal(t, "e2", efirs[0].ID)

	all, err := c.Reports(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "r1", all[1].ID)
}

func TestSOSJournalOverwritesById(t *testing.T) {
	ctx := context.Background()
	c := New()
	require.NoError(t, c.SaveSOS(ctx, model.SOSSignal{ID: "a", Status: model.SOSActive}))
	require.NoError(t, c.SaveSOS(ctx, model.SOSSignal{ID: "b", Status: model.SOSActive}))
	require.NoError(t, c.SaveSOS(ctx, model.SOSSignal{ID: "a", Status: model.SOSResolved}))

	hist, err := c.SOSHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "b", hist[0].ID)
	assert.Equal(t, model.SOSResolved, hist[1].Status)
}

func TestPushSubscriptions(t *testing.T) {
	ctx := context.Background()
	c := New()
	sub := model.PushSubscription{Endpoint: "https://push.example/1"}
	sub.Keys.P256dh = "p"
	sub.Keys.Auth = "a"

	require.NoError(t, c.AddPushSubscription(ctx, "T1", sub))
	require.NoError(t, c.AddPushSubscription(ctx, "T1", sub))

	subs, err := c.PushSubscriptions(ctx, "T1")
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	require.NoError(t, c.RemovePushSubscription(ctx, "T1", sub.Endpoint))
	subs, err = c.PushSubscriptions(ctx, "T1")
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestStoreBehaviour(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store { return New() })
}
