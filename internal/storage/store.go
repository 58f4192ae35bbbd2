package storage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/safetyhub/internal/model"
)

// ErrNotFound is returned by lookups that have no record.
var ErrNotFound = errors.New("storage: not found")

// Store: хранилище заявлений (EFIR/рейтинги/отзывы), журнала SOS и push-подписок.
// Реализации: memory.Client, redis.Client, repository.Store (Postgres).
// Живое состояние хаба (сессии, открытые SOS) сюда не пишется.
type Store interface {
	AppendReport(ctx context.Context, r model.Report) error
	// Reports returns the newest reports first; an empty kind lists all kinds.
	Reports(ctx context.Context, kind model.ReportKind, limit int) ([]model.Report, error)
	// PlaceRating returns ErrNotFound when the place has no ratings.
	PlaceRating(ctx context.Context, placeID string) (model.PlaceRating, error)

	// SaveSOS records the signal's current state. Later saves of the same id overwrite.
	SaveSOS(ctx context.Context, s model.SOSSignal) error
	SOSHistory(ctx context.Context, limit int) ([]model.SOSSignal, error)

	AddPushSubscription(ctx context.Context, subjectID string, sub model.PushSubscription) error
	PushSubscriptions(ctx context.Context, subjectID string) ([]model.PushSubscription, error)
	RemovePushSubscription(ctx context.Context, subjectID, endpoint string) error

	Close() error
}

// RatingOf extracts the rating carried by a rating report.
func RatingOf(r model.Report) (model.RatingPayload, bool) {
	if r.Kind != model.ReportRating {
		return model.RatingPayload{}, false
	}
	var p model.RatingPayload
	if err := json.Unmarshal(r.Payload, &p); err != nil || p.PlaceID == "" {
		return model.RatingPayload{}, false
	}
	return p, true
}
