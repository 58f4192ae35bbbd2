package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/safetyhub/internal/logger"
	"github.com/safetyhub/internal/model"
	"github.com/safetyhub/internal/storage"
)

// Store реализует storage.Store поверх Postgres.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) AppendReport(ctx context.Context, r model.Report) error {
	defer logger.DeferLogDuration("report.Append", time.Now())()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reports (id, kind, subject_id, payload, created_at) VALUES ($1, $2, $3, $4, $5)`,
		r.ID, string(r.Kind), r.SubjectID, []byte(r.Payload), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store.AppendReport: %w", err)
	}
	return nil
}

func (s *Store) Reports(ctx context.Context, kind model.ReportKind, limit int) ([]model.Report, error) {
	defer logger.DeferLogDuration("report.List", time.Now())()
	if limit <= 0 {
		limit = 1000
	}
	var (
		rows pgx.Rows
		err  error
	)
	if kind == "" {
		rows, err = s.pool.Query(ctx,
			`SELECT id, kind, subject_id, payload, created_at FROM reports ORDER BY created_at DESC LIMIT $1`, limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT id, kind, subject_id, payload, created_at FROM reports WHERE kind = $1 ORDER BY created_at DESC LIMIT $2`,
			string(kind), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("store.Reports: %w", err)
	}
	defer rows.Close()

	var out []model.Report
	for rows.Next() {
		var (
			r       model.Report
			kindStr string
			payload []byte
		)
		if err := rows.Scan(&r.ID, &kindStr, &r.SubjectID, &payload, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("store.Reports scan: %w", err)
		}
		r.Kind = model.ReportKind(kindStr)
		r.Payload = json.RawMessage(payload)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) PlaceRating(ctx context.Context, placeID string) (model.PlaceRating, error) {
	defer logger.DeferLogDuration("report.PlaceRating", time.Now())()
	var (
		count int
		avg   *float64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), AVG((payload->>'stars')::int)::float8
		 FROM reports WHERE kind = 'rating' AND payload->>'place_id' = $1`, placeID,
	).Scan(&count, &avg)
	if err != nil {
		return model.PlaceRating{}, fmt.Errorf("store.PlaceRating: %w", err)
	}
	if count == 0 || avg == nil {
		return model.PlaceRating{}, storage.ErrNotFound
	}
	return model.PlaceRating{PlaceID: placeID, Average: *avg, Count: count}, nil
}

func (s *Store) SaveSOS(ctx context.Context, sig model.SOSSignal) error {
	defer logger.DeferLogDuration("sos.Save", time.Now())()
	var loc []byte
	if sig.Location != nil {
		var err error
		if loc, err = json.Marshal(sig.Location); err != nil {
			return fmt.Errorf("store.SaveSOS marshal location: %w", err)
		}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sos_signals (id, subject_id, display_name, help_type, status, location, eta_minutes,
		   created_at, acknowledged_at, last_eta_update_at, resolved_at, subject_disconnected, disconnected_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status,
		   eta_minutes = EXCLUDED.eta_minutes,
		   acknowledged_at = EXCLUDED.acknowledged_at,
		   last_eta_update_at = EXCLUDED.last_eta_update_at,
		   resolved_at = EXCLUDED.resolved_at,
		   subject_disconnected = EXCLUDED.subject_disconnected,
		   disconnected_at = EXCLUDED.disconnected_at`,
		sig.ID, sig.SubjectID, sig.DisplayName, string(sig.HelpType), string(sig.Status), loc, sig.ETAMinutes,
		sig.CreatedAt, sig.AcknowledgedAt, sig.LastETAUpdateAt, sig.ResolvedAt, sig.SubjectDisconnected, sig.DisconnectedAt,
	)
	if err != nil {
		return fmt.Errorf("store.SaveSOS: %w", err)
	}
	return nil
}

func (s *Store) SOSHistory(ctx context.Context, limit int) ([]model.SOSSignal, error) {
	defer logger.DeferLogDuration("sos.History", time.Now())()
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, subject_id, display_name, help_type, status, location, eta_minutes,
		   created_at, acknowledged_at, last_eta_update_at, resolved_at, subject_disconnected, disconnected_at
		 FROM sos_signals ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store.SOSHistory: %w", err)
	}
	defer rows.Close()

	var out []model.SOSSignal
	for rows.Next() {
		var (
			sig          model.SOSSignal
			help, status string
			loc          []byte
		)
		if err := rows.Scan(&sig.ID, &sig.SubjectID, &sig.DisplayName, &help, &status, &loc, &sig.ETAMinutes,
			&sig.CreatedAt, &sig.AcknowledgedAt, &sig.LastETAUpdateAt, &sig.ResolvedAt, &sig.SubjectDisconnected, &sig.DisconnectedAt); err != nil {
			return nil, fmt.Errorf("store.SOSHistory scan: %w", err)
		}
		sig.HelpType = model.HelpType(help)
		sig.Status = model.SOSStatus(status)
		if len(loc) > 0 {
			var sample model.LocationSample
			if err := json.Unmarshal(loc, &sample); err == nil {
				sig.Location = &sample
			}
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func (s *Store) AddPushSubscription(ctx context.Context, subjectID string, sub model.PushSubscription) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO push_subscriptions (subject_id, endpoint, p256dh, auth) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (subject_id, endpoint) DO UPDATE SET p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth`,
		subjectID, sub.Endpoint, sub.Keys.P256dh, sub.Keys.Auth,
	)
	if err != nil {
		return fmt.Errorf("store.AddPushSubscription: %w", err)
	}
	return nil
}

func (s *Store) PushSubscriptions(ctx context.Context, subjectID string) ([]model.PushSubscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT endpoint, p256dh, auth FROM push_subscriptions WHERE subject_id = $1`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("store.PushSubscriptions: %w", err)
	}
	defer rows.Close()
	var out []model.PushSubscription
	for rows.Next() {
		var sub model.PushSubscription
		if err := rows.Scan(&sub.Endpoint, &sub.Keys.P256dh, &sub.Keys.Auth); err != nil {
			return nil, fmt.Errorf("store.PushSubscriptions scan: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) RemovePushSubscription(ctx context.Context, subjectID, endpoint string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM push_subscriptions WHERE subject_id = $1 AND endpoint = $2`, subjectID, endpoint)
	if err != nil {
		return fmt.Errorf("store.RemovePushSubscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		logger.Debugf("store.RemovePushSubscription: no row for endpoint")
	}
	return nil
}
