package model

import "time"

type Role string

const (
	RoleSubject  Role = "subject"
	RoleObserver Role = "observer"
)

func (r Role) Valid() bool { return r == RoleSubject || r == RoleObserver }

// Session is one live client connection as seen by the registry.
// SubjectID is empty for observers.
type Session struct {
	ID              string          `json:"session_id"`
	Role            Role            `json:"role"`
	SubjectID       string          `json:"subject_id,omitempty"`
	DisplayName     string          `json:"display_name"`
	Language        string          `json:"language"`
	ConnectedAt     time.Time       `json:"connected_at"`
	LastHeartbeatAt time.Time       `json:"last_heartbeat_at"`
	TrackingEnabled bool            `json:"tracking_enabled"`
	Location        *LocationSample `json:"location,omitempty"`
}

// Coordinates in WGS84 degrees.
type Coordinates struct {
	Lat float64 `json:"lat" yaml:"lat" validate:"gte=-90,lte=90"`
	Lon float64 `json:"lon" yaml:"lon" validate:"gte=-180,lte=180"`
}

// LocationSample is immutable once recorded; only the latest one per subject is kept.
type LocationSample struct {
	SubjectID    string       `json:"subject_id"`
	Coordinates  *Coordinates `json:"coordinates,omitempty"`
	LocationText string       `json:"location_text,omitempty"`
	CapturedAt   *time.Time   `json:"captured_at,omitempty"`
	ReceivedAt   time.Time    `json:"received_at"`
}

// OlderThan reports whether s was captured on the client before other.
// Samples without a client timestamp are never considered older.
func (s LocationSample) OlderThan(other *LocationSample) bool {
	if other == nil || s.CapturedAt == nil || other.CapturedAt == nil {
		return false
	}
	return s.CapturedAt.Before(*other.CapturedAt)
}
