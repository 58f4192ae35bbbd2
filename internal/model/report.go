package model

import (
	"encoding/json"
	"time"
)

type ReportKind string

const (
	ReportEFIR     ReportKind = "efir"
	ReportRating   ReportKind = "rating"
	ReportFeedback ReportKind = "feedback"
)

// Report is an append-only record filed by a subject. Never mutated or deleted.
type Report struct {
	ID        string          `json:"id"`
	Kind      ReportKind      `json:"kind"`
	SubjectID string          `json:"subject_id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// EFIRPayload is an electronic first information report filed by a subject.
type EFIRPayload struct {
	IncidentType string `json:"incident_type" validate:"required,max=64"`
	Description  string `json:"description" validate:"required,max=4000"`
	Location     string `json:"location" validate:"max=512"`
}

type RatingPayload struct {
	PlaceID string `json:"place_id" validate:"required,max=128"`
	Stars   int    `json:"stars" validate:"required,min=1,max=5"`
}

type FeedbackPayload struct {
	PlaceID string `json:"place_id" validate:"required,max=128"`
	Text    string `json:"text" validate:"required,max=4000"`
}

type PlaceRating struct {
	PlaceID string  `json:"place_id"`
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

// PushSubscription is a browser Web Push subscription.
type PushSubscription struct {
	Endpoint string `json:"endpoint" validate:"required,url,max=2048"`
	Keys     struct {
		P256dh string `json:"p256dh" validate:"required"`
		Auth   string `json:"auth" validate:"required"`
	} `json:"keys"`
}

type Stats struct {
	ActiveCount int       `json:"active_count"`
	TotalCount  int64     `json:"total_count"`
	TotalSOS    int64     `json:"total_sos"`
	OpenSOS     int       `json:"open_sos"`
	Subjects    int       `json:"subjects"`
	Observers   int       `json:"observers"`
	StartedAt   time.Time `json:"started_at"`
}
