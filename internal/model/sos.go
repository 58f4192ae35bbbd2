package model

import "time"

type HelpType string

const (
	HelpGeneral   HelpType = "general"
	HelpPolice    HelpType = "police"
	HelpAmbulance HelpType = "ambulance"
	HelpFire      HelpType = "fire"
)

// DefaultETA is the responder estimate used when an observer dispatches help
// without giving one.
func (h HelpType) DefaultETA() int {
	switch h {
	case HelpPolice:
		return 8
	case HelpAmbulance:
		return 12
	case HelpFire:
		return 10
	default:
		return 10
	}
}

type SOSStatus string

const (
	SOSActive       SOSStatus = "active"
	SOSAcknowledged SOSStatus = "acknowledged"
	SOSResolved     SOSStatus = "resolved"
)

// Open reports whether the status still counts against the one-open-signal rule.
func (s SOSStatus) Open() bool { return s == SOSActive || s == SOSAcknowledged }

type SOSSignal struct {
	ID                  string          `json:"sos_id"`
	SubjectID           string          `json:"subject_id"`
	DisplayName         string          `json:"display_name,omitempty"`
	HelpType            HelpType        `json:"help_type"`
	Location            *LocationSample `json:"location,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	Status              SOSStatus       `json:"status"`
	ETAMinutes          *int            `json:"eta_minutes"`
	LastETAUpdateAt     *time.Time      `json:"last_eta_update_at,omitempty"`
	AcknowledgedAt      *time.Time      `json:"acknowledged_at,omitempty"`
	ResolvedAt          *time.Time      `json:"resolved_at,omitempty"`
	SubjectDisconnected bool            `json:"subject_disconnected"`
	DisconnectedAt      *time.Time      `json:"disconnected_at,omitempty"`
}
