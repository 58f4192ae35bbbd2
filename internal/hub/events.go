package hub

import (
	"time"

	"github.com/safetyhub/internal/failure"
	"github.com/safetyhub/internal/model"
)

// Typed payloads of outbound events.

type Services struct {
	HeartbeatIntervalSec int  `json:"heartbeat_interval_sec"`
	Geofencing           bool `json:"geofencing"`
	Push                 bool `json:"push"`
}

// PriorState is what a reconnecting subject gets back.
type PriorState struct {
	Resumed         bool                  `json:"resumed"`
	TrackingEnabled bool                  `json:"tracking_enabled"`
	Location        *model.LocationSample `json:"location,omitempty"`
	OpenSOS         *model.SOSSignal      `json:"open_sos,omitempty"`
}

type ConnectionAckPayload struct {
	SessionID   string      `json:"session_id"`
	Role        model.Role  `json:"role"`
	DisplayName string      `json:"display_name"`
	Services    Services    `json:"services"`
	PriorState  *PriorState `json:"prior_state,omitempty"`
}

type HeartbeatAckPayload struct {
	ServerTime time.Time `json:"server_time"`
}

type CommandRejectedPayload struct {
	Command CommandType  `json:"command"`
	Kind    failure.Kind `json:"kind"`
	Error   string       `json:"error"`
}

type SOSAckPayload struct {
	SOSID      string         `json:"sos_id"`
	ETAMinutes *int           `json:"eta_minutes"`
	HelpType   model.HelpType `json:"help_type"`
}

type ETAUpdatePayload struct {
	SOSID      string `json:"sos_id"`
	ETAMinutes int    `json:"eta_minutes"`
}

type HelpArrivedPayload struct {
	SOSID string `json:"sos_id"`
}

type ZoneAlertPayload struct {
	Zone model.GeofenceZone `json:"zone"`
}

type EFIRAckPayload struct {
	ReferenceID string `json:"reference_id"`
}

type FeedbackAckPayload struct{}

type TrackingAckPayload struct {
	Enabled bool `json:"enabled"`
}

type UsersUpdatePayload struct {
	Users []model.Session `json:"users"`
}

type SOSUpdatePayload struct {
	SOS []model.SOSSignal `json:"sos"`
}

type NewSOSAlertPayload struct {
	SOS model.SOSSignal `json:"sos"`
}

type NewEFIRPayload struct {
	Report model.Report `json:"report"`
}

type SnapshotPayload struct {
	Users []model.Session   `json:"users"`
	SOS   []model.SOSSignal `json:"sos"`
	Stats model.Stats       `json:"stats"`
}

func event(t model.EventType, payload any) model.Event {
	return model.Event{Type: t, Payload: payload}
}
