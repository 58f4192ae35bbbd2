package hub

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/safetyhub/internal/failure"
	"github.com/safetyhub/internal/model"
)

type CommandType string

const (
	CmdConnect         CommandType = "connect"
	CmdHeartbeat       CommandType = "heartbeat"
	CmdDisconnect      CommandType = "disconnect"
	CmdLocationUpdate  CommandType = "location_update"
	CmdSOSSignal       CommandType = "sos_signal"
	CmdToggleTracking  CommandType = "toggle_tracking"
	CmdFileEFIR        CommandType = "file_efir"
	CmdSubmitRating    CommandType = "submit_rating"
	CmdSubmitFeedback  CommandType = "submit_feedback"
	CmdResolveSOS      CommandType = "resolve_sos"
	CmdDispatchHelp    CommandType = "dispatch_help"
	CmdUpdateETA       CommandType = "update_eta"
	CmdRequestSnapshot CommandType = "request_snapshot"
)

// Command is the inbound envelope.
type Command struct {
	Type    CommandType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// allowedRoles lists who may send each command once connected. connect is
// handled before a session exists and is not listed.
var allowedRoles = map[CommandType][]model.Role{
	CmdHeartbeat:       {model.RoleSubject, model.RoleObserver},
	CmdDisconnect:      {model.RoleSubject, model.RoleObserver},
	CmdLocationUpdate:  {model.RoleSubject},
	CmdSOSSignal:       {model.RoleSubject},
	CmdToggleTracking:  {model.RoleSubject},
	CmdFileEFIR:        {model.RoleSubject},
	CmdSubmitRating:    {model.RoleSubject},
	CmdSubmitFeedback:  {model.RoleSubject},
	CmdResolveSOS:      {model.RoleObserver},
	CmdDispatchHelp:    {model.RoleObserver},
	CmdUpdateETA:       {model.RoleObserver},
	CmdRequestSnapshot: {model.RoleObserver},
}

type ConnectPayload struct {
	Role        model.Role `json:"role" validate:"required,oneof=subject observer"`
	SubjectID   string     `json:"subject_id" validate:"required_if=Role subject,max=128"`
	DisplayName string     `json:"display_name" validate:"max=128"`
	Language    string     `json:"language" validate:"max=16"`
}

type HeartbeatPayload struct {
	SubjectID string     `json:"subject_id"`
	TS        *time.Time `json:"ts"`
}

type LocationPayload struct {
	Coordinates  *model.Coordinates `json:"coordinates"`
	LocationText string             `json:"location_text" validate:"required_without=Coordinates,max=512"`
	CapturedAt   *time.Time         `json:"captured_at"`
}

type SOSPayload struct {
	HelpType     model.HelpType     `json:"help_type" validate:"omitempty,oneof=general police ambulance fire"`
	Coordinates  *model.Coordinates `json:"coordinates"`
	LocationText string             `json:"location_text" validate:"max=512"`
}

type TrackingPayload struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type ResolvePayload struct {
	SOSID string `json:"sos_id" validate:"required,max=64"`
}

type DispatchPayload struct {
	SOSID      string `json:"sos_id" validate:"required,max=64"`
	ETAMinutes *int   `json:"eta_minutes" validate:"omitempty,min=0,max=1440"`
}

type UpdateETAPayload struct {
	SOSID      string `json:"sos_id" validate:"required,max=64"`
	ETAMinutes *int   `json:"eta_minutes" validate:"required,min=0,max=1440"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode parses payload into dst and validates it. An absent payload decodes
// as an empty object so required fields are reported by name.
func (h *Hub) decode(op string, payload json.RawMessage, dst any) error {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		payload = []byte("{}")
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return failure.Validation(op, "malformed payload: %v", err)
	}
	if err := h.validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return failure.Validation(op, "%s failed %s", fieldPath(fe), fe.Tag())
		}
		return failure.Validation(op, "invalid payload: %v", err)
	}
	return nil
}

// fieldPath drops the top-level struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
