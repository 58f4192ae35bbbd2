package model

type EventType string

const (
	EventConnectionAck   EventType = "connection_ack"
	EventHeartbeatAck    EventType = "heartbeat_ack"
	EventCommandRejected EventType = "command_rejected"

	// to subject
	EventSOSAck        EventType = "sos_ack"
	EventETAUpdate     EventType = "eta_update"
	EventHelpArrived   EventType = "help_arrived"
	EventGeofenceAlert EventType = "geofence_alert"
	EventRedZoneAlert  EventType = "red_zone_alert"
	EventEFIRAck       EventType = "efir_ack"
	EventRatingAck     EventType = "rating_ack"
	EventFeedbackAck   EventType = "feedback_ack"
	EventTrackingAck   EventType = "tracking_ack"

	// to observers
	EventUsersUpdate EventType = "users_update"
	EventSOSUpdate   EventType = "sos_update"
	EventStatsUpdate EventType = "stats_update"
	EventNewSOSAlert EventType = "new_sos_alert"
	EventNewEFIR     EventType = "new_efir"
	EventSnapshot    EventType = "snapshot"
)

// Event is the outbound envelope. Payload is one of the typed payload structs
// of the hub package.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}
