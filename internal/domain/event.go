package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminates the payload carried by an Event.
type EventType string

const (
	EventLocationUpdate     EventType = "location_update"
	EventStudentBoarded     EventType = "student_boarded"
	EventTripStarted        EventType = "trip_started"
	EventTripEnded          EventType = "trip_ended"
	EventTripCancelled      EventType = "trip_cancelled"
	EventEmergencyRaised    EventType = "emergency_raised"
	EventEmergencyResolved  EventType = "emergency_resolved"
	EventEmergencyCancelled EventType = "emergency_cancelled"
)

// AllEventTypes lists every event type in a stable order.
var AllEventTypes = []EventType{
	EventLocationUpdate,
	EventStudentBoarded,
	EventTripStarted,
	EventTripEnded,
	EventTripCancelled,
	EventEmergencyRaised,
	EventEmergencyResolved,
	EventEmergencyCancelled,
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	for _, known := range AllEventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Critical reports whether events of this type must never be dropped.
func (t EventType) Critical() bool {
	switch t {
	case EventEmergencyRaised, EventEmergencyResolved, EventEmergencyCancelled:
		return true
	}
	return false
}

// Event is a domain event published on the bus. VehicleID and TripID are
// routing keys used by subscription filters; either may be uuid.Nil.
// Payload is one of the *Payload types below, matching Type.
type Event struct {
	Type      EventType
	VehicleID uuid.UUID
	TripID    uuid.UUID
	Payload   any
}

// LocationPayload is the payload of EventLocationUpdate.
// Timestamp is the server receipt time; ObservedAt is the device clock.
type LocationPayload struct {
	VehicleID  uuid.UUID `json:"vehicleId"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Speed      float64   `json:"speed"`
	Timestamp  time.Time `json:"timestamp"`
	ObservedAt time.Time `json:"observedAt"`
}

// BoardedPayload is the payload of EventStudentBoarded.
type BoardedPayload struct {
	TripID    uuid.UUID `json:"tripId"`
	StudentID uuid.UUID `json:"studentId"`
	SeatLabel string    `json:"seatLabel"`
	Timestamp time.Time `json:"timestamp"`
}

// TripPayload is the payload of the trip_* events. DurationMs and
// BoardedCount are set only on trip_ended; Reason only on trip_cancelled.
type TripPayload struct {
	TripID       uuid.UUID  `json:"tripId"`
	VehicleID    uuid.UUID  `json:"vehicleId"`
	Status       TripStatus `json:"status"`
	Timestamp    time.Time  `json:"timestamp"`
	DurationMs   *int64     `json:"durationMs,omitempty"`
	BoardedCount *int       `json:"boardedCount,omitempty"`
	Reason       string     `json:"reason,omitempty"`
}

// EmergencyRaisedPayload is the payload of EventEmergencyRaised.
type EmergencyRaisedPayload struct {
	AlertID   uuid.UUID `json:"alertId"`
	Type      AlertType `json:"type"`
	Severity  Severity  `json:"severity"`
	Location  Location  `json:"location"`
	Timestamp time.Time `json:"timestamp"`
}

// EmergencyClosedPayload is the payload of EventEmergencyResolved and
// EventEmergencyCancelled.
type EmergencyClosedPayload struct {
	AlertID    uuid.UUID   `json:"alertId"`
	Status     AlertStatus `json:"status"`
	ResolvedBy uuid.UUID   `json:"resolvedBy"`
	DurationMs int64       `json:"durationMs"`
	Timestamp  time.Time   `json:"timestamp"`
}
