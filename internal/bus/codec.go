package bus

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/pkordes/fleetcore/internal/domain"
)

// envelope is the wire form of an Event exchanged between instances.
type envelope struct {
	Origin    string           `json:"origin"`
	Type      domain.EventType `json:"type"`
	VehicleID uuid.UUID        `json:"vehicleId"`
	TripID    uuid.UUID        `json:"tripId"`
	Payload   json.RawMessage  `json:"payload"`
}

func encodeEvent(origin string, ev domain.Event) ([]byte, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", ev.Type, err)
	}
	return json.Marshal(envelope{
		Origin:    origin,
		Type:      ev.Type,
		VehicleID: ev.VehicleID,
		TripID:    ev.TripID,
		Payload:   payload,
	})
}

func decodeEvent(data []byte) (string, domain.Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", domain.Event{}, fmt.Errorf("decode envelope: %w", err)
	}
	payload, err := decodePayload(env.Type, env.Payload)
	if err != nil {
		return "", domain.Event{}, err
	}
	return env.Origin, domain.Event{
		Type:      env.Type,
		VehicleID: env.VehicleID,
		TripID:    env.TripID,
		Payload:   payload,
	}, nil
}

// decodePayload returns the payload as the same value type the publishing
// services use, so remote and local events are indistinguishable to observers.
func decodePayload(t domain.EventType, raw json.RawMessage) (any, error) {
	switch t {
	case domain.EventLocationUpdate:
		return unmarshalAs[domain.LocationPayload](t, raw)
	case domain.EventStudentBoarded:
		return unmarshalAs[domain.BoardedPayload](t, raw)
	case domain.EventTripStarted, domain.EventTripEnded, domain.EventTripCancelled:
		return unmarshalAs[domain.TripPayload](t, raw)
	case domain.EventEmergencyRaised:
		return unmarshalAs[domain.EmergencyRaisedPayload](t, raw)
	case domain.EventEmergencyResolved, domain.EventEmergencyCancelled:
		return unmarshalAs[domain.EmergencyClosedPayload](t, raw)
	default:
		return nil, fmt.Errorf("decode payload: unknown event type %q", t)
	}
}

func unmarshalAs[T any](t domain.EventType, raw json.RawMessage) (any, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return v, nil
}
