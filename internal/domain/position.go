package domain

import (
	"time"

	"github.com/google/uuid"
)

// VehiclePosition is the latest accepted location report for a vehicle.
// ObservedAt is the driver device's clock; ReceivedAt is the server's clock at
// acceptance and is kept separately for clock-skew diagnostics.
type VehiclePosition struct {
	VehicleID  uuid.UUID
	Lat        float64
	Lng        float64
	Speed      float64
	ObservedAt time.Time
	ReceivedAt time.Time
}

// PositionReport is an inbound location report from a driver device.
type PositionReport struct {
	VehicleID  uuid.UUID
	Lat        float64
	Lng        float64
	Speed      float64
	ObservedAt time.Time
}

// Location is a bare coordinate pair.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}
