// Package domain contains the core data types for the fleet transport core.
// This package depends only on google/uuid and is imported by every other
// internal package (repo, service, bus, handler).
package domain

import (
	"time"

	"github.com/google/uuid"
)

// TripStatus is the lifecycle state of a Trip.
type TripStatus string

const (
	TripPending    TripStatus = "pending"
	TripInProgress TripStatus = "in_progress"
	TripCompleted  TripStatus = "completed"
	TripCancelled  TripStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible from s.
func (s TripStatus) Terminal() bool {
	return s == TripCompleted || s == TripCancelled
}

// CanTransition reports whether moving from s to next is a legal trip
// transition: pending → in_progress → completed, and pending|in_progress → cancelled.
func (s TripStatus) CanTransition(next TripStatus) bool {
	switch s {
	case TripPending:
		return next == TripInProgress || next == TripCancelled
	case TripInProgress:
		return next == TripCompleted || next == TripCancelled
	default:
		return false
	}
}

// TripKind classifies a scheduled run.
type TripKind string

const (
	TripMorning TripKind = "morning"
	TripEvening TripKind = "evening"
	TripCustom  TripKind = "custom"
)

// Valid reports whether k is one of the known trip kinds.
func (k TripKind) Valid() bool {
	switch k {
	case TripMorning, TripEvening, TripCustom:
		return true
	}
	return false
}

// Trip is one scheduled run of a vehicle along a route with one driver.
// Trip status is only ever written by service.TripService.
type Trip struct {
	ID             uuid.UUID
	VehicleID      uuid.UUID
	DriverID       uuid.UUID
	RouteID        uuid.UUID
	Kind           TripKind
	ScheduledStart time.Time
	ScheduledEnd   *time.Time
	ActualStart    *time.Time // nil until the trip starts
	ActualEnd      *time.Time // nil until the trip completes
	Status         TripStatus
	CancelReason   string
	StopVisits     []StopVisit
	Incidents      []Incident
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ScheduledDay returns the UTC calendar day of the scheduled start, used for
// the one-trip-per-kind-per-day scheduling rule.
func (t Trip) ScheduledDay() time.Time {
	y, m, d := t.ScheduledStart.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NewTrip carries the caller-supplied fields for TripService.Create.
type NewTrip struct {
	VehicleID      uuid.UUID
	DriverID       uuid.UUID
	RouteID        uuid.UUID
	Kind           TripKind
	ScheduledStart time.Time
	ScheduledEnd   *time.Time
}

// StopVisit records the vehicle arriving at a stop during a trip.
// DepartedAt is nil while the vehicle is still at the stop.
type StopVisit struct {
	StopID     uuid.UUID
	Name       string
	ArrivedAt  time.Time
	DepartedAt *time.Time
}

// Incident links an emergency alert to the trip it was raised against.
type Incident struct {
	AlertID    uuid.UUID
	Type       AlertType
	RecordedAt time.Time
}
