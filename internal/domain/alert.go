package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// AlertType is the kind of safety incident.
type AlertType string

const (
	AlertSOS       AlertType = "sos"
	AlertAccident  AlertType = "accident"
	AlertBreakdown AlertType = "breakdown"
	AlertMedical   AlertType = "medical"
)

// Valid reports whether t is a known alert type.
func (t AlertType) Valid() bool {
	switch t {
	case AlertSOS, AlertAccident, AlertBreakdown, AlertMedical:
		return true
	}
	return false
}

// Severity ranks an alert. The zero value means "unspecified" and is replaced
// by SeverityHigh when the alert is raised.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// AlertStatus is the lifecycle state of an EmergencyAlert.
type AlertStatus string

const (
	AlertActive    AlertStatus = "active"
	AlertResolved  AlertStatus = "resolved"
	AlertCancelled AlertStatus = "cancelled"
)

// Valid reports whether s is a known alert status.
func (s AlertStatus) Valid() bool {
	switch s {
	case AlertActive, AlertResolved, AlertCancelled:
		return true
	}
	return false
}

// EmergencyAlert is one safety incident. Status only moves forward out of
// AlertActive; afterwards only Notified may still grow.
type EmergencyAlert struct {
	ID                 uuid.UUID
	Type               AlertType
	Severity           Severity
	InitiatorID        uuid.UUID
	TripID             *uuid.UUID
	VehicleID          *uuid.UUID
	Location           Location
	Description        string
	Status             AlertStatus
	ResponderID        *uuid.UUID
	ResolutionNote     string
	ResolutionDuration *time.Duration
	Notified           []string
	CreatedAt          time.Time
	ResolvedAt         *time.Time
}

// HasNotified reports whether observerID is already in the notified set.
func (a EmergencyAlert) HasNotified(observerID string) bool {
	return slices.Contains(a.Notified, observerID)
}

// NewAlert carries the caller-supplied fields for AlertManager.Raise.
type NewAlert struct {
	Type        AlertType
	Severity    Severity
	InitiatorID uuid.UUID
	TripID      *uuid.UUID
	VehicleID   *uuid.UUID
	Location    Location
	Description string
}

// AlertClosure carries the fields written when an alert leaves AlertActive.
type AlertClosure struct {
	Status      AlertStatus
	ResponderID uuid.UUID
	Note        string
	ClosedAt    time.Time
	Duration    time.Duration
}
