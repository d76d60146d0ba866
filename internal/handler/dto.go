package handler

import (
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/fleetcore/internal/domain"
)

// Pagination describes the page returned by a list endpoint.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

// ListResponse is the envelope of every paged list.
type ListResponse[T any] struct {
	Data       []T        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

func newListResponse[S, T any](items []S, total int64, p domain.PaginationParams, convert func(S) T) ListResponse[T] {
	data := make([]T, len(items))
	for i, v := range items {
		data[i] = convert(v)
	}
	return ListResponse[T]{
		Data:       data,
		Pagination: Pagination{Page: p.Page, Limit: p.Limit, Total: int(total)},
	}
}

// --- trips ------------------------------------------------------------------

// CreateTripRequest is the body of POST /trips.
type CreateTripRequest struct {
	VehicleID      uuid.UUID       `json:"vehicleId"`
	DriverID       uuid.UUID       `json:"driverId"`
	RouteID        uuid.UUID       `json:"routeId"`
	Kind           domain.TripKind `json:"kind"`
	ScheduledStart time.Time       `json:"scheduledStart"`
	ScheduledEnd   *time.Time      `json:"scheduledEnd,omitempty"`
}

// CancelTripRequest is the optional body of PUT /trips/{tripId}/cancel.
type CancelTripRequest struct {
	Reason string `json:"reason"`
}

// StopVisitRequest is the body of POST /trips/{tripId}/stops.
type StopVisitRequest struct {
	StopID     uuid.UUID  `json:"stopId"`
	Name       string     `json:"name"`
	ArrivedAt  time.Time  `json:"arrivedAt"`
	DepartedAt *time.Time `json:"departedAt,omitempty"`
}

type StopVisit struct {
	StopID     uuid.UUID  `json:"stopId"`
	Name       string     `json:"name,omitempty"`
	ArrivedAt  time.Time  `json:"arrivedAt"`
	DepartedAt *time.Time `json:"departedAt,omitempty"`
}

type Incident struct {
	AlertID    uuid.UUID        `json:"alertId"`
	Type       domain.AlertType `json:"type"`
	RecordedAt time.Time        `json:"recordedAt"`
}

// Trip is the wire form of domain.Trip.
type Trip struct {
	ID             uuid.UUID         `json:"id"`
	VehicleID      uuid.UUID         `json:"vehicleId"`
	DriverID       uuid.UUID         `json:"driverId"`
	RouteID        uuid.UUID         `json:"routeId"`
	Kind           domain.TripKind   `json:"kind"`
	Status         domain.TripStatus `json:"status"`
	ScheduledStart time.Time         `json:"scheduledStart"`
	ScheduledEnd   *time.Time        `json:"scheduledEnd,omitempty"`
	ActualStart    *time.Time        `json:"actualStart,omitempty"`
	ActualEnd      *time.Time        `json:"actualEnd,omitempty"`
	CancelReason   string            `json:"cancelReason,omitempty"`
	StopVisits     []StopVisit       `json:"stopVisits"`
	Incidents      []Incident        `json:"incidents"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

func tripToResponse(t domain.Trip) Trip {
	resp := Trip{
		ID:             t.ID,
		VehicleID:      t.VehicleID,
		DriverID:       t.DriverID,
		RouteID:        t.RouteID,
		Kind:           t.Kind,
		Status:         t.Status,
		ScheduledStart: t.ScheduledStart,
		ScheduledEnd:   t.ScheduledEnd,
		ActualStart:    t.ActualStart,
		ActualEnd:      t.ActualEnd,
		CancelReason:   t.CancelReason,
		StopVisits:     make([]StopVisit, len(t.StopVisits)),
		Incidents:      make([]Incident, len(t.Incidents)),
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
	for i, v := range t.StopVisits {
		resp.StopVisits[i] = StopVisit(v)
	}
	for i, in := range t.Incidents {
		resp.Incidents[i] = Incident(in)
	}
	return resp
}

// --- boarding ---------------------------------------------------------------

// BoardRequest is the body of POST /trips/{tripId}/boardings.
type BoardRequest struct {
	StudentID uuid.UUID `json:"studentId"`
	SeatLabel string    `json:"seatLabel"`
}

// BoardingRecord is the wire form of domain.BoardingRecord.
type BoardingRecord struct {
	TripID    uuid.UUID  `json:"tripId"`
	StudentID uuid.UUID  `json:"studentId"`
	Boarded   bool       `json:"boarded"`
	BoardedAt *time.Time `json:"boardedAt,omitempty"`
	SeatLabel string     `json:"seatLabel,omitempty"`
}

func boardingToResponse(b domain.BoardingRecord) BoardingRecord {
	return BoardingRecord(b)
}

// ManifestResponse is the JSON form of GET /trips/{tripId}/manifest.
type ManifestResponse struct {
	TripID uuid.UUID        `json:"tripId"`
	Count  int              `json:"count"`
	Data   []BoardingRecord `json:"data"`
}

// --- location ---------------------------------------------------------------

// PositionRequest is the body of PUT /vehicles/{vehicleId}/location.
type PositionRequest struct {
	Lat       *float64  `json:"lat"`
	Lng       *float64  `json:"lng"`
	Speed     float64   `json:"speed"`
	Timestamp time.Time `json:"timestamp"`
}

// Position is the wire form of domain.VehiclePosition. Accepted is set on
// report responses only.
type Position struct {
	VehicleID  uuid.UUID `json:"vehicleId"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Speed      float64   `json:"speed"`
	ObservedAt time.Time `json:"observedAt"`
	ReceivedAt time.Time `json:"receivedAt"`
	Accepted   *bool     `json:"accepted,omitempty"`
}

func positionToResponse(p domain.VehiclePosition) Position {
	return Position{
		VehicleID:  p.VehicleID,
		Lat:        p.Lat,
		Lng:        p.Lng,
		Speed:      p.Speed,
		ObservedAt: p.ObservedAt,
		ReceivedAt: p.ReceivedAt,
	}
}

// --- alerts -----------------------------------------------------------------

// RaiseAlertRequest is the body of POST /alerts.
type RaiseAlertRequest struct {
	Type        domain.AlertType `json:"type"`
	Severity    domain.Severity  `json:"severity,omitempty"`
	InitiatorID uuid.UUID        `json:"initiatorId"`
	TripID      *uuid.UUID       `json:"tripId,omitempty"`
	VehicleID   *uuid.UUID       `json:"vehicleId,omitempty"`
	Location    *domain.Location `json:"location"`
	Description string           `json:"description,omitempty"`
}

// CloseAlertRequest is the body of the resolve and cancel endpoints.
type CloseAlertRequest struct {
	ResponderID uuid.UUID `json:"responderId"`
	Note        string    `json:"note"`
}

// NotifyAlertRequest is the body of POST /alerts/{alertId}/notify.
type NotifyAlertRequest struct {
	ObserverIDs []string `json:"observerIds"`
}

// Alert is the wire form of domain.EmergencyAlert.
type Alert struct {
	ID             uuid.UUID          `json:"id"`
	Type           domain.AlertType   `json:"type"`
	Severity       domain.Severity    `json:"severity"`
	Status         domain.AlertStatus `json:"status"`
	InitiatorID    uuid.UUID          `json:"initiatorId"`
	TripID         *uuid.UUID         `json:"tripId,omitempty"`
	VehicleID      *uuid.UUID         `json:"vehicleId,omitempty"`
	Location       domain.Location    `json:"location"`
	Description    string             `json:"description,omitempty"`
	ResponderID    *uuid.UUID         `json:"responderId,omitempty"`
	ResolutionNote string             `json:"resolutionNote,omitempty"`
	ResolutionMs   *int64             `json:"resolutionMs,omitempty"`
	Notified       []string           `json:"notified"`
	CreatedAt      time.Time          `json:"createdAt"`
	ResolvedAt     *time.Time         `json:"resolvedAt,omitempty"`
}

func alertToResponse(a domain.EmergencyAlert) Alert {
	resp := Alert{
		ID:             a.ID,
		Type:           a.Type,
		Severity:       a.Severity,
		Status:         a.Status,
		InitiatorID:    a.InitiatorID,
		TripID:         a.TripID,
		VehicleID:      a.VehicleID,
		Location:       a.Location,
		Description:    a.Description,
		ResponderID:    a.ResponderID,
		ResolutionNote: a.ResolutionNote,
		Notified:       a.Notified,
		CreatedAt:      a.CreatedAt,
		ResolvedAt:     a.ResolvedAt,
	}
	if resp.Notified == nil {
		resp.Notified = []string{}
	}
	if a.ResolutionDuration != nil {
		ms := a.ResolutionDuration.Milliseconds()
		resp.ResolutionMs = &ms
	}
	return resp
}
