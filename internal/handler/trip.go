package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/pkordes/fleetcore/internal/domain"
)

// CreateTrip handles POST /trips.
func (s *Server) CreateTrip(w http.ResponseWriter, r *http.Request) {
	var body CreateTripRequest
	if err := decodeBody(r, &body); err != nil {
		badRequest(w, err)
		return
	}

	created, err := s.Trips.Create(r.Context(), domain.NewTrip{
		VehicleID:      body.VehicleID,
		DriverID:       body.DriverID,
		RouteID:        body.RouteID,
		Kind:           body.Kind,
		ScheduledStart: body.ScheduledStart,
		ScheduledEnd:   body.ScheduledEnd,
	})
	if err != nil {
		s.serviceError(w, r, err, "trip")
		return
	}
	writeJSON(w, http.StatusCreated, tripToResponse(created))
}

// ListTrips handles GET /trips.
// Supports ?page= and ?limit= query parameters (defaults: page=1, limit=20, max=100).
func (s *Server) ListTrips(w http.ResponseWriter, r *http.Request) {
	params, err := pagination(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	trips, total, err := s.Trips.List(r.Context(), params)
	if err != nil {
		s.serviceError(w, r, err, "trip")
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(trips, total, params, tripToResponse))
}

// GetTrip handles GET /trips/{tripId}.
func (s *Server) GetTrip(w http.ResponseWriter, r *http.Request) {
	s.withTrip(w, r, s.Trips.Get)
}

// StartTrip handles PUT /trips/{tripId}/start.
func (s *Server) StartTrip(w http.ResponseWriter, r *http.Request) {
	s.withTrip(w, r, s.Trips.Start)
}

// EndTrip handles PUT /trips/{tripId}/end.
func (s *Server) EndTrip(w http.ResponseWriter, r *http.Request) {
	s.withTrip(w, r, s.Trips.End)
}

// CancelTrip handles PUT /trips/{tripId}/cancel. The body is optional.
func (s *Server) CancelTrip(w http.ResponseWriter, r *http.Request) {
	var body CancelTripRequest
	if err := decodeBody(r, &body); err != nil && !errors.Is(err, errNoBody) {
		badRequest(w, err)
		return
	}
	s.withTrip(w, r, func(ctx context.Context, id uuid.UUID) (domain.Trip, error) {
		return s.Trips.Cancel(ctx, id, body.Reason)
	})
}

// RecordStopVisit handles POST /trips/{tripId}/stops.
func (s *Server) RecordStopVisit(w http.ResponseWriter, r *http.Request) {
	var body StopVisitRequest
	if err := decodeBody(r, &body); err != nil {
		badRequest(w, err)
		return
	}
	s.withTrip(w, r, func(ctx context.Context, id uuid.UUID) (domain.Trip, error) {
		return s.Trips.RecordStopVisit(ctx, id, domain.StopVisit{
			StopID:     body.StopID,
			Name:       body.Name,
			ArrivedAt:  body.ArrivedAt,
			DepartedAt: body.DepartedAt,
		})
	})
}

// withTrip binds {tripId}, runs op and writes the resulting trip.
func (s *Server) withTrip(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID) (domain.Trip, error)) {
	id, err := pathUUID(r, "tripId")
	if err != nil {
		badRequest(w, err)
		return
	}
	t, err := op(r.Context(), id)
	if err != nil {
		s.serviceError(w, r, err, "trip")
		return
	}
	writeJSON(w, http.StatusOK, tripToResponse(t))
}
