package handler

import (
	"net/http"

	"github.com/pkordes/fleetcore/internal/domain"
)

// ReportPosition handles PUT /vehicles/{vehicleId}/location.
// A stale report is not an error: the response carries the position still
// current and accepted=false.
func (s *Server) ReportPosition(w http.ResponseWriter, r *http.Request) {
	vehicleID, err := pathUUID(r, "vehicleId")
	if err != nil {
		badRequest(w, err)
		return
	}
	var body PositionRequest
	if err := decodeBody(r, &body); err != nil {
		badRequest(w, err)
		return
	}
	if body.Lat == nil || body.Lng == nil {
		requestError(w, "lat and lng are required")
		return
	}

	pos, accepted, err := s.Locations.ReportPosition(r.Context(), domain.PositionReport{
		VehicleID:  vehicleID,
		Lat:        *body.Lat,
		Lng:        *body.Lng,
		Speed:      body.Speed,
		ObservedAt: body.Timestamp,
	})
	if err != nil {
		s.serviceError(w, r, err, "vehicle")
		return
	}
	resp := positionToResponse(pos)
	resp.Accepted = &accepted
	writeJSON(w, http.StatusOK, resp)
}

// GetPosition handles GET /vehicles/{vehicleId}/location.
func (s *Server) GetPosition(w http.ResponseWriter, r *http.Request) {
	vehicleID, err := pathUUID(r, "vehicleId")
	if err != nil {
		badRequest(w, err)
		return
	}
	pos, err := s.Locations.Current(r.Context(), vehicleID)
	if err != nil {
		s.serviceError(w, r, err, "vehicle position")
		return
	}
	writeJSON(w, http.StatusOK, positionToResponse(pos))
}
