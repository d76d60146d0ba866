package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/pkordes/fleetcore/internal/domain"
)

// EscalationFailedResponse is returned with 503 when an alert was persisted
// but neither delivery nor escalation succeeded.
type EscalationFailedResponse struct {
	Error ErrorDetail `json:"error"`
	Alert Alert       `json:"alert"`
}

// RaiseAlert handles POST /alerts.
func (s *Server) RaiseAlert(w http.ResponseWriter, r *http.Request) {
	var body RaiseAlertRequest
	if err := decodeBody(r, &body); err != nil {
		badRequest(w, err)
		return
	}
	if body.Location == nil {
		requestError(w, "location is required")
		return
	}

	alert, err := s.Alerts.Raise(r.Context(), domain.NewAlert{
		Type:        body.Type,
		Severity:    body.Severity,
		InitiatorID: body.InitiatorID,
		TripID:      body.TripID,
		VehicleID:   body.VehicleID,
		Location:    *body.Location,
		Description: body.Description,
	})
	if errors.Is(err, domain.ErrEscalationFailed) && alert.ID != uuid.Nil {
		s.log.ErrorContext(r.Context(), "alert raised but not delivered", "alert_id", alert.ID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, EscalationFailedResponse{
			Error: ErrorDetail{Code: "escalation_failed", Message: "alert recorded but not delivered to every observer"},
			Alert: alertToResponse(alert),
		})
		return
	}
	if err != nil {
		s.serviceError(w, r, err, "alert")
		return
	}
	writeJSON(w, http.StatusCreated, alertToResponse(alert))
}

// ListAlerts handles GET /alerts. Supports ?status= plus pagination.
func (s *Server) ListAlerts(w http.ResponseWriter, r *http.Request) {
	params, err := pagination(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	var status *domain.AlertStatus
	if err := queryParam(r, "status", &status); err != nil {
		badRequest(w, err)
		return
	}

	alerts, total, err := s.Alerts.List(r.Context(), status, params)
	if err != nil {
		s.serviceError(w, r, err, "alert")
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(alerts, total, params, alertToResponse))
}

// GetAlert handles GET /alerts/{alertId}.
func (s *Server) GetAlert(w http.ResponseWriter, r *http.Request) {
	s.withAlert(w, r, s.Alerts.Get)
}

// ResolveAlert handles PUT /alerts/{alertId}/resolve.
func (s *Server) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	s.closeAlert(w, r, s.Alerts.Resolve)
}

// CancelAlert handles PUT /alerts/{alertId}/cancel.
func (s *Server) CancelAlert(w http.ResponseWriter, r *http.Request) {
	s.closeAlert(w, r, s.Alerts.Cancel)
}

// NotifyAlert handles POST /alerts/{alertId}/notify.
func (s *Server) NotifyAlert(w http.ResponseWriter, r *http.Request) {
	var body NotifyAlertRequest
	if err := decodeBody(r, &body); err != nil {
		badRequest(w, err)
		return
	}
	s.withAlert(w, r, func(ctx context.Context, id uuid.UUID) (domain.EmergencyAlert, error) {
		return s.Alerts.Notify(ctx, id, body.ObserverIDs)
	})
}

type closeFunc func(ctx context.Context, id, responder uuid.UUID, note string) (domain.EmergencyAlert, error)

func (s *Server) closeAlert(w http.ResponseWriter, r *http.Request, op closeFunc) {
	var body CloseAlertRequest
	if err := decodeBody(r, &body); err != nil {
		badRequest(w, err)
		return
	}
	s.withAlert(w, r, func(ctx context.Context, id uuid.UUID) (domain.EmergencyAlert, error) {
		return op(ctx, id, body.ResponderID, body.Note)
	})
}

// withAlert binds {alertId}, runs op and writes the resulting alert.
func (s *Server) withAlert(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID) (domain.EmergencyAlert, error)) {
	id, err := pathUUID(r, "alertId")
	if err != nil {
		badRequest(w, err)
		return
	}
	a, err := op(r.Context(), id)
	if err != nil {
		s.serviceError(w, r, err, "alert")
		return
	}
	writeJSON(w, http.StatusOK, alertToResponse(a))
}
