package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/pkordes/fleetcore/internal/domain"
)

// ErrorDetail is the machine-readable code and human-readable message of a failed request.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// errorCodes maps domain sentinels to their status and code. Order matters
// only in that the first match wins.
var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrValidation, http.StatusUnprocessableEntity, "validation_error"},
	{domain.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{domain.ErrVehicleBusy, http.StatusConflict, "vehicle_busy"},
	{domain.ErrConflictingSchedule, http.StatusConflict, "conflicting_schedule"},
	{domain.ErrTripNotActive, http.StatusConflict, "trip_not_active"},
	{domain.ErrAlertNotActive, http.StatusConflict, "alert_not_active"},
	{domain.ErrEscalationFailed, http.StatusServiceUnavailable, "escalation_failed"},
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// requestError reports input rejected before reaching the service layer.
func requestError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnprocessableEntity, "validation_error", message)
}

// serviceError translates a service error into a response. Unmapped errors
// are logged and reported as 500 without leaking their text.
func (s *Server) serviceError(w http.ResponseWriter, r *http.Request, err error, subject string) {
	for _, m := range errorCodes {
		if !errors.Is(err, m.err) {
			continue
		}
		msg := unwrapMessage(err, m.err)
		if m.err == domain.ErrNotFound {
			msg = subject + " not found"
		}
		writeError(w, m.status, m.code, msg)
		return
	}
	s.log.ErrorContext(r.Context(), "request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"error", err,
	)
	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}

// unwrapMessage extracts the human-readable part after a wrapped sentinel.
// e.g. "service.TripService.Create: validation error: kind is required" → "kind is required"
func unwrapMessage(err, sentinel error) string {
	msg := err.Error()
	marker := sentinel.Error() + ": "
	if i := strings.Index(msg, marker); i >= 0 {
		return msg[i+len(marker):]
	}
	return sentinel.Error()
}
