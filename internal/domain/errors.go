package domain

import "errors"

// ErrNotFound is returned by repo and service functions when the requested
// trip, alert, position, or boarding record does not exist.
// Handlers should map this to HTTP 404.
var ErrNotFound = errors.New("not found")

// ErrValidation is returned by service functions when input fails business
// rule validation (e.g. missing vehicle, latitude out of range).
// Handlers should map this to HTTP 422 Unprocessable Entity.
var ErrValidation = errors.New("validation error")

// ErrInvalidTransition is returned when a trip operation is not legal from the
// trip's current status (e.g. ending a pending trip).
var ErrInvalidTransition = errors.New("invalid transition")

// ErrVehicleBusy is returned by TripService.Start when the vehicle already has
// another trip in progress.
var ErrVehicleBusy = errors.New("vehicle busy")

// ErrTripNotActive is returned by operations that require an in-progress trip,
// such as boarding a student or recording a stop visit.
var ErrTripNotActive = errors.New("trip not active")

// ErrAlertNotActive is returned when resolving or cancelling an alert that has
// already left the active state. Callers should read it as "already handled".
var ErrAlertNotActive = errors.New("alert not active")

// ErrConflictingSchedule is returned by TripService.Create when the vehicle
// already has a non-terminal trip of the same kind on the same day.
var ErrConflictingSchedule = errors.New("conflicting schedule")

// ErrEscalationFailed is returned by AlertManager.Raise when an emergency event
// could neither be delivered to observers nor handed to the escalation target.
// The alert itself is persisted; the caller should retry the notification.
var ErrEscalationFailed = errors.New("escalation failed")
