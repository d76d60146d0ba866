package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/fleetcore/internal/domain"
	"github.com/pkordes/fleetcore/internal/keylock"
	"github.com/pkordes/fleetcore/internal/metrics"
	"github.com/pkordes/fleetcore/internal/repo"
)

// TripService is the single authority for trip status. Every transition is
// checked against the trip state machine under the trip's lock, and a start
// additionally holds the vehicle's lock so two trips of one vehicle can never
// both be in progress.
type TripService struct {
	trips     repo.TripRepo
	boardings repo.BoardingRepo
	deps      Deps
	locks     *keylock.Map
	log       *slog.Logger
}

// NewTripService constructs a TripService. boardings is read for the final
// boarded count published with trip_ended.
func NewTripService(trips repo.TripRepo, boardings repo.BoardingRepo, deps Deps) *TripService {
	deps = deps.withDefaults()
	return &TripService{trips: trips, boardings: boardings, deps: deps, locks: deps.Locks, log: deps.Logger}
}

// Create validates and persists a new pending trip.
// Returns domain.ErrValidation for bad input and domain.ErrConflictingSchedule
// if the vehicle already has a non-terminal trip of the same kind on the same
// UTC day.
func (s *TripService) Create(ctx context.Context, in domain.NewTrip) (domain.Trip, error) {
	if err := validateNewTrip(in); err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.Create: %w", err)
	}

	unlock := s.locks.Lock(vehicleKey(in.VehicleID))
	defer unlock()

	candidate := domain.Trip{
		VehicleID:      in.VehicleID,
		DriverID:       in.DriverID,
		RouteID:        in.RouteID,
		Kind:           in.Kind,
		ScheduledStart: in.ScheduledStart.UTC(),
		ScheduledEnd:   in.ScheduledEnd,
	}

	open, err := s.trips.ListOpenByVehicle(ctx, in.VehicleID)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.Create: %w", err)
	}
	for _, t := range open {
		if t.Kind == candidate.Kind && t.ScheduledDay().Equal(candidate.ScheduledDay()) {
			return domain.Trip{}, fmt.Errorf("service.TripService.Create: %w: trip %s is already scheduled",
				domain.ErrConflictingSchedule, t.ID)
		}
	}

	created, err := s.trips.Create(ctx, candidate)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.Create: %w", err)
	}
	metrics.IncTripTransition(string(domain.TripPending))
	s.log.InfoContext(ctx, "trip created", "trip_id", created.ID, "vehicle_id", created.VehicleID, "kind", created.Kind)
	return created, nil
}

// Get returns the full trip including stop visits and incidents.
func (s *TripService) Get(ctx context.Context, id uuid.UUID) (domain.Trip, error) {
	t, err := s.trips.GetByID(ctx, id)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.Get: %w", err)
	}
	return t, nil
}

// List returns one page of trips and the total count.
// Always returns a non-nil slice so callers can safely range over it.
func (s *TripService) List(ctx context.Context, p domain.PaginationParams) ([]domain.Trip, int64, error) {
	trips, total, err := s.trips.List(ctx, p)
	if err != nil {
		return nil, 0, fmt.Errorf("service.TripService.List: %w", err)
	}
	if trips == nil {
		trips = []domain.Trip{}
	}
	return trips, total, nil
}

// Start moves a pending trip to in_progress and publishes trip_started.
// Returns domain.ErrInvalidTransition unless the trip is pending and
// domain.ErrVehicleBusy if another trip of the vehicle is in progress.
func (s *TripService) Start(ctx context.Context, id uuid.UUID) (domain.Trip, error) {
	t, err := s.transition(ctx, id, domain.TripInProgress, "")
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.Start: %w", err)
	}
	return t, nil
}

// End completes an in-progress trip and publishes trip_ended with the trip
// duration and final boarded count.
func (s *TripService) End(ctx context.Context, id uuid.UUID) (domain.Trip, error) {
	t, err := s.transition(ctx, id, domain.TripCompleted, "")
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.End: %w", err)
	}
	return t, nil
}

// Cancel cancels a pending or in-progress trip and publishes trip_cancelled.
// Cancelling an in-progress trip frees its vehicle for the next start.
func (s *TripService) Cancel(ctx context.Context, id uuid.UUID, reason string) (domain.Trip, error) {
	t, err := s.transition(ctx, id, domain.TripCancelled, strings.TrimSpace(reason))
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.Cancel: %w", err)
	}
	return t, nil
}

func (s *TripService) transition(ctx context.Context, id uuid.UUID, next domain.TripStatus, reason string) (domain.Trip, error) {
	unlockTrip := s.locks.Lock(tripKey(id))
	defer unlockTrip()

	current, err := s.trips.GetByID(ctx, id)
	if err != nil {
		return domain.Trip{}, err
	}
	if !current.Status.CanTransition(next) {
		return domain.Trip{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, next)
	}

	unlockVehicle := s.locks.Lock(vehicleKey(current.VehicleID))
	defer unlockVehicle()

	now := s.deps.Now().UTC()
	upd := repo.TripUpdate{Status: next, CancelReason: reason}
	switch next {
	case domain.TripInProgress:
		if err := s.ensureVehicleFree(ctx, current); err != nil {
			return domain.Trip{}, err
		}
		upd.ActualStart = &now
	case domain.TripCompleted:
		upd.ActualEnd = &now
	}

	updated, err := s.trips.Transition(ctx, id, current.Status, upd)
	if err != nil {
		return domain.Trip{}, err
	}
	metrics.IncTripTransition(string(next))
	s.log.InfoContext(ctx, "trip transition",
		"trip_id", id,
		"vehicle_id", updated.VehicleID,
		"from", current.Status,
		"to", next,
	)

	// Published under the trip lock so a trip's events leave in transition
	// order. Publish never blocks on the relay.
	s.deps.Bus.Publish(ctx, s.tripEvent(ctx, updated, now))
	return updated, nil
}

func (s *TripService) ensureVehicleFree(ctx context.Context, t domain.Trip) error {
	open, err := s.trips.ListOpenByVehicle(ctx, t.VehicleID)
	if err != nil {
		return err
	}
	for _, other := range open {
		if other.ID != t.ID && other.Status == domain.TripInProgress {
			return fmt.Errorf("%w: trip %s is in progress", domain.ErrVehicleBusy, other.ID)
		}
	}
	return nil
}

func (s *TripService) tripEvent(ctx context.Context, t domain.Trip, now time.Time) domain.Event {
	payload := domain.TripPayload{
		TripID:    t.ID,
		VehicleID: t.VehicleID,
		Status:    t.Status,
		Timestamp: now,
	}

	var typ domain.EventType
	switch t.Status {
	case domain.TripInProgress:
		typ = domain.EventTripStarted
	case domain.TripCompleted:
		typ = domain.EventTripEnded
		if t.ActualStart != nil && t.ActualEnd != nil {
			ms := max(t.ActualEnd.Sub(*t.ActualStart), 0).Milliseconds()
			payload.DurationMs = &ms
		}
		// The trip lock is held exclusively here and boarding holds it shared,
		// so the count is final.
		n, err := s.boardings.CountBoarded(ctx, t.ID)
		if err != nil {
			s.log.WarnContext(ctx, "boarded count unavailable", "trip_id", t.ID, "error", err)
		} else {
			payload.BoardedCount = &n
		}
	default:
		typ = domain.EventTripCancelled
		payload.Reason = t.CancelReason
	}

	return domain.Event{Type: typ, VehicleID: t.VehicleID, TripID: t.ID, Payload: payload}
}

// RecordStopVisit appends a stop visit to an in-progress trip.
// Returns domain.ErrTripNotActive if the trip is not in progress.
func (s *TripService) RecordStopVisit(ctx context.Context, id uuid.UUID, visit domain.StopVisit) (domain.Trip, error) {
	if err := validateStopVisit(visit); err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.RecordStopVisit: %w", err)
	}

	unlock := s.locks.RLock(tripKey(id))
	defer unlock()

	t, err := s.trips.GetByID(ctx, id)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.RecordStopVisit: %w", err)
	}
	if t.Status != domain.TripInProgress {
		return domain.Trip{}, fmt.Errorf("service.TripService.RecordStopVisit: %w: trip is %s",
			domain.ErrTripNotActive, t.Status)
	}
	if err := s.trips.AddStopVisit(ctx, id, visit); err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.RecordStopVisit: %w", err)
	}

	t, err = s.trips.GetByID(ctx, id)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.RecordStopVisit: %w", err)
	}
	return t, nil
}

// RecordIncident links an emergency alert to a trip in any status.
func (s *TripService) RecordIncident(ctx context.Context, id uuid.UUID, incident domain.Incident) error {
	if err := s.trips.AddIncident(ctx, id, incident); err != nil {
		return fmt.Errorf("service.TripService.RecordIncident: %w", err)
	}
	return nil
}

// VehicleOf returns the vehicle running trip id. AlertManager uses it to
// route trip-scoped alerts to vehicle-scoped observers.
func (s *TripService) VehicleOf(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	t, err := s.trips.GetByID(ctx, id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("service.TripService.VehicleOf: %w", err)
	}
	return t.VehicleID, nil
}

func validateNewTrip(in domain.NewTrip) error {
	var problems []string
	if in.VehicleID == uuid.Nil {
		problems = append(problems, "vehicleId is required")
	}
	if in.DriverID == uuid.Nil {
		problems = append(problems, "driverId is required")
	}
	if in.RouteID == uuid.Nil {
		problems = append(problems, "routeId is required")
	}
	if !in.Kind.Valid() {
		problems = append(problems, fmt.Sprintf("kind %q must be one of morning, evening, custom", in.Kind))
	}
	if in.ScheduledStart.IsZero() {
		problems = append(problems, "scheduledStart is required")
	}
	if in.ScheduledEnd != nil && in.ScheduledEnd.Before(in.ScheduledStart) {
		problems = append(problems, "scheduledEnd must not be before scheduledStart")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

func validateStopVisit(v domain.StopVisit) error {
	if v.StopID == uuid.Nil {
		return fmt.Errorf("%w: stopId is required", domain.ErrValidation)
	}
	if v.ArrivedAt.IsZero() {
		return fmt.Errorf("%w: arrivedAt is required", domain.ErrValidation)
	}
	if v.DepartedAt != nil && v.DepartedAt.Before(v.ArrivedAt) {
		return fmt.Errorf("%w: departedAt must not be before arrivedAt", domain.ErrValidation)
	}
	return nil
}
