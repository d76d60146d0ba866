package repo

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/fleetcore/internal/domain"
)

// The in-memory repos back single-instance deployments without DATABASE_URL
// and the service tests. They apply the same conditional-write guards as the
// Postgres repos and always hand out copies, never pointers into their maps.

type memTripRepo struct {
	mu    sync.RWMutex
	trips map[uuid.UUID]domain.Trip
	now   func() time.Time
}

// NewMemoryTripRepo returns an in-memory TripRepo.
func NewMemoryTripRepo() TripRepo {
	return &memTripRepo{trips: make(map[uuid.UUID]domain.Trip), now: time.Now}
}

func (r *memTripRepo) Create(_ context.Context, trip domain.Trip) (domain.Trip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	trip.ID = uuid.New()
	trip.Status = domain.TripPending
	trip.CreatedAt = now
	trip.UpdatedAt = now
	r.trips[trip.ID] = cloneTrip(trip)
	return cloneTrip(trip), nil
}

func (r *memTripRepo) GetByID(_ context.Context, id uuid.UUID) (domain.Trip, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.trips[id]
	if !ok {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.GetByID: %w", domain.ErrNotFound)
	}
	return cloneTrip(t), nil
}

func (r *memTripRepo) List(_ context.Context, p domain.PaginationParams) ([]domain.Trip, int64, error) {
	r.mu.RLock()
	all := make([]domain.Trip, 0, len(r.trips))
	for _, t := range r.trips {
		t.StopVisits, t.Incidents = nil, nil
		all = append(all, t)
	}
	r.mu.RUnlock()

	slices.SortFunc(all, func(a, b domain.Trip) int {
		if c := b.ScheduledStart.Compare(a.ScheduledStart); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	lo, hi := p.Bounds(len(all))
	return all[lo:hi], int64(len(all)), nil
}

func (r *memTripRepo) ListOpenByVehicle(_ context.Context, vehicleID uuid.UUID) ([]domain.Trip, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Trip
	for _, t := range r.trips {
		if t.VehicleID == vehicleID && !t.Status.Terminal() {
			out = append(out, cloneTrip(t))
		}
	}
	slices.SortFunc(out, func(a, b domain.Trip) int { return a.ScheduledStart.Compare(b.ScheduledStart) })
	return out, nil
}

func (r *memTripRepo) Transition(_ context.Context, id uuid.UUID, from domain.TripStatus, upd TripUpdate) (domain.Trip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.trips[id]
	if !ok {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.Transition: %w", domain.ErrNotFound)
	}
	if t.Status != from {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.Transition: %w", domain.ErrInvalidTransition)
	}
	if upd.Status == domain.TripInProgress {
		for otherID, other := range r.trips {
			if otherID != id && other.VehicleID == t.VehicleID && other.Status == domain.TripInProgress {
				return domain.Trip{}, fmt.Errorf("repo.TripRepo.Transition: %w", domain.ErrVehicleBusy)
			}
		}
	}

	t.Status = upd.Status
	if t.ActualStart == nil && upd.ActualStart != nil {
		ts := *upd.ActualStart
		t.ActualStart = &ts
	}
	if t.ActualEnd == nil && upd.ActualEnd != nil {
		ts := *upd.ActualEnd
		t.ActualEnd = &ts
	}
	t.CancelReason = upd.CancelReason
	t.UpdatedAt = r.now().UTC()
	r.trips[id] = t
	return cloneTrip(t), nil
}

func (r *memTripRepo) AddStopVisit(_ context.Context, tripID uuid.UUID, visit domain.StopVisit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.trips[tripID]
	if !ok {
		return fmt.Errorf("repo.TripRepo.AddStopVisit: %w", domain.ErrNotFound)
	}
	t.StopVisits = append(slices.Clone(t.StopVisits), visit)
	slices.SortStableFunc(t.StopVisits, func(a, b domain.StopVisit) int { return a.ArrivedAt.Compare(b.ArrivedAt) })
	r.trips[tripID] = t
	return nil
}

func (r *memTripRepo) AddIncident(_ context.Context, tripID uuid.UUID, incident domain.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.trips[tripID]
	if !ok {
		return fmt.Errorf("repo.TripRepo.AddIncident: %w", domain.ErrNotFound)
	}
	t.Incidents = append(slices.Clone(t.Incidents), incident)
	r.trips[tripID] = t
	return nil
}

func cloneTrip(t domain.Trip) domain.Trip {
	t.StopVisits = slices.Clone(t.StopVisits)
	t.Incidents = slices.Clone(t.Incidents)
	return t
}

type boardingKey struct {
	trip, student uuid.UUID
}

type memBoardingRepo struct {
	mu      sync.RWMutex
	records map[boardingKey]domain.BoardingRecord
}

// NewMemoryBoardingRepo returns an in-memory BoardingRepo.
func NewMemoryBoardingRepo() BoardingRepo {
	return &memBoardingRepo{records: make(map[boardingKey]domain.BoardingRecord)}
}

func (r *memBoardingRepo) Board(_ context.Context, rec domain.BoardingRecord) (domain.BoardingRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := boardingKey{rec.TripID, rec.StudentID}
	if existing, ok := r.records[key]; ok && existing.Boarded {
		return existing, false, nil
	}
	rec.Boarded = true
	r.records[key] = rec
	return rec, true, nil
}

func (r *memBoardingRepo) Get(_ context.Context, tripID, studentID uuid.UUID) (domain.BoardingRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[boardingKey{tripID, studentID}]
	if !ok {
		return domain.BoardingRecord{}, fmt.Errorf("repo.BoardingRepo.Get: %w", domain.ErrNotFound)
	}
	return rec, nil
}

func (r *memBoardingRepo) ListByTrip(_ context.Context, tripID uuid.UUID) ([]domain.BoardingRecord, error) {
	r.mu.RLock()
	var out []domain.BoardingRecord
	for k, rec := range r.records {
		if k.trip == tripID {
			out = append(out, rec)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.BoardingRecord) int {
		switch {
		case a.BoardedAt == nil && b.BoardedAt != nil:
			return 1
		case a.BoardedAt != nil && b.BoardedAt == nil:
			return -1
		case a.BoardedAt != nil && b.BoardedAt != nil:
			if c := a.BoardedAt.Compare(*b.BoardedAt); c != 0 {
				return c
			}
		}
		return cmp.Compare(a.StudentID.String(), b.StudentID.String())
	})
	return out, nil
}

func (r *memBoardingRepo) CountBoarded(_ context.Context, tripID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for k, rec := range r.records {
		if k.trip == tripID && rec.Boarded {
			n++
		}
	}
	return n, nil
}

type memAlertRepo struct {
	mu     sync.RWMutex
	alerts map[uuid.UUID]domain.EmergencyAlert
}

// NewMemoryAlertRepo returns an in-memory AlertRepo.
func NewMemoryAlertRepo() AlertRepo {
	return &memAlertRepo{alerts: make(map[uuid.UUID]domain.EmergencyAlert)}
}

func (r *memAlertRepo) Create(_ context.Context, a domain.EmergencyAlert) (domain.EmergencyAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a.ID = uuid.New()
	a.Status = domain.AlertActive
	a.Notified = []string{}
	r.alerts[a.ID] = a
	return cloneAlert(a), nil
}

func (r *memAlertRepo) GetByID(_ context.Context, id uuid.UUID) (domain.EmergencyAlert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.alerts[id]
	if !ok {
		return domain.EmergencyAlert{}, fmt.Errorf("repo.AlertRepo.GetByID: %w", domain.ErrNotFound)
	}
	return cloneAlert(a), nil
}

func (r *memAlertRepo) List(_ context.Context, status *domain.AlertStatus, p domain.PaginationParams) ([]domain.EmergencyAlert, int64, error) {
	r.mu.RLock()
	var all []domain.EmergencyAlert
	for _, a := range r.alerts {
		if status == nil || a.Status == *status {
			all = append(all, cloneAlert(a))
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(all, func(a, b domain.EmergencyAlert) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	lo, hi := p.Bounds(len(all))
	return all[lo:hi], int64(len(all)), nil
}

func (r *memAlertRepo) Close(_ context.Context, id uuid.UUID, c domain.AlertClosure) (domain.EmergencyAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.alerts[id]
	if !ok {
		return domain.EmergencyAlert{}, fmt.Errorf("repo.AlertRepo.Close: %w", domain.ErrNotFound)
	}
	if a.Status != domain.AlertActive {
		return domain.EmergencyAlert{}, fmt.Errorf("repo.AlertRepo.Close: %w", domain.ErrAlertNotActive)
	}

	responder := c.ResponderID
	closedAt := c.ClosedAt
	// Stored at millisecond precision, matching the resolution_ms column.
	d := c.Duration.Truncate(time.Millisecond)
	a.Status = c.Status
	a.ResponderID = &responder
	a.ResolutionNote = c.Note
	a.ResolutionDuration = &d
	a.ResolvedAt = &closedAt
	r.alerts[id] = a
	return cloneAlert(a), nil
}

func (r *memAlertRepo) AddNotified(_ context.Context, id uuid.UUID, observers []string) (domain.EmergencyAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.alerts[id]
	if !ok {
		return domain.EmergencyAlert{}, fmt.Errorf("repo.AlertRepo.AddNotified: %w", domain.ErrNotFound)
	}
	notified := slices.Clone(a.Notified)
	for _, o := range observers {
		if !slices.Contains(notified, o) {
			notified = append(notified, o)
		}
	}
	a.Notified = notified
	r.alerts[id] = a
	return cloneAlert(a), nil
}

func cloneAlert(a domain.EmergencyAlert) domain.EmergencyAlert {
	a.Notified = slices.Clone(a.Notified)
	if a.Notified == nil {
		a.Notified = []string{}
	}
	return a
}

type memPositionRepo struct {
	mu        sync.RWMutex
	positions map[uuid.UUID]domain.VehiclePosition
}

// NewMemoryPositionRepo returns an in-memory PositionRepo.
func NewMemoryPositionRepo() PositionRepo {
	return &memPositionRepo{positions: make(map[uuid.UUID]domain.VehiclePosition)}
}

func (r *memPositionRepo) Upsert(_ context.Context, pos domain.VehiclePosition) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.positions[pos.VehicleID]; ok && !cur.ObservedAt.Before(pos.ObservedAt) {
		return false, nil
	}
	r.positions[pos.VehicleID] = pos
	return true, nil
}

func (r *memPositionRepo) Get(_ context.Context, vehicleID uuid.UUID) (domain.VehiclePosition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pos, ok := r.positions[vehicleID]
	if !ok {
		return domain.VehiclePosition{}, fmt.Errorf("repo.PositionRepo.Get: %w", domain.ErrNotFound)
	}
	return pos, nil
}
