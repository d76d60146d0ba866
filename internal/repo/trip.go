// Package repo contains the entity store for trips, boarding records,
// emergency alerts and vehicle positions. Each entity has its own file with
// an interface, a Postgres implementation and an in-memory implementation.
// No business logic lives here; the repos only enforce the row-level
// guards (conditional updates, unique indexes) that back the service locks
// when several API instances share one database.
package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pkordes/fleetcore/internal/domain"
)

// db is the minimal interface satisfied by *pgxpool.Pool, pgx.Conn, and pgx.Tx.
// Integration tests pass a transaction that is rolled back after each test.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// uniqueViolation is the Postgres SQLSTATE for a unique index conflict.
const uniqueViolation = "23505"

// TripUpdate is the set of fields a status transition writes.
// ActualStart and ActualEnd are only written when the stored value is NULL.
type TripUpdate struct {
	Status       domain.TripStatus
	ActualStart  *time.Time
	ActualEnd    *time.Time
	CancelReason string
}

// TripRepo defines the persistence operations for Trips.
type TripRepo interface {
	// Create inserts a new pending trip and returns the persisted record.
	Create(ctx context.Context, trip domain.Trip) (domain.Trip, error)

	// GetByID returns the full trip aggregate including stop visits and incidents.
	// Returns domain.ErrNotFound if no trip with that ID exists.
	GetByID(ctx context.Context, id uuid.UUID) (domain.Trip, error)

	// List returns one page of trips ordered by scheduled start descending,
	// plus the total count. Stop visits and incidents are not loaded.
	List(ctx context.Context, p domain.PaginationParams) ([]domain.Trip, int64, error)

	// ListOpenByVehicle returns the vehicle's pending and in-progress trips.
	ListOpenByVehicle(ctx context.Context, vehicleID uuid.UUID) ([]domain.Trip, error)

	// Transition applies upd only if the trip is currently in status from.
	// Returns domain.ErrNotFound for an unknown trip, domain.ErrInvalidTransition
	// if the status has moved on, and domain.ErrVehicleBusy if the vehicle
	// already has an in-progress trip.
	Transition(ctx context.Context, id uuid.UUID, from domain.TripStatus, upd TripUpdate) (domain.Trip, error)

	// AddStopVisit appends a stop visit to the trip.
	AddStopVisit(ctx context.Context, tripID uuid.UUID, visit domain.StopVisit) error

	// AddIncident appends an incident record to the trip.
	AddIncident(ctx context.Context, tripID uuid.UUID, incident domain.Incident) error
}

// pgTripRepo is the Postgres implementation of TripRepo.
type pgTripRepo struct {
	db db
}

// NewTripRepo constructs a TripRepo backed by the provided db connection.
// In production pass *pgxpool.Pool; in tests pass a pgx.Tx for rollback isolation.
func NewTripRepo(db db) TripRepo {
	return &pgTripRepo{db: db}
}

const tripColumns = `id, vehicle_id, driver_id, route_id, kind, scheduled_start, scheduled_end,
	actual_start, actual_end, status, cancel_reason, created_at, updated_at`

func (r *pgTripRepo) Create(ctx context.Context, trip domain.Trip) (domain.Trip, error) {
	q := `
		INSERT INTO trips (vehicle_id, driver_id, route_id, kind, scheduled_start, scheduled_end)
		VALUES (@vehicle_id, @driver_id, @route_id, @kind, @scheduled_start, @scheduled_end)
		RETURNING ` + tripColumns

	args := pgx.NamedArgs{
		"vehicle_id":      trip.VehicleID,
		"driver_id":       trip.DriverID,
		"route_id":        trip.RouteID,
		"kind":            string(trip.Kind),
		"scheduled_start": trip.ScheduledStart,
		"scheduled_end":   trip.ScheduledEnd, // nil becomes NULL
	}

	result, err := scanTrip(r.db.QueryRow(ctx, q, args))
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.Create: %w", err)
	}
	return result, nil
}

func (r *pgTripRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Trip, error) {
	q := `SELECT ` + tripColumns + ` FROM trips WHERE id = @id`

	trip, err := scanTrip(r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id}))
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.GetByID: %w", err)
	}
	if trip.StopVisits, err = r.stopVisits(ctx, id); err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.GetByID: %w", err)
	}
	if trip.Incidents, err = r.incidents(ctx, id); err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.GetByID: %w", err)
	}
	return trip, nil
}

func (r *pgTripRepo) List(ctx context.Context, p domain.PaginationParams) ([]domain.Trip, int64, error) {
	var total int64
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM trips`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("repo.TripRepo.List: count: %w", err)
	}

	q := `SELECT ` + tripColumns + `
		FROM trips
		ORDER BY scheduled_start DESC, id
		LIMIT @limit OFFSET @offset`

	trips, err := r.queryTrips(ctx, q, pgx.NamedArgs{"limit": p.Limit, "offset": p.Offset()})
	if err != nil {
		return nil, 0, fmt.Errorf("repo.TripRepo.List: %w", err)
	}
	return trips, total, nil
}

func (r *pgTripRepo) ListOpenByVehicle(ctx context.Context, vehicleID uuid.UUID) ([]domain.Trip, error) {
	q := `SELECT ` + tripColumns + `
		FROM trips
		WHERE vehicle_id = @vehicle_id AND status IN ('pending', 'in_progress')
		ORDER BY scheduled_start`

	trips, err := r.queryTrips(ctx, q, pgx.NamedArgs{"vehicle_id": vehicleID})
	if err != nil {
		return nil, fmt.Errorf("repo.TripRepo.ListOpenByVehicle: %w", err)
	}
	return trips, nil
}

func (r *pgTripRepo) Transition(ctx context.Context, id uuid.UUID, from domain.TripStatus, upd TripUpdate) (domain.Trip, error) {
	q := `
		UPDATE trips
		SET status        = @status,
		    actual_start  = COALESCE(actual_start, @actual_start),
		    actual_end    = COALESCE(actual_end, @actual_end),
		    cancel_reason = @cancel_reason,
		    updated_at    = now()
		WHERE id = @id AND status = @from
		RETURNING ` + tripColumns

	args := pgx.NamedArgs{
		"id":            id,
		"from":          string(from),
		"status":        string(upd.Status),
		"actual_start":  upd.ActualStart,
		"actual_end":    upd.ActualEnd,
		"cancel_reason": upd.CancelReason,
	}

	trip, err := scanTrip(r.db.QueryRow(ctx, q, args))
	if err == nil {
		return trip, nil
	}

	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pgErr) && pgErr.Code == uniqueViolation:
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.Transition: %w", domain.ErrVehicleBusy)
	case errors.Is(err, domain.ErrNotFound):
		// Either the trip does not exist or its status is no longer `from`.
		var exists bool
		if qerr := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM trips WHERE id = @id)`,
			pgx.NamedArgs{"id": id}).Scan(&exists); qerr != nil {
			return domain.Trip{}, fmt.Errorf("repo.TripRepo.Transition: %w", qerr)
		}
		if exists {
			return domain.Trip{}, fmt.Errorf("repo.TripRepo.Transition: %w", domain.ErrInvalidTransition)
		}
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.Transition: %w", domain.ErrNotFound)
	default:
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.Transition: %w", err)
	}
}

func (r *pgTripRepo) AddStopVisit(ctx context.Context, tripID uuid.UUID, visit domain.StopVisit) error {
	const q = `
		INSERT INTO trip_stop_visits (trip_id, stop_id, name, arrived_at, departed_at)
		VALUES (@trip_id, @stop_id, @name, @arrived_at, @departed_at)`

	_, err := r.db.Exec(ctx, q, pgx.NamedArgs{
		"trip_id":     tripID,
		"stop_id":     visit.StopID,
		"name":        visit.Name,
		"arrived_at":  visit.ArrivedAt,
		"departed_at": visit.DepartedAt,
	})
	if err != nil {
		return fmt.Errorf("repo.TripRepo.AddStopVisit: %w", err)
	}
	return nil
}

func (r *pgTripRepo) AddIncident(ctx context.Context, tripID uuid.UUID, incident domain.Incident) error {
	const q = `
		INSERT INTO trip_incidents (trip_id, alert_id, type, recorded_at)
		VALUES (@trip_id, @alert_id, @type, @recorded_at)`

	_, err := r.db.Exec(ctx, q, pgx.NamedArgs{
		"trip_id":     tripID,
		"alert_id":    incident.AlertID,
		"type":        string(incident.Type),
		"recorded_at": incident.RecordedAt,
	})
	if err != nil {
		return fmt.Errorf("repo.TripRepo.AddIncident: %w", err)
	}
	return nil
}

func (r *pgTripRepo) queryTrips(ctx context.Context, q string, args pgx.NamedArgs) ([]domain.Trip, error) {
	rows, err := r.db.Query(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trips []domain.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		trips = append(trips, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return trips, nil
}

func (r *pgTripRepo) stopVisits(ctx context.Context, tripID uuid.UUID) ([]domain.StopVisit, error) {
	const q = `
		SELECT stop_id, name, arrived_at, departed_at
		FROM trip_stop_visits
		WHERE trip_id = @trip_id
		ORDER BY arrived_at, id`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"trip_id": tripID})
	if err != nil {
		return nil, fmt.Errorf("stop visits: %w", err)
	}
	defer rows.Close()

	var visits []domain.StopVisit
	for rows.Next() {
		var (
			v      domain.StopVisit
			stopID pgtype.UUID
		)
		if err := rows.Scan(&stopID, &v.Name, &v.ArrivedAt, &v.DepartedAt); err != nil {
			return nil, fmt.Errorf("stop visits: scan: %w", err)
		}
		v.StopID = uuid.UUID(stopID.Bytes)
		visits = append(visits, v)
	}
	return visits, rows.Err()
}

func (r *pgTripRepo) incidents(ctx context.Context, tripID uuid.UUID) ([]domain.Incident, error) {
	const q = `
		SELECT alert_id, type, recorded_at
		FROM trip_incidents
		WHERE trip_id = @trip_id
		ORDER BY recorded_at, id`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"trip_id": tripID})
	if err != nil {
		return nil, fmt.Errorf("incidents: %w", err)
	}
	defer rows.Close()

	var out []domain.Incident
	for rows.Next() {
		var (
			in      domain.Incident
			alertID pgtype.UUID
			typ     string
		)
		if err := rows.Scan(&alertID, &typ, &in.RecordedAt); err != nil {
			return nil, fmt.Errorf("incidents: scan: %w", err)
		}
		in.AlertID = uuid.UUID(alertID.Bytes)
		in.Type = domain.AlertType(typ)
		out = append(out, in)
	}
	return out, rows.Err()
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanTrip maps a row selected with tripColumns into a domain.Trip.
func scanTrip(s scanner) (domain.Trip, error) {
	var (
		t                          domain.Trip
		id, vehicle, driver, route pgtype.UUID
		kind, status               string
	)

	err := s.Scan(&id, &vehicle, &driver, &route, &kind, &t.ScheduledStart, &t.ScheduledEnd,
		&t.ActualStart, &t.ActualEnd, &status, &t.CancelReason, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trip{}, domain.ErrNotFound
		}
		return domain.Trip{}, err
	}

	t.ID = uuid.UUID(id.Bytes)
	t.VehicleID = uuid.UUID(vehicle.Bytes)
	t.DriverID = uuid.UUID(driver.Bytes)
	t.RouteID = uuid.UUID(route.Bytes)
	t.Kind = domain.TripKind(kind)
	t.Status = domain.TripStatus(status)
	return t, nil
}
