package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pkordes/fleetcore/internal/domain"
)

// AlertRepo defines the persistence operations for EmergencyAlerts.
// Alerts are never deleted.
type AlertRepo interface {
	// Create inserts a new active alert and returns the persisted record.
	Create(ctx context.Context, alert domain.EmergencyAlert) (domain.EmergencyAlert, error)

	// GetByID returns domain.ErrNotFound if the alert does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (domain.EmergencyAlert, error)

	// List returns one page of alerts, newest first, optionally filtered by
	// status, plus the total count for that filter.
	List(ctx context.Context, status *domain.AlertStatus, p domain.PaginationParams) ([]domain.EmergencyAlert, int64, error)

	// Close moves an active alert to c.Status. Returns domain.ErrAlertNotActive
	// if the alert has already left the active state, domain.ErrNotFound if
	// it does not exist.
	Close(ctx context.Context, id uuid.UUID, c domain.AlertClosure) (domain.EmergencyAlert, error)

	// AddNotified unions observers into the alert's notified set.
	AddNotified(ctx context.Context, id uuid.UUID, observers []string) (domain.EmergencyAlert, error)
}

type pgAlertRepo struct {
	db db
}

// NewAlertRepo constructs an AlertRepo backed by the provided db connection.
func NewAlertRepo(db db) AlertRepo {
	return &pgAlertRepo{db: db}
}

const alertColumns = `id, type, severity, initiator_id, trip_id, vehicle_id, lat, lng, description,
	status, responder_id, resolution_note, resolution_ms, notified, created_at, resolved_at`

func (r *pgAlertRepo) Create(ctx context.Context, a domain.EmergencyAlert) (domain.EmergencyAlert, error) {
	q := `
		INSERT INTO emergency_alerts
			(type, severity, initiator_id, trip_id, vehicle_id, lat, lng, description, created_at)
		VALUES
			(@type, @severity, @initiator_id, @trip_id, @vehicle_id, @lat, @lng, @description, @created_at)
		RETURNING ` + alertColumns

	result, err := scanAlert(r.db.QueryRow(ctx, q, pgx.NamedArgs{
		"type":         string(a.Type),
		"severity":     string(a.Severity),
		"initiator_id": a.InitiatorID,
		"trip_id":      a.TripID,
		"vehicle_id":   a.VehicleID,
		"lat":          a.Location.Lat,
		"lng":          a.Location.Lng,
		"description":  a.Description,
		"created_at":   a.CreatedAt,
	}))
	if err != nil {
		return domain.EmergencyAlert{}, fmt.Errorf("repo.AlertRepo.Create: %w", err)
	}
	return result, nil
}

func (r *pgAlertRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.EmergencyAlert, error) {
	q := `SELECT ` + alertColumns + ` FROM emergency_alerts WHERE id = @id`

	a, err := scanAlert(r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id}))
	if err != nil {
		return domain.EmergencyAlert{}, fmt.Errorf("repo.AlertRepo.GetByID: %w", err)
	}
	return a, nil
}

func (r *pgAlertRepo) List(ctx context.Context, status *domain.AlertStatus, p domain.PaginationParams) ([]domain.EmergencyAlert, int64, error) {
	var filter *string
	if status != nil {
		s := string(*status)
		filter = &s
	}
	args := pgx.NamedArgs{"status": filter, "limit": p.Limit, "offset": p.Offset()}

	var total int64
	const countQ = `SELECT count(*) FROM emergency_alerts WHERE @status::text IS NULL OR status = @status::text`
	if err := r.db.QueryRow(ctx, countQ, args).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("repo.AlertRepo.List: count: %w", err)
	}

	q := `SELECT ` + alertColumns + `
		FROM emergency_alerts
		WHERE @status::text IS NULL OR status = @status::text
		ORDER BY created_at DESC, id
		LIMIT @limit OFFSET @offset`

	rows, err := r.db.Query(ctx, q, args)
	if err != nil {
		return nil, 0, fmt.Errorf("repo.AlertRepo.List: %w", err)
	}
	defer rows.Close()

	var alerts []domain.EmergencyAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("repo.AlertRepo.List: scan: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("repo.AlertRepo.List: rows: %w", err)
	}
	return alerts, total, nil
}

func (r *pgAlertRepo) Close(ctx context.Context, id uuid.UUID, c domain.AlertClosure) (domain.EmergencyAlert, error) {
	q := `
		UPDATE emergency_alerts
		SET status          = @status,
		    responder_id    = @responder_id,
		    resolution_note = @note,
		    resolution_ms   = @resolution_ms,
		    resolved_at     = @closed_at
		WHERE id = @id AND status = 'active'
		RETURNING ` + alertColumns

	a, err := scanAlert(r.db.QueryRow(ctx, q, pgx.NamedArgs{
		"id":            id,
		"status":        string(c.Status),
		"responder_id":  c.ResponderID,
		"note":          c.Note,
		"resolution_ms": c.Duration.Milliseconds(),
		"closed_at":     c.ClosedAt,
	}))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.EmergencyAlert{}, fmt.Errorf("repo.AlertRepo.Close: %w", err)
	}
	if _, gerr := r.GetByID(ctx, id); gerr != nil {
		return domain.EmergencyAlert{}, fmt.Errorf("repo.AlertRepo.Close: %w", gerr)
	}
	return domain.EmergencyAlert{}, fmt.Errorf("repo.AlertRepo.Close: %w", domain.ErrAlertNotActive)
}

func (r *pgAlertRepo) AddNotified(ctx context.Context, id uuid.UUID, observers []string) (domain.EmergencyAlert, error) {
	q := `
		UPDATE emergency_alerts
		SET notified = notified || ARRAY(
			SELECT DISTINCT o FROM unnest(@observers::text[]) AS o
			WHERE NOT o = ANY (notified)
		)
		WHERE id = @id
		RETURNING ` + alertColumns

	a, err := scanAlert(r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id, "observers": observers}))
	if err != nil {
		return domain.EmergencyAlert{}, fmt.Errorf("repo.AlertRepo.AddNotified: %w", err)
	}
	return a, nil
}

func scanAlert(s scanner) (domain.EmergencyAlert, error) {
	var (
		a                          domain.EmergencyAlert
		id, initiator              pgtype.UUID
		tripID, vehicle, responder pgtype.UUID
		typ, severity, status      string
		resolutionMs               *int64
	)
	err := s.Scan(&id, &typ, &severity, &initiator, &tripID, &vehicle, &a.Location.Lat, &a.Location.Lng,
		&a.Description, &status, &responder, &a.ResolutionNote, &resolutionMs, &a.Notified,
		&a.CreatedAt, &a.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EmergencyAlert{}, domain.ErrNotFound
		}
		return domain.EmergencyAlert{}, err
	}

	a.ID = uuid.UUID(id.Bytes)
	a.InitiatorID = uuid.UUID(initiator.Bytes)
	a.TripID = optionalUUID(tripID)
	a.VehicleID = optionalUUID(vehicle)
	a.ResponderID = optionalUUID(responder)
	a.Type = domain.AlertType(typ)
	a.Severity = domain.Severity(severity)
	a.Status = domain.AlertStatus(status)
	if resolutionMs != nil {
		d := time.Duration(*resolutionMs) * time.Millisecond
		a.ResolutionDuration = &d
	}
	return a, nil
}

func optionalUUID(u pgtype.UUID) *uuid.UUID {
	if !u.Valid {
		return nil
	}
	id := uuid.UUID(u.Bytes)
	return &id
}
