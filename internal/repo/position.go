package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pkordes/fleetcore/internal/domain"
)

// PositionRepo stores the latest position per vehicle. No history is kept.
type PositionRepo interface {
	// Upsert stores pos unless the stored position is at least as recent.
	// applied reports whether the row was written.
	Upsert(ctx context.Context, pos domain.VehiclePosition) (applied bool, err error)

	// Get returns the stored position or domain.ErrNotFound.
	Get(ctx context.Context, vehicleID uuid.UUID) (domain.VehiclePosition, error)
}

type pgPositionRepo struct {
	db db
}

// NewPositionRepo constructs a PositionRepo backed by the provided db connection.
func NewPositionRepo(db db) PositionRepo {
	return &pgPositionRepo{db: db}
}

func (r *pgPositionRepo) Upsert(ctx context.Context, pos domain.VehiclePosition) (bool, error) {
	const q = `
		INSERT INTO vehicle_positions (vehicle_id, lat, lng, speed, observed_at, received_at)
		VALUES (@vehicle_id, @lat, @lng, @speed, @observed_at, @received_at)
		ON CONFLICT (vehicle_id) DO UPDATE
		SET lat         = EXCLUDED.lat,
		    lng         = EXCLUDED.lng,
		    speed       = EXCLUDED.speed,
		    observed_at = EXCLUDED.observed_at,
		    received_at = EXCLUDED.received_at
		WHERE vehicle_positions.observed_at < EXCLUDED.observed_at`

	tag, err := r.db.Exec(ctx, q, pgx.NamedArgs{
		"vehicle_id":  pos.VehicleID,
		"lat":         pos.Lat,
		"lng":         pos.Lng,
		"speed":       pos.Speed,
		"observed_at": pos.ObservedAt,
		"received_at": pos.ReceivedAt,
	})
	if err != nil {
		return false, fmt.Errorf("repo.PositionRepo.Upsert: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgPositionRepo) Get(ctx context.Context, vehicleID uuid.UUID) (domain.VehiclePosition, error) {
	const q = `
		SELECT vehicle_id, lat, lng, speed, observed_at, received_at
		FROM vehicle_positions
		WHERE vehicle_id = @vehicle_id`

	var (
		pos domain.VehiclePosition
		id  pgtype.UUID
	)
	err := r.db.QueryRow(ctx, q, pgx.NamedArgs{"vehicle_id": vehicleID}).
		Scan(&id, &pos.Lat, &pos.Lng, &pos.Speed, &pos.ObservedAt, &pos.ReceivedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.VehiclePosition{}, fmt.Errorf("repo.PositionRepo.Get: %w", domain.ErrNotFound)
		}
		return domain.VehiclePosition{}, fmt.Errorf("repo.PositionRepo.Get: %w", err)
	}
	pos.VehicleID = uuid.UUID(id.Bytes)
	return pos, nil
}
