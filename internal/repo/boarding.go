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

// BoardingRepo defines the persistence operations for BoardingRecords.
type BoardingRepo interface {
	// Board marks the student as boarded on the trip. If the student is
	// already boarded the stored record is returned unchanged and created
	// is false.
	Board(ctx context.Context, rec domain.BoardingRecord) (stored domain.BoardingRecord, created bool, err error)

	// Get returns the record for (tripID, studentID) or domain.ErrNotFound.
	Get(ctx context.Context, tripID, studentID uuid.UUID) (domain.BoardingRecord, error)

	// ListByTrip returns the trip's records ordered by boarding time, then student.
	ListByTrip(ctx context.Context, tripID uuid.UUID) ([]domain.BoardingRecord, error)

	// CountBoarded returns how many students are boarded on the trip.
	CountBoarded(ctx context.Context, tripID uuid.UUID) (int, error)
}

type pgBoardingRepo struct {
	db db
}

// NewBoardingRepo constructs a BoardingRepo backed by the provided db connection.
func NewBoardingRepo(db db) BoardingRepo {
	return &pgBoardingRepo{db: db}
}

const boardingColumns = `trip_id, student_id, boarded, boarded_at, seat_label`

func (r *pgBoardingRepo) Board(ctx context.Context, rec domain.BoardingRecord) (domain.BoardingRecord, bool, error) {
	// The WHERE on the conflict branch leaves an already-boarded row untouched,
	// in which case RETURNING yields no row.
	q := `
		INSERT INTO boarding_records (trip_id, student_id, boarded, boarded_at, seat_label)
		VALUES (@trip_id, @student_id, true, @boarded_at, @seat_label)
		ON CONFLICT (trip_id, student_id) DO UPDATE
		SET boarded    = true,
		    boarded_at = EXCLUDED.boarded_at,
		    seat_label = EXCLUDED.seat_label
		WHERE boarding_records.boarded = false
		RETURNING ` + boardingColumns

	stored, err := scanBoarding(r.db.QueryRow(ctx, q, pgx.NamedArgs{
		"trip_id":    rec.TripID,
		"student_id": rec.StudentID,
		"boarded_at": rec.BoardedAt,
		"seat_label": rec.SeatLabel,
	}))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.BoardingRecord{}, false, fmt.Errorf("repo.BoardingRepo.Board: %w", err)
	}

	existing, err := r.Get(ctx, rec.TripID, rec.StudentID)
	if err != nil {
		return domain.BoardingRecord{}, false, fmt.Errorf("repo.BoardingRepo.Board: %w", err)
	}
	return existing, false, nil
}

func (r *pgBoardingRepo) Get(ctx context.Context, tripID, studentID uuid.UUID) (domain.BoardingRecord, error) {
	q := `SELECT ` + boardingColumns + `
		FROM boarding_records
		WHERE trip_id = @trip_id AND student_id = @student_id`

	rec, err := scanBoarding(r.db.QueryRow(ctx, q, pgx.NamedArgs{"trip_id": tripID, "student_id": studentID}))
	if err != nil {
		return domain.BoardingRecord{}, fmt.Errorf("repo.BoardingRepo.Get: %w", err)
	}
	return rec, nil
}

func (r *pgBoardingRepo) ListByTrip(ctx context.Context, tripID uuid.UUID) ([]domain.BoardingRecord, error) {
	q := `SELECT ` + boardingColumns + `
		FROM boarding_records
		WHERE trip_id = @trip_id
		ORDER BY boarded_at NULLS LAST, student_id`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"trip_id": tripID})
	if err != nil {
		return nil, fmt.Errorf("repo.BoardingRepo.ListByTrip: %w", err)
	}
	defer rows.Close()

	var out []domain.BoardingRecord
	for rows.Next() {
		rec, err := scanBoarding(rows)
		if err != nil {
			return nil, fmt.Errorf("repo.BoardingRepo.ListByTrip: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.BoardingRepo.ListByTrip: rows: %w", err)
	}
	return out, nil
}

func (r *pgBoardingRepo) CountBoarded(ctx context.Context, tripID uuid.UUID) (int, error) {
	const q = `SELECT count(*) FROM boarding_records WHERE trip_id = @trip_id AND boarded`

	var n int
	if err := r.db.QueryRow(ctx, q, pgx.NamedArgs{"trip_id": tripID}).Scan(&n); err != nil {
		return 0, fmt.Errorf("repo.BoardingRepo.CountBoarded: %w", err)
	}
	return n, nil
}

func scanBoarding(s scanner) (domain.BoardingRecord, error) {
	var (
		rec             domain.BoardingRecord
		tripID, student pgtype.UUID
	)
	if err := s.Scan(&tripID, &student, &rec.Boarded, &rec.BoardedAt, &rec.SeatLabel); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BoardingRecord{}, domain.ErrNotFound
		}
		return domain.BoardingRecord{}, err
	}
	rec.TripID = uuid.UUID(tripID.Bytes)
	rec.StudentID = uuid.UUID(student.Bytes)
	return rec, nil
}
