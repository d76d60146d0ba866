package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/pkordes/fleetcore/internal/domain"
	"github.com/pkordes/fleetcore/internal/keylock"
	"github.com/pkordes/fleetcore/internal/metrics"
	"github.com/pkordes/fleetcore/internal/repo"
)

// BoardingLedger records students boarding in-progress trips.
//
// Boarding holds the trip lock shared, so any number of students can board
// one trip in parallel while a trip transition waits for them to finish.
// Each (trip, student) pair is serialized on its own key.
type BoardingLedger struct {
	trips     repo.TripRepo
	boardings repo.BoardingRepo
	deps      Deps
	locks     *keylock.Map
	log       *slog.Logger
}

// NewBoardingLedger constructs a BoardingLedger. deps.Locks must be the map
// shared with TripService.
func NewBoardingLedger(trips repo.TripRepo, boardings repo.BoardingRepo, deps Deps) *BoardingLedger {
	deps = deps.withDefaults()
	return &BoardingLedger{trips: trips, boardings: boardings, deps: deps, locks: deps.Locks, log: deps.Logger}
}

// Board marks studentID as boarded on tripID and publishes student_boarded.
// A repeat call for an already boarded student returns the stored record with
// created=false and publishes nothing.
// Returns domain.ErrTripNotActive unless the trip is in progress.
func (l *BoardingLedger) Board(ctx context.Context, tripID, studentID uuid.UUID, seatLabel string) (domain.BoardingRecord, bool, error) {
	if studentID == uuid.Nil {
		return domain.BoardingRecord{}, false,
			fmt.Errorf("service.BoardingLedger.Board: %w: studentId is required", domain.ErrValidation)
	}

	unlockTrip := l.locks.RLock(tripKey(tripID))
	defer unlockTrip()

	trip, err := l.trips.GetByID(ctx, tripID)
	if err != nil {
		return domain.BoardingRecord{}, false, fmt.Errorf("service.BoardingLedger.Board: %w", err)
	}
	if trip.Status != domain.TripInProgress {
		return domain.BoardingRecord{}, false,
			fmt.Errorf("service.BoardingLedger.Board: %w: trip is %s", domain.ErrTripNotActive, trip.Status)
	}

	unlockPair := l.locks.Lock(boardingKey(tripID, studentID))
	defer unlockPair()

	now := l.deps.Now().UTC()
	rec, created, err := l.boardings.Board(ctx, domain.BoardingRecord{
		TripID:    tripID,
		StudentID: studentID,
		BoardedAt: &now,
		SeatLabel: strings.TrimSpace(seatLabel),
	})
	if err != nil {
		return domain.BoardingRecord{}, false, fmt.Errorf("service.BoardingLedger.Board: %w", err)
	}

	if !created {
		metrics.IncBoarding("duplicate")
		l.log.DebugContext(ctx, "student already boarded", "trip_id", tripID, "student_id", studentID)
		return rec, false, nil
	}

	metrics.IncBoarding("boarded")
	l.deps.Bus.Publish(ctx, domain.Event{
		Type:      domain.EventStudentBoarded,
		VehicleID: trip.VehicleID,
		TripID:    tripID,
		Payload: domain.BoardedPayload{
			TripID:    tripID,
			StudentID: studentID,
			SeatLabel: rec.SeatLabel,
			Timestamp: now,
		},
	})
	return rec, true, nil
}

// Manifest returns the trip's boarding records ordered by boarding time, then
// student id. Always returns a non-nil slice.
// Returns domain.ErrNotFound if the trip does not exist.
func (l *BoardingLedger) Manifest(ctx context.Context, tripID uuid.UUID) ([]domain.BoardingRecord, error) {
	if _, err := l.trips.GetByID(ctx, tripID); err != nil {
		return nil, fmt.Errorf("service.BoardingLedger.Manifest: %w", err)
	}
	recs, err := l.boardings.ListByTrip(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("service.BoardingLedger.Manifest: %w", err)
	}
	if recs == nil {
		recs = []domain.BoardingRecord{}
	}
	return recs, nil
}
