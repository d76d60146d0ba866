package domain

import (
	"time"

	"github.com/google/uuid"
)

// BoardingRecord is the single ledger entry for a student on a trip.
// Once Boarded is true the record never changes again.
type BoardingRecord struct {
	TripID    uuid.UUID
	StudentID uuid.UUID
	Boarded   bool
	BoardedAt *time.Time
	SeatLabel string
}
