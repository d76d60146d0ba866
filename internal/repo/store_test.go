package repo_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/fleetcore/internal/domain"
	"github.com/pkordes/fleetcore/internal/repo"
	"github.com/pkordes/fleetcore/testutil"
)

type stores struct {
	trips     repo.TripRepo
	boardings repo.BoardingRepo
	alerts    repo.AlertRepo
	positions repo.PositionRepo
}

// eachStore runs fn against the in-memory stores and, when TEST_DATABASE_URL
// is set, against Postgres inside a transaction rolled back after the test.
// Both implementations must behave identically.
func eachStore(t *testing.T, fn func(t *testing.T, s stores)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		fn(t, stores{
			trips:     repo.NewMemoryTripRepo(),
			boardings: repo.NewMemoryBoardingRepo(),
			alerts:    repo.NewMemoryAlertRepo(),
			positions: repo.NewMemoryPositionRepo(),
		})
	})

	t.Run("postgres", func(t *testing.T) {
		tx := testutil.NewTx(t)
		fn(t, stores{
			trips:     repo.NewTripRepo(tx),
			boardings: repo.NewBoardingRepo(tx),
			alerts:    repo.NewAlertRepo(tx),
			positions: repo.NewPositionRepo(tx),
		})
	})
}

// baseTime is whole-second so values survive Postgres' microsecond precision.
var baseTime = time.Date(2026, 9, 1, 7, 30, 0, 0, time.UTC)

func tripFixture() domain.Trip {
	return domain.Trip{
		VehicleID:      uuid.New(),
		DriverID:       uuid.New(),
		RouteID:        uuid.New(),
		Kind:           domain.TripMorning,
		ScheduledStart: baseTime,
	}
}

func mustCreateTrip(t *testing.T, r repo.TripRepo, trip domain.Trip) domain.Trip {
	t.Helper()
	created, err := r.Create(context.Background(), trip)
	require.NoError(t, err)
	return created
}

func timePtr(ts time.Time) *time.Time { return &ts }
