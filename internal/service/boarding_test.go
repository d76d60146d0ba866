package service_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/fleetcore/internal/bus"
	"github.com/pkordes/fleetcore/internal/domain"
)

func TestBoardingLedger_Board_RequiresActiveTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.createTrip(t, newTripInput(uuid.New()))
	_, _, err := f.ledger.Board(ctx, pending.ID, uuid.New(), "A-01")
	assert.ErrorIs(t, err, domain.ErrTripNotActive)

	_, _, err = f.ledger.Board(ctx, uuid.New(), uuid.New(), "A-01")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	running := f.startedTrip(t)
	_, _, err = f.ledger.Board(ctx, running.ID, uuid.Nil, "A-01")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

// Boarding the same student twice succeeds both times with the same record,
// and the manifest shows one entry.
func TestBoardingLedger_Board_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	trip := f.startedTrip(t)
	parent := f.subscribe(t, bus.Filter{ObserverID: "parent-1", Role: bus.RoleParent, TripIDs: []uuid.UUID{trip.ID}})
	student := uuid.New()

	first, created, err := f.ledger.Board(ctx, trip.ID, student, "A-01")
	require.NoError(t, err)
	assert.True(t, created)

	f.clock.Advance(time.Minute)
	second, created, err := f.ledger.Board(ctx, trip.ID, student, "A-01")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, second)

	manifest, err := f.ledger.Manifest(ctx, trip.ID)
	require.NoError(t, err)
	require.Len(t, manifest, 1)
	assert.Equal(t, student, manifest[0].StudentID)
	assert.True(t, manifest[0].Boarded)
	assert.Equal(t, "A-01", manifest[0].SeatLabel)

	evs := drain(parent)
	require.Len(t, evs, 1, "only the first boarding publishes")
	p := evs[0].Payload.(domain.BoardedPayload)
	assert.Equal(t, student, p.StudentID)
	assert.Equal(t, "A-01", p.SeatLabel)
}

func TestBoardingLedger_Board_ConcurrentSamePair(t *testing.T) {
	f := newFixture(t)
	trip := f.startedTrip(t)
	student := uuid.New()

	var (
		wg      sync.WaitGroup
		created atomic.Int32
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, c, err := f.ledger.Board(context.Background(), trip.ID, student, "B-02")
			assert.NoError(t, err)
			if c {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	manifest, err := f.ledger.Manifest(context.Background(), trip.ID)
	require.NoError(t, err)
	assert.Len(t, manifest, 1)
}

func TestBoardingLedger_Board_ManyStudentsInParallel(t *testing.T) {
	f := newFixture(t)
	trip := f.startedTrip(t)

	var wg sync.WaitGroup
	for range 25 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.ledger.Board(context.Background(), trip.ID, uuid.New(), "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	manifest, err := f.ledger.Manifest(context.Background(), trip.ID)
	require.NoError(t, err)
	assert.Len(t, manifest, 25)
}

func TestBoardingLedger_Board_AfterEndIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	trip := f.startedTrip(t)
	_, err := f.trips.End(ctx, trip.ID)
	require.NoError(t, err)

	_, _, err = f.ledger.Board(ctx, trip.ID, uuid.New(), "")

	assert.ErrorIs(t, err, domain.ErrTripNotActive)
}

func TestBoardingLedger_Manifest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	trip := f.startedTrip(t)

	first, second := uuid.New(), uuid.New()
	_, _, err := f.ledger.Board(ctx, trip.ID, first, "")
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, _, err = f.ledger.Board(ctx, trip.ID, second, "")
	require.NoError(t, err)

	manifest, err := f.ledger.Manifest(ctx, trip.ID)
	require.NoError(t, err)
	require.Len(t, manifest, 2)
	assert.Equal(t, first, manifest[0].StudentID, "ordered by boarding time")
	assert.Equal(t, second, manifest[1].StudentID)

	empty := f.createTrip(t, newTripInput(uuid.New()))
	recs, err := f.ledger.Manifest(ctx, empty.ID)
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)

	_, err = f.ledger.Manifest(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
