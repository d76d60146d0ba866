package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/fleetcore/internal/bus"
	"github.com/pkordes/fleetcore/internal/domain"
	"github.com/pkordes/fleetcore/internal/escalation"
	"github.com/pkordes/fleetcore/internal/keylock"
	"github.com/pkordes/fleetcore/internal/repo"
	"github.com/pkordes/fleetcore/internal/service"
)

// fakeClock is a settable server clock shared by every service in a fixture.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingEscalator is a hand-written Escalator that remembers its notices.
type recordingEscalator struct {
	mu      sync.Mutex
	notices []escalation.Notice
	err     error
}

func (e *recordingEscalator) Escalate(_ context.Context, n escalation.Notice) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notices = append(e.notices, n)
	return e.err
}

func (e *recordingEscalator) Notices() []escalation.Notice {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]escalation.Notice(nil), e.notices...)
}

type fixture struct {
	bus       *bus.Bus
	clock     *fakeClock
	escalator *recordingEscalator

	tripRepo     repo.TripRepo
	positionRepo repo.PositionRepo

	trips   *service.TripService
	ledger  *service.BoardingLedger
	alerts  *service.AlertManager
	tracker *service.LocationTracker
}

type fixtureOpt func(*fixtureConfig)

type fixtureConfig struct {
	queueSize int
	busOpts   bus.Options
}

func withQueueSize(n int) fixtureOpt { return func(c *fixtureConfig) { c.queueSize = n } }

func withCriticalTimeout(d time.Duration) fixtureOpt {
	return func(c *fixtureConfig) { c.busOpts.CriticalTimeout = d }
}

func newFixture(t *testing.T, opts ...fixtureOpt) *fixture {
	t.Helper()

	cfg := fixtureConfig{
		queueSize: 64,
		busOpts:   bus.Options{CriticalTimeout: 2 * time.Second, RetryBase: time.Millisecond, RetryCap: 10 * time.Millisecond},
	}
	for _, o := range opts {
		o(&cfg)
	}

	f := &fixture{
		bus:          bus.New(bus.NewRegistry(cfg.queueSize, nil), cfg.busOpts, nil),
		clock:        &fakeClock{now: time.Date(2026, 9, 1, 7, 0, 0, 0, time.UTC)},
		escalator:    &recordingEscalator{},
		tripRepo:     repo.NewMemoryTripRepo(),
		positionRepo: repo.NewMemoryPositionRepo(),
	}
	boardings := repo.NewMemoryBoardingRepo()
	deps := service.Deps{Bus: f.bus, Locks: keylock.New(), Now: f.clock.Now}

	f.trips = service.NewTripService(f.tripRepo, boardings, deps)
	f.ledger = service.NewBoardingLedger(f.tripRepo, boardings, deps)
	f.alerts = service.NewAlertManager(repo.NewMemoryAlertRepo(), f.trips, f.escalator, deps)
	f.tracker = service.NewLocationTracker(f.positionRepo, deps)
	return f
}

func (f *fixture) subscribe(t *testing.T, flt bus.Filter) *bus.Subscription {
	t.Helper()
	sub, err := f.bus.Registry().Subscribe(flt)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })
	return sub
}

func (f *fixture) admin(t *testing.T) *bus.Subscription {
	t.Helper()
	return f.subscribe(t, bus.Filter{ObserverID: "admin-" + uuid.NewString()[:8], Role: bus.RoleAdmin})
}

func newTripInput(vehicle uuid.UUID) domain.NewTrip {
	return domain.NewTrip{
		VehicleID:      vehicle,
		DriverID:       uuid.New(),
		RouteID:        uuid.New(),
		Kind:           domain.TripMorning,
		ScheduledStart: time.Date(2026, 9, 1, 7, 30, 0, 0, time.UTC),
	}
}

func (f *fixture) createTrip(t *testing.T, in domain.NewTrip) domain.Trip {
	t.Helper()
	trip, err := f.trips.Create(context.Background(), in)
	require.NoError(t, err)
	return trip
}

func (f *fixture) startedTrip(t *testing.T) domain.Trip {
	t.Helper()
	trip := f.createTrip(t, newTripInput(uuid.New()))
	started, err := f.trips.Start(context.Background(), trip.ID)
	require.NoError(t, err)
	return started
}

// drain reads everything currently queued on sub without blocking.
func drain(sub *bus.Subscription) []domain.Event {
	var out []domain.Event
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventTypes(evs []domain.Event) []domain.EventType {
	out := make([]domain.EventType, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}
