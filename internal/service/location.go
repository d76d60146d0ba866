package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/pkordes/fleetcore/internal/domain"
	"github.com/pkordes/fleetcore/internal/metrics"
	"github.com/pkordes/fleetcore/internal/repo"
)

// LocationTracker accepts position reports from driver devices. It keeps
// the latest position per vehicle behind an atomic pointer so concurrent
// reports for one vehicle are ordered by compare-and-set instead of a lock.
// A report not newer than the stored one is a no-op. Only the publish step
// is serialized per vehicle, so observers never see a position older than
// one already sent.
type LocationTracker struct {
	positions repo.PositionRepo
	deps      Deps
	log       *slog.Logger

	slots sync.Map // uuid.UUID -> *positionSlot
}

type positionSlot struct {
	warm   sync.Once
	latest atomic.Pointer[domain.VehiclePosition]

	// publishMu orders location_update events. Held only around Publish.
	publishMu sync.Mutex
}

// NewLocationTracker constructs a LocationTracker. Locks are not used.
func NewLocationTracker(positions repo.PositionRepo, deps Deps) *LocationTracker {
	deps = deps.withDefaults()
	return &LocationTracker{positions: positions, deps: deps, log: deps.Logger}
}

// ReportPosition applies r if it is newer than the vehicle's stored position,
// writes it through to the position store and publishes location_update.
// accepted is false for stale reports, in which case the current position is
// returned and nothing changes.
func (t *LocationTracker) ReportPosition(ctx context.Context, r domain.PositionReport) (domain.VehiclePosition, bool, error) {
	if err := validateReport(r); err != nil {
		metrics.IncPositionReport("invalid")
		return domain.VehiclePosition{}, false, fmt.Errorf("service.LocationTracker.ReportPosition: %w", err)
	}

	slot := t.slot(ctx, r.VehicleID)
	next := &domain.VehiclePosition{
		VehicleID:  r.VehicleID,
		Lat:        r.Lat,
		Lng:        r.Lng,
		Speed:      r.Speed,
		ObservedAt: r.ObservedAt.UTC(),
		ReceivedAt: t.deps.Now().UTC(),
	}

	var prev *domain.VehiclePosition
	for {
		prev = slot.latest.Load()
		if prev != nil && !next.ObservedAt.After(prev.ObservedAt) {
			return t.stale(ctx, r, *prev), false, nil
		}
		if slot.latest.CompareAndSwap(prev, next) {
			break
		}
	}

	applied, err := t.positions.Upsert(ctx, *next)
	if err != nil {
		// Roll back unless a newer report has already replaced ours.
		slot.latest.CompareAndSwap(next, prev)
		return domain.VehiclePosition{}, false, fmt.Errorf("service.LocationTracker.ReportPosition: %w", err)
	}
	if !applied {
		// Another instance stored a newer position first.
		stored, err := t.positions.Get(ctx, r.VehicleID)
		if err != nil {
			return domain.VehiclePosition{}, false, fmt.Errorf("service.LocationTracker.ReportPosition: %w", err)
		}
		slot.latest.CompareAndSwap(next, &stored)
		return t.stale(ctx, r, stored), false, nil
	}

	metrics.IncPositionReport("accepted")
	t.publish(ctx, slot, next)
	return *next, true, nil
}

// publish sends location_update for pos unless a newer report has replaced it
// in the slot. That report publishes itself, and the check runs under the
// slot's publish lock, so the published sequence only moves forward in time.
func (t *LocationTracker) publish(ctx context.Context, slot *positionSlot, pos *domain.VehiclePosition) {
	slot.publishMu.Lock()
	defer slot.publishMu.Unlock()

	if slot.latest.Load() != pos {
		t.log.DebugContext(ctx, "superseded position not published",
			"vehicle_id", pos.VehicleID,
			"observed_at", pos.ObservedAt,
		)
		return
	}
	t.deps.Bus.Publish(ctx, domain.Event{
		Type:      domain.EventLocationUpdate,
		VehicleID: pos.VehicleID,
		Payload: domain.LocationPayload{
			VehicleID:  pos.VehicleID,
			Lat:        pos.Lat,
			Lng:        pos.Lng,
			Speed:      pos.Speed,
			Timestamp:  pos.ReceivedAt,
			ObservedAt: pos.ObservedAt,
		},
	})
}

// Current returns the vehicle's latest stored position.
// Returns domain.ErrNotFound if the vehicle has never reported.
func (t *LocationTracker) Current(ctx context.Context, vehicleID uuid.UUID) (domain.VehiclePosition, error) {
	pos, err := t.positions.Get(ctx, vehicleID)
	if err != nil {
		return domain.VehiclePosition{}, fmt.Errorf("service.LocationTracker.Current: %w", err)
	}
	return pos, nil
}

func (t *LocationTracker) stale(ctx context.Context, r domain.PositionReport, current domain.VehiclePosition) domain.VehiclePosition {
	metrics.IncPositionReport("stale")
	t.log.DebugContext(ctx, "stale position report ignored",
		"vehicle_id", r.VehicleID,
		"observed_at", r.ObservedAt,
		"current_observed_at", current.ObservedAt,
	)
	return current
}

// slot returns the vehicle's slot, loading the stored position on first use.
func (t *LocationTracker) slot(ctx context.Context, vehicleID uuid.UUID) *positionSlot {
	v, _ := t.slots.LoadOrStore(vehicleID, &positionSlot{})
	s := v.(*positionSlot)
	s.warm.Do(func() {
		pos, err := t.positions.Get(ctx, vehicleID)
		switch {
		case err == nil:
			s.latest.Store(&pos)
		case !errors.Is(err, domain.ErrNotFound):
			t.log.WarnContext(ctx, "position store unavailable, starting cold", "vehicle_id", vehicleID, "error", err)
		}
	})
	return s
}

func validateReport(r domain.PositionReport) error {
	switch {
	case r.VehicleID == uuid.Nil:
		return fmt.Errorf("%w: vehicleId is required", domain.ErrValidation)
	case !validCoordinates(r.Lat, r.Lng):
		return fmt.Errorf("%w: lat must be within [-90, 90] and lng within [-180, 180]", domain.ErrValidation)
	case math.IsNaN(r.Speed) || r.Speed < 0:
		return fmt.Errorf("%w: speed must not be negative", domain.ErrValidation)
	case r.ObservedAt.IsZero():
		return fmt.Errorf("%w: timestamp is required", domain.ErrValidation)
	}
	return nil
}
