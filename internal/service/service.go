// Package service contains the four managers that own every write to fleet
// entity state: TripService, BoardingLedger, AlertManager and LocationTracker.
// Services validate inputs, serialize conflicting calls per entity, call the
// repos and publish domain events. No SQL lives here.
package service

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/fleetcore/internal/bus"
	"github.com/pkordes/fleetcore/internal/domain"
	"github.com/pkordes/fleetcore/internal/keylock"
)

// Publisher is the part of *bus.Bus the services publish through.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event)
	DeliverCritical(ctx context.Context, ev domain.Event) (*bus.Delivery, error)
}

// Deps bundles the collaborators shared by every service.
type Deps struct {
	Bus   Publisher
	Locks *keylock.Map
	// Now is the server clock. Defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Locks == nil {
		d.Locks = keylock.New()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}

// Lock keys. Lock order is trip, then vehicle, then boarding.
func tripKey(id uuid.UUID) string    { return "trip:" + id.String() }
func vehicleKey(id uuid.UUID) string { return "vehicle:" + id.String() }
func alertKey(id uuid.UUID) string   { return "alert:" + id.String() }
func boardingKey(trip, student uuid.UUID) string {
	return "boarding:" + trip.String() + ":" + student.String()
}

func validCoordinates(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

func derefUUID(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}
