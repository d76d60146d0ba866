// Package handler implements the HTTP and websocket surface of the fleet API.
// All handlers are methods on Server; they are split into per-resource files
// (trip.go, boarding.go, alert.go, etc.) and share the same Server struct so
// they can access its dependencies.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pkordes/fleetcore/internal/bus"
	"github.com/pkordes/fleetcore/internal/domain"
)

// TripServicer defines the trip operations the handlers depend on.
// Defining the interface here (in the consumer package) lets handler tests
// inject a mock without touching the database or service layer.
type TripServicer interface {
	Create(ctx context.Context, in domain.NewTrip) (domain.Trip, error)
	Get(ctx context.Context, id uuid.UUID) (domain.Trip, error)
	List(ctx context.Context, p domain.PaginationParams) ([]domain.Trip, int64, error)
	Start(ctx context.Context, id uuid.UUID) (domain.Trip, error)
	End(ctx context.Context, id uuid.UUID) (domain.Trip, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (domain.Trip, error)
	RecordStopVisit(ctx context.Context, id uuid.UUID, visit domain.StopVisit) (domain.Trip, error)
}

// BoardingServicer defines the boarding ledger operations.
type BoardingServicer interface {
	Board(ctx context.Context, tripID, studentID uuid.UUID, seatLabel string) (domain.BoardingRecord, bool, error)
	Manifest(ctx context.Context, tripID uuid.UUID) ([]domain.BoardingRecord, error)
}

// LocationServicer defines the vehicle location operations.
type LocationServicer interface {
	ReportPosition(ctx context.Context, r domain.PositionReport) (domain.VehiclePosition, bool, error)
	Current(ctx context.Context, vehicleID uuid.UUID) (domain.VehiclePosition, error)
}

// AlertServicer defines the emergency alert operations.
type AlertServicer interface {
	Raise(ctx context.Context, in domain.NewAlert) (domain.EmergencyAlert, error)
	Resolve(ctx context.Context, id, responder uuid.UUID, note string) (domain.EmergencyAlert, error)
	Cancel(ctx context.Context, id, responder uuid.UUID, note string) (domain.EmergencyAlert, error)
	Notify(ctx context.Context, id uuid.UUID, observerIDs []string) (domain.EmergencyAlert, error)
	Get(ctx context.Context, id uuid.UUID) (domain.EmergencyAlert, error)
	List(ctx context.Context, status *domain.AlertStatus, p domain.PaginationParams) ([]domain.EmergencyAlert, int64, error)
}

// Subscriber registers websocket observers. *bus.Registry satisfies it.
type Subscriber interface {
	Subscribe(f bus.Filter) (*bus.Subscription, error)
}

// Services groups the dependencies of a Server. A nil field disables the
// routes that need it.
type Services struct {
	Trips     TripServicer
	Boardings BoardingServicer
	Locations LocationServicer
	Alerts    AlertServicer
	Observers Subscriber
}

// Server holds the dependencies shared by all handlers.
type Server struct {
	Services
	log            *slog.Logger
	allowedOrigins []string
}

// NewServer constructs the Server. allowedOrigins is checked against the
// Origin header of websocket upgrades; an empty list allows any origin.
func NewServer(svc Services, allowedOrigins []string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{Services: svc, log: logger, allowedOrigins: allowedOrigins}
}

// NewHealthHandler returns a Server for health-check-only use.
func NewHealthHandler() *Server {
	return NewServer(Services{}, nil, nil)
}

// Routes mounts every endpoint on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/healthz", s.GetHealth)

	if s.Trips != nil {
		r.Route("/trips", func(r chi.Router) {
			r.Post("/", s.CreateTrip)
			r.Get("/", s.ListTrips)
			r.Route("/{tripId}", func(r chi.Router) {
				r.Get("/", s.GetTrip)
				r.Put("/start", s.StartTrip)
				r.Put("/end", s.EndTrip)
				r.Put("/cancel", s.CancelTrip)
				r.Post("/stops", s.RecordStopVisit)
				if s.Boardings != nil {
					r.Post("/boardings", s.BoardStudent)
					r.Get("/manifest", s.GetManifest)
				}
			})
		})
	}

	if s.Locations != nil {
		r.Put("/vehicles/{vehicleId}/location", s.ReportPosition)
		r.Get("/vehicles/{vehicleId}/location", s.GetPosition)
	}

	if s.Alerts != nil {
		r.Route("/alerts", func(r chi.Router) {
			r.Post("/", s.RaiseAlert)
			r.Get("/", s.ListAlerts)
			r.Route("/{alertId}", func(r chi.Router) {
				r.Get("/", s.GetAlert)
				r.Put("/resolve", s.ResolveAlert)
				r.Put("/cancel", s.CancelAlert)
				r.Post("/notify", s.NotifyAlert)
			})
		})
	}

	if s.Observers != nil {
		r.Get("/ws", s.ServeObserver)
	}
}

// Handler returns a router with every endpoint mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	s.Routes(r)
	return r
}
