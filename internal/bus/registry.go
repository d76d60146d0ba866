package bus

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/pkordes/fleetcore/internal/domain"
	"github.com/pkordes/fleetcore/internal/metrics"
)

// Role is the kind of observer behind a subscription. It decides which event
// types the observer may receive and whether a vehicle/trip scope is required.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleDriver  Role = "driver"
	RoleParent  Role = "parent"
	RoleStudent Role = "student"
)

// roleTypes lists the event types each role is allowed to receive.
var roleTypes = map[Role][]domain.EventType{
	RoleAdmin: domain.AllEventTypes,
	RoleDriver: {
		domain.EventTripStarted, domain.EventTripEnded, domain.EventTripCancelled,
		domain.EventEmergencyRaised, domain.EventEmergencyResolved, domain.EventEmergencyCancelled,
	},
	RoleParent: {
		domain.EventLocationUpdate, domain.EventStudentBoarded,
		domain.EventTripStarted, domain.EventTripEnded, domain.EventTripCancelled,
		domain.EventEmergencyRaised, domain.EventEmergencyResolved, domain.EventEmergencyCancelled,
	},
	RoleStudent: {
		domain.EventLocationUpdate,
		domain.EventTripStarted, domain.EventTripEnded, domain.EventTripCancelled,
		domain.EventEmergencyRaised, domain.EventEmergencyResolved, domain.EventEmergencyCancelled,
	},
}

// Filter selects the events delivered to one subscription.
//
// Types narrows the role's allowed types (empty means all of them). Admins may
// subscribe unscoped; every other role must name at least one vehicle or trip,
// and then only receives events routed to one of them.
type Filter struct {
	ObserverID string
	Role       Role
	Types      []domain.EventType
	VehicleIDs []uuid.UUID
	TripIDs    []uuid.UUID
}

// Validate checks the filter against the role rules.
func (f Filter) Validate() error {
	allowed, ok := roleTypes[f.Role]
	if !ok {
		return fmt.Errorf("%w: unknown role %q", domain.ErrValidation, f.Role)
	}
	for _, t := range f.Types {
		if !containsType(allowed, t) {
			return fmt.Errorf("%w: role %s cannot subscribe to %q", domain.ErrValidation, f.Role, t)
		}
	}
	if f.Role != RoleAdmin && len(f.VehicleIDs) == 0 && len(f.TripIDs) == 0 {
		return fmt.Errorf("%w: role %s requires a vehicle or trip scope", domain.ErrValidation, f.Role)
	}
	return nil
}

func containsType(list []domain.EventType, t domain.EventType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

// Registry tracks connected observers and their filters. It is safe for
// concurrent use; Subscribe and Close never block publishers for longer than
// a map update.
type Registry struct {
	mu        sync.RWMutex
	subs      map[uint64]*Subscription
	nextID    atomic.Uint64
	queueSize int
	log       *slog.Logger
}

// NewRegistry constructs a Registry whose subscriptions each buffer up to
// queueSize events. A nil logger falls back to slog.Default().
func NewRegistry(queueSize int, logger *slog.Logger) *Registry {
	if queueSize < 1 {
		queueSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		subs:      make(map[uint64]*Subscription),
		queueSize: queueSize,
		log:       logger,
	}
}

// Subscribe registers a new observer. The returned Subscription must be
// closed by the caller when the observer disconnects.
func (r *Registry) Subscribe(f Filter) (*Subscription, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("bus.Registry.Subscribe: %w", err)
	}

	id := r.nextID.Add(1)
	observer := f.ObserverID
	if observer == "" {
		observer = "sub-" + strconv.FormatUint(id, 10)
	}

	types := f.Types
	if len(types) == 0 {
		types = roleTypes[f.Role]
	}
	sub := &Subscription{
		id:       id,
		observer: observer,
		role:     f.Role,
		types:    make(map[domain.EventType]struct{}, len(types)),
		vehicles: make(map[uuid.UUID]struct{}, len(f.VehicleIDs)),
		trips:    make(map[uuid.UUID]struct{}, len(f.TripIDs)),
		ch:       make(chan domain.Event, r.queueSize),
		done:     make(chan struct{}),
		registry: r,
	}
	for _, t := range types {
		sub.types[t] = struct{}{}
	}
	for _, v := range f.VehicleIDs {
		sub.vehicles[v] = struct{}{}
	}
	for _, t := range f.TripIDs {
		sub.trips[t] = struct{}{}
	}

	r.mu.Lock()
	r.subs[id] = sub
	r.mu.Unlock()
	metrics.ActiveSubscriptions.Inc()

	r.log.Debug("observer subscribed", "observer", observer, "role", f.Role, "subscription", id)
	return sub, nil
}

// Len returns the number of open subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// matching returns a snapshot of the subscriptions that should receive ev.
func (r *Registry) matching(ev domain.Event) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		if s.matches(ev) {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) remove(id uint64) {
	r.mu.Lock()
	_, ok := r.subs[id]
	delete(r.subs, id)
	r.mu.Unlock()
	if ok {
		metrics.ActiveSubscriptions.Dec()
	}
}

// Subscription is one observer's bounded delivery queue.
type Subscription struct {
	id       uint64
	observer string
	role     Role
	types    map[domain.EventType]struct{}
	vehicles map[uuid.UUID]struct{}
	trips    map[uuid.UUID]struct{}

	// mu orders sends against Close so nothing is sent on a closed channel.
	mu      sync.Mutex
	closed  bool
	ch      chan domain.Event
	done    chan struct{}
	dropped atomic.Uint64

	registry *Registry
}

// ObserverID returns the observer reference recorded in alert notified-sets.
func (s *Subscription) ObserverID() string { return s.observer }

// Role returns the subscriber's role.
func (s *Subscription) Role() Role { return s.role }

// C returns the channel events are delivered on. It is closed by Close.
func (s *Subscription) C() <-chan domain.Event { return s.ch }

// Done is closed when the subscription is closed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Dropped returns how many ordinary events were dropped because the queue was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close unregisters the subscription and closes its channel. Safe to call
// more than once and concurrently with publishers.
func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	close(s.done)
	s.mu.Unlock()

	s.registry.remove(s.id)
	return nil
}

func (s *Subscription) matches(ev domain.Event) bool {
	if _, ok := s.types[ev.Type]; !ok {
		return false
	}
	if len(s.vehicles) == 0 && len(s.trips) == 0 {
		return s.role == RoleAdmin
	}
	if _, ok := s.vehicles[ev.VehicleID]; ok && ev.VehicleID != uuid.Nil {
		return true
	}
	if _, ok := s.trips[ev.TripID]; ok && ev.TripID != uuid.Nil {
		return true
	}
	return false
}

// sendResult is the outcome of one non-blocking enqueue.
type sendResult int

const (
	sendOK sendResult = iota
	sendFull
	sendClosed
)

func (s *Subscription) trySend(ev domain.Event) sendResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sendClosed
	}
	select {
	case s.ch <- ev:
		return sendOK
	default:
		return sendFull
	}
}
