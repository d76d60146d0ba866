package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/pkordes/fleetcore/internal/domain"
	"github.com/pkordes/fleetcore/internal/escalation"
	"github.com/pkordes/fleetcore/internal/keylock"
	"github.com/pkordes/fleetcore/internal/metrics"
	"github.com/pkordes/fleetcore/internal/repo"
)

// Escalator receives emergency events the bus could not deliver in time.
type Escalator interface {
	Escalate(ctx context.Context, n escalation.Notice) error
}

// TripLinker is the part of TripService the alert manager needs.
type TripLinker interface {
	VehicleOf(ctx context.Context, tripID uuid.UUID) (uuid.UUID, error)
	RecordIncident(ctx context.Context, tripID uuid.UUID, incident domain.Incident) error
}

// AlertManager runs the emergency alert lifecycle. Emergency events go through
// the bus's critical path: they are retried until every observer connected at
// publish time has them queued, and handed to the Escalator otherwise.
type AlertManager struct {
	alerts    repo.AlertRepo
	trips     TripLinker
	escalator Escalator
	deps      Deps
	locks     *keylock.Map
	log       *slog.Logger
}

// NewAlertManager constructs an AlertManager. trips may be nil, in which case
// alerts are not linked to trips. A nil escalator logs escalations.
func NewAlertManager(alerts repo.AlertRepo, trips TripLinker, esc Escalator, deps Deps) *AlertManager {
	deps = deps.withDefaults()
	if esc == nil {
		esc = escalation.NewLogEscalator(deps.Logger)
	}
	return &AlertManager{alerts: alerts, trips: trips, escalator: esc, deps: deps, locks: deps.Locks, log: deps.Logger}
}

// Raise persists a new active alert and delivers emergency_raised to every
// matching observer before returning. Observers that received it are recorded
// in the alert's notified set.
//
// If delivery does not complete within the bus's critical timeout the event is
// escalated. domain.ErrEscalationFailed is returned, together with the
// persisted alert, only when escalation fails as well.
func (m *AlertManager) Raise(ctx context.Context, in domain.NewAlert) (domain.EmergencyAlert, error) {
	in.Type = domain.AlertType(strings.ToLower(string(in.Type)))
	in.Severity = domain.Severity(strings.ToLower(string(in.Severity)))
	if in.Severity == "" {
		in.Severity = domain.SeverityHigh
	}
	if err := validateNewAlert(in); err != nil {
		return domain.EmergencyAlert{}, fmt.Errorf("service.AlertManager.Raise: %w", err)
	}

	// A raised alert is delivered even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	if in.TripID != nil && in.VehicleID == nil && m.trips != nil {
		if vehicle, err := m.trips.VehicleOf(ctx, *in.TripID); err == nil {
			in.VehicleID = &vehicle
		} else {
			m.log.WarnContext(ctx, "alert trip lookup failed", "trip_id", *in.TripID, "error", err)
		}
	}

	now := m.deps.Now().UTC()
	alert, err := m.alerts.Create(ctx, domain.EmergencyAlert{
		Type:        in.Type,
		Severity:    in.Severity,
		InitiatorID: in.InitiatorID,
		TripID:      in.TripID,
		VehicleID:   in.VehicleID,
		Location:    in.Location,
		Description: strings.TrimSpace(in.Description),
		CreatedAt:   now,
	})
	if err != nil {
		return domain.EmergencyAlert{}, fmt.Errorf("service.AlertManager.Raise: %w", err)
	}
	metrics.IncAlertRaised(string(alert.Type), string(alert.Severity))
	m.log.WarnContext(ctx, "emergency raised",
		"alert_id", alert.ID,
		"type", alert.Type,
		"severity", alert.Severity,
		"initiator_id", alert.InitiatorID,
	)

	if alert.TripID != nil && m.trips != nil {
		incident := domain.Incident{AlertID: alert.ID, Type: alert.Type, RecordedAt: now}
		if err := m.trips.RecordIncident(ctx, *alert.TripID, incident); err != nil {
			m.log.WarnContext(ctx, "incident not recorded", "alert_id", alert.ID, "trip_id", *alert.TripID, "error", err)
		}
	}

	ev := domain.Event{
		Type:      domain.EventEmergencyRaised,
		VehicleID: derefUUID(alert.VehicleID),
		TripID:    derefUUID(alert.TripID),
		Payload: domain.EmergencyRaisedPayload{
			AlertID:   alert.ID,
			Type:      alert.Type,
			Severity:  alert.Severity,
			Location:  alert.Location,
			Timestamp: now,
		},
	}
	delivery, deliverErr := m.deps.Bus.DeliverCritical(ctx, ev)

	var delivered []string
	if delivery != nil {
		delivered = delivery.Delivered()
	}
	if len(delivered) > 0 {
		updated, err := m.alerts.AddNotified(ctx, alert.ID, delivered)
		if err != nil {
			m.log.ErrorContext(ctx, "notified set not updated", "alert_id", alert.ID, "error", err)
		} else {
			alert = updated
		}
	}

	if deliverErr != nil {
		if err := m.escalate(ctx, alert, ev.Type, delivered, deliverErr); err != nil {
			return alert, fmt.Errorf("service.AlertManager.Raise: %w", err)
		}
	}
	return alert, nil
}

// Resolve moves an active alert to resolved and publishes emergency_resolved.
// Of several concurrent Resolve/Cancel calls exactly one succeeds; the others
// get domain.ErrAlertNotActive.
func (m *AlertManager) Resolve(ctx context.Context, id, responder uuid.UUID, note string) (domain.EmergencyAlert, error) {
	a, err := m.close(ctx, id, domain.AlertResolved, responder, note)
	if err != nil {
		return domain.EmergencyAlert{}, fmt.Errorf("service.AlertManager.Resolve: %w", err)
	}
	return a, nil
}

// Cancel moves an active alert to cancelled and publishes emergency_cancelled.
// It races with Resolve exactly like a second Resolve would.
func (m *AlertManager) Cancel(ctx context.Context, id, responder uuid.UUID, note string) (domain.EmergencyAlert, error) {
	a, err := m.close(ctx, id, domain.AlertCancelled, responder, note)
	if err != nil {
		return domain.EmergencyAlert{}, fmt.Errorf("service.AlertManager.Cancel: %w", err)
	}
	return a, nil
}

func (m *AlertManager) close(ctx context.Context, id uuid.UUID, status domain.AlertStatus, responder uuid.UUID, note string) (domain.EmergencyAlert, error) {
	if responder == uuid.Nil {
		return domain.EmergencyAlert{}, fmt.Errorf("%w: responderId is required", domain.ErrValidation)
	}

	closed, err := m.closeLocked(ctx, id, status, responder, note)
	if err != nil {
		return domain.EmergencyAlert{}, err
	}

	ctx = context.WithoutCancel(ctx)
	evType := domain.EventEmergencyResolved
	if status == domain.AlertCancelled {
		evType = domain.EventEmergencyCancelled
	}
	ev := domain.Event{
		Type:      evType,
		VehicleID: derefUUID(closed.VehicleID),
		TripID:    derefUUID(closed.TripID),
		Payload: domain.EmergencyClosedPayload{
			AlertID:    closed.ID,
			Status:     closed.Status,
			ResolvedBy: responder,
			DurationMs: closed.ResolutionDuration.Milliseconds(),
			Timestamp:  *closed.ResolvedAt,
		},
	}
	if delivery, err := m.deps.Bus.DeliverCritical(ctx, ev); err != nil {
		// The closure is already committed; escalation failure is logged, not returned.
		var delivered []string
		if delivery != nil {
			delivered = delivery.Delivered()
		}
		if eerr := m.escalate(ctx, closed, evType, delivered, err); eerr != nil {
			m.log.ErrorContext(ctx, "closure event lost", "alert_id", closed.ID, "error", eerr)
		}
	}
	return closed, nil
}

// closeLocked performs the status check and write under the alert's lock.
// The repo write is conditional as well, for other instances.
func (m *AlertManager) closeLocked(ctx context.Context, id uuid.UUID, status domain.AlertStatus, responder uuid.UUID, note string) (domain.EmergencyAlert, error) {
	unlock := m.locks.Lock(alertKey(id))
	defer unlock()

	current, err := m.alerts.GetByID(ctx, id)
	if err != nil {
		return domain.EmergencyAlert{}, err
	}
	if current.Status != domain.AlertActive {
		return domain.EmergencyAlert{}, fmt.Errorf("%w: alert is %s", domain.ErrAlertNotActive, current.Status)
	}

	now := m.deps.Now().UTC()
	closed, err := m.alerts.Close(ctx, id, domain.AlertClosure{
		Status:      status,
		ResponderID: responder,
		Note:        strings.TrimSpace(note),
		ClosedAt:    now,
		Duration:    max(now.Sub(current.CreatedAt), 0),
	})
	if err != nil {
		return domain.EmergencyAlert{}, err
	}
	m.log.InfoContext(ctx, "emergency closed",
		"alert_id", id,
		"status", status,
		"responder_id", responder,
		"duration_ms", closed.ResolutionDuration.Milliseconds(),
	)
	return closed, nil
}

// Notify unions observerIDs into the alert's notified set. Allowed in any
// alert status; duplicates and blank ids are ignored.
func (m *AlertManager) Notify(ctx context.Context, id uuid.UUID, observerIDs []string) (domain.EmergencyAlert, error) {
	cleaned := make([]string, 0, len(observerIDs))
	for _, o := range observerIDs {
		if o = strings.TrimSpace(o); o != "" {
			cleaned = append(cleaned, o)
		}
	}

	if len(cleaned) == 0 {
		a, err := m.alerts.GetByID(ctx, id)
		if err != nil {
			return domain.EmergencyAlert{}, fmt.Errorf("service.AlertManager.Notify: %w", err)
		}
		return a, nil
	}

	a, err := m.alerts.AddNotified(ctx, id, cleaned)
	if err != nil {
		return domain.EmergencyAlert{}, fmt.Errorf("service.AlertManager.Notify: %w", err)
	}
	return a, nil
}

// Get returns a single alert.
func (m *AlertManager) Get(ctx context.Context, id uuid.UUID) (domain.EmergencyAlert, error) {
	a, err := m.alerts.GetByID(ctx, id)
	if err != nil {
		return domain.EmergencyAlert{}, fmt.Errorf("service.AlertManager.Get: %w", err)
	}
	return a, nil
}

// List returns one page of alerts, newest first, optionally filtered by status.
func (m *AlertManager) List(ctx context.Context, status *domain.AlertStatus, p domain.PaginationParams) ([]domain.EmergencyAlert, int64, error) {
	if status != nil && !status.Valid() {
		return nil, 0, fmt.Errorf("service.AlertManager.List: %w: unknown status %q", domain.ErrValidation, *status)
	}
	alerts, total, err := m.alerts.List(ctx, status, p)
	if err != nil {
		return nil, 0, fmt.Errorf("service.AlertManager.List: %w", err)
	}
	if alerts == nil {
		alerts = []domain.EmergencyAlert{}
	}
	return alerts, total, nil
}

func (m *AlertManager) escalate(ctx context.Context, a domain.EmergencyAlert, ev domain.EventType, delivered []string, cause error) error {
	m.log.ErrorContext(ctx, "emergency event not delivered to every observer, escalating",
		"alert_id", a.ID,
		"event", ev,
		"delivered", len(delivered),
		"error", cause,
	)
	notice := escalation.NoticeFor(a, ev, delivered, cause, m.deps.Now().UTC())
	if err := m.escalator.Escalate(ctx, notice); err != nil {
		metrics.IncEscalation("failed")
		return fmt.Errorf("%w: %w", domain.ErrEscalationFailed, errors.Join(cause, err))
	}
	metrics.IncEscalation("ok")
	return nil
}

func validateNewAlert(in domain.NewAlert) error {
	var problems []string
	if !in.Type.Valid() {
		problems = append(problems, fmt.Sprintf("type %q must be one of sos, accident, breakdown, medical", in.Type))
	}
	if !in.Severity.Valid() {
		problems = append(problems, fmt.Sprintf("severity %q must be one of low, medium, high, critical", in.Severity))
	}
	if in.InitiatorID == uuid.Nil {
		problems = append(problems, "initiatorId is required")
	}
	if !validCoordinates(in.Location.Lat, in.Location.Lng) {
		problems = append(problems, "location is out of range")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}
