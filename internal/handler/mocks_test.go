package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/fleetcore/internal/domain"
	"github.com/pkordes/fleetcore/internal/handler"
)

// mockTripServicer is a test double for handler.TripServicer.
// Set only the method fields your test needs.
type mockTripServicer struct {
	create          func(ctx context.Context, in domain.NewTrip) (domain.Trip, error)
	get             func(ctx context.Context, id uuid.UUID) (domain.Trip, error)
	list            func(ctx context.Context, p domain.PaginationParams) ([]domain.Trip, int64, error)
	start           func(ctx context.Context, id uuid.UUID) (domain.Trip, error)
	end             func(ctx context.Context, id uuid.UUID) (domain.Trip, error)
	cancel          func(ctx context.Context, id uuid.UUID, reason string) (domain.Trip, error)
	recordStopVisit func(ctx context.Context, id uuid.UUID, v domain.StopVisit) (domain.Trip, error)
}

func (m *mockTripServicer) Create(ctx context.Context, in domain.NewTrip) (domain.Trip, error) {
	return m.create(ctx, in)
}
func (m *mockTripServicer) Get(ctx context.Context, id uuid.UUID) (domain.Trip, error) {
	return m.get(ctx, id)
}
func (m *mockTripServicer) List(ctx context.Context, p domain.PaginationParams) ([]domain.Trip, int64, error) {
	return m.list(ctx, p)
}
func (m *mockTripServicer) Start(ctx context.Context, id uuid.UUID) (domain.Trip, error) {
	return m.start(ctx, id)
}
func (m *mockTripServicer) End(ctx context.Context, id uuid.UUID) (domain.Trip, error) {
	return m.end(ctx, id)
}
func (m *mockTripServicer) Cancel(ctx context.Context, id uuid.UUID, reason string) (domain.Trip, error) {
	return m.cancel(ctx, id, reason)
}
func (m *mockTripServicer) RecordStopVisit(ctx context.Context, id uuid.UUID, v domain.StopVisit) (domain.Trip, error) {
	return m.recordStopVisit(ctx, id, v)
}

// mockBoardingServicer is a test double for handler.BoardingServicer.
type mockBoardingServicer struct {
	board    func(ctx context.Context, tripID, studentID uuid.UUID, seat string) (domain.BoardingRecord, bool, error)
	manifest func(ctx context.Context, tripID uuid.UUID) ([]domain.BoardingRecord, error)
}

func (m *mockBoardingServicer) Board(ctx context.Context, tripID, studentID uuid.UUID, seat string) (domain.BoardingRecord, bool, error) {
	return m.board(ctx, tripID, studentID, seat)
}
func (m *mockBoardingServicer) Manifest(ctx context.Context, tripID uuid.UUID) ([]domain.BoardingRecord, error) {
	return m.manifest(ctx, tripID)
}

// mockLocationServicer is a test double for handler.LocationServicer.
type mockLocationServicer struct {
	report  func(ctx context.Context, r domain.PositionReport) (domain.VehiclePosition, bool, error)
	current func(ctx context.Context, vehicleID uuid.UUID) (domain.VehiclePosition, error)
}

func (m *mockLocationServicer) ReportPosition(ctx context.Context, r domain.PositionReport) (domain.VehiclePosition, bool, error) {
	return m.report(ctx, r)
}
func (m *mockLocationServicer) Current(ctx context.Context, vehicleID uuid.UUID) (domain.VehiclePosition, error) {
	return m.current(ctx, vehicleID)
}

// mockAlertServicer is a test double for handler.AlertServicer.
type mockAlertServicer struct {
	raise   func(ctx context.Context, in domain.NewAlert) (domain.EmergencyAlert, error)
	resolve func(ctx context.Context, id, responder uuid.UUID, note string) (domain.EmergencyAlert, error)
	cancel  func(ctx context.Context, id, responder uuid.UUID, note string) (domain.EmergencyAlert, error)
	notify  func(ctx context.Context, id uuid.UUID, observers []string) (domain.EmergencyAlert, error)
	get     func(ctx context.Context, id uuid.UUID) (domain.EmergencyAlert, error)
	list    func(ctx context.Context, status *domain.AlertStatus, p domain.PaginationParams) ([]domain.EmergencyAlert, int64, error)
}

func (m *mockAlertServicer) Raise(ctx context.Context, in domain.NewAlert) (domain.EmergencyAlert, error) {
	return m.raise(ctx, in)
}
func (m *mockAlertServicer) Resolve(ctx context.Context, id, responder uuid.UUID, note string) (domain.EmergencyAlert, error) {
	return m.resolve(ctx, id, responder, note)
}
func (m *mockAlertServicer) Cancel(ctx context.Context, id, responder uuid.UUID, note string) (domain.EmergencyAlert, error) {
	return m.cancel(ctx, id, responder, note)
}
func (m *mockAlertServicer) Notify(ctx context.Context, id uuid.UUID, observers []string) (domain.EmergencyAlert, error) {
	return m.notify(ctx, id, observers)
}
func (m *mockAlertServicer) Get(ctx context.Context, id uuid.UUID) (domain.EmergencyAlert, error) {
	return m.get(ctx, id)
}
func (m *mockAlertServicer) List(ctx context.Context, status *domain.AlertStatus, p domain.PaginationParams) ([]domain.EmergencyAlert, int64, error) {
	return m.list(ctx, status, p)
}

// compile-time checks: the mocks must satisfy the handler interfaces.
var (
	_ handler.TripServicer     = (*mockTripServicer)(nil)
	_ handler.BoardingServicer = (*mockBoardingServicer)(nil)
	_ handler.LocationServicer = (*mockLocationServicer)(nil)
	_ handler.AlertServicer    = (*mockAlertServicer)(nil)
)

// ---- helpers ---------------------------------------------------------------

// newHTTPHandler wires a Server with the given mocks into a chi router,
// the same way main.go does in production.
func newHTTPHandler(svc handler.Services) http.Handler {
	return handler.NewServer(svc, nil, nil).Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewBuffer(b)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[handler.ErrorResponse](t, rec).Error.Code
}

func tripFixture() domain.Trip {
	start := time.Date(2026, 9, 1, 7, 30, 0, 0, time.UTC)
	return domain.Trip{
		ID:             uuid.New(),
		VehicleID:      uuid.New(),
		DriverID:       uuid.New(),
		RouteID:        uuid.New(),
		Kind:           domain.TripMorning,
		Status:         domain.TripPending,
		ScheduledStart: start,
		CreatedAt:      start.Add(-time.Hour),
		UpdatedAt:      start.Add(-time.Hour),
	}
}

func alertFixture() domain.EmergencyAlert {
	vehicle := uuid.New()
	return domain.EmergencyAlert{
		ID:          uuid.New(),
		Type:        domain.AlertSOS,
		Severity:    domain.SeverityHigh,
		InitiatorID: uuid.New(),
		VehicleID:   &vehicle,
		Location:    domain.Location{Lat: 40.7128, Lng: -74.0060},
		Status:      domain.AlertActive,
		CreatedAt:   time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC),
	}
}
