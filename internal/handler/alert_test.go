package handler_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/fleetcore/internal/domain"
	"github.com/pkordes/fleetcore/internal/handler"
	"github.com/pkordes/fleetcore/internal/middleware"
)

// ---- POST /alerts ----------------------------------------------------------

func TestRaiseAlert_201(t *testing.T) {
	fixture := alertFixture()
	fixture.Notified = []string{"admin-1", "parent-1"}
	var got domain.NewAlert
	svc := &mockAlertServicer{
		raise: func(_ context.Context, in domain.NewAlert) (domain.EmergencyAlert, error) {
			got = in
			return fixture, nil
		},
	}

	rec := do(t, newHTTPHandler(handler.Services{Alerts: svc}), http.MethodPost, "/alerts", jsonBody(t, map[string]any{
		"type":        "SOS",
		"initiatorId": fixture.InitiatorID,
		"vehicleId":   fixture.VehicleID,
		"location":    map[string]float64{"lat": 40.7128, "lng": -74.0060},
	}))

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, domain.AlertType("SOS"), got.Type, "normalisation is the service's job")
	assert.Equal(t, fixture.InitiatorID, got.InitiatorID)
	require.NotNil(t, got.VehicleID)
	assert.Nil(t, got.TripID)

	resp := decode[handler.Alert](t, rec)
	assert.Equal(t, fixture.ID, resp.ID)
	assert.Equal(t, domain.AlertActive, resp.Status)
	assert.Equal(t, []string{"admin-1", "parent-1"}, resp.Notified)
}

// A streamed body without Content-Length is cut off by the body-size
// middleware while the handler decodes it.
func TestRaiseAlert_413_StreamedBodyOverLimit(t *testing.T) {
	called := false
	svc := &mockAlertServicer{
		raise: func(_ context.Context, _ domain.NewAlert) (domain.EmergencyAlert, error) {
			called = true
			return alertFixture(), nil
		},
	}
	h := middleware.NewMaxBodySizeHandler(512)(newHTTPHandler(handler.Services{Alerts: svc}))

	body := `{"type":"medical","initiatorId":"` + uuid.NewString() +
		`","location":{"lat":40.7,"lng":-74.0},"description":"` + strings.Repeat("a", 1024) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/alerts", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "payload_too_large", errorCode(t, rec))
	assert.False(t, called)
}

func TestRaiseAlert_422_MissingLocation(t *testing.T) {
	rec := do(t, newHTTPHandler(handler.Services{Alerts: &mockAlertServicer{}}), http.MethodPost, "/alerts",
		jsonBody(t, map[string]any{"type": "sos", "initiatorId": uuid.New()}))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "validation_error", errorCode(t, rec))
}

func TestRaiseAlert_503_EscalationFailed(t *testing.T) {
	fixture := alertFixture()
	svc := &mockAlertServicer{
		raise: func(_ context.Context, _ domain.NewAlert) (domain.EmergencyAlert, error) {
			return fixture, fmt.Errorf("service.AlertManager.Raise: %w: %w", domain.ErrEscalationFailed,
				errors.Join(errors.New("delivery timed out"), errors.New("webhook returned 502")))
		},
	}

	rec := do(t, newHTTPHandler(handler.Services{Alerts: svc}), http.MethodPost, "/alerts", jsonBody(t, map[string]any{
		"type":        "medical",
		"initiatorId": fixture.InitiatorID,
		"location":    map[string]float64{"lat": 1, "lng": 2},
	}))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decode[handler.EscalationFailedResponse](t, rec)
	assert.Equal(t, "escalation_failed", resp.Error.Code)
	assert.Equal(t, fixture.ID, resp.Alert.ID, "the persisted alert is still returned")
}

// ---- GET /alerts -----------------------------------------------------------

func TestListAlerts_StatusFilter(t *testing.T) {
	var gotStatus *domain.AlertStatus
	svc := &mockAlertServicer{
		list: func(_ context.Context, status *domain.AlertStatus, _ domain.PaginationParams) ([]domain.EmergencyAlert, int64, error) {
			gotStatus = status
			return []domain.EmergencyAlert{alertFixture()}, 1, nil
		},
	}

	rec := do(t, newHTTPHandler(handler.Services{Alerts: svc}), http.MethodGet, "/alerts?status=active", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, gotStatus)
	assert.Equal(t, domain.AlertActive, *gotStatus)
	resp := decode[handler.ListResponse[handler.Alert]](t, rec)
	assert.Len(t, resp.Data, 1)
	assert.Equal(t, 1, resp.Pagination.Total)
}

func TestListAlerts_NoFilter(t *testing.T) {
	svc := &mockAlertServicer{
		list: func(_ context.Context, status *domain.AlertStatus, p domain.PaginationParams) ([]domain.EmergencyAlert, int64, error) {
			assert.Nil(t, status)
			assert.Equal(t, domain.PaginationParams{Page: 1, Limit: 20}, p)
			return []domain.EmergencyAlert{}, 0, nil
		},
	}

	rec := do(t, newHTTPHandler(handler.Services{Alerts: svc}), http.MethodGet, "/alerts", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}

// ---- PUT /alerts/{alertId}/resolve|cancel ---------------------------------

func TestResolveAlert_200(t *testing.T) {
	fixture := alertFixture()
	responder := uuid.New()
	resolvedAt := fixture.CreatedAt.Add(90 * time.Second)
	took := 90 * time.Second
	svc := &mockAlertServicer{
		resolve: func(_ context.Context, id, resp uuid.UUID, note string) (domain.EmergencyAlert, error) {
			assert.Equal(t, fixture.ID, id)
			assert.Equal(t, responder, resp)
			assert.Equal(t, "driver ok", note)
			a := fixture
			a.Status = domain.AlertResolved
			a.ResponderID = &resp
			a.ResolutionNote = note
			a.ResolutionDuration = &took
			a.ResolvedAt = &resolvedAt
			return a, nil
		},
	}

	rec := do(t, newHTTPHandler(handler.Services{Alerts: svc}), http.MethodPut, "/alerts/"+fixture.ID.String()+"/resolve",
		jsonBody(t, map[string]any{"responderId": responder, "note": "driver ok"}))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[handler.Alert](t, rec)
	assert.Equal(t, domain.AlertResolved, resp.Status)
	require.NotNil(t, resp.ResolutionMs)
	assert.Equal(t, int64(90_000), *resp.ResolutionMs)
}

func TestResolveAlert_409_AlreadyClosed(t *testing.T) {
	svc := &mockAlertServicer{
		resolve: func(_ context.Context, _, _ uuid.UUID, _ string) (domain.EmergencyAlert, error) {
			return domain.EmergencyAlert{}, fmt.Errorf("service.AlertManager.Resolve: %w: alert is resolved", domain.ErrAlertNotActive)
		},
	}

	rec := do(t, newHTTPHandler(handler.Services{Alerts: svc}), http.MethodPut, "/alerts/"+uuid.NewString()+"/resolve",
		jsonBody(t, map[string]any{"responderId": uuid.New()}))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "alert_not_active", errorCode(t, rec))
}

func TestCancelAlert_UsesCancel(t *testing.T) {
	called := false
	svc := &mockAlertServicer{
		cancel: func(_ context.Context, _, _ uuid.UUID, _ string) (domain.EmergencyAlert, error) {
			called = true
			a := alertFixture()
			a.Status = domain.AlertCancelled
			return a, nil
		},
	}

	rec := do(t, newHTTPHandler(handler.Services{Alerts: svc}), http.MethodPut, "/alerts/"+uuid.NewString()+"/cancel",
		jsonBody(t, map[string]any{"responderId": uuid.New(), "note": "false alarm"}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
	assert.Equal(t, domain.AlertCancelled, decode[handler.Alert](t, rec).Status)
}

// ---- POST /alerts/{alertId}/notify -----------------------------------------

func TestNotifyAlert_200(t *testing.T) {
	svc := &mockAlertServicer{
		notify: func(_ context.Context, _ uuid.UUID, observers []string) (domain.EmergencyAlert, error) {
			a := alertFixture()
			a.Notified = observers
			return a, nil
		},
	}

	rec := do(t, newHTTPHandler(handler.Services{Alerts: svc}), http.MethodPost, "/alerts/"+uuid.NewString()+"/notify",
		jsonBody(t, map[string]any{"observerIds": []string{"school-office"}}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"school-office"}, decode[handler.Alert](t, rec).Notified)
}

func TestGetAlert_404(t *testing.T) {
	svc := &mockAlertServicer{
		get: func(_ context.Context, _ uuid.UUID) (domain.EmergencyAlert, error) {
			return domain.EmergencyAlert{}, fmt.Errorf("service.AlertManager.Get: %w", domain.ErrNotFound)
		},
	}

	rec := do(t, newHTTPHandler(handler.Services{Alerts: svc}), http.MethodGet, "/alerts/"+uuid.NewString(), nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "alert not found", decode[handler.ErrorResponse](t, rec).Error.Message)
}
