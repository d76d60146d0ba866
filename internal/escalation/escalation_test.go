package escalation_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/fleetcore/internal/domain"
	"github.com/pkordes/fleetcore/internal/escalation"
)

func sampleNotice() escalation.Notice {
	alert := domain.EmergencyAlert{
		ID:       uuid.New(),
		Type:     domain.AlertSOS,
		Severity: domain.SeverityCritical,
		Location: domain.Location{Lat: 40.7, Lng: -74},
	}
	return escalation.NoticeFor(alert, domain.EventEmergencyRaised, nil,
		errors.New("2 targets pending"), time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC))
}

func TestWebhookEscalator_PostsJSON(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := sampleNotice()
	err := escalation.NewWebhookEscalator(srv.URL, nil).Escalate(context.Background(), n)

	require.NoError(t, err)
	assert.Equal(t, n.AlertID.String(), got["alertId"])
	assert.Equal(t, "emergency_raised", got["event"])
	assert.Equal(t, "critical", got["severity"])
	assert.Equal(t, "2 targets pending", got["reason"])
	assert.Equal(t, []any{}, got["delivered"])
}

func TestWebhookEscalator_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := escalation.NewWebhookEscalator(srv.URL, nil).Escalate(context.Background(), sampleNotice())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhookEscalator_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := escalation.NewWebhookEscalator(url, nil).Escalate(context.Background(), sampleNotice())

	assert.Error(t, err)
}

func TestLogEscalator(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	n := sampleNotice()
	err := escalation.NewLogEscalator(logger).Escalate(context.Background(), n)

	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "emergency escalated", entry["msg"])
	assert.Equal(t, n.AlertID.String(), entry["alert_id"])
}
