// Package escalation hands emergency events that could not be delivered to
// every connected observer to an external alerting collaborator.
package escalation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/fleetcore/internal/domain"
)

// Notice describes one emergency event that needs outside attention.
type Notice struct {
	AlertID   uuid.UUID        `json:"alertId"`
	Event     domain.EventType `json:"event"`
	Type      domain.AlertType `json:"type"`
	Severity  domain.Severity  `json:"severity"`
	Location  domain.Location  `json:"location"`
	TripID    *uuid.UUID       `json:"tripId,omitempty"`
	VehicleID *uuid.UUID       `json:"vehicleId,omitempty"`
	Delivered []string         `json:"delivered"`
	Reason    string           `json:"reason"`
	At        time.Time        `json:"at"`
}

// NoticeFor builds the Notice for alert a and the event that failed delivery.
func NoticeFor(a domain.EmergencyAlert, ev domain.EventType, delivered []string, reason error, at time.Time) Notice {
	n := Notice{
		AlertID:   a.ID,
		Event:     ev,
		Type:      a.Type,
		Severity:  a.Severity,
		Location:  a.Location,
		TripID:    a.TripID,
		VehicleID: a.VehicleID,
		Delivered: delivered,
		At:        at,
	}
	if n.Delivered == nil {
		n.Delivered = []string{}
	}
	if reason != nil {
		n.Reason = reason.Error()
	}
	return n
}

// LogEscalator records notices at error level. It is the fallback when no
// webhook is configured and never fails.
type LogEscalator struct {
	log *slog.Logger
}

// NewLogEscalator returns a LogEscalator. A nil logger falls back to slog.Default().
func NewLogEscalator(logger *slog.Logger) *LogEscalator {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEscalator{log: logger}
}

// Escalate logs n.
func (e *LogEscalator) Escalate(ctx context.Context, n Notice) error {
	e.log.ErrorContext(ctx, "emergency escalated",
		"alert_id", n.AlertID,
		"event", n.Event,
		"type", n.Type,
		"severity", n.Severity,
		"delivered", len(n.Delivered),
		"reason", n.Reason,
	)
	return nil
}

// WebhookEscalator POSTs notices as JSON to an external endpoint.
type WebhookEscalator struct {
	url    string
	client *http.Client
}

// NewWebhookEscalator returns a WebhookEscalator for url. A nil client gets a
// 5 second timeout.
func NewWebhookEscalator(url string, client *http.Client) *WebhookEscalator {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &WebhookEscalator{url: url, client: client}
}

// Escalate delivers n. Any non-2xx response is an error.
func (e *WebhookEscalator) Escalate(ctx context.Context, n Notice) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("escalation.WebhookEscalator.Escalate: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("escalation.WebhookEscalator.Escalate: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("escalation.WebhookEscalator.Escalate: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("escalation.WebhookEscalator.Escalate: unexpected status %d", resp.StatusCode)
	}
	return nil
}
