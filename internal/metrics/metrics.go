// Package metrics declares the Prometheus collectors for the fleet core.
// Collectors are registered on the default registry via promauto and exposed
// by cmd/api at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BusDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_bus_delivered_total",
		Help: "Events queued to observer subscriptions, by event type",
	}, []string{"type"})

	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_bus_dropped_total",
		Help: "Events dropped for a subscriber because its queue was full, by event type",
	}, []string{"type"})

	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_bus_subscriptions",
		Help: "Currently open observer subscriptions",
	})

	RelayErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_relay_errors_total",
		Help: "Cross-instance relay failures, by operation",
	}, []string{"op"})

	PositionReportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_position_reports_total",
		Help: "Vehicle position reports, by result (accepted, stale, invalid)",
	}, []string{"result"})

	TripTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_trip_transitions_total",
		Help: "Trip status transitions, by target status",
	}, []string{"status"})

	BoardingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_boardings_total",
		Help: "Boarding calls, by result (boarded, duplicate)",
	}, []string{"result"})

	AlertsRaisedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_alerts_raised_total",
		Help: "Emergency alerts raised, by type and severity",
	}, []string{"type", "severity"})

	AlertDeliveryRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_alert_delivery_retries_total",
		Help: "Retry attempts while delivering emergency events to observers",
	})

	AlertEscalationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_alert_escalations_total",
		Help: "Emergency events handed to the escalation target, by outcome",
	}, []string{"outcome"})
)

// labelOrUnknown keeps label cardinality bounded when callers pass empty values.
func labelOrUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// IncDelivered records one event queued to one subscriber.
func IncDelivered(eventType string) {
	BusDeliveredTotal.WithLabelValues(labelOrUnknown(eventType)).Inc()
}

// IncDropped records one event dropped for one subscriber.
func IncDropped(eventType string) {
	BusDroppedTotal.WithLabelValues(labelOrUnknown(eventType)).Inc()
}

// IncPositionReport records the outcome of a position report.
func IncPositionReport(result string) {
	PositionReportsTotal.WithLabelValues(labelOrUnknown(result)).Inc()
}

// IncTripTransition records a trip entering status.
func IncTripTransition(status string) {
	TripTransitionsTotal.WithLabelValues(labelOrUnknown(status)).Inc()
}

// IncBoarding records the outcome of a boarding call.
func IncBoarding(result string) {
	BoardingsTotal.WithLabelValues(labelOrUnknown(result)).Inc()
}

// IncAlertRaised records a newly raised alert.
func IncAlertRaised(alertType, severity string) {
	AlertsRaisedTotal.WithLabelValues(labelOrUnknown(alertType), labelOrUnknown(severity)).Inc()
}

// IncEscalation records an escalation attempt outcome (ok, failed).
func IncEscalation(outcome string) {
	AlertEscalationsTotal.WithLabelValues(labelOrUnknown(outcome)).Inc()
}

// IncRelayError records a relay failure for op (publish, queue_full, decode, subscribe).
func IncRelayError(op string) {
	RelayErrorsTotal.WithLabelValues(labelOrUnknown(op)).Inc()
}
