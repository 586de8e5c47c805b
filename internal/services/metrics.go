package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pillpal/internal/models"
)

// Metrics holds all custom Prometheus metrics for the application
type Metrics struct {
	// Reminder feed metrics
	FeedConnections prometheus.Gauge
	FeedMessages    *prometheus.CounterVec

	// Dose lifecycle metrics
	DoseTransitions *prometheus.CounterVec
	DoseResolutions *prometheus.CounterVec

	// Escalation metrics
	EscalationMessages *prometheus.CounterVec
}

// InitMetrics registers the application metrics with reg. pending reports
// the number of dose instances still awaiting an answer.
func InitMetrics(reg prometheus.Registerer, pending func() float64) *Metrics {
	factory := promauto.With(reg)

	metrics := &Metrics{
		// Reminder feed active connections (gauge - can go up and down)
		FeedConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pillpal_feed_connections_active",
			Help: "Number of active reminder feed WebSocket connections",
		}),

		FeedMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pillpal_feed_messages_total",
			Help: "Total number of reminder feed messages by type",
		}, []string{"type"}),

		DoseTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pillpal_dose_transitions_total",
			Help: "Committed dose instance transitions by target state",
		}, []string{"state"}),

		DoseResolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pillpal_dose_resolutions_total",
			Help: "Resolved dose instances by resolution kind",
		}, []string{"resolution"}),

		EscalationMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pillpal_escalation_messages_total",
			Help: "Caretaker messages by resolution kind and delivery result",
		}, []string{"resolution", "result"}),
	}

	if pending != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "pillpal_doses_open",
			Help: "Dose instances notified or snoozed and not yet resolved",
		}, pending)
	}

	return metrics
}

// DoseTransition records a committed dose transition
func (m *Metrics) DoseTransition(state models.DoseState, resolution models.ResolutionKind) {
	m.DoseTransitions.WithLabelValues(string(state)).Inc()
	if resolution != "" {
		m.DoseResolutions.WithLabelValues(string(resolution)).Inc()
	}
}

// EscalationSent records one caretaker message attempt
func (m *Metrics) EscalationSent(resolution models.ResolutionKind, success bool) {
	result := "failed"
	if success {
		result = "sent"
	}
	m.EscalationMessages.WithLabelValues(string(resolution), result).Inc()
}

// RecordFeedConnect records a new reminder feed connection
func (m *Metrics) RecordFeedConnect() {
	m.FeedConnections.Inc()
}

// RecordFeedDisconnect records a reminder feed disconnection
func (m *Metrics) RecordFeedDisconnect() {
	m.FeedConnections.Dec()
}

// RecordFeedMessage records an outbound feed message
func (m *Metrics) RecordFeedMessage(msgType string) {
	m.FeedMessages.WithLabelValues(msgType).Inc()
}
