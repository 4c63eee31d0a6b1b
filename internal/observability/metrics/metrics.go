package metrics

import (
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/patient-comms-platform/internal/compliance"
	"github.com/wolfman30/patient-comms-platform/internal/identity"
	"github.com/wolfman30/patient-comms-platform/internal/queue"
)

// PipelineMetrics exposes counters/histograms for the message pipeline.
type PipelineMetrics struct {
	transitionsTotal *prometheus.CounterVec
	enqueueTotal     *prometheus.CounterVec
	deniedTotal      *prometheus.CounterVec
	webhookTotal     *prometheus.CounterVec
	attemptsTotal    *prometheus.CounterVec
	deliveryLatency  *prometheus.HistogramVec
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "comms",
			Subsystem: "workflow",
			Name:      "transitions_total",
			Help:      "Total message status transitions",
		}, []string{"from", "to"}),
		enqueueTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "comms",
			Subsystem: "queue",
			Name:      "enqueue_total",
			Help:      "Total jobs enqueued by kind and outcome",
		}, []string{"kind", "outcome"}),
		deniedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "comms",
			Subsystem: "workflow",
			Name:      "permission_denied_total",
			Help:      "Total operations denied by role checks",
		}, []string{"operation", "role"}),
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "comms",
			Subsystem: "webhook",
			Name:      "requests_total",
			Help:      "Total delivery-status webhook requests by outcome",
		}, []string{"outcome"}),
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "comms",
			Subsystem: "delivery",
			Name:      "attempts_total",
			Help:      "Total delivery attempts by provider and outcome",
		}, []string{"provider", "outcome"}),
		deliveryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "comms",
			Subsystem: "delivery",
			Name:      "attempt_seconds",
			Help:      "Latency of provider send attempts",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.transitionsTotal, m.enqueueTotal, m.deniedTotal,
		m.webhookTotal, m.attemptsTotal, m.deliveryLatency,
	)
	return m
}

// OnTransition implements the workflow observer.
func (m *PipelineMetrics) OnTransition(_ uuid.UUID, from, to compliance.DeliveryStatus, _ compliance.ActionType) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

// OnEnqueue implements the workflow observer.
func (m *PipelineMetrics) OnEnqueue(_ uuid.UUID, kind queue.Kind, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.enqueueTotal.WithLabelValues(string(kind), outcome).Inc()
}

// OnDenied implements the workflow observer.
func (m *PipelineMetrics) OnDenied(op string, actor identity.Actor) {
	if m == nil {
		return
	}
	m.deniedTotal.WithLabelValues(op, string(actor.Role)).Inc()
}

// WebhookRequest counts one webhook outcome.
func (m *PipelineMetrics) WebhookRequest(outcome string) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(outcome).Inc()
}

// DeliveryAttempt counts one provider attempt.
func (m *PipelineMetrics) DeliveryAttempt(provider, outcome string) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(provider, outcome).Inc()
}

// ObserveDeliveryLatency records one provider send duration.
func (m *PipelineMetrics) ObserveDeliveryLatency(provider string, seconds float64) {
	if m == nil {
		return
	}
	m.deliveryLatency.WithLabelValues(provider).Observe(seconds)
}
