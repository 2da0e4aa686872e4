package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics counts escrow transitions, webhook outcomes and gateway latency.
type PaymentMetrics struct {
	transitions *prometheus.CounterVec
	webhooks    *prometheus.CounterVec
	gateway     *prometheus.HistogramVec
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_transitions_total",
		Help: "Escrow state machine transitions by outcome.",
	}, []string{"transition", "outcome"})
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_webhooks_total",
		Help: "Gateway webhook deliveries by event and outcome.",
	}, []string{"event", "outcome"})
	gateway := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_duration_seconds",
		Help:    "Latency of payment gateway calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})
	reg.MustRegister(transitions, webhooks, gateway)
	return &PaymentMetrics{
		transitions: transitions,
		webhooks:    webhooks,
		gateway:     gateway,
	}
}

// IncTransition records the outcome (applied, noop, rejected, error) of a transition.
func (m *PaymentMetrics) IncTransition(transition, outcome string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(transition), normalizeLabel(outcome)).Inc()
}

// IncWebhook records a webhook delivery outcome.
func (m *PaymentMetrics) IncWebhook(event, outcome string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(event), normalizeLabel(outcome)).Inc()
}

// ObserveGateway records the duration of one gateway call.
func (m *PaymentMetrics) ObserveGateway(operation string, err error, duration time.Duration) {
	if m == nil || m.gateway == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.gateway.WithLabelValues(normalizeLabel(operation), outcome).Observe(duration.Seconds())
}
