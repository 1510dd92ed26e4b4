package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "storefront"

// Metrics holds the checkout counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	CartMutations    *prometheus.CounterVec
	CheckoutSessions *prometheus.CounterVec
	Verifications    *prometheus.CounterVec
	OrdersCommitted  prometheus.Counter
	CommitDuration   prometheus.Histogram
	OutboxPublished  *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CartMutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_mutations_total",
			Help:      "Cart mutations by operation and result.",
		}, []string{"op", "result"}),
		CheckoutSessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_sessions_total",
			Help:      "Checkout session create calls by result.",
		}, []string{"result"}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Payment verifications by outcome.",
		}, []string{"outcome"}),
		OrdersCommitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_committed_total",
			Help:      "Orders materialized from verified checkout sessions.",
		}),
		CommitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "order_commit_duration_seconds",
			Help:      "Duration of the order commit transaction.",
			Buckets:   prometheus.DefBuckets,
		}),
		OutboxPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_total",
			Help:      "Outbox events handled by the relay, by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) CartMutation(op, result string) {
	if m == nil {
		return
	}
	m.CartMutations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) CheckoutSession(result string) {
	if m == nil {
		return
	}
	m.CheckoutSessions.WithLabelValues(result).Inc()
}

func (m *Metrics) Verification(outcome string) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) OrderCommitted(seconds float64) {
	if m == nil {
		return
	}
	m.OrdersCommitted.Inc()
	m.CommitDuration.Observe(seconds)
}

func (m *Metrics) OutboxEvent(result string) {
	if m == nil {
		return
	}
	m.OutboxPublished.WithLabelValues(result).Inc()
}
