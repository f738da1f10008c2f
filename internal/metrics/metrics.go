// ABOUTME: Prometheus collectors for relay observability and the exposition handler
// ABOUTME: Counts auth rejections, forwarded/dropped webhooks, consumers and provisioning outcomes

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hookrelay"

// Exchange outcomes used as the "outcome" label.
const (
	OutcomeResolved     = "resolved"
	OutcomeNoConsumer   = "no_consumer"
	OutcomeTimeout      = "timeout"
	OutcomeInvalidReply = "invalid_reply"
	OutcomeDisconnected = "disconnected"
	OutcomeSendFailed   = "send_failed"
	OutcomeCancelled    = "cancelled"
)

// Metrics holds every relay collector. The zero value is not usable;
// create one with New.
type Metrics struct {
	registry *prometheus.Registry

	unauthorized      *prometheus.CounterVec
	webhooksForwarded prometheus.Counter
	webhooksDropped   prometheus.Counter
	clientsConnected  prometheus.Counter
	consumersActive   prometheus.Gauge
	exchanges         *prometheus.CounterVec
	exchangeDuration  prometheus.Histogram
	lateReplies       prometheus.Counter
}

// New creates the relay collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		unauthorized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unauthorized_requests_total",
			Help:      "Requests and upgrade attempts rejected for bad credentials, by originating method.",
		}, []string{"method"}),
		webhooksForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_forwarded_total",
			Help:      "Webhooks written to a registered consumer.",
		}),
		webhooksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_dropped_total",
			Help:      "Webhooks dropped because no consumer was registered for the key.",
		}),
		clientsConnected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clients_connected_total",
			Help:      "Consumer connections registered under a key.",
		}),
		consumersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consumers_active",
			Help:      "Keys that currently have a registered consumer.",
		}),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provisioning_exchanges_total",
			Help:      "Provisioning exchanges by outcome.",
		}, []string{"outcome"}),
		exchangeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provisioning_duration_seconds",
			Help:      "Time from sending a provisioning request to its outcome.",
			Buckets:   prometheus.DefBuckets,
		}),
		lateReplies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "late_replies_total",
			Help:      "Provisioning replies that arrived after their exchange was abandoned.",
		}),
	}

	m.registry.MustRegister(
		m.unauthorized,
		m.webhooksForwarded,
		m.webhooksDropped,
		m.clientsConnected,
		m.consumersActive,
		m.exchanges,
		m.exchangeDuration,
		m.lateReplies,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus text exposition. Collection errors produce a 500.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// Unauthorized records one rejected request; method is "ws" for upgrades.
func (m *Metrics) Unauthorized(method string) {
	m.unauthorized.WithLabelValues(method).Inc()
}

func (m *Metrics) WebhookForwarded() { m.webhooksForwarded.Inc() }

func (m *Metrics) WebhookDropped() { m.webhooksDropped.Inc() }

// ConsumerRegistered counts a registration and updates the active gauge.
func (m *Metrics) ConsumerRegistered(active int) {
	m.clientsConnected.Inc()
	m.consumersActive.Set(float64(active))
}

// ConsumerUnregistered updates the active gauge after a removal.
func (m *Metrics) ConsumerUnregistered(active int) {
	m.consumersActive.Set(float64(active))
}

// Exchange records the outcome and latency of one provisioning exchange.
func (m *Metrics) Exchange(outcome string, elapsed time.Duration) {
	m.exchanges.WithLabelValues(outcome).Inc()
	m.exchangeDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) LateReply() { m.lateReplies.Inc() }
