// Package metrics exposes Prometheus counters for authentication decisions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "novus"

// Outcomes used as label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePending = "pending"
)

// Recorder counts auth events. A nil Recorder drops everything.
type Recorder struct {
	registry         *prometheus.Registry
	attempts         *prometheus.CounterVec
	twoFactor        *prometheus.CounterVec
	deliveryFailures *prometheus.CounterVec
	sessions         *prometheus.CounterVec
}

// New registers the auth collectors, plus Go runtime and process
// collectors, on a fresh registry.
func New() *Recorder {
	registry := prometheus.NewRegistry()
	r := &Recorder{
		registry: registry,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "attempts_total",
			Help:      "Primary credential attempts by method, outcome and failure reason.",
		}, []string{"method", "outcome", "reason"}),
		twoFactor: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "two_factor_total",
			Help:      "Second factor verifications by method and outcome.",
		}, []string{"method", "outcome"}),
		deliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "otp_delivery_failures_total",
			Help:      "One-time code deliveries that exhausted their retries.",
		}, []string{"method"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "sessions_total",
			Help:      "Session lifecycle events.",
		}, []string{"event"}),
	}
	registry.MustRegister(
		r.attempts,
		r.twoFactor,
		r.deliveryFailures,
		r.sessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// AuthAttempt counts one primary credential decision.
func (r *Recorder) AuthAttempt(method, outcome, reason string) {
	if r == nil {
		return
	}
	r.attempts.WithLabelValues(method, outcome, reason).Inc()
}

// TwoFactor counts one second factor verification.
func (r *Recorder) TwoFactor(method, outcome string) {
	if r == nil {
		return
	}
	r.twoFactor.WithLabelValues(method, outcome).Inc()
}

// DeliveryFailure counts a code that could not be delivered.
func (r *Recorder) DeliveryFailure(method string) {
	if r == nil {
		return
	}
	r.deliveryFailures.WithLabelValues(method).Inc()
}

// Session counts a session lifecycle event (created, refreshed, revoked,
// revoked_all).
func (r *Recorder) Session(event string) {
	if r == nil {
		return
	}
	r.sessions.WithLabelValues(event).Inc()
}
