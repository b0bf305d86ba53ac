// Package metrics holds the Prometheus collectors for the allocator.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "allocator"

// Calculation outcomes.
const (
	OutcomeOK            = "ok"
	OutcomeInvalidAmount = "invalid_amount"
	OutcomeEmptyPlan     = "empty_plan"
	OutcomeNotFound      = "not_found"
	OutcomeError         = "error"
	OutcomeCached        = "cached"
	OutcomeRejected      = "rejected"
)

type Metrics struct {
	registry *prometheus.Registry

	Calculations        *prometheus.CounterVec
	PercentageMismatch  prometheus.Counter
	PlanLoads           *prometheus.CounterVec
	CalculationDuration prometheus.Histogram
	AMQPMessages        *prometheus.CounterVec
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Calculations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calculations_total",
			Help:      "Total allocation calculations by outcome.",
		}, []string{"outcome"}),

		PercentageMismatch: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "percentage_mismatch_total",
			Help:      "Calculations run against a plan whose percentages do not sum to 1 within tolerance.",
		}),

		PlanLoads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_loads_total",
			Help:      "Plan loads by source and outcome.",
		}, []string{"source", "outcome"}),

		CalculationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "calculation_duration_seconds",
			Help:      "Time spent loading a plan and computing an allocation.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}),

		AMQPMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "amqp",
			Name:      "messages_total",
			Help:      "Allocation requests consumed from the queue by outcome.",
		}, []string{"outcome"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),

		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveCalculation records one calculation and its latency.
func (m *Metrics) ObserveCalculation(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Calculations.WithLabelValues(outcome).Inc()
	m.CalculationDuration.Observe(d.Seconds())
}

// IncPercentageMismatch counts a calculation against an unbalanced plan.
func (m *Metrics) IncPercentageMismatch() {
	if m == nil {
		return
	}
	m.PercentageMismatch.Inc()
}

// ObservePlanLoad records a plan load from source.
func (m *Metrics) ObservePlanLoad(source, outcome string) {
	if m == nil {
		return
	}
	m.PlanLoads.WithLabelValues(source, outcome).Inc()
}

// ObserveAMQPMessage records a consumed queue message.
func (m *Metrics) ObserveAMQPMessage(outcome string) {
	if m == nil {
		return
	}
	m.AMQPMessages.WithLabelValues(outcome).Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}
