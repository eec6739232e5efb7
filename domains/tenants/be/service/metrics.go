package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "palmyra"
	subsystem = "provisioning"
)

// Metrics tracks provisioning outcomes. A nil *Metrics records nothing.
type Metrics struct {
	runs          *prometheus.CounterVec
	failures      *prometheus.CounterVec
	compensations *prometheus.CounterVec
	bindAttempts  prometheus.Histogram
}

// NewMetrics constructs unregistered provisioning collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "runs_total",
			Help:      "Provisioning runs by outcome.",
		}, []string{"outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "failures_total",
			Help:      "Provisioning failures by onboarding step.",
		}, []string{"step"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "compensations_total",
			Help:      "Compensation actions run after a failed provisioning step.",
		}, []string{"action", "result"}),
		bindAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bind_attempts",
			Help:      "Attempts needed to bind the admin user to its organization.",
			Buckets:   []float64{1, 2, 3, 5, 8, 12, 15},
		}),
	}
}

// PrometheusCollectors returns the collectors to register.
func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{m.runs, m.failures, m.compensations, m.bindAttempts}
}

func (m *Metrics) succeeded() {
	if m != nil {
		m.runs.WithLabelValues("success").Inc()
	}
}

func (m *Metrics) failed(step Step) {
	if m != nil {
		m.runs.WithLabelValues("failure").Inc()
		m.failures.WithLabelValues(string(step)).Inc()
	}
}

func (m *Metrics) compensated(action string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.compensations.WithLabelValues(action, result).Inc()
}

func (m *Metrics) bound(attempts int) {
	if m != nil && attempts > 0 {
		m.bindAttempts.Observe(float64(attempts))
	}
}
