package routing

import "github.com/prometheus/client_golang/prometheus"

// Fallback reasons.
const (
	ReasonNoTenant     = "no_tenant"
	ReasonResolveError = "resolve_error"
	ReasonPoolError    = "pool_error"
)

// Metrics counts routing decisions. A nil *Metrics records nothing.
type Metrics struct {
	fallbacks    *prometheus.CounterVec
	poolsCreated prometheus.Counter
	poolsEvicted prometheus.Counter
	poolsOpen    prometheus.Gauge
}

// NewMetrics constructs unregistered routing collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "palmyra",
			Subsystem: "routing",
			Name:      "fallbacks_total",
			Help:      "Units of work routed to the control plane because no tenant pool was available.",
		}, []string{"reason"}),
		poolsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "palmyra",
			Subsystem: "routing",
			Name:      "pools_created_total",
			Help:      "Tenant connection pools created.",
		}),
		poolsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "palmyra",
			Subsystem: "routing",
			Name:      "pools_evicted_total",
			Help:      "Tenant connection pools closed on cache eviction or shutdown.",
		}),
		poolsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "palmyra",
			Subsystem: "routing",
			Name:      "pools_open",
			Help:      "Tenant connection pools currently cached.",
		}),
	}
}

// PrometheusCollectors returns the collectors to register.
func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{m.fallbacks, m.poolsCreated, m.poolsEvicted, m.poolsOpen}
}

func (m *Metrics) fellBack(reason string) {
	if m != nil {
		m.fallbacks.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) created() {
	if m != nil {
		m.poolsCreated.Inc()
		m.poolsOpen.Inc()
	}
}

func (m *Metrics) evicted() {
	if m != nil {
		m.poolsEvicted.Inc()
		m.poolsOpen.Dec()
	}
}
