package gotype

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "goodm"

// Metrics holds the mapper's prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	CodecLookups   *prometheus.CounterVec
	LookupFailures prometheus.Counter
	ModelBuilds    prometheus.Counter
	References     *prometheus.CounterVec
}

// NewMetrics creates the collectors without registering them.
func NewMetrics() *Metrics {
	return &Metrics{
		CodecLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "codec",
			Name:      "lookups_total",
			Help:      "Codecs resolved through the provider chain, by provider.",
		}, []string{"provider"}),
		LookupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "codec",
			Name:      "lookup_failures_total",
			Help:      "Codec lookups that no provider could serve.",
		}),
		ModelBuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "model",
			Name:      "builds_total",
			Help:      "Entity models built.",
		}),
		References: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "reference",
			Name:      "resolutions_total",
			Help:      "Reference resolutions by mode (eager, lazy) and outcome.",
		}, []string{"mode", "outcome"}),
	}
}

// Register registers every collector with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.CodecLookups, m.LookupFailures, m.ModelBuilds, m.References} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) lookupResolved(provider string) {
	if m == nil {
		return
	}
	m.CodecLookups.WithLabelValues(provider).Inc()
}

func (m *Metrics) lookupFailed() {
	if m == nil {
		return
	}
	m.LookupFailures.Inc()
}

func (m *Metrics) modelBuilt() {
	if m == nil {
		return
	}
	m.ModelBuilds.Inc()
}

func (m *Metrics) referenceResolved(mode, outcome string) {
	if m == nil {
		return
	}
	m.References.WithLabelValues(mode, outcome).Inc()
}
