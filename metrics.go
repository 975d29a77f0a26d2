package fetchkit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the optional prometheus instrumentation. A nil *metrics is
// valid and records nothing, so the hot paths never branch on configuration.
type metrics struct {
	enqueued  prometheus.Counter
	completed *prometheus.CounterVec
	inFlight  prometheus.Gauge
	cacheHits prometheus.Counter
	cacheMiss prometheus.Counter
	bandwidth prometheus.Gauge
}

func newMetrics(r prometheus.Registerer) *metrics {
	if r == nil {
		return nil
	}
	factory := promauto.With(r)
	return &metrics{
		enqueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fetchkit",
			Name:      "requests_enqueued_total",
			Help:      "Requests admitted to the queue.",
		}),
		completed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fetchkit",
			Name:      "requests_completed_total",
			Help:      "Requests reaching a terminal state, by outcome.",
		}, []string{"outcome"}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "fetchkit",
			Name:      "requests_in_flight",
			Help:      "Requests currently held by a worker.",
		}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fetchkit",
			Name:      "cache_hits_total",
			Help:      "Requests served from the in-memory cache.",
		}),
		cacheMiss: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fetchkit",
			Name:      "cache_misses_total",
			Help:      "Cacheable requests that went to the network.",
		}),
		bandwidth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "fetchkit",
			Name:      "bandwidth_bits_per_second",
			Help:      "Smoothed bandwidth estimate.",
		}),
	}
}

func (m *metrics) observeEnqueued() {
	if m != nil {
		m.enqueued.Inc()
	}
}

func (m *metrics) observeStarted() {
	if m != nil {
		m.inFlight.Inc()
	}
}

func (m *metrics) observeStopped() {
	if m != nil {
		m.inFlight.Dec()
	}
}

func (m *metrics) observeCompleted(outcome string) {
	if m != nil {
		m.completed.WithLabelValues(outcome).Inc()
	}
}

func (m *metrics) observeCacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *metrics) observeCacheMiss() {
	if m != nil {
		m.cacheMiss.Inc()
	}
}

func (m *metrics) observeBandwidth(bps int64) {
	if m != nil {
		m.bandwidth.Set(float64(bps))
	}
}
