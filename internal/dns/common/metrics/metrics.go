// Package metrics exposes nullroute's Prometheus collectors. Each Metrics
// value owns its registry so tests and multiple instances never collide on
// the global default registerer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haukened/nullroute/internal/dns/domain"
)

const namespace = "nullroute"

// Rebuild results.
const (
	RebuildOK      = "ok"
	RebuildPartial = "partial"
	RebuildFailed  = "failed"
)

type Metrics struct {
	registry *prometheus.Registry

	queries         *prometheus.CounterVec
	malformed       prometheus.Counter
	upstreamErrors  prometheus.Counter
	upstreamLatency prometheus.Histogram
	rebuilds        *prometheus.CounterVec
	rebuildDuration prometheus.Histogram
	domains         prometheus.Gauge
}

// New creates the collectors and registers them, plus the Go runtime and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "DNS queries classified, by verdict.",
		}, []string{"verdict"}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_packets_total",
			Help:      "Packets whose question could not be decoded and were passed through.",
		}),
		upstreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_failures_total",
			Help:      "Forwarded queries for which no upstream answered.",
		}),
		upstreamLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Upstream exchange duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		rebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rebuilds_total",
			Help:      "Rule set rebuilds, by result.",
		}, []string{"result"}),
		rebuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rebuild_duration_seconds",
			Help:      "Time to load sources and swap in a new trie generation.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		domains: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "blocked_domains",
			Help:      "Exact names in the live trie generation.",
		}),
	}
	m.registry.MustRegister(
		m.queries, m.malformed, m.upstreamErrors, m.upstreamLatency,
		m.rebuilds, m.rebuildDuration, m.domains,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves m's registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveQuery(v domain.Verdict) {
	m.queries.WithLabelValues(v.String()).Inc()
}

func (m *Metrics) ObserveMalformed() { m.malformed.Inc() }

// ObserveUpstream records one upstream exchange.
func (m *Metrics) ObserveUpstream(d time.Duration, err error) {
	m.upstreamLatency.Observe(d.Seconds())
	if err != nil {
		m.upstreamErrors.Inc()
	}
}

// ObserveRebuild records a rebuild with the resulting domain count. result
// is one of RebuildOK, RebuildPartial or RebuildFailed; a failed rebuild
// leaves the domain gauge alone.
func (m *Metrics) ObserveRebuild(result string, domains int64, d time.Duration) {
	m.rebuilds.WithLabelValues(result).Inc()
	m.rebuildDuration.Observe(d.Seconds())
	if result != RebuildFailed {
		m.domains.Set(float64(domains))
	}
}

// SetDomains updates the domain gauge after an in-place mutation.
func (m *Metrics) SetDomains(n int64) { m.domains.Set(float64(n)) }
