package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Auth outcomes recorded by the signature gate.
const (
	AuthOutcomeAccepted  = "accepted"
	AuthOutcomeMissing   = "missing"
	AuthOutcomeMalformed = "malformed"
	AuthOutcomeInvalid   = "invalid_signature"
	AuthOutcomeMismatch  = "address_mismatch"
)

// Creator resolution outcomes.
const (
	ResolveCacheHit = "cache_hit"
	ResolveResolved = "resolved"
	ResolveNotFound = "not_found"
	ResolveError    = "error"
)

// AuthMetrics counts wallet signature authentication attempts.
type AuthMetrics struct {
	attempts *prometheus.CounterVec
}

// CreatorMetrics tracks creator resolution outcomes and upstream health.
type CreatorMetrics struct {
	resolutions *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	upstream    *prometheus.CounterVec
	gate        *prometheus.CounterVec
}

// CacheMetrics tracks token cache effectiveness.
type CacheMetrics struct {
	lookups *prometheus.CounterVec
}

var (
	authMetricsOnce sync.Once
	authRegistry    *AuthMetrics

	creatorMetricsOnce sync.Once
	creatorRegistry    *CreatorMetrics

	cacheMetricsOnce sync.Once
	cacheRegistry    *CacheMetrics
)

// Auth returns the lazily-initialised authentication metrics.
func Auth() *AuthMetrics {
	authMetricsOnce.Do(func() {
		authRegistry = &AuthMetrics{
			attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "auth",
				Name:      "attempts_total",
				Help:      "Wallet signature authentication attempts segmented by outcome.",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(authRegistry.attempts)
	})
	return authRegistry
}

// Observe records one authentication attempt.
func (m *AuthMetrics) Observe(outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// Creator returns the lazily-initialised creator resolution metrics.
func Creator() *CreatorMetrics {
	creatorMetricsOnce.Do(func() {
		creatorRegistry = &CreatorMetrics{
			resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "creator",
				Name:      "resolutions_total",
				Help:      "Creator resolutions segmented by outcome.",
			}, []string{"outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "launchpad",
				Subsystem: "creator",
				Name:      "resolution_duration_seconds",
				Help:      "Latency distribution for creator resolution.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"outcome"}),
			upstream: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "creator",
				Name:      "upstream_failures_total",
				Help:      "Indexer and node RPC failures observed while resolving creators.",
			}, []string{"dependency"}),
			gate: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "creator",
				Name:      "gate_decisions_total",
				Help:      "Creator gate decisions segmented by HTTP status.",
			}, []string{"status"}),
		}
		prometheus.MustRegister(
			creatorRegistry.resolutions,
			creatorRegistry.latency,
			creatorRegistry.upstream,
			creatorRegistry.gate,
		)
	})
	return creatorRegistry
}

// Observe records the outcome and latency of a resolution.
func (m *CreatorMetrics) Observe(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	outcome = normalizeLabel(outcome)
	m.resolutions.WithLabelValues(outcome).Inc()
	m.latency.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordUpstreamFailure counts a failed call to the indexer or node.
func (m *CreatorMetrics) RecordUpstreamFailure(dependency string) {
	if m == nil {
		return
	}
	m.upstream.WithLabelValues(normalizeLabel(dependency)).Inc()
}

// RecordGateDecision counts the HTTP status chosen by the creator gate.
func (m *CreatorMetrics) RecordGateDecision(status string) {
	if m == nil {
		return
	}
	m.gate.WithLabelValues(normalizeLabel(status)).Inc()
}

// Cache returns the lazily-initialised token cache metrics.
func Cache() *CacheMetrics {
	cacheMetricsOnce.Do(func() {
		cacheRegistry = &CacheMetrics{
			lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Token cache lookups segmented by backend and result.",
			}, []string{"backend", "result"}),
		}
		prometheus.MustRegister(cacheRegistry.lookups)
	})
	return cacheRegistry
}

// RecordLookup counts a cache hit, miss or error.
func (m *CacheMetrics) RecordLookup(backend, result string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(normalizeLabel(backend), normalizeLabel(result)).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
