package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Token lifecycle events.
const (
	TokenRegistered = "registered"
	TokenUpdated    = "updated"
	TokenCleared    = "cleared"
)

type eventMetrics struct {
	tokens *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking token metadata changes.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "events",
				Name:      "token_changes_total",
				Help:      "Count of creator-initiated token metadata changes segmented by kind.",
			}, []string{"kind"}),
		}
		prometheus.MustRegister(eventRegistry.tokens)
	})
	return eventRegistry
}

// RecordTokenChange increments the counter for a metadata change.
func (m *eventMetrics) RecordTokenChange(kind string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(kind))
	if normalized == "" {
		normalized = "unknown"
	}
	m.tokens.WithLabelValues(normalized).Inc()
}
