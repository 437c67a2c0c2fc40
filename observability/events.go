package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	transfers *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking committed ledger events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "jobescrow",
				Subsystem: "events",
				Name:      "transfers_total",
				Help:      "Count of committed token movements segmented by token and kind.",
			}, []string{"token", "kind"}),
		}
		prometheus.MustRegister(eventRegistry.transfers)
	})
	return eventRegistry
}

// RecordTransfer increments the transfer counter. Kind is "mint" for operator
// credits and "transfer" otherwise.
func (m *eventMetrics) RecordTransfer(token, kind string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToUpper(token))
	if normalized == "" {
		normalized = "UNKNOWN"
	}
	if kind != "mint" {
		kind = "transfer"
	}
	m.transfers.WithLabelValues(normalized, kind).Inc()
}
