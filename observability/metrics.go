package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	jobMetricsOnce sync.Once
	jobRegistry    *JobsMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "jobescrow",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "jobescrow",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by module, method, and error code.",
			}, []string{"module", "method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "jobescrow",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "jobescrow",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. A zero code means the call
// succeeded; anything else is the JSON-RPC error code written to the client.
func (m *moduleMetrics) Observe(module, method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", code)).Inc()
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// JobsMetrics tracks committed job lifecycle activity.
type JobsMetrics struct {
	transitions *prometheus.CounterVec
	settled     *prometheus.CounterVec
	units       *prometheus.HistogramVec
	dropped     prometheus.Counter
}

// JobMetrics returns the lazily-initialised registry for job lifecycle metrics.
func JobMetrics() *JobsMetrics {
	jobMetricsOnce.Do(func() {
		jobRegistry = &JobsMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "jobescrow",
				Subsystem: "jobs",
				Name:      "transitions_total",
				Help:      "Committed job transitions segmented by event type.",
			}, []string{"event"}),
			settled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "jobescrow",
				Subsystem: "jobs",
				Name:      "settled_amount_total",
				Help:      "Base units released from custody segmented by token and leg (payout or refund).",
			}, []string{"token", "leg"}),
			units: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "jobescrow",
				Subsystem: "jobs",
				Name:      "unit_duration_seconds",
				Help:      "Latency of state units of work segmented by outcome.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"outcome"}),
			dropped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "jobescrow",
				Subsystem: "jobs",
				Name:      "subscriber_drops_total",
				Help:      "Events dropped because a subscriber was not keeping up.",
			}),
		}
		prometheus.MustRegister(
			jobRegistry.transitions,
			jobRegistry.settled,
			jobRegistry.units,
			jobRegistry.dropped,
		)
	})
	return jobRegistry
}

// RecordTransition counts a committed job event.
func (m *JobsMetrics) RecordTransition(eventType string) {
	if m == nil {
		return
	}
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		eventType = "unknown"
	}
	m.transitions.WithLabelValues(eventType).Inc()
}

// RecordSettlement adds the payout and refund legs of a settlement. Values
// are decimal base-unit strings as carried on events.
func (m *JobsMetrics) RecordSettlement(token, payout, refund string) {
	if m == nil {
		return
	}
	token = strings.ToUpper(strings.TrimSpace(token))
	if v := amountToFloat(payout); v > 0 {
		m.settled.WithLabelValues(token, "payout").Add(v)
	}
	if v := amountToFloat(refund); v > 0 {
		m.settled.WithLabelValues(token, "refund").Add(v)
	}
}

// ObserveUnit records how long a unit of work took and whether it committed.
func (m *JobsMetrics) ObserveUnit(committed bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "committed"
	if !committed {
		outcome = "discarded"
	}
	m.units.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordDrop counts an event a slow subscriber missed.
func (m *JobsMetrics) RecordDrop() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func amountToFloat(value string) float64 {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok || amount.Sign() <= 0 {
		return 0
	}
	f, _ := new(big.Float).SetInt(amount).Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0
	}
	return f
}
