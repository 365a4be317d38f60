package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	faucetMetricsOnce sync.Once
	faucetRegistry    *FaucetdMetrics
)

// FaucetdMetrics wraps collectors tracking disbursement health.
type FaucetdMetrics struct {
	disbursements     *prometheus.CounterVec
	errors            *prometheus.CounterVec
	latency           prometheus.Histogram
	seedPayments      prometheus.Counter
	fallbackAttempts  prometheus.Counter
	reportFailures    prometheus.Counter
	pauseEngaged      prometheus.Gauge
	inFlight          prometheus.Gauge
	unresolvedIntents prometheus.Gauge
}

// Faucetd exposes the metrics registry for faucetd.
func Faucetd() *FaucetdMetrics {
	faucetMetricsOnce.Do(func() {
		faucetRegistry = &FaucetdMetrics{
			disbursements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "faucet",
				Subsystem: "faucetd",
				Name:      "disbursements_total",
				Help:      "Count of disbursement requests segmented by outcome.",
			}, []string{"outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "faucet",
				Subsystem: "faucetd",
				Name:      "errors_total",
				Help:      "Count of rejected or failed disbursements segmented by error kind.",
			}, []string{"kind"}),
			latency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "faucet",
				Subsystem: "faucetd",
				Name:      "disbursement_latency_seconds",
				Help:      "Latency distribution for confirmed disbursements.",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
			}),
			seedPayments: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "faucet",
				Subsystem: "faucetd",
				Name:      "seed_payments_total",
				Help:      "Count of native fee seeding payments broadcast to empty accounts.",
			}),
			fallbackAttempts: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "faucet",
				Subsystem: "faucetd",
				Name:      "fallback_attempts_total",
				Help:      "Count of transfer rebuilds with the elevated payment after a failed simulation.",
			}),
			reportFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "faucet",
				Subsystem: "faucetd",
				Name:      "usage_report_failures_total",
				Help:      "Count of usage reports that could not be delivered.",
			}),
			pauseEngaged: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "faucet",
				Subsystem: "faucetd",
				Name:      "pause_engaged",
				Help:      "Indicates whether the disbursement pause guard is active (1) or not (0).",
			}),
			inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "faucet",
				Subsystem: "faucetd",
				Name:      "in_flight",
				Help:      "Number of disbursements currently holding a reservation.",
			}),
			unresolvedIntents: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "faucet",
				Subsystem: "faucetd",
				Name:      "unresolved_intents",
				Help:      "Journalled disbursement attempts that never reached a final state.",
			}),
		}
		prometheus.MustRegister(
			faucetRegistry.disbursements,
			faucetRegistry.errors,
			faucetRegistry.latency,
			faucetRegistry.seedPayments,
			faucetRegistry.fallbackAttempts,
			faucetRegistry.reportFailures,
			faucetRegistry.pauseEngaged,
			faucetRegistry.inFlight,
			faucetRegistry.unresolvedIntents,
		)
	})
	return faucetRegistry
}

// RecordOutcome increments the disbursement counter.
func (m *FaucetdMetrics) RecordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.disbursements.WithLabelValues(label(outcome)).Inc()
}

// RecordError increments the error counter for the supplied kind.
func (m *FaucetdMetrics) RecordError(kind string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(label(kind)).Inc()
}

// ObserveLatency records the end-to-end latency of a successful disbursement.
func (m *FaucetdMetrics) ObserveLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.latency.Observe(d.Seconds())
}

// RecordSeed notes a fee seeding payment.
func (m *FaucetdMetrics) RecordSeed() {
	if m == nil {
		return
	}
	m.seedPayments.Inc()
}

// RecordFallback notes a transfer retry with the elevated payment.
func (m *FaucetdMetrics) RecordFallback() {
	if m == nil {
		return
	}
	m.fallbackAttempts.Inc()
}

// RecordReportFailure notes a usage report that failed.
func (m *FaucetdMetrics) RecordReportFailure() {
	if m == nil {
		return
	}
	m.reportFailures.Inc()
}

// SetPause toggles the pause_engaged gauge.
func (m *FaucetdMetrics) SetPause(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.pauseEngaged.Set(1)
		return
	}
	m.pauseEngaged.Set(0)
}

// AddInFlight adjusts the in-flight gauge by delta.
func (m *FaucetdMetrics) AddInFlight(delta float64) {
	if m == nil {
		return
	}
	m.inFlight.Add(delta)
}

// SetUnresolvedIntents updates the unresolved intent gauge.
func (m *FaucetdMetrics) SetUnresolvedIntents(n int) {
	if m == nil {
		return
	}
	m.unresolvedIntents.Set(float64(n))
}

func label(value string) string {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return "unspecified"
	}
	return trimmed
}
