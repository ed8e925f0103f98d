package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	providerCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trainer",
		Subsystem: "provider",
		Name:      "calls_total",
		Help:      "Provider API calls by provider and classified outcome.",
	}, []string{"provider", "outcome"})
	recordsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trainer",
		Subsystem: "sync",
		Name:      "records_total",
		Help:      "Activity records processed by provider and result (imported, skipped, failed).",
	}, []string{"provider", "result"})
	syncRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trainer",
		Subsystem: "sync",
		Name:      "runs_total",
		Help:      "Completed sync invocations by provider and result kind.",
	}, []string{"provider", "result"})
	syncDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "trainer",
		Subsystem: "sync",
		Name:      "duration_seconds",
		Help:      "Wall time of sync invocations.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"provider"})
	tokenRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trainer",
		Subsystem: "auth",
		Name:      "refreshes_total",
		Help:      "Token refresh attempts by provider and result.",
	}, []string{"provider", "result"})
	lastSuccess = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "trainer",
		Subsystem: "sync",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful sync.",
	}, []string{"provider"})
)

func init() {
	prometheus.MustRegister(providerCalls, recordsProcessed, syncRuns, syncDuration, tokenRefreshes, lastSuccess)
}

// RecordProviderCall counts one classified provider call.
func RecordProviderCall(provider, outcome string) {
	providerCalls.WithLabelValues(provider, outcome).Inc()
}

// RecordRecords adds per-record counters for one page.
func RecordRecords(provider string, imported, skipped, failed int) {
	if imported > 0 {
		recordsProcessed.WithLabelValues(provider, "imported").Add(float64(imported))
	}
	if skipped > 0 {
		recordsProcessed.WithLabelValues(provider, "skipped").Add(float64(skipped))
	}
	if failed > 0 {
		recordsProcessed.WithLabelValues(provider, "failed").Add(float64(failed))
	}
}

// RecordSync observes a finished sync. result is "ok" or the error kind.
func RecordSync(provider, result string, elapsed time.Duration, finishedAt time.Time) {
	syncRuns.WithLabelValues(provider, result).Inc()
	syncDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
	if result == "ok" && !finishedAt.IsZero() {
		lastSuccess.WithLabelValues(provider).Set(float64(finishedAt.Unix()))
	}
}

// RecordRefresh counts a token refresh attempt.
func RecordRefresh(provider, result string) {
	tokenRefreshes.WithLabelValues(provider, result).Inc()
}
