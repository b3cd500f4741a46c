// Package metrics exposes relay metrics to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "voicerelay"

// Gateway names used as label values.
const (
	GatewayTranscription = "transcription"
	GatewaySynthesis     = "synthesis"
)

var (
	// exchangesTotal counts finished exchanges by terminal state.
	exchangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchanges_total",
			Help:      "Total number of exchanges by outcome",
		},
		[]string{"outcome"}, // committed, uncommitted, failed
	)

	// gatewayDuration is a histogram of external gateway calls, retries included.
	gatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_duration_seconds",
			Help:      "Duration of transcription and synthesis gateway calls in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"gateway", "result"}, // result: success, error
	)

	// gatewayRetries counts retried gateway attempts.
	gatewayRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_retries_total",
			Help:      "Total number of retried gateway attempts",
		},
		[]string{"gateway"},
	)

	// historyTurns tracks session length right after a commit.
	historyTurns = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "history_turns",
			Help:      "Number of stored turns in a session after a committed exchange",
			Buckets:   []float64{2, 4, 8, 16, 32, 64, 128},
		},
	)
)

var allMetrics = []prometheus.Collector{
	exchangesTotal,
	gatewayDuration,
	gatewayRetries,
	historyTurns,
}

// RecordExchange records the terminal state of an exchange.
func RecordExchange(outcome string) {
	exchangesTotal.WithLabelValues(outcome).Inc()
}

// RecordGatewayCall records one logical gateway call.
func RecordGatewayCall(gateway string, d time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	gatewayDuration.WithLabelValues(gateway, result).Observe(d.Seconds())
}

// RecordGatewayRetry records a retried attempt.
func RecordGatewayRetry(gateway string) {
	gatewayRetries.WithLabelValues(gateway).Inc()
}

// RecordHistoryTurns records the session length after a commit.
func RecordHistoryTurns(n int) {
	historyTurns.Observe(float64(n))
}
