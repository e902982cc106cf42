package services

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ttsCacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conecoach_tts_cache_results_total",
			Help: "TTS lookups by cache tier and result",
		},
		[]string{"tier", "result"},
	)

	collaboratorCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conecoach_collaborator_calls_total",
			Help: "Calls to external collaborators by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	collaboratorLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conecoach_collaborator_duration_seconds",
			Help:    "Latency of external collaborator calls, including the retry",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conecoach_turns_total",
			Help: "Conversation turns appended by role",
		},
		[]string{"role"},
	)

	activeVoiceSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "conecoach_voice_sessions_active",
			Help: "Open voice session websockets",
		},
	)

	reportDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conecoach_report_deliveries_total",
			Help: "Report deliveries by sink and outcome",
		},
		[]string{"sink", "outcome"},
	)

	registerMetrics sync.Once
)

// MetricsHandler registers the collectors on first use and serves them
func MetricsHandler() http.Handler {
	registerMetrics.Do(func() {
		prometheus.MustRegister(
			ttsCacheResults,
			collaboratorCalls,
			collaboratorLatency,
			turnsTotal,
			activeVoiceSessions,
			reportDeliveries,
		)
	})
	return promhttp.Handler()
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
