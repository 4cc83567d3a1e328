package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the voice pipeline.
type Metrics struct {
	ActiveSessions     prometheus.Gauge
	SessionEvents      *prometheus.CounterVec
	WSMessages         *prometheus.CounterVec
	ProviderErrors     *prometheus.CounterVec
	CommitEvents       *prometheus.CounterVec
	StaleTimerDiscards prometheus.Counter
	SynthesisFallbacks prometheus.Counter
	CommitLatency      prometheus.Histogram

	window *stageWindow
}

// NewMetrics registers on the default registry, which /metrics serves.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith registers all instruments on reg. Tests pass a fresh
// prometheus.NewRegistry() so parallel packages never collide.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active voice UI sessions.",
		}),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ProviderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Backend errors by provider and code.",
		}, []string{"provider", "code"}),
		CommitEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterance_commits_total",
			Help:      "Committed utterances by source (auto silence detection or manual stop).",
		}, []string{"source"}),
		StaleTimerDiscards: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_timer_discards_total",
			Help:      "Commit timers that fired after their session ended and were silently discarded.",
		}),
		SynthesisFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_fallbacks_total",
			Help:      "Speak requests that fell back from the cloud to the platform backend.",
		}),
		CommitLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pause_to_commit_latency_ms",
			Help:      "Latency from the recognizer pause signal to the committed utterance in milliseconds.",
			Buckets:   []float64{500, 1000, 2000, 3000, 3500, 4000, 5000, 8000},
		}),
		window: newStageWindow(256),
	}
}

func (m *Metrics) ObserveCommitLatency(d time.Duration) {
	m.CommitLatency.Observe(float64(d.Milliseconds()))
	m.ObserveStage("pause_to_commit", d)
}

// ObserveStage records a pipeline stage latency into the rolling window
// served by the latency debug endpoint.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m.window != nil {
		m.window.Observe(stage, float64(d.Milliseconds()))
	}
}

// ObserveIndicator bumps a named indicator in the rolling window.
func (m *Metrics) ObserveIndicator(name string) {
	if m.window != nil {
		m.window.ObserveIndicator(name)
	}
}

// LatencySnapshot reports rolling-window stage statistics.
func (m *Metrics) LatencySnapshot() StageSnapshot {
	if m.window == nil {
		return StageSnapshot{}
	}
	return m.window.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
