package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	registry *prometheus.Registry

	ActiveSessions    prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	StageFallbacks    *prometheus.CounterVec
	GenerationErrors  *prometheus.CounterVec
	StageLatency      *prometheus.HistogramVec
	StreamedFragments prometheus.Counter
	WSMessages        *prometheus.CounterVec

	pipeline *pipelineWindow
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of interviews started and not yet ended.",
		}),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		StageFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_fallbacks_total",
			Help:      "Degraded stage outcomes by stage and reason.",
		}, []string{"stage", "reason"}),
		GenerationErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_errors_total",
			Help:      "Generation client errors by purpose and code.",
		}, []string{"purpose", "code"}),
		StageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_ms",
			Help:      "Pipeline stage latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000, 16000},
		}, []string{"stage"}),
		StreamedFragments: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streamed_fragments_total",
			Help:      "Interviewer fragments delivered to callers.",
		}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		pipeline: newPipelineWindow(512),
	}
}

// ObserveStage records a stage duration in both the histogram and the rolling window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageLatency.WithLabelValues(stage).Observe(float64(d) / float64(time.Millisecond))
	m.pipeline.observe(stage, d)
}

func (m *Metrics) ObserveFallback(stage, reason string) {
	if m == nil {
		return
	}
	m.StageFallbacks.WithLabelValues(stage, reason).Inc()
	m.pipeline.fallback(stage, reason)
}

func (m *Metrics) ObserveGenerationError(purpose, code string) {
	if m == nil {
		return
	}
	m.GenerationErrors.WithLabelValues(purpose, code).Inc()
}

func (m *Metrics) SessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) Fragment() {
	if m == nil {
		return
	}
	m.StreamedFragments.Inc()
}

// PipelineSnapshot reports per-stage latency and fallback rates.
func (m *Metrics) PipelineSnapshot() PipelineSnapshot {
	if m == nil {
		return newPipelineWindow(0).snapshot()
	}
	return m.pipeline.snapshot()
}

func (m *Metrics) ResetPipeline() {
	if m == nil {
		return
	}
	m.pipeline.reset()
}

func (m *Metrics) WSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// Handler serves this instance's registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
