package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
//
// Every method is safe on a nil receiver so components can run without
// instrumentation in tests.
type Metrics struct {
	ActiveRooms       prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	WSMessages        *prometheus.CounterVec
	WSWriteErrors     *prometheus.CounterVec
	OutboundMessages  *prometheus.CounterVec
	ControlMessages   *prometheus.CounterVec
	ProviderErrors    *prometheus.CounterVec
	Evaluations       *prometheus.CounterVec
	ConnectLatency    prometheus.Histogram
	FinalizeDuration  prometheus.Histogram
	TranscriptEntries *prometheus.CounterVec

	window *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		window: newStageWindow(256),
		ActiveRooms: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Number of open interview rooms.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Interview session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		WSWriteErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_write_errors_total",
			Help:      "WebSocket write failures by operation.",
		}, []string{"op"}),
		OutboundMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_messages_total",
			Help:      "Outbound UI message delivery results by type.",
		}, []string{"type", "result"}),
		ControlMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_channel_messages_total",
			Help:      "Realtime control channel messages by direction and kind.",
		}, []string{"direction", "kind"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and code.",
		}, []string{"provider", "code"}),
		Evaluations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Evaluation requests by outcome.",
		}, []string{"outcome"}),
		ConnectLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connect_latency_ms",
			Help:      "Time from connect request to a live realtime session in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 3000, 5000, 10000, 20000},
		}),
		FinalizeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "finalize_duration_ms",
			Help:      "Time spent finalizing an interview in milliseconds.",
			Buckets:   []float64{500, 1000, 2000, 3000, 5000, 10000, 20000},
		}),
		TranscriptEntries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_entries_total",
			Help:      "Committed transcript entries by speaker.",
		}, []string{"speaker"}),
	}
}

func (m *Metrics) SessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
	m.window.Count(event)
}

func (m *Metrics) SetActiveRooms(n int) {
	if m == nil {
		return
	}
	m.ActiveRooms.Set(float64(n))
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) ObserveWSWriteError(op string) {
	if m == nil {
		return
	}
	m.WSWriteErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveOutboundMessage(msgType, result string) {
	if m == nil {
		return
	}
	m.OutboundMessages.WithLabelValues(msgType, result).Inc()
}

func (m *Metrics) ObserveControlMessage(direction, kind string) {
	if m == nil {
		return
	}
	m.ControlMessages.WithLabelValues(direction, kind).Inc()
}

func (m *Metrics) ObserveProviderError(provider, code string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider, code).Inc()
}

func (m *Metrics) ObserveEvaluation(outcome string) {
	if m == nil {
		return
	}
	m.Evaluations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveTranscriptEntry(speaker string) {
	if m == nil {
		return
	}
	m.TranscriptEntries.WithLabelValues(speaker).Inc()
}

func (m *Metrics) ObserveConnectLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.ConnectLatency.Observe(float64(d.Milliseconds()))
	m.window.Observe(StageConnect, float64(d.Milliseconds()))
}

func (m *Metrics) ObserveFinalizeDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.FinalizeDuration.Observe(float64(d.Milliseconds()))
	m.window.Observe(StageFinalize, float64(d.Milliseconds()))
}

// ObserveStage records a lifecycle stage that only feeds the latency window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.window.Observe(stage, float64(d.Milliseconds()))
}

func (m *Metrics) LatencySnapshot() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{GeneratedAt: time.Now().UTC(), Stages: []StageStats{}}
	}
	return m.window.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
