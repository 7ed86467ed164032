package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions  prometheus.Gauge
	SessionEvents   *prometheus.CounterVec
	WSMessages      *prometheus.CounterVec
	FramesSent      prometheus.Counter
	AudioBytesSent  prometheus.Counter
	StageChanges    *prometheus.CounterVec
	ParseErrors     prometheus.Counter
	CheckInLatency  prometheus.Histogram
	UpstreamClosure *prometheus.CounterVec

	checkInWindow *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active lesson sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		FramesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "video_frames_sent_total",
			Help:      "Video frames emitted to the backend.",
		}),
		AudioBytesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_sent_total",
			Help:      "PCM audio bytes emitted to the backend.",
		}),
		StageChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_changes_total",
			Help:      "Lesson stage transitions by target stage.",
		}, []string{"stage"}),
		ParseErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Malformed inbound messages dropped.",
		}),
		CheckInLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkin_roundtrip_ms",
			Help:      "Latency from check-in dispatch to completed turn in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 3500, 5000, 8000, 12000},
		}),
		UpstreamClosure: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_closures_total",
			Help:      "Upstream connection closures by classification.",
		}, []string{"class"}),
		checkInWindow: newLatencyWindow(256),
	}
}

// ObserveCheckInRoundtrip records one check-in round trip in both the
// histogram and the rolling window served by the perf endpoint.
func (m *Metrics) ObserveCheckInRoundtrip(stage string, d time.Duration) {
	ms := float64(d.Milliseconds())
	m.CheckInLatency.Observe(ms)
	m.checkInWindow.Observe(stage, ms)
}

// LatencySnapshot exposes recent per-stage check-in latency quantiles.
func (m *Metrics) LatencySnapshot() LatencySnapshot {
	return m.checkInWindow.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
