package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the client.
type Metrics struct {
	APIRequests      *prometheus.CounterVec
	APILatency       *prometheus.HistogramVec
	SessionEvents    *prometheus.CounterVec
	Turns            *prometheus.CounterVec
	Downloads        *prometheus.CounterVec
	OpenConversation prometheus.Gauge
	WSMessages       *prometheus.CounterVec

	latency *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		APIRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Backend API calls by operation and outcome class.",
		}, []string{"operation", "outcome"}),
		APILatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_ms",
			Help:      "Backend API round-trip latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 20000, 40000},
		}, []string{"operation"}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session store events by type.",
		}, []string{"event"}),
		Turns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_turns_total",
			Help:      "Conversation turns appended by speaker and origin.",
		}, []string{"speaker", "origin"}),
		Downloads: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_downloads_total",
			Help:      "Document downloads by outcome class.",
		}, []string{"outcome"}),
		OpenConversation: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_conversations",
			Help:      "Conversations held by live controllers.",
		}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Companion websocket messages by direction and type.",
		}, []string{"direction", "type"}),
		latency: newLatencyWindow(256),
	}
}

// ObserveRequest records one backend round trip. outcome is "ok" or a
// failure class.
func (m *Metrics) ObserveRequest(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "ok"
	}
	ms := float64(d.Milliseconds())
	m.APIRequests.WithLabelValues(operation, outcome).Inc()
	m.APILatency.WithLabelValues(operation).Observe(ms)
	m.latency.Observe(operation, outcome, ms)
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveTurn(speaker string, synthetic bool) {
	if m == nil {
		return
	}
	origin := "server"
	switch {
	case synthetic:
		origin = "synthetic"
		m.latency.ObserveIndicator("synthetic_error_turn")
	case speaker == "user":
		origin = "local"
	}
	m.Turns.WithLabelValues(speaker, origin).Inc()
}

func (m *Metrics) ObserveDownload(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.Downloads.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.latency.ObserveIndicator(name)
}

func (m *Metrics) SnapshotLatency() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.latency.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
