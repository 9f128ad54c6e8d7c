package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors. All collectors are
// registered on the registry passed to New, never on the global one.
type Metrics struct {
	registry *prometheus.Registry

	// Recording lifecycle
	RecordingsStarted   prometheus.Counter
	RecordingsCompleted prometheus.Counter
	RecordingsFailed    *prometheus.CounterVec
	ActiveRecordings    prometheus.Gauge
	FinalizeDuration    prometheus.Histogram

	// Audio chunks
	ChunksCaptured  prometheus.Counter
	ChunksDiscarded prometheus.Counter
	ChunkBytes      prometheus.Histogram

	// Model-backed calls, labelled by flow (transcribe|extract|suggest|format)
	ServiceCalls        *prometheus.CounterVec
	ServiceCallFailures *prometheus.CounterVec
	ServiceCallDuration *prometheus.HistogramVec

	// Analysis ordering
	AnalysesApplied prometheus.Counter
	AnalysesStale   prometheus.Counter

	// HTTP
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RecordingsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "anamnesi_recordings_started_total",
			Help: "Total number of recordings started",
		}),
		RecordingsCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "anamnesi_recordings_completed_total",
			Help: "Total number of recordings that reached the idle state after stop",
		}),
		RecordingsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "anamnesi_recordings_failed_total",
			Help: "Total number of recordings that could not start, by reason",
		}, []string{"reason"}),
		ActiveRecordings: f.NewGauge(prometheus.GaugeOpts{
			Name: "anamnesi_active_recordings",
			Help: "Number of interviews currently recording or finalizing",
		}),
		FinalizeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "anamnesi_finalize_duration_seconds",
			Help:    "Time from stop to idle",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),

		ChunksCaptured: f.NewCounter(prometheus.CounterOpts{
			Name: "anamnesi_chunks_captured_total",
			Help: "Total number of audio chunks handed to transcription",
		}),
		ChunksDiscarded: f.NewCounter(prometheus.CounterOpts{
			Name: "anamnesi_chunks_discarded_total",
			Help: "Transcriptions that arrived after their recording stopped collecting",
		}),
		ChunkBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "anamnesi_chunk_bytes",
			Help:    "Size of captured audio chunks",
			Buckets: prometheus.ExponentialBuckets(4096, 2, 10),
		}),

		ServiceCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "anamnesi_service_calls_total",
			Help: "Calls to model-backed services",
		}, []string{"flow"}),
		ServiceCallFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "anamnesi_service_call_failures_total",
			Help: "Failed calls to model-backed services",
		}, []string{"flow"}),
		ServiceCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "anamnesi_service_call_duration_seconds",
			Help:    "Latency of model-backed service calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"flow"}),

		AnalysesApplied: f.NewCounter(prometheus.CounterOpts{
			Name: "anamnesi_analyses_applied_total",
			Help: "Analysis results applied to interview state",
		}),
		AnalysesStale: f.NewCounter(prometheus.CounterOpts{
			Name: "anamnesi_analyses_stale_total",
			Help: "Analysis results discarded because a newer result was already applied",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "anamnesi_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "anamnesi_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// ObserveCall records one service call outcome.
func (m *Metrics) ObserveCall(flow string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.ServiceCalls.WithLabelValues(flow).Inc()
	m.ServiceCallDuration.WithLabelValues(flow).Observe(seconds)
	if err != nil {
		m.ServiceCallFailures.WithLabelValues(flow).Inc()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
