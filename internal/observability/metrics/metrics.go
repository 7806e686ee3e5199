// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "stt_service"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestsActive  prometheus.Gauge

	// Validation metrics
	ValidationRejected *prometheus.CounterVec

	// Audio metrics
	AudioBytesReceived    prometheus.Counter
	AudioSecondsProcessed prometheus.Counter
	DecodeLatency         *prometheus.HistogramVec
	DecodeErrors          *prometheus.CounterVec

	// Recognition metrics
	ModelLoaded      prometheus.Gauge
	InferenceLatency *prometheus.HistogramVec
	InferenceErrors  *prometheus.CounterVec
	LockWait         prometheus.Histogram

	// Translation metrics
	TranslationLatency  *prometheus.HistogramVec
	TranslationFailures *prometheus.CounterVec
	TranslationSkipped  prometheus.Counter

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// gRPC metrics
	GRPCCalls *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all Prometheus metrics and registers them with reg.
// A nil reg creates unregistered metrics, which is convenient in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by route and status code",
		}, []string{"route", "code"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"route"}),
		RequestsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_active",
			Help:      "Number of in-flight HTTP requests",
		}),

		ValidationRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_rejected_total",
			Help:      "Total number of requests rejected by validation",
		}, []string{"reason"}),

		AudioBytesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total uploaded audio bytes",
		}),
		AudioSecondsProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_seconds_processed_total",
			Help:      "Total seconds of normalized audio",
		}),
		DecodeLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decode_latency_seconds",
			Help:      "Audio decode and normalization latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"format"}),
		DecodeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Total number of audio decode failures",
		}, []string{"format"}),

		ModelLoaded: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_loaded",
			Help:      "1 when the recognition model is loaded",
		}),
		InferenceLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_latency_seconds",
			Help:      "Adapter switch, forward pass and decode latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"language"}),
		InferenceErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_errors_total",
			Help:      "Total number of inference failures",
		}, []string{"language", "error_type"}),
		LockWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_lock_wait_seconds",
			Help:      "Time spent waiting for the shared model",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),

		TranslationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "translation_latency_seconds",
			Help:      "Translation provider latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		}, []string{"provider"}),
		TranslationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translation_failures_total",
			Help:      "Total number of translation failures replaced by an empty translation",
		}, []string{"provider", "reason"}),
		TranslationSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translation_skipped_total",
			Help:      "Total number of empty transcriptions that skipped translation",
		}),

		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		GRPCCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_calls_total",
			Help:      "Total number of gRPC calls by method and code",
		}, []string{"method", "code"}),
	}
}

// RecordRequest records a completed HTTP request.
func (m *Metrics) RecordRequest(route, code string, durationSeconds float64) {
	m.RequestsTotal.WithLabelValues(route, code).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(durationSeconds)
}

// RecordValidationRejected records a request rejected before any decode.
func (m *Metrics) RecordValidationRejected(reason string) {
	m.ValidationRejected.WithLabelValues(reason).Inc()
}

// RecordAudioReceived records uploaded audio bytes.
func (m *Metrics) RecordAudioReceived(bytes int64) {
	m.AudioBytesReceived.Add(float64(bytes))
}

// RecordDecode records a decode attempt.
func (m *Metrics) RecordDecode(format string, err error, latencySeconds, audioSeconds float64) {
	m.DecodeLatency.WithLabelValues(format).Observe(latencySeconds)
	if err != nil {
		m.DecodeErrors.WithLabelValues(format).Inc()
		return
	}
	m.AudioSecondsProcessed.Add(audioSeconds)
}

// SetModelLoaded flips the model_loaded gauge.
func (m *Metrics) SetModelLoaded(loaded bool) {
	if loaded {
		m.ModelLoaded.Set(1)
		return
	}
	m.ModelLoaded.Set(0)
}

// RecordInference records one engine prediction.
func (m *Metrics) RecordInference(language string, lockWaitSeconds, latencySeconds float64) {
	m.LockWait.Observe(lockWaitSeconds)
	m.InferenceLatency.WithLabelValues(language).Observe(latencySeconds)
}

// RecordInferenceError records an inference failure.
func (m *Metrics) RecordInferenceError(language, errorType string) {
	m.InferenceErrors.WithLabelValues(language, errorType).Inc()
}

// RecordTranslation records a translation attempt. A non-empty reason marks
// a failure.
func (m *Metrics) RecordTranslation(provider, reason string, latencySeconds float64) {
	m.TranslationLatency.WithLabelValues(provider).Observe(latencySeconds)
	if reason != "" {
		m.TranslationFailures.WithLabelValues(provider, reason).Inc()
	}
}

// RecordTranslationSkipped records a translation short-circuited on empty text.
func (m *Metrics) RecordTranslationSkipped() {
	m.TranslationSkipped.Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordGRPCCall records a finished gRPC call.
func (m *Metrics) RecordGRPCCall(method, code string) {
	m.GRPCCalls.WithLabelValues(method, code).Inc()
}
