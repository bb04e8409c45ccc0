package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the silence detector
type Metrics struct {
	// UDP packet metrics
	PacketsReceived  prometheus.Counter
	PacketsProcessed prometheus.Counter
	ParseErrors      prometheus.Counter
	BlocksOutOfOrder prometheus.Counter

	// Block pipeline metrics
	BlocksReceived    prometheus.Counter
	BlocksDropped     prometheus.Counter
	BlocksAccumulated prometheus.Counter
	GateActivations   prometheus.Counter

	// Spectral analysis metrics
	Analyses         prometheus.Counter
	AnalysisDuration prometheus.Histogram
	Similarity       prometheus.Histogram
	TonalAnomalies   prometheus.Counter
	BackendFallbacks prometheus.Counter

	// Recording metrics
	RecordingsEncoded prometheus.Counter
	RecordingSize     prometheus.Histogram
	EncodeErrors      prometheus.Counter

	// Session metrics
	ActiveSessions   prometheus.Gauge
	SessionsCreated  prometheus.Counter
	SessionsFinished prometheus.Counter
	SessionDuration  prometheus.Histogram

	// Upload metrics
	UploadRequests  prometheus.Counter
	UploadSuccesses prometheus.Counter
	UploadFailures  prometheus.Counter
	UploadDuration  prometheus.Histogram
	UploadRetries   prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all Prometheus metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them on the global handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// UDP packet metrics
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "silence_packets_received_total",
			Help: "Total number of UDP packets received",
		}),
		PacketsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "silence_packets_processed_total",
			Help: "Total number of UDP packets successfully processed",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "silence_parse_errors_total",
			Help: "Total number of packet parsing errors",
		}),
		BlocksOutOfOrder: factory.NewCounter(prometheus.CounterOpts{
			Name: "silence_blocks_out_of_order_total",
			Help: "Total number of blocks discarded as stale or lost to a sequence gap",
		}),

		// Block pipeline metrics
		BlocksReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "silence_blocks_received_total",
			Help: "Total number of sample blocks delivered to sessions",
		}),
		BlocksDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "silence_blocks_dropped_total",
			Help: "Total number of sample blocks dropped because a session queue was full or stopped",
		}),
		BlocksAccumulated: factory.NewCounter(prometheus.CounterOpts{
			Name: "silence_blocks_accumulated_total",
			Help: "Total number of sample blocks appended to recordings",
		}),
		GateActivations: factory.NewCounter(prometheus.CounterOpts{
			Name: "silence_gate_activations_total",
			Help: "Total number of silence to sound transitions",
		}),

		// Spectral analysis metrics
		Analyses: factory.NewCounter(prometheus.CounterOpts{
			Name: "silence_analyses_total",
			Help: "Total number of spectral analyses performed",
		}),
		AnalysisDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "silence_analysis_duration_seconds",
			Help:    "Time spent analyzing one frame",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 12), // 10µs to ~20ms
		}),
		Similarity: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "silence_similarity",
			Help:    "Spectral similarity to white noise of analyzed frames",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 to 1.0
		}),
		TonalAnomalies: factory.NewCounter(prometheus.CounterOpts{
			Name: "silence_tonal_anomalies_total",
			Help: "Total number of frames classified as tonal interference",
		}),
		BackendFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "silence_backend_fallbacks_total",
			Help: "Total number of analyses that fell back to direct summation",
		}),

		// Recording metrics
		RecordingsEncoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "silence_recordings_encoded_total",
			Help: "Total number of recordings encoded as WAV",
		}),
		RecordingSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "silence_recording_size_bytes",
			Help:    "Size of encoded recordings in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 14), // 1KB to ~16MB
		}),
		EncodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "silence_encode_errors_total",
			Help: "Total number of recordings that failed to encode",
		}),

		// Session metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "silence_active_sessions",
			Help: "Current number of active sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "silence_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsFinished: factory.NewCounter(prometheus.CounterOpts{
			Name: "silence_sessions_finished_total",
			Help: "Total number of sessions finished",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "silence_session_duration_seconds",
			Help:    "Duration of sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),

		// Upload metrics
		UploadRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "silence_upload_requests_total",
			Help: "Total number of recording upload requests",
		}),
		UploadSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "silence_upload_successes_total",
			Help: "Total number of successful recording uploads",
		}),
		UploadFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "silence_upload_failures_total",
			Help: "Total number of failed recording uploads",
		}),
		UploadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "silence_upload_duration_seconds",
			Help:    "Duration of recording uploads",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		UploadRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "silence_upload_retries_total",
			Help: "Total number of recording upload retries",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "silence_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "silence_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "silence_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordPacketReceived increments the packets received counter
func (m *Metrics) RecordPacketReceived() {
	m.PacketsReceived.Inc()
}

// RecordPacketProcessed increments the packets processed counter
func (m *Metrics) RecordPacketProcessed() {
	m.PacketsProcessed.Inc()
}

// RecordParseError increments the parse errors counter
func (m *Metrics) RecordParseError() {
	m.ParseErrors.Inc()
}

// RecordOutOfOrder adds blocks discarded by sequence reordering
func (m *Metrics) RecordOutOfOrder(count int) {
	m.BlocksOutOfOrder.Add(float64(count))
}

// RecordBlock records one block handed to a session
func (m *Metrics) RecordBlock(accepted bool) {
	m.BlocksReceived.Inc()
	if !accepted {
		m.BlocksDropped.Inc()
	}
}

// RecordActivation increments the gate activations counter
func (m *Metrics) RecordActivation() {
	m.GateActivations.Inc()
}

// RecordAnalysis records one spectral analysis result
func (m *Metrics) RecordAnalysis(similarity float64, durationSeconds float64, tonal bool) {
	m.Analyses.Inc()
	m.Similarity.Observe(similarity)
	m.AnalysisDuration.Observe(durationSeconds)
	if tonal {
		m.TonalAnomalies.Inc()
	}
}

// RecordBackendFallbacks adds analyses that fell back to direct summation
func (m *Metrics) RecordBackendFallbacks(count uint64) {
	m.BackendFallbacks.Add(float64(count))
}

// RecordRecording records an encoded recording and the blocks it carries
func (m *Metrics) RecordRecording(sizeBytes int, blocks uint64) {
	m.RecordingsEncoded.Inc()
	m.RecordingSize.Observe(float64(sizeBytes))
	m.BlocksAccumulated.Add(float64(blocks))
}

// RecordEncodeError increments the encode errors counter
func (m *Metrics) RecordEncodeError() {
	m.EncodeErrors.Inc()
}

// SetActiveSessions sets the current number of active sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionFinished increments the sessions finished counter and records duration
func (m *Metrics) RecordSessionFinished(durationSeconds float64) {
	m.SessionsFinished.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordUploadRequest increments upload requests counter
func (m *Metrics) RecordUploadRequest() {
	m.UploadRequests.Inc()
}

// RecordUploadSuccess records a successful upload
func (m *Metrics) RecordUploadSuccess(durationSeconds float64) {
	m.UploadSuccesses.Inc()
	m.UploadDuration.Observe(durationSeconds)
}

// RecordUploadFailure records a failed upload
func (m *Metrics) RecordUploadFailure(durationSeconds float64) {
	m.UploadFailures.Inc()
	m.UploadDuration.Observe(durationSeconds)
}

// RecordUploadRetry increments the retry counter
func (m *Metrics) RecordUploadRetry() {
	m.UploadRetries.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
