package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JSmith01/silence-detector/internal/config"
	"github.com/JSmith01/silence-detector/internal/metrics"
	"github.com/JSmith01/silence-detector/internal/session"
	"github.com/JSmith01/silence-detector/internal/storage"
	"github.com/JSmith01/silence-detector/internal/upload"
)

// RecordingStore is the read side of the recording catalog
type RecordingStore interface {
	List(ctx context.Context, limit int) ([]storage.Entry, error)
	Get(ctx context.Context, id string) (*storage.Entry, error)
	OpenAudio(ctx context.Context, id string) (*os.File, *storage.Entry, error)
}

// UploadStats exposes publisher statistics
type UploadStats interface {
	GetStats() upload.ClientStats
}

// Dependencies are the components the HTTP API reports on. Store, UDP and
// Uploader may be nil when the matching feature is disabled.
type Dependencies struct {
	Config     *config.Config
	Sessions   *session.Manager
	UDP        *UDPServer
	Store      RecordingStore
	Uploader   UploadStats
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
	Version    string
	ListenAddr string // overrides Config.HTTP when set
}

// HTTPServer provides HTTP API endpoints for monitoring and management
type HTTPServer struct {
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
	deps     Dependencies

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(logger *slog.Logger, deps Dependencies) *HTTPServer {
	h := &HTTPServer{
		logger:    logger,
		deps:      deps,
		startTime: time.Now(),
	}

	addr := deps.ListenAddr
	if addr == "" {
		addr = net.JoinHostPort(deps.Config.HTTP.Address, strconv.Itoa(deps.Config.HTTP.Port))
	}

	h.server = &http.Server{
		Addr:         addr,
		Handler:      h.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed API handler
func (h *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	h.setupRoutes(mux)
	return mux
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Health check endpoint
	mux.HandleFunc("GET /health", h.withMetrics("/health", h.handleHealth))

	// Session monitoring and control
	mux.HandleFunc("GET /sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("GET /sessions/{id}", h.withMetrics("/sessions/{id}", h.handleSessionDetail))
	mux.HandleFunc("PUT /sessions/{id}/threshold", h.withMetrics("/sessions/{id}/threshold", h.handleSessionThreshold))
	mux.HandleFunc("DELETE /sessions/{id}", h.withMetrics("/sessions/{id}", h.handleSessionFinish))

	// Recording catalog
	mux.HandleFunc("GET /recordings", h.withMetrics("/recordings", h.handleRecordings))
	mux.HandleFunc("GET /recordings/{id}", h.withMetrics("/recordings/{id}", h.handleRecordingDetail))
	mux.HandleFunc("GET /recordings/{id}/audio", h.withMetrics("/recordings/{id}/audio", h.handleRecordingAudio))

	// Configuration endpoint
	mux.HandleFunc("GET /config", h.withMetrics("/config", h.handleConfig))

	// Prometheus metrics endpoint (not instrumented itself)
	gatherer := h.deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Root endpoint with API documentation
	mux.HandleFunc("GET /{$}", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Capture the status code
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		if h.deps.Metrics == nil {
			return
		}

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)

		h.deps.Metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.deps.Metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}
	h.listener = listener

	h.logger.Info("Starting HTTP API server",
		slog.String("address", listener.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func parseStreamID(r *http.Request) (uint32, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid stream ID %q", r.PathValue("id"))
	}
	return uint32(id), nil
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]interface{}{
		"session_manager": map[string]interface{}{
			"status":          "running",
			"active_sessions": h.deps.Sessions.GetActiveSessionCount(),
		},
	}

	if h.deps.UDP != nil {
		udpStats := h.deps.UDP.GetStatistics()
		components["udp_server"] = map[string]interface{}{
			"status":            "running",
			"packets_received":  udpStats.PacketsReceived,
			"packets_processed": udpStats.PacketsProcessed,
			"packets_dropped":   udpStats.PacketsDropped,
			"parse_errors":      udpStats.ParseErrors,
			"queue_size":        udpStats.QueueSize,
		}
	}

	if h.deps.Store != nil {
		components["storage"] = map[string]interface{}{"status": "running"}
	}

	if h.deps.Uploader != nil {
		uploadStats := h.deps.Uploader.GetStats()
		components["upload"] = map[string]interface{}{
			"status":          "running",
			"total_requests":  uploadStats.TotalRequests,
			"success_rate":    uploadStats.SuccessRate,
			"active_requests": uploadStats.ActiveRequests,
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "silence-detector",
			"version": h.deps.Version,
		},
		"components": components,
	})
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.deps.Sessions.GetAllSessions()
	infos := make([]session.Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.GetInfo())
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_sessions": len(infos),
		"timestamp":      time.Now().UTC(),
		"sessions":       infos,
	})
}

// handleSessionDetail implements GET /sessions/{id}
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	streamID, err := parseStreamID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s, exists := h.deps.Sessions.GetSession(streamID)
	if !exists {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	writeJSON(w, http.StatusOK, s.GetInfo())
}

// thresholdRequest is the body of PUT /sessions/{id}/threshold
type thresholdRequest struct {
	Threshold *float32 `json:"threshold"`
}

// handleSessionThreshold implements PUT /sessions/{id}/threshold
func (h *HTTPServer) handleSessionThreshold(w http.ResponseWriter, r *http.Request) {
	streamID, err := parseStreamID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req thresholdRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1024)).Decode(&req); err != nil || req.Threshold == nil {
		writeError(w, http.StatusBadRequest, "body must be {\"threshold\": <0..1>}")
		return
	}

	s, exists := h.deps.Sessions.GetSession(streamID)
	if !exists {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	if err := s.UpdateThreshold(*req.Threshold); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, session.ErrSessionStopped) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}

	h.logger.Info("Session threshold updated",
		slog.Uint64("stream_id", uint64(streamID)),
		slog.Float64("threshold", float64(*req.Threshold)),
	)

	writeJSON(w, http.StatusOK, s.GetInfo())
}

// handleSessionFinish implements DELETE /sessions/{id}
func (h *HTTPServer) handleSessionFinish(w http.ResponseWriter, r *http.Request) {
	streamID, err := parseStreamID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.deps.Sessions.FinishSession(r.Context(), streamID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// handleRecordings implements GET /recordings?limit=N
func (h *HTTPServer) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "storage disabled")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	entries, err := h.deps.Store.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list recordings", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list recordings")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_recordings": len(entries),
		"recordings":       entries,
	})
}

// handleRecordingDetail implements GET /recordings/{id}
func (h *HTTPServer) handleRecordingDetail(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "storage disabled")
		return
	}

	entry, err := h.deps.Store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "recording not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// handleRecordingAudio implements GET /recordings/{id}/audio
func (h *HTTPServer) handleRecordingAudio(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "storage disabled")
		return
	}

	f, entry, err := h.deps.Store.OpenAudio(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "recording not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", entry.ID+".wav"))
	http.ServeContent(w, r, entry.ID+".wav", entry.CreatedAt, f)
}

// handleConfig implements the /config endpoint. Secrets are excluded by the
// json tags of the configuration types.
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Config)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "silence-detector",
		"version": h.deps.Version,
		"endpoints": map[string]interface{}{
			"GET /":                        "API documentation",
			"GET /health":                  "Service health check",
			"GET /sessions":                "List active sessions",
			"GET /sessions/{id}":           "Get session details",
			"PUT /sessions/{id}/threshold": "Change the silence threshold of a session",
			"DELETE /sessions/{id}":        "Finish a session and return its recording",
			"GET /recordings":              "List stored recordings",
			"GET /recordings/{id}":         "Get recording metadata and spectral result",
			"GET /recordings/{id}/audio":   "Download the recording as WAV",
			"GET /config":                  "Get service configuration",
			"GET /metrics":                 "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
