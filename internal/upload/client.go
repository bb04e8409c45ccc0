package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/JSmith01/silence-detector/internal/metrics"
	"github.com/JSmith01/silence-detector/internal/session"
)

// Client publishes recordings to a remote endpoint
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{} // Concurrency limit
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains upload client configuration
type Config struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
}

// Metadata is the JSON part sent next to the audio file
type Metadata struct {
	RecordingID    string          `json:"recording_id"`
	StreamID       uint32          `json:"stream_id"`
	SampleRate     int             `json:"sample_rate"`
	Channels       int             `json:"channels"`
	Samples        int             `json:"samples"`
	Duration       float64         `json:"duration_seconds"`
	Activations    uint64          `json:"activations"`
	TonalAnomalies uint64          `json:"tonal_anomalies"`
	Tonal          bool            `json:"tonal"`
	Spectral       json.RawMessage `json:"spectral,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

// NewClient creates a new upload client. m may be nil.
func NewClient(config Config, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	if config.BackoffBase <= 0 {
		config.BackoffBase = time.Second
	}

	if config.BackoffMax <= 0 {
		config.BackoffMax = 30 * time.Second
	}

	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
		logger:     logger,
		metrics:    m,
	}, nil
}

// Publish sends a recording, retrying transient failures
func (c *Client) Publish(ctx context.Context, rec *session.Recording) error {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return ctx.Err()
	}

	startTime := time.Now()
	c.incrementTotalRequests()
	if c.metrics != nil {
		c.metrics.RecordUploadRequest()
	}

	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()
			if c.metrics != nil {
				c.metrics.RecordUploadRetry()
			}

			select {
			case <-time.After(c.backoff(attempt)):
			case <-ctx.Done():
				c.recordFailure(startTime)
				return ctx.Err()
			}
		}

		err := c.doRequest(ctx, rec)
		if err == nil {
			c.incrementSuccessRequests()
			c.updateAvgResponseTime(time.Since(startTime))
			if c.metrics != nil {
				c.metrics.RecordUploadSuccess(time.Since(startTime).Seconds())
			}

			c.logger.Info("Recording published",
				slog.String("recording_id", rec.ID),
				slog.Uint64("stream_id", uint64(rec.StreamID)),
				slog.Int("attempts", attempt+1),
				slog.Duration("elapsed", time.Since(startTime)),
			)
			return nil
		}

		lastErr = err
		c.logger.Warn("Publish attempt failed",
			slog.String("recording_id", rec.ID),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)

		if !isRetryableError(err) {
			break
		}
	}

	c.recordFailure(startTime)
	return fmt.Errorf("publish failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// Consume lets the client act as a session sink
func (c *Client) Consume(ctx context.Context, rec *session.Recording) error {
	return c.Publish(ctx, rec)
}

// backoff returns the exponential delay before the given retry attempt
func (c *Client) backoff(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt-1))) * c.config.BackoffBase
	if d > c.config.BackoffMax {
		d = c.config.BackoffMax
	}
	return d
}

// doRequest performs a single upload request
func (c *Client) doRequest(ctx context.Context, rec *session.Recording) error {
	body, contentType, err := createMultipartRequest(rec)
	if err != nil {
		return fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "silence-detector/1.0")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return nil
}

// NewMetadata builds the metadata part for a recording
func NewMetadata(rec *session.Recording) (*Metadata, error) {
	meta := &Metadata{
		RecordingID:    rec.ID,
		StreamID:       rec.StreamID,
		SampleRate:     rec.Format.SampleRate,
		Channels:       rec.Format.Channels,
		Samples:        rec.Samples,
		Duration:       rec.Duration.Seconds(),
		Activations:    rec.Activations,
		TonalAnomalies: rec.TonalAnomalies,
		Tonal:          rec.Tonal,
		StartedAt:      rec.StartedAt,
		FinishedAt:     rec.FinishedAt,
	}
	if rec.Spectral != nil {
		encoded, err := json.Marshal(rec.Spectral)
		if err != nil {
			return nil, err
		}
		meta.Spectral = encoded
	}
	return meta, nil
}

// createMultipartRequest creates a multipart/form-data request body
func createMultipartRequest(rec *session.Recording) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("audio", rec.ID+".wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(rec.WAV); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	meta, err := NewMetadata(rec)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build metadata: %w", err)
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := writer.WriteField("metadata", string(metaJSON)); err != nil {
		return nil, "", fmt.Errorf("failed to write metadata field: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// isRetryableError reports whether another attempt may succeed: server errors,
// rate limiting, timeouts and network failures.
func isRetryableError(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func (c *Client) recordFailure(startTime time.Time) {
	c.incrementFailedRequests()
	if c.metrics != nil {
		c.metrics.RecordUploadFailure(time.Since(startTime).Seconds())
	}
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
	}
}

// Close waits for in-flight publishes to finish
func (c *Client) Close() error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}
	return nil
}
