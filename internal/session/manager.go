package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/JSmith01/silence-detector/internal/audio"
	"github.com/JSmith01/silence-detector/internal/metrics"
	"github.com/JSmith01/silence-detector/internal/spectral"
)

// Sink consumes finished recordings (catalog, publisher, ...)
type Sink interface {
	Consume(ctx context.Context, rec *Recording) error
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(ctx context.Context, rec *Recording) error

// Consume calls f(ctx, rec)
func (f SinkFunc) Consume(ctx context.Context, rec *Recording) error {
	return f(ctx, rec)
}

// ManagerConfig contains configuration for the session manager
type ManagerConfig struct {
	// Template for new sessions. StreamID is ignored; Format and Threshold
	// may be overridden per session through Options.
	Session  Config
	Analysis spectral.Config

	MaxSessions     int
	IdleTimeout     time.Duration
	MaxDuration     time.Duration // 0 = unlimited
	CleanupInterval time.Duration
	StopTimeout     time.Duration
}

// Options override the session template for one stream
type Options struct {
	SampleRate int
	Channels   int
	Threshold  float32 // 0 selects the template threshold
}

// Manager manages all active sessions
type Manager struct {
	cfg     ManagerConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	sessions map[uint32]*Session
	mu       sync.RWMutex

	// One analyzer per sample rate, shared by sessions
	analyzers  map[int]*spectral.Analyzer
	analyzerMu sync.Mutex

	sinks   []Sink
	sinkWG  sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
	stopped sync.Once
}

// NewManager creates a session manager and starts its cleanup routine
func NewManager(cfg ManagerConfig, logger *slog.Logger, m *metrics.Metrics, sinks ...Sink) (*Manager, error) {
	if cfg.MaxSessions <= 0 {
		return nil, fmt.Errorf("max sessions must be positive, got %d", cfg.MaxSessions)
	}
	if cfg.IdleTimeout <= 0 {
		return nil, fmt.Errorf("idle timeout must be positive, got %v", cfg.IdleTimeout)
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	if cfg.Session.Format == (audio.Format{}) {
		cfg.Session.Format = audio.DefaultFormat()
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	mgr := &Manager{
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		sessions:  make(map[uint32]*Session),
		analyzers: make(map[int]*spectral.Analyzer),
		sinks:     sinks,
		ctx:       ctx,
		cancel:    cancel,
		cleanup:   make(chan struct{}),
	}

	// Build the default analyzer eagerly so configuration errors surface here
	if _, err := mgr.analyzerFor(cfg.Session.Format.SampleRate); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create analyzer: %w", err)
	}

	go mgr.startCleanupRoutine()

	return mgr, nil
}

func (m *Manager) analyzerFor(sampleRate int) (*spectral.Analyzer, error) {
	m.analyzerMu.Lock()
	defer m.analyzerMu.Unlock()

	if a, ok := m.analyzers[sampleRate]; ok {
		return a, nil
	}

	cfg := m.cfg.Analysis
	cfg.SampleRate = sampleRate
	a, err := spectral.NewAnalyzer(cfg, m.logger)
	if err != nil {
		return nil, err
	}
	m.analyzers[sampleRate] = a
	return a, nil
}

// CreateSession creates and starts a session for streamID
func (m *Manager) CreateSession(streamID uint32, opts Options) (*Session, error) {
	cfg := m.cfg.Session
	cfg.StreamID = streamID
	if opts.SampleRate > 0 {
		cfg.Format.SampleRate = opts.SampleRate
	}
	if opts.Channels > 0 {
		cfg.Format.Channels = opts.Channels
	}
	if opts.Threshold != 0 {
		cfg.Threshold = opts.Threshold
	}

	analyzer, err := m.analyzerFor(cfg.Format.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create analyzer: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[streamID]; exists {
		return nil, fmt.Errorf("stream %d: %w", streamID, ErrSessionExists)
	}
	if len(m.sessions) >= m.cfg.MaxSessions {
		return nil, fmt.Errorf("stream %d: %w (limit %d)", streamID, ErrTooManySessions, m.cfg.MaxSessions)
	}

	session, err := NewSession(cfg, analyzer, m.logger, m.metrics)
	if err != nil {
		return nil, fmt.Errorf("stream %d: %w", streamID, err)
	}
	if err := session.Start(); err != nil {
		return nil, fmt.Errorf("stream %d: %w", streamID, err)
	}

	m.sessions[streamID] = session
	if m.metrics != nil {
		m.metrics.RecordSessionCreated()
		m.metrics.SetActiveSessions(len(m.sessions))
	}

	return session, nil
}

// GetSession retrieves an active session
func (m *Manager) GetSession(streamID uint32) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[streamID]
	return session, exists
}

// GetActiveSessionCount returns the number of currently active sessions
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllSessions returns a snapshot of all active sessions ordered by stream ID
func (m *Manager) GetAllSessions() []*Session {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StreamID() < sessions[j].StreamID()
	})
	return sessions
}

// FinishSession stops the session, removes it and hands the recording to the
// sinks in the background.
func (m *Manager) FinishSession(ctx context.Context, streamID uint32) (*Recording, error) {
	m.mu.Lock()
	session, exists := m.sessions[streamID]
	if exists {
		delete(m.sessions, streamID)
	}
	active := len(m.sessions)
	m.mu.Unlock()

	if !exists {
		return nil, fmt.Errorf("stream %d: %w", streamID, ErrSessionNotFound)
	}

	if m.metrics != nil {
		m.metrics.SetActiveSessions(active)
	}

	rec, err := session.Stop(ctx)
	if m.metrics != nil {
		m.metrics.RecordSessionFinished(time.Since(session.StartTime()).Seconds())
	}
	if err != nil {
		m.logger.Error("Failed to finalize session",
			slog.Uint64("stream_id", uint64(streamID)),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("stream %d: %w", streamID, err)
	}

	m.dispatch(rec)
	return rec, nil
}

// dispatch runs every sink for rec on its own goroutine
func (m *Manager) dispatch(rec *Recording) {
	if len(m.sinks) == 0 {
		return
	}

	m.sinkWG.Add(1)
	go func() {
		defer m.sinkWG.Done()

		for _, sink := range m.sinks {
			if err := sink.Consume(context.WithoutCancel(m.ctx), rec); err != nil {
				m.logger.Error("Recording sink failed",
					slog.String("recording_id", rec.ID),
					slog.Uint64("stream_id", uint64(rec.StreamID)),
					slog.String("error", err.Error()),
				)
			}
		}
	}()
}

// Stop finishes every session, waits for the sinks and stops the cleanup routine
func (m *Manager) Stop() {
	m.stopped.Do(func() {
		m.logger.Info("Stopping session manager...")

		m.cancel()
		<-m.cleanup

		m.mu.RLock()
		ids := make([]uint32, 0, len(m.sessions))
		for id := range m.sessions {
			ids = append(ids, id)
		}
		m.mu.RUnlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.StopTimeout)
		defer cancel()

		for _, id := range ids {
			if _, err := m.FinishSession(ctx, id); err != nil {
				m.logger.Warn("Error finishing session on shutdown",
					slog.Uint64("stream_id", uint64(id)),
					slog.String("error", err.Error()),
				)
			}
		}

		m.sinkWG.Wait()

		m.logger.Info("Session manager stopped",
			slog.Int("finished_sessions", len(ids)),
		)
	})
}

// startCleanupRoutine finishes idle and overlong sessions until Stop
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	m.logger.Debug("Session cleanup routine started",
		slog.Duration("idle_timeout", m.cfg.IdleTimeout),
		slog.Duration("check_interval", m.cfg.CleanupInterval),
	)

	for {
		select {
		case <-m.ctx.Done():
			return

		case <-ticker.C:
			m.cleanupExpiredSessions()
		}
	}
}

// cleanupExpiredSessions finishes sessions that have been inactive for too long
// or exceeded the maximum duration
func (m *Manager) cleanupExpiredSessions() {
	now := time.Now()
	expired := make([]uint32, 0)

	m.mu.RLock()
	for streamID, session := range m.sessions {
		if now.Sub(session.LastActivity()) > m.cfg.IdleTimeout {
			expired = append(expired, streamID)
			continue
		}
		if m.cfg.MaxDuration > 0 && now.Sub(session.StartTime()) > m.cfg.MaxDuration {
			expired = append(expired, streamID)
		}
	}
	m.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	m.logger.Info("Finishing expired sessions",
		slog.Int("expired_count", len(expired)),
	)

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.StopTimeout)
	defer cancel()

	for _, streamID := range expired {
		if _, err := m.FinishSession(ctx, streamID); err != nil {
			m.logger.Warn("Failed to finish expired session",
				slog.Uint64("stream_id", uint64(streamID)),
				slog.String("error", err.Error()),
			)
		}
	}
}
