package session

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/JSmith01/silence-detector/internal/audio"
	"github.com/JSmith01/silence-detector/internal/gate"
	"github.com/JSmith01/silence-detector/internal/metrics"
	"github.com/JSmith01/silence-detector/internal/spectral"
)

// Defaults applied by NewSession to zero fields of Config
const (
	DefaultQueueSize      = 256
	DefaultPreallocSecond = 1
)

// Config describes one recording session
type Config struct {
	StreamID   uint32
	Format     audio.Format
	BlockSize  int     // expected samples per block; shorter blocks count as silent
	Threshold  float32 // gate threshold in [0, 1]
	QueueSize  int     // blocks buffered between the source and the real-time loop
	Thresholds spectral.Thresholds
}

// Info is a point-in-time view of a session for monitoring
type Info struct {
	StreamID        uint32           `json:"stream_id"`
	State           string           `json:"state"`
	SampleRate      int              `json:"sample_rate"`
	Channels        int              `json:"channels"`
	Threshold       float32          `json:"threshold"`
	StartTime       time.Time        `json:"start_time"`
	LastActivity    time.Time        `json:"last_activity"`
	Duration        time.Duration    `json:"duration"`
	BlocksDelivered uint64           `json:"blocks_delivered"`
	BlocksDropped   uint64           `json:"blocks_dropped"`
	BlocksProcessed uint64           `json:"blocks_processed"`
	Activations     uint64           `json:"activations"`
	TonalAnomalies  uint64           `json:"tonal_anomalies"`
	LastResult      *spectral.Result `json:"last_result,omitempty"`
}

// finalBuffer is what the real-time loop hands over exactly once at stop
type finalBuffer struct {
	pcm       []int16
	blocks    uint64
	malformed uint64
}

// Session is a single recording session. Deliver is the only method meant to
// be called from a capture callback; it never blocks.
type Session struct {
	cfg      Config
	analyzer *spectral.Analyzer
	metrics  *metrics.Metrics
	logger   *slog.Logger

	// Real-time side
	blocks     chan audio.Block
	thresholds chan float32
	acks       chan struct{}
	stopCh     chan struct{}

	// Real-time to control
	detections chan audio.Block
	finished   chan finalBuffer

	started   atomic.Bool
	stopping  atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup

	startTime    time.Time
	lastActivity atomic.Int64
	threshold    atomic.Uint32 // float32 bits

	// Statistics
	delivered atomic.Uint64
	dropped   atomic.Uint64
	processed atomic.Uint64

	// Control loop results, guarded by mu
	mu          sync.RWMutex
	activations uint64
	tonal       uint64
	lastResult  *spectral.Result
	recording   *Recording
	err         error
}

// NewSession validates cfg and creates an idle session. The analyzer must be
// configured for cfg.Format.SampleRate and may be shared between sessions.
func NewSession(cfg Config, analyzer *spectral.Analyzer, logger *slog.Logger, m *metrics.Metrics) (*Session, error) {
	if analyzer == nil {
		return nil, fmt.Errorf("analyzer is required")
	}
	if err := cfg.Format.Validate(); err != nil {
		return nil, err
	}
	if err := gate.ValidateThreshold(cfg.Threshold); err != nil {
		return nil, err
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Thresholds == (spectral.Thresholds{}) {
		cfg.Thresholds = spectral.DefaultThresholds()
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		cfg:        cfg,
		analyzer:   analyzer,
		metrics:    m,
		logger:     logger.With(slog.Uint64("stream_id", uint64(cfg.StreamID))),
		blocks:     make(chan audio.Block, cfg.QueueSize),
		thresholds: make(chan float32, 1),
		acks:       make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		detections: make(chan audio.Block, 1),
		finished:   make(chan finalBuffer, 1),
		done:       make(chan struct{}),
	}
	s.threshold.Store(math.Float32bits(cfg.Threshold))

	return s, nil
}

// StreamID returns the stream this session records
func (s *Session) StreamID() uint32 {
	return s.cfg.StreamID
}

// Format returns the PCM format of the recording
func (s *Session) Format() audio.Format {
	return s.cfg.Format
}

// Start arms the gate and the accumulator and launches both loops
func (s *Session) Start() error {
	if s.stopping.Load() {
		return ErrSessionStopped
	}

	err := ErrAlreadyStarted
	s.startOnce.Do(func() {
		err = nil
		s.startTime = time.Now()
		s.lastActivity.Store(s.startTime.UnixNano())

		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			s.realtimeLoop()
		}()
		go func() {
			defer s.wg.Done()
			s.controlLoop()
		}()
		s.started.Store(true)

		s.logger.Info("Session started",
			slog.Int("sample_rate", s.cfg.Format.SampleRate),
			slog.Int("channels", s.cfg.Format.Channels),
			slog.Float64("threshold", float64(s.cfg.Threshold)),
			slog.String("backend", s.analyzer.Backend()),
		)
	})
	return err
}

// Deliver queues a block for the real-time loop. It never blocks: when the
// session is not recording or the queue is full the block is dropped and false
// is returned. The caller must not modify the block afterwards.
func (s *Session) Deliver(block audio.Block) bool {
	if !s.started.Load() || s.stopping.Load() {
		s.dropped.Add(1)
		s.recordBlock(false)
		return false
	}

	select {
	case s.blocks <- block:
		s.delivered.Add(1)
		s.lastActivity.Store(time.Now().UnixNano())
		s.recordBlock(true)
		return true
	default:
		s.dropped.Add(1)
		s.recordBlock(false)
		return false
	}
}

func (s *Session) recordBlock(accepted bool) {
	if s.metrics != nil {
		s.metrics.RecordBlock(accepted)
	}
}

// UpdateThreshold changes the gate threshold for subsequent blocks
func (s *Session) UpdateThreshold(threshold float32) error {
	if err := gate.ValidateThreshold(threshold); err != nil {
		return err
	}
	if s.stopping.Load() {
		return ErrSessionStopped
	}

	s.threshold.Store(math.Float32bits(threshold))

	// Latest value wins; a pending older update is discarded
	for {
		select {
		case s.thresholds <- threshold:
			return nil
		default:
			select {
			case <-s.thresholds:
			default:
			}
		}
	}
}

// Threshold returns the current gate threshold
func (s *Session) Threshold() float32 {
	return math.Float32frombits(s.threshold.Load())
}

// Stop stops forwarding blocks, lets the blocks already queued complete and
// returns the finalized recording. It is idempotent: every call returns the
// same recording. ctx bounds only the wait, not the finalization.
func (s *Session) Stop(ctx context.Context) (*Recording, error) {
	s.stopOnce.Do(func() {
		s.stopping.Store(true)
		// Waits for a concurrent Start, or prevents a later one
		s.startOnce.Do(func() {})
		if !s.started.Load() {
			s.mu.Lock()
			s.err = ErrNotStarted
			s.mu.Unlock()
			close(s.done)
			return
		}
		close(s.stopCh)
	})

	select {
	case <-s.done:
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.recording, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed once the session has been finalized
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Stopping reports whether Stop has been called
func (s *Session) Stopping() bool {
	return s.stopping.Load()
}

// LastActivity returns when a block was last accepted
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// StartTime returns when the session was started, or the zero time
func (s *Session) StartTime() time.Time {
	if !s.started.Load() {
		return time.Time{}
	}
	return s.startTime
}

// LastResult returns the spectral result of the most recent detection
func (s *Session) LastResult() *spectral.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastResult
}

// GetInfo returns a monitoring snapshot
func (s *Session) GetInfo() Info {
	state := "idle"
	switch {
	case s.isDone():
		state = "finished"
	case s.stopping.Load():
		state = "stopping"
	case s.started.Load():
		state = "recording"
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{
		StreamID:        s.cfg.StreamID,
		State:           state,
		SampleRate:      s.cfg.Format.SampleRate,
		Channels:        s.cfg.Format.Channels,
		Threshold:       s.Threshold(),
		BlocksDelivered: s.delivered.Load(),
		BlocksDropped:   s.dropped.Load(),
		BlocksProcessed: s.processed.Load(),
		Activations:     s.activations,
		TonalAnomalies:  s.tonal,
		LastResult:      s.lastResult,
	}
	if s.started.Load() {
		info.StartTime = s.startTime
		info.LastActivity = s.LastActivity()
		info.Duration = time.Since(s.startTime)
	}
	return info
}

func (s *Session) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// realtimeLoop owns the gate and the accumulator for the whole session. It
// never logs and never waits on the control loop.
func (s *Session) realtimeLoop() {
	g := gate.New(s.cfg.BlockSize)
	acc := audio.NewAccumulator(s.cfg.Format.Channels,
		s.cfg.Format.SampleRate*s.cfg.Format.Channels*DefaultPreallocSecond)
	acc.Start()
	threshold := s.cfg.Threshold

	for {
		select {
		case block := <-s.blocks:
			// Control messages sent before this block take effect first
			select {
			case t := <-s.thresholds:
				threshold = t
			default:
			}
			select {
			case <-s.acks:
				g.Ack()
			default:
			}
			s.process(g, acc, block, threshold)

		case <-s.acks:
			g.Ack()

		case t := <-s.thresholds:
			threshold = t

		case <-s.stopCh:
			// Blocks queued before the stop are still part of the recording
		drain:
			for {
				select {
				case block := <-s.blocks:
					s.process(g, acc, block, threshold)
				default:
					break drain
				}
			}

			g.Dispose()
			blocks, malformed := acc.Blocks(), acc.Dropped()
			s.finished <- finalBuffer{pcm: acc.Finish(), blocks: blocks, malformed: malformed}
			return
		}
	}
}

func (s *Session) process(g *gate.Gate, acc *audio.Accumulator, block audio.Block, threshold float32) {
	acc.Append(block)
	s.processed.Add(1)

	if emitted, ok := g.Classify(block, threshold); ok {
		// The gate emits nothing further until acknowledged, so the
		// detection slot is always free here.
		select {
		case s.detections <- emitted:
		default:
		}
	}
}

// controlLoop analyzes detections and finalizes the recording
func (s *Session) controlLoop() {
	for {
		select {
		case block := <-s.detections:
			s.handleDetection(block)

		case buf := <-s.finished:
			// A detection sent just before the final buffer is still analyzed
			select {
			case block := <-s.detections:
				s.handleDetection(block)
			default:
			}
			s.finalize(buf)
			return
		}
	}
}

func (s *Session) handleDetection(block audio.Block) {
	result := s.analyzer.AnalyzeBlock(block)
	tonal := result.Tonal(s.cfg.Thresholds)

	s.mu.Lock()
	s.activations++
	if tonal {
		s.tonal++
	}
	s.lastResult = &result
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordActivation()
		s.metrics.RecordAnalysis(result.Similarity, result.Duration.Seconds(), tonal)
		if result.Backend != s.analyzer.Backend() {
			s.metrics.RecordBackendFallbacks(1)
		}
	}

	attrs := []any{
		slog.Uint64("sequence", uint64(block.Sequence)),
		slog.Float64("similarity", result.Similarity),
		slog.String("backend", result.Backend),
	}
	if len(result.TopFrequencies) > 0 {
		attrs = append(attrs,
			slog.Float64("dominant_hz", result.TopFrequencies[0].FrequencyHz),
			slog.Float64("dominant_magnitude", result.TopFrequencies[0].Magnitude),
		)
	}

	if tonal {
		s.logger.Warn("Tonal interference detected", attrs...)
	} else {
		s.logger.Debug("Non-silent block analyzed", attrs...)
	}

	// Re-arm the gate now that the evidence has been consumed
	select {
	case s.acks <- struct{}{}:
	default:
	}
}

func (s *Session) finalize(buf finalBuffer) {
	now := time.Now()

	s.mu.Lock()
	defer func() {
		s.mu.Unlock()
		close(s.done)
	}()

	wav, err := audio.EncodeFormat(buf.pcm, s.cfg.Format)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordEncodeError()
		}
		s.logger.Error("Failed to encode recording", slog.String("error", err.Error()))
		s.err = fmt.Errorf("failed to encode recording: %w", err)
		return
	}

	rec := &Recording{
		ID:             uuid.NewString(),
		StreamID:       s.cfg.StreamID,
		Format:         s.cfg.Format,
		WAV:            wav,
		Samples:        len(buf.pcm),
		Blocks:         buf.blocks,
		DroppedBlocks:  s.dropped.Load() + buf.malformed,
		Duration:       audioDuration(len(buf.pcm), s.cfg.Format),
		Activations:    s.activations,
		TonalAnomalies: s.tonal,
		Spectral:       s.lastResult,
		StartedAt:      s.startTime,
		FinishedAt:     now,
	}
	if rec.Spectral != nil {
		rec.Tonal = rec.Spectral.Tonal(s.cfg.Thresholds)
	}

	if s.metrics != nil {
		s.metrics.RecordRecording(len(wav), buf.blocks)
	}

	s.logger.Info("Session finalized",
		slog.String("recording_id", rec.ID),
		slog.Int("samples", rec.Samples),
		slog.Uint64("blocks", rec.Blocks),
		slog.Uint64("dropped_blocks", rec.DroppedBlocks),
		slog.Uint64("activations", rec.Activations),
		slog.Int("bytes", len(wav)),
		slog.Duration("audio_duration", rec.Duration),
	)

	s.recording = rec
}
