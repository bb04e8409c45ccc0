package spectral

import (
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/JSmith01/silence-detector/internal/audio"
)

// Defaults for the analysis frame
const (
	DefaultFrameSize = 128
	DefaultTopK      = 5

	// Relative tolerance an accelerated backend must meet against direct summation
	BackendTolerance = 1e-4
)

// Peak is one frequency bin and its magnitude
type Peak struct {
	FrequencyHz float64 `json:"frequency_hz"`
	Magnitude   float64 `json:"magnitude"`
}

// Result is the outcome of analyzing one frame
type Result struct {
	Similarity     float64       `json:"similarity"`
	TopFrequencies []Peak        `json:"top_frequencies"`
	Backend        string        `json:"backend"`
	Duration       time.Duration `json:"processing_time"`
}

// Thresholds decide when a non-silent frame is tonal interference rather
// than broadband noise.
type Thresholds struct {
	Similarity float64 `json:"similarity" yaml:"similarity_threshold"`
	Magnitude  float64 `json:"magnitude" yaml:"magnitude_threshold"`
}

// DefaultThresholds returns the empirically chosen anomaly thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{
		Similarity: 0.997,
		Magnitude:  0.0025,
	}
}

// Tonal reports whether the result looks like tonal interference: flatness
// below the similarity threshold and a non-DC peak above the magnitude threshold.
func (r Result) Tonal(th Thresholds) bool {
	if r.Similarity >= th.Similarity {
		return false
	}
	for _, p := range r.TopFrequencies {
		if p.Magnitude > th.Magnitude && p.FrequencyHz > 0 {
			return true
		}
	}
	return false
}

// Config configures an Analyzer
type Config struct {
	FrameSize  int
	SampleRate int
	TopK       int
	Backend    string // auto, direct or fft
}

// Analyzer computes spectral flatness and dominant frequencies for fixed-size
// frames. It is safe for concurrent use.
type Analyzer struct {
	frameSize  int
	sampleRate int
	topK       int
	binWidth   float64

	direct  *DirectTransform
	backend Transform
	logger  *slog.Logger

	// Statistics
	analyses  atomic.Uint64
	fallbacks atomic.Uint64
}

// Stats represents analyzer statistics
type Stats struct {
	Backend   string `json:"backend"`
	FrameSize int    `json:"frame_size"`
	Analyses  uint64 `json:"analyses"`
	Fallbacks uint64 `json:"fallbacks"`
}

// NewAnalyzer validates cfg, precomputes the direct transform tables and
// selects a backend. An fft or auto backend that fails its probe silently
// degrades to direct summation.
func NewAnalyzer(cfg Config, logger *slog.Logger) (*Analyzer, error) {
	if cfg.FrameSize == 0 {
		cfg.FrameSize = DefaultFrameSize
	}
	if cfg.TopK == 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendAuto
	}
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.FrameSize < 2 || cfg.FrameSize&(cfg.FrameSize-1) != 0 {
		return nil, fmt.Errorf("frame size must be a power of two >= 2, got %d", cfg.FrameSize)
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.TopK < 0 {
		return nil, fmt.Errorf("top_k cannot be negative, got %d", cfg.TopK)
	}

	a := &Analyzer{
		frameSize:  cfg.FrameSize,
		sampleRate: cfg.SampleRate,
		topK:       cfg.TopK,
		binWidth:   float64(cfg.SampleRate) / float64(cfg.FrameSize),
		direct:     NewDirectTransform(cfg.FrameSize),
		logger:     logger,
	}
	a.backend = a.direct

	switch cfg.Backend {
	case BackendDirect:
	case BackendFFT, BackendAuto:
		candidate := NewFFTTransform(cfg.FrameSize)
		if agrees(a.direct, candidate, BackendTolerance) {
			a.backend = candidate
		} else {
			a.fallbacks.Add(1)
			logger.Warn("FFT backend failed verification, using direct transform",
				slog.Int("frame_size", cfg.FrameSize),
			)
		}
	default:
		return nil, fmt.Errorf("unknown backend %q (expected auto, direct or fft)", cfg.Backend)
	}

	return a, nil
}

// FrameSize returns N
func (a *Analyzer) FrameSize() int {
	return a.frameSize
}

// Backend returns the name of the transform in use
func (a *Analyzer) Backend() string {
	return a.backend.Name()
}

// BinFrequency maps bin k to Hz
func (a *Analyzer) BinFrequency(k int) float64 {
	return float64(k) * a.binWidth
}

// AnalyzeBlock analyzes the first N samples of the block's first channel,
// zero-padding short blocks.
func (a *Analyzer) AnalyzeBlock(block audio.Block) Result {
	return a.Analyze(block.Frame(nil, a.frameSize))
}

// Analyze computes the result for one frame. Only the first N samples are
// used; shorter frames are zero-padded.
func (a *Analyzer) Analyze(samples []float64) Result {
	start := time.Now()

	frame := samples
	if len(frame) != a.frameSize {
		frame = make([]float64, a.frameSize)
		copy(frame, samples)
	}

	mags := make([]float64, a.frameSize/2)
	used := a.backend
	if err := a.backend.Magnitudes(frame, mags); err != nil {
		a.fallbacks.Add(1)
		a.logger.Debug("Transform backend failed, falling back to direct summation",
			slog.String("backend", a.backend.Name()),
			slog.String("error", err.Error()),
		)
		used = a.direct
		// Direct summation cannot fail for a correctly sized frame
		_ = a.direct.Magnitudes(frame, mags)
	}

	a.analyses.Add(1)

	return Result{
		Similarity:     Flatness(mags),
		TopFrequencies: a.topPeaks(mags),
		Backend:        used.Name(),
		Duration:       time.Since(start),
	}
}

// topPeaks returns up to topK bins in descending magnitude; ties keep
// ascending frequency order.
func (a *Analyzer) topPeaks(mags []float64) []Peak {
	peaks := make([]Peak, len(mags))
	for k, m := range mags {
		peaks[k] = Peak{FrequencyHz: a.BinFrequency(k), Magnitude: m}
	}

	sort.SliceStable(peaks, func(i, j int) bool {
		return peaks[i].Magnitude > peaks[j].Magnitude
	})

	n := a.topK
	if n > len(peaks) {
		n = len(peaks)
	}
	return peaks[:n:n]
}

// GetStats returns current analyzer statistics
func (a *Analyzer) GetStats() Stats {
	return Stats{
		Backend:   a.Backend(),
		FrameSize: a.frameSize,
		Analyses:  a.analyses.Load(),
		Fallbacks: a.fallbacks.Load(),
	}
}
