package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JSmith01/silence-detector/internal/audio"
	"github.com/JSmith01/silence-detector/internal/gate"
	"github.com/JSmith01/silence-detector/internal/metrics"
	"github.com/JSmith01/silence-detector/internal/spectral"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testAnalyzer(t *testing.T) *spectral.Analyzer {
	t.Helper()
	a, err := spectral.NewAnalyzer(spectral.Config{
		FrameSize:  128,
		SampleRate: 48000,
		TopK:       5,
		Backend:    spectral.BackendDirect,
	}, testLogger())
	if err != nil {
		t.Fatalf("Failed to create analyzer: %v", err)
	}
	return a
}

func testConfig() Config {
	return Config{
		StreamID:  1,
		Format:    audio.DefaultFormat(),
		BlockSize: 128,
		Threshold: gate.DefaultThreshold,
		QueueSize: 64,
	}
}

func newStartedSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	s, err := NewSession(cfg, testAnalyzer(t), testLogger(), metrics.NewMetrics(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return s
}

func stopSession(t *testing.T, s *Session) *Recording {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec, err := s.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	return rec
}

func constantBlock(seq uint32, n int, v float32) audio.Block {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = v
	}
	b := audio.Mono(samples)
	b.Sequence = seq
	return b
}

func TestSilenceThenImpulse(t *testing.T) {
	s := newStartedSession(t, testConfig())

	for i := 0; i < 10; i++ {
		if !s.Deliver(constantBlock(uint32(i), 128, 0)) {
			t.Fatalf("Block %d was not accepted", i)
		}
	}

	impulse := constantBlock(10, 128, 0)
	impulse.Channels[0][0] = 0.5
	if !s.Deliver(impulse) {
		t.Fatal("Impulse block was not accepted")
	}

	rec := stopSession(t, s)

	if rec.Activations != 1 {
		t.Fatalf("Expected exactly 1 activation, got %d", rec.Activations)
	}
	if rec.Spectral == nil {
		t.Fatal("Expected a spectral result for the detection")
	}
	if rec.Spectral.Similarity != 1 {
		t.Errorf("Expected flat impulse spectrum (similarity 1), got %v", rec.Spectral.Similarity)
	}
	if rec.Spectral.TopFrequencies[0].FrequencyHz != 0 {
		t.Errorf("Expected dominant frequency at 0 Hz, got %v", rec.Spectral.TopFrequencies[0].FrequencyHz)
	}
	if rec.Tonal {
		t.Error("Expected impulse not to be classified as tonal")
	}

	if rec.Samples != 11*128 {
		t.Errorf("Expected %d samples, got %d", 11*128, rec.Samples)
	}
	if rec.Blocks != 11 {
		t.Errorf("Expected 11 blocks, got %d", rec.Blocks)
	}
	if len(rec.WAV) != audio.HeaderSize+11*128*2 {
		t.Errorf("Expected %d WAV bytes, got %d", audio.HeaderSize+11*128*2, len(rec.WAV))
	}

	// The impulse lands at sample 1280 as 0.5 * 32767
	got := int16(binary.LittleEndian.Uint16(rec.WAV[audio.HeaderSize+1280*2:]))
	if got != 16383 {
		t.Errorf("Expected impulse sample 16383, got %d", got)
	}
}

func TestAccumulatesUnevenBlocks(t *testing.T) {
	s := newStartedSession(t, testConfig())

	s.Deliver(constantBlock(0, 128, 1))
	s.Deliver(constantBlock(1, 128, 1))
	s.Deliver(constantBlock(2, 64, 1))

	rec := stopSession(t, s)

	if rec.Samples != 320 {
		t.Fatalf("Expected 320 samples, got %d", rec.Samples)
	}

	samples, format, err := audio.Decode(rec.WAV)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if format != audio.DefaultFormat() {
		t.Errorf("Expected default format, got %+v", format)
	}
	for i, v := range samples {
		if v != 32767 {
			t.Fatalf("Sample %d: expected 32767, got %d", i, v)
		}
	}

	if size := binary.LittleEndian.Uint32(rec.WAV[40:44]); size != 640 {
		t.Errorf("Expected subchunk2Size 640, got %d", size)
	}
	if size := binary.LittleEndian.Uint32(rec.WAV[4:8]); size != 676 {
		t.Errorf("Expected chunkSize 676, got %d", size)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s := newStartedSession(t, testConfig())
	s.Deliver(constantBlock(0, 128, 0.25))

	first := stopSession(t, s)
	second := stopSession(t, s)

	if first != second {
		t.Error("Expected repeated Stop to return the same recording")
	}
	if !bytes.Equal(first.WAV, second.WAV) {
		t.Error("Expected identical container bytes")
	}

	if s.Deliver(constantBlock(1, 128, 0.25)) {
		t.Error("Expected Deliver after Stop to be rejected")
	}
	if err := s.UpdateThreshold(0.1); !errors.Is(err, ErrSessionStopped) {
		t.Errorf("Expected ErrSessionStopped, got %v", err)
	}
	if err := s.Start(); !errors.Is(err, ErrSessionStopped) {
		t.Errorf("Expected ErrSessionStopped on restart, got %v", err)
	}
	if info := s.GetInfo(); info.State != "finished" {
		t.Errorf("Expected state finished, got %s", info.State)
	}
}

func TestStartTwice(t *testing.T) {
	s := newStartedSession(t, testConfig())
	defer stopSession(t, s)

	if err := s.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Expected ErrAlreadyStarted, got %v", err)
	}
}

func TestStopWithoutStart(t *testing.T) {
	s, err := NewSession(testConfig(), testAnalyzer(t), testLogger(), nil)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	if s.Deliver(constantBlock(0, 128, 0.5)) {
		t.Error("Expected Deliver before Start to be rejected")
	}

	if _, err := s.Stop(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Expected ErrNotStarted, got %v", err)
	}
	if err := s.Start(); !errors.Is(err, ErrSessionStopped) {
		t.Errorf("Expected ErrSessionStopped, got %v", err)
	}
}

func TestEmptyRecording(t *testing.T) {
	s := newStartedSession(t, testConfig())
	rec := stopSession(t, s)

	if len(rec.WAV) != audio.HeaderSize {
		t.Errorf("Expected header-only container, got %d bytes", len(rec.WAV))
	}
	if rec.Spectral != nil {
		t.Error("Expected no spectral result without a detection")
	}
	if rec.ID == "" {
		t.Error("Expected recording ID to be set")
	}
}

func TestGateRearmsAfterAnalysis(t *testing.T) {
	s := newStartedSession(t, testConfig())

	loud := constantBlock(0, 128, 0.5)
	deadline := time.Now().Add(5 * time.Second)
	delivered := 0
	for s.GetInfo().Activations < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("Gate did not re-arm, activations %d", s.GetInfo().Activations)
		}
		if s.Deliver(loud) {
			delivered++
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec := stopSession(t, s)
	if rec.Activations < 2 || rec.Activations > uint64(delivered) {
		t.Errorf("Expected between 2 and %d activations, got %d", delivered, rec.Activations)
	}
}

func TestUpdateThreshold(t *testing.T) {
	s := newStartedSession(t, testConfig())

	if err := s.UpdateThreshold(0.9); err != nil {
		t.Fatalf("UpdateThreshold failed: %v", err)
	}
	if s.Threshold() != 0.9 {
		t.Errorf("Expected threshold 0.9, got %v", s.Threshold())
	}
	if err := s.UpdateThreshold(1.5); !errors.Is(err, gate.ErrInvalidThreshold) {
		t.Errorf("Expected ErrInvalidThreshold, got %v", err)
	}

	// 0.5 is below the raised threshold
	s.Deliver(constantBlock(0, 128, 0.5))
	s.Deliver(constantBlock(1, 128, -0.5))

	rec := stopSession(t, s)
	if rec.Activations != 0 {
		t.Errorf("Expected no activation above raised threshold, got %d", rec.Activations)
	}
	if rec.Samples != 256 {
		t.Errorf("Expected silent blocks to be recorded, got %d samples", rec.Samples)
	}
}

func TestMalformedBlocksAreDropped(t *testing.T) {
	s := newStartedSession(t, testConfig())

	s.Deliver(audio.Block{})
	s.Deliver(constantBlock(1, 128, 0))

	rec := stopSession(t, s)
	if rec.Samples != 128 {
		t.Errorf("Expected 128 samples, got %d", rec.Samples)
	}
	if rec.DroppedBlocks != 1 {
		t.Errorf("Expected 1 dropped block, got %d", rec.DroppedBlocks)
	}
}

func TestStereoSession(t *testing.T) {
	cfg := testConfig()
	cfg.Format.Channels = 2
	s := newStartedSession(t, cfg)

	left := make([]float32, 128)
	right := make([]float32, 128)
	right[3] = -1
	s.Deliver(audio.Block{Channels: [][]float32{left, right}})

	rec := stopSession(t, s)
	if rec.Activations != 1 {
		t.Errorf("Expected activation from second channel, got %d", rec.Activations)
	}

	samples, format, err := audio.Decode(rec.WAV)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if format.Channels != 2 || len(samples) != 256 {
		t.Fatalf("Expected 256 stereo samples, got %d with %d channels", len(samples), format.Channels)
	}
	if samples[3*2+1] != -32768 {
		t.Errorf("Expected interleaved -32768, got %d", samples[3*2+1])
	}
}

func TestNewSessionValidation(t *testing.T) {
	analyzer := testAnalyzer(t)

	cfg := testConfig()
	cfg.Threshold = 2
	if _, err := NewSession(cfg, analyzer, testLogger(), nil); !errors.Is(err, gate.ErrInvalidThreshold) {
		t.Errorf("Expected ErrInvalidThreshold, got %v", err)
	}

	cfg = testConfig()
	cfg.Format.Channels = 0
	var cfgErr *audio.ConfigurationError
	if _, err := NewSession(cfg, analyzer, testLogger(), nil); !errors.As(err, &cfgErr) {
		t.Errorf("Expected ConfigurationError, got %v", err)
	}

	cfg = testConfig()
	cfg.Format.BitsPerSample = 24
	if _, err := NewSession(cfg, analyzer, testLogger(), nil); !errors.As(err, &cfgErr) {
		t.Errorf("Expected ConfigurationError for bit depth, got %v", err)
	}

	if _, err := NewSession(testConfig(), nil, testLogger(), nil); err == nil {
		t.Error("Expected error without analyzer")
	}
}

func TestStopRespectsContext(t *testing.T) {
	s := newStartedSession(t, testConfig())
	defer stopSession(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Either the session finished already or the wait is cancelled
	rec, err := s.Stop(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("Expected nil or context.Canceled, got %v", err)
	}
	if err == nil && rec == nil {
		t.Error("Expected a recording when Stop succeeds")
	}
}
