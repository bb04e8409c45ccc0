package main

import (
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/JSmith01/silence-detector/internal/audio"
	"github.com/JSmith01/silence-detector/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeWAV(t *testing.T, samples []int16, f audio.Format) string {
	t.Helper()

	data, err := audio.EncodeFormat(samples, f)
	if err != nil {
		t.Fatalf("EncodeFormat failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "input.wav")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestAnalyzeFileSilence(t *testing.T) {
	f := audio.Format{SampleRate: 48000, Channels: 1, BitsPerSample: 16}
	path := writeWAV(t, make([]int16, 512), f)

	rec, err := analyzeFile(path, config.Default(), testLogger())
	if err != nil {
		t.Fatalf("analyzeFile failed: %v", err)
	}

	if rec.Samples != 512 {
		t.Errorf("Expected 512 samples, got %d", rec.Samples)
	}
	if rec.Blocks != 4 {
		t.Errorf("Expected 4 blocks, got %d", rec.Blocks)
	}
	if rec.Activations != 0 {
		t.Errorf("Expected no activations, got %d", rec.Activations)
	}
	if rec.Spectral != nil {
		t.Errorf("Expected no spectral result, got %+v", rec.Spectral)
	}
	if rec.Size() != audio.HeaderSize+512*2 {
		t.Errorf("Expected %d bytes, got %d", audio.HeaderSize+512*2, rec.Size())
	}
}

func TestAnalyzeFileTone(t *testing.T) {
	f := audio.Format{SampleRate: 48000, Channels: 1, BitsPerSample: 16}

	// 1125 Hz is exactly bin 3 of a 128-point frame at 48 kHz
	samples := make([]int16, 512)
	for i := range samples {
		v := 0.5 * math.Sin(2*math.Pi*1125*float64(i)/48000)
		samples[i] = audio.FloatToPCM16(float32(v))
	}
	path := writeWAV(t, samples, f)

	rec, err := analyzeFile(path, config.Default(), testLogger())
	if err != nil {
		t.Fatalf("analyzeFile failed: %v", err)
	}

	if rec.Activations == 0 {
		t.Fatal("Expected at least one activation")
	}
	if rec.Spectral == nil || len(rec.Spectral.TopFrequencies) == 0 {
		t.Fatalf("Expected spectral result with peaks, got %+v", rec.Spectral)
	}
	if got := rec.Spectral.TopFrequencies[0].FrequencyHz; got != 1125 {
		t.Errorf("Expected dominant frequency 1125 Hz, got %v", got)
	}
	if !rec.Tonal {
		t.Error("Expected tone to be flagged as tonal")
	}
	if rec.Samples != 512 {
		t.Errorf("Expected 512 samples, got %d", rec.Samples)
	}
}

func TestAnalyzeFileUsesFileFormat(t *testing.T) {
	f := audio.Format{SampleRate: 16000, Channels: 2, BitsPerSample: 16}
	path := writeWAV(t, make([]int16, 300*2), f)

	rec, err := analyzeFile(path, config.Default(), testLogger())
	if err != nil {
		t.Fatalf("analyzeFile failed: %v", err)
	}

	if rec.Format != f {
		t.Errorf("Expected format %+v, got %+v", f, rec.Format)
	}
	if rec.Samples != 600 {
		t.Errorf("Expected 600 samples, got %d", rec.Samples)
	}
}

func TestAnalyzeFileErrors(t *testing.T) {
	dir := t.TempDir()

	garbage := filepath.Join(dir, "garbage.wav")
	if err := os.WriteFile(garbage, []byte("not a wav file"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	tests := []struct {
		name string
		path string
	}{
		{"missing", filepath.Join(dir, "missing.wav")},
		{"garbage", garbage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := analyzeFile(tt.path, config.Default(), testLogger()); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestManagerConfigMapping(t *testing.T) {
	cfg := config.Default()
	cfg.Audio.SampleRate = 16000
	cfg.Audio.Channels = 2
	cfg.Audio.BlockSize = 256
	cfg.Gate.Threshold = 0.1
	cfg.Analysis.FrameSize = 256
	cfg.Analysis.Backend = "direct"
	cfg.Analysis.SimilarityThreshold = 0.9
	cfg.Session.QueueSize = 64
	cfg.Session.IdleTimeout = 5
	cfg.Session.MaxDuration = 60
	cfg.Session.MaxSessions = 3

	mc := managerConfig(cfg)

	if mc.Session.Format.SampleRate != 16000 || mc.Session.Format.Channels != 2 || mc.Session.Format.BitsPerSample != 16 {
		t.Errorf("Unexpected format %+v", mc.Session.Format)
	}
	if mc.Session.BlockSize != 256 || mc.Session.QueueSize != 64 {
		t.Errorf("Expected block size 256 and queue 64, got %d and %d", mc.Session.BlockSize, mc.Session.QueueSize)
	}
	if mc.Session.Threshold != 0.1 {
		t.Errorf("Expected threshold 0.1, got %v", mc.Session.Threshold)
	}
	if mc.Session.Thresholds.Similarity != 0.9 {
		t.Errorf("Expected similarity threshold 0.9, got %v", mc.Session.Thresholds.Similarity)
	}
	if mc.Analysis.FrameSize != 256 || mc.Analysis.SampleRate != 16000 || mc.Analysis.Backend != "direct" {
		t.Errorf("Unexpected analysis config %+v", mc.Analysis)
	}
	if mc.MaxSessions != 3 {
		t.Errorf("Expected 3 max sessions, got %d", mc.MaxSessions)
	}
	if mc.IdleTimeout != 5*time.Second || mc.MaxDuration != time.Minute {
		t.Errorf("Expected 5s idle and 1m max, got %v and %v", mc.IdleTimeout, mc.MaxDuration)
	}
}

func TestGlobalsLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		g := &Globals{LogLevel: "error"}
		cfg, logger, err := g.load()
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if logger == nil {
			t.Fatal("Expected logger")
		}
		if cfg.Logging.Level != "error" {
			t.Errorf("Expected level error, got %s", cfg.Logging.Level)
		}
		if cfg.Audio.SampleRate != 48000 {
			t.Errorf("Expected default sample rate, got %d", cfg.Audio.SampleRate)
		}
	})

	t.Run("bad level", func(t *testing.T) {
		g := &Globals{LogLevel: "loud"}
		if _, _, err := g.load(); err == nil {
			t.Error("Expected error for invalid log level")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		g := &Globals{Config: filepath.Join(t.TempDir(), "missing.yaml")}
		if _, _, err := g.load(); err == nil {
			t.Error("Expected error for missing config file")
		}
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := "audio:\n  sample_rate: 16000\nlogging:\n  level: warn\n  output: stderr\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}

		g := &Globals{Config: path}
		cfg, _, err := g.load()
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if cfg.Audio.SampleRate != 16000 {
			t.Errorf("Expected sample rate 16000, got %d", cfg.Audio.SampleRate)
		}
		if cfg.Logging.Level != "warn" {
			t.Errorf("Expected level warn, got %s", cfg.Logging.Level)
		}
	})
}
