package spectral

import (
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"testing"

	"github.com/JSmith01/silence-detector/internal/audio"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestAnalyzer(t *testing.T, n int, backend string) *Analyzer {
	t.Helper()
	a, err := NewAnalyzer(Config{FrameSize: n, SampleRate: 48000, TopK: 5, Backend: backend}, testLogger())
	if err != nil {
		t.Fatalf("NewAnalyzer failed: %v", err)
	}
	return a
}

func sine(n, bin int, amplitude float64) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = amplitude * math.Sin(2*math.Pi*float64(bin)*float64(i)/float64(n))
	}
	return s
}

func uniformNoise(n int, amplitude float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	s := make([]float64, n)
	for i := range s {
		s[i] = (rng.Float64()*2 - 1) * amplitude
	}
	return s
}

func TestNewAnalyzerValidation(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		expectErr bool
	}{
		{"defaults", Config{SampleRate: 48000}, false},
		{"direct", Config{FrameSize: 64, SampleRate: 48000, Backend: BackendDirect}, false},
		{"fft", Config{FrameSize: 256, SampleRate: 48000, Backend: BackendFFT}, false},
		{"not power of two", Config{FrameSize: 100, SampleRate: 48000}, true},
		{"zero sample rate", Config{FrameSize: 128}, true},
		{"unknown backend", Config{FrameSize: 128, SampleRate: 48000, Backend: "gpu"}, true},
		{"negative top k", Config{FrameSize: 128, SampleRate: 48000, TopK: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAnalyzer(tt.cfg, testLogger())
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestDirectTransformKnownValues(t *testing.T) {
	n := 8
	tr := NewDirectTransform(n)
	out := make([]float64, n/2)

	// Constant signal: all energy in DC
	frame := []float64{1, 1, 1, 1, 1, 1, 1, 1}
	if err := tr.Magnitudes(frame, out); err != nil {
		t.Fatalf("Magnitudes failed: %v", err)
	}
	if math.Abs(out[0]-8) > 1e-12 {
		t.Errorf("Expected DC magnitude 8, got %v", out[0])
	}
	for k := 1; k < len(out); k++ {
		if out[k] > 1e-12 {
			t.Errorf("Expected bin %d to be ~0, got %v", k, out[k])
		}
	}

	if err := tr.Magnitudes(frame[:4], out); err == nil {
		t.Error("Expected error for wrongly sized frame")
	}
}

func TestFFTMatchesDirect(t *testing.T) {
	for _, n := range []int{8, 64, 128, 512} {
		direct := NewDirectTransform(n)
		accel := NewFFTTransform(n)

		frame := uniformNoise(n, 1, int64(n))
		want := make([]float64, n/2)
		got := make([]float64, n/2)
		if err := direct.Magnitudes(frame, want); err != nil {
			t.Fatalf("direct failed: %v", err)
		}
		if err := accel.Magnitudes(frame, got); err != nil {
			t.Fatalf("fft failed: %v", err)
		}

		for k := range want {
			if !closeEnough(want[k], got[k], BackendTolerance) {
				t.Errorf("n=%d bin %d: direct %v, fft %v", n, k, want[k], got[k])
			}
		}
	}
}

func TestBackendsProduceSameResult(t *testing.T) {
	direct := newTestAnalyzer(t, 128, BackendDirect)
	accel := newTestAnalyzer(t, 128, BackendFFT)

	if accel.Backend() != BackendFFT {
		t.Fatalf("Expected fft backend, got %s", accel.Backend())
	}

	frame := uniformNoise(128, 0.3, 42)
	a := direct.Analyze(frame)
	b := accel.Analyze(frame)

	if !closeEnough(a.Similarity, b.Similarity, BackendTolerance) {
		t.Errorf("Similarity mismatch: direct %v, fft %v", a.Similarity, b.Similarity)
	}
	for i := range a.TopFrequencies {
		if !closeEnough(a.TopFrequencies[i].Magnitude, b.TopFrequencies[i].Magnitude, BackendTolerance) {
			t.Errorf("Peak %d magnitude mismatch: %v vs %v", i, a.TopFrequencies[i].Magnitude, b.TopFrequencies[i].Magnitude)
		}
	}
}

type failingTransform struct{ n int }

func (f failingTransform) Name() string { return "failing" }
func (f failingTransform) Size() int    { return f.n }
func (f failingTransform) Magnitudes(frame []float64, out []float64) error {
	return errors.New("accelerator offline")
}

func TestFallbackIsTransparent(t *testing.T) {
	reference := newTestAnalyzer(t, 128, BackendDirect)
	a := newTestAnalyzer(t, 128, BackendDirect)
	a.backend = failingTransform{n: 128}

	frame := sine(128, 7, 0.8)
	want := reference.Analyze(frame)
	got := a.Analyze(frame)

	if got.Similarity != want.Similarity {
		t.Errorf("Expected similarity %v, got %v", want.Similarity, got.Similarity)
	}
	if got.Backend != BackendDirect {
		t.Errorf("Expected result computed by direct backend, got %s", got.Backend)
	}
	if a.GetStats().Fallbacks != 1 {
		t.Errorf("Expected 1 fallback, got %d", a.GetStats().Fallbacks)
	}
}

func TestAgreesRejectsFailingBackend(t *testing.T) {
	if agrees(NewDirectTransform(16), failingTransform{n: 16}, BackendTolerance) {
		t.Error("Expected failing backend to be rejected")
	}
}

func TestFlatSpectrum(t *testing.T) {
	if got := Flatness([]float64{2, 2, 2, 2}); got != 1 {
		t.Errorf("Expected flatness 1 for flat spectrum, got %v", got)
	}
	// mean 1, population variance 1 -> 1/(1+1)
	if got := Flatness([]float64{0, 2, 0, 2}); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("Expected flatness 0.5, got %v", got)
	}
}

func TestToneLessFlatThanNoise(t *testing.T) {
	for _, n := range []int{128, 256, 512} {
		a := newTestAnalyzer(t, n, BackendDirect)

		noise := a.Analyze(uniformNoise(n, 1, 7))
		tone := a.Analyze(sine(n, n/8, 1))

		if !(tone.Similarity < noise.Similarity) {
			t.Errorf("n=%d: expected tone similarity %v < noise similarity %v", n, tone.Similarity, noise.Similarity)
		}
		if noise.Similarity <= 0 || noise.Similarity > 1 || tone.Similarity <= 0 || tone.Similarity > 1 {
			t.Errorf("n=%d: similarity out of range: noise %v tone %v", n, noise.Similarity, tone.Similarity)
		}
	}
}

func TestSingleToneDominantFrequency(t *testing.T) {
	a := newTestAnalyzer(t, 128, BackendAuto)

	for _, bin := range []int{1, 5, 17, 40, 63} {
		result := a.Analyze(sine(128, bin, 0.5))
		want := float64(bin) * 48000 / 128
		if got := result.TopFrequencies[0].FrequencyHz; math.Abs(got-want) > 48000.0/128 {
			t.Errorf("bin %d: expected dominant frequency %v, got %v", bin, want, got)
		}
	}
}

func TestTopFrequenciesOrdering(t *testing.T) {
	a := newTestAnalyzer(t, 128, BackendDirect)
	result := a.Analyze(uniformNoise(128, 1, 3))

	if len(result.TopFrequencies) != 5 {
		t.Fatalf("Expected 5 top frequencies, got %d", len(result.TopFrequencies))
	}
	for i := 1; i < len(result.TopFrequencies); i++ {
		if result.TopFrequencies[i].Magnitude > result.TopFrequencies[i-1].Magnitude {
			t.Errorf("Peaks not in descending order at %d: %v", i, result.TopFrequencies)
		}
	}
}

func TestTopFrequenciesShortSpectrum(t *testing.T) {
	a, err := NewAnalyzer(Config{FrameSize: 4, SampleRate: 48000, TopK: 5, Backend: BackendDirect}, testLogger())
	if err != nil {
		t.Fatalf("NewAnalyzer failed: %v", err)
	}
	result := a.Analyze([]float64{1, 0, -1, 0})
	if len(result.TopFrequencies) != 2 {
		t.Errorf("Expected 2 peaks for N=4, got %d", len(result.TopFrequencies))
	}
}

func TestImpulseFrame(t *testing.T) {
	a := newTestAnalyzer(t, 128, BackendDirect)

	samples := make([]float32, 128)
	samples[0] = 0.5
	result := a.AnalyzeBlock(audio.Mono(samples))

	// An impulse has a perfectly flat magnitude spectrum
	if result.Similarity != 1 {
		t.Errorf("Expected similarity 1 for an impulse, got %v", result.Similarity)
	}
	if result.TopFrequencies[0].FrequencyHz != 0 {
		t.Errorf("Expected dominant bin at 0 Hz, got %v", result.TopFrequencies[0].FrequencyHz)
	}
	// Equal magnitudes keep ascending frequency order
	for i, p := range result.TopFrequencies {
		if want := float64(i) * 375; p.FrequencyHz != want {
			t.Errorf("Peak %d: expected %v Hz, got %v", i, want, p.FrequencyHz)
		}
	}
}

func TestAnalyzeShortFrameIsZeroPadded(t *testing.T) {
	a := newTestAnalyzer(t, 128, BackendDirect)

	short := a.Analyze([]float64{0.5})
	padded := make([]float64, 128)
	padded[0] = 0.5
	full := a.Analyze(padded)

	if short.Similarity != full.Similarity {
		t.Errorf("Expected zero-padded analysis, got %v vs %v", short.Similarity, full.Similarity)
	}
}

func TestTonalVerdict(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name   string
		result Result
		want   bool
	}{
		{"flat", Result{Similarity: 0.999, TopFrequencies: []Peak{{375, 1}}}, false},
		{"tonal", Result{Similarity: 0.5, TopFrequencies: []Peak{{0, 0.1}, {1875, 0.01}}}, true},
		{"dc only", Result{Similarity: 0.5, TopFrequencies: []Peak{{0, 1}}}, false},
		{"quiet", Result{Similarity: 0.5, TopFrequencies: []Peak{{375, 0.001}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.Tonal(th); got != tt.want {
				t.Errorf("Expected Tonal=%v, got %v", tt.want, got)
			}
		})
	}
}
