package spectral

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// Backend names accepted by NewAnalyzer
const (
	BackendAuto   = "auto"
	BackendDirect = "direct"
	BackendFFT    = "fft"
)

// errBackendUnavailable is recovered locally and never returned to callers
var errBackendUnavailable = errors.New("transform backend unavailable")

// Transform computes the first N/2 magnitude bins of a real frame of length N
type Transform interface {
	Name() string
	Size() int
	Magnitudes(frame []float64, out []float64) error
}

// DirectTransform is the O(N²) discrete transform over precomputed tables.
// The tables are read-only after construction, so one instance may be shared.
type DirectTransform struct {
	n   int
	cos []float64 // cos[k*n+i] = cos(2π·k·i/N)
	sin []float64 // sin[k*n+i] = sin(2π·k·i/N)
}

// NewDirectTransform precomputes the N×N cosine and sine coefficient tables
func NewDirectTransform(n int) *DirectTransform {
	t := &DirectTransform{
		n:   n,
		cos: make([]float64, n*n),
		sin: make([]float64, n*n),
	}

	for k := 0; k < n; k++ {
		for i := 0; i < n; i++ {
			angle := 2 * math.Pi * float64(k) * float64(i) / float64(n)
			t.cos[k*n+i] = math.Cos(angle)
			t.sin[k*n+i] = math.Sin(angle)
		}
	}

	return t
}

func (t *DirectTransform) Name() string { return BackendDirect }

func (t *DirectTransform) Size() int { return t.n }

// Magnitudes writes sqrt(re² + im²) for bins [0, N/2) into out
func (t *DirectTransform) Magnitudes(frame []float64, out []float64) error {
	if len(frame) != t.n || len(out) != t.n/2 {
		return fmt.Errorf("direct transform expects %d samples and %d bins, got %d and %d",
			t.n, t.n/2, len(frame), len(out))
	}

	for k := range out {
		row := k * t.n
		var re, im float64
		for i, x := range frame {
			re += x * t.cos[row+i]
			im -= x * t.sin[row+i]
		}
		out[k] = math.Sqrt(re*re + im*im)
	}

	return nil
}

// FFTTransform delegates to go-dsp's radix-2 FFT
type FFTTransform struct {
	n int
}

// NewFFTTransform creates an FFT backend for frames of length n
func NewFFTTransform(n int) *FFTTransform {
	return &FFTTransform{n: n}
}

func (t *FFTTransform) Name() string { return BackendFFT }

func (t *FFTTransform) Size() int { return t.n }

// Magnitudes runs the FFT and keeps the first N/2 bins. A panic inside the
// library is reported as errBackendUnavailable.
func (t *FFTTransform) Magnitudes(frame []float64, out []float64) (err error) {
	if len(frame) != t.n || len(out) != t.n/2 {
		return fmt.Errorf("fft transform expects %d samples and %d bins, got %d and %d",
			t.n, t.n/2, len(frame), len(out))
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errBackendUnavailable, r)
		}
	}()

	spectrum := fft.FFTReal(frame)
	if len(spectrum) < len(out) {
		return fmt.Errorf("%w: fft returned %d bins", errBackendUnavailable, len(spectrum))
	}

	for k := range out {
		out[k] = cmplx.Abs(spectrum[k])
	}

	return nil
}

// probeFrame is a deterministic broadband + tonal mix used to verify that an
// accelerated backend agrees with the direct summation.
func probeFrame(n int) []float64 {
	frame := make([]float64, n)
	state := uint32(2463534242)
	for i := range frame {
		state ^= state << 13
		state ^= state >> 17
		state ^= state << 5
		noise := float64(state)/float64(math.MaxUint32)*2 - 1
		tone := math.Sin(2 * math.Pi * 3 * float64(i) / float64(n))
		frame[i] = 0.5*noise + 0.25*tone
	}
	return frame
}

// agrees reports whether candidate matches reference on the probe frame within
// relative tolerance eps.
func agrees(reference, candidate Transform, eps float64) bool {
	n := reference.Size()
	frame := probeFrame(n)
	want := make([]float64, n/2)
	got := make([]float64, n/2)

	if err := reference.Magnitudes(frame, want); err != nil {
		return false
	}
	if err := candidate.Magnitudes(frame, got); err != nil {
		return false
	}

	for k := range want {
		if !closeEnough(want[k], got[k], eps) {
			return false
		}
	}
	return true
}

func closeEnough(a, b, eps float64) bool {
	diff := math.Abs(a - b)
	scale := math.Max(math.Abs(a), math.Abs(b))
	return diff <= eps || diff <= eps*scale
}
