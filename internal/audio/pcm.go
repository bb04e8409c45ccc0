package audio

import "math"

// Scale factors for float to 16-bit conversion. Negative samples use the full
// negative range and non-negative samples stop at 32767, matching the
// existing capture files bit for bit.
const (
	negativeScale = 32768.0
	positiveScale = 32767.0
)

// FloatToPCM16 converts one float sample to a signed 16-bit sample. The
// sample is clamped to [-1, 1]; NaN maps to 0.
func FloatToPCM16(s float32) int16 {
	if s != s {
		return 0
	}
	v := math.Max(-1, math.Min(1, float64(s)))
	if v < 0 {
		return int16(v * negativeScale)
	}
	return int16(v * positiveScale)
}

// Accumulator collects every block of a recording session into one buffer of
// interleaved 16-bit samples. It is owned by a single goroutine and is not
// safe for concurrent use.
type Accumulator struct {
	channels  int
	capacity  int
	recording bool
	samples   []int16

	blocks  uint64
	dropped uint64
}

// NewAccumulator creates an accumulator for the given channel count. capacity
// is the number of samples preallocated on every Start.
func NewAccumulator(channels, capacity int) *Accumulator {
	if channels < 1 {
		channels = 1
	}
	if capacity < 0 {
		capacity = 0
	}
	return &Accumulator{
		channels: channels,
		capacity: capacity,
	}
}

// Start resets storage to empty and arms accumulation
func (a *Accumulator) Start() {
	a.samples = make([]int16, 0, a.capacity)
	a.blocks = 0
	a.dropped = 0
	a.recording = true
}

// Recording reports whether the accumulator is between Start and Finish
func (a *Accumulator) Recording() bool {
	return a.recording
}

// Append converts and appends the block's samples in arrival order, interleaving
// channels when more than one is configured. It returns false when the block
// was ignored: outside a Start/Finish interval, or carrying fewer channels than
// configured or channels of unequal length.
func (a *Accumulator) Append(block Block) bool {
	if !a.recording {
		return false
	}

	if block.NumChannels() < a.channels {
		a.dropped++
		return false
	}

	n := block.Len()
	for c := 1; c < a.channels; c++ {
		if len(block.Channels[c]) != n {
			a.dropped++
			return false
		}
	}

	if a.channels == 1 {
		for _, s := range block.Channels[0] {
			a.samples = append(a.samples, FloatToPCM16(s))
		}
	} else {
		for i := 0; i < n; i++ {
			for c := 0; c < a.channels; c++ {
				a.samples = append(a.samples, FloatToPCM16(block.Channels[c][i]))
			}
		}
	}

	a.blocks++
	return true
}

// Len returns the number of samples accumulated so far
func (a *Accumulator) Len() int {
	return len(a.samples)
}

// Blocks returns the number of blocks appended since Start
func (a *Accumulator) Blocks() uint64 {
	return a.blocks
}

// Dropped returns the number of malformed blocks ignored since Start
func (a *Accumulator) Dropped() uint64 {
	return a.dropped
}

// Finish stops accumulation and hands the buffer to the caller. The
// accumulator is empty and idle afterwards. Finish without Start returns nil.
func (a *Accumulator) Finish() []int16 {
	if !a.recording {
		return nil
	}
	out := a.samples
	a.samples = nil
	a.recording = false
	if out == nil {
		out = []int16{}
	}
	return out
}

// PCM16ToFloat converts a signed 16-bit sample to a float in [-1, 1] using the
// same asymmetric scale as FloatToPCM16.
func PCM16ToFloat(v int16) float32 {
	if v < 0 {
		return float32(float64(v) / negativeScale)
	}
	return float32(float64(v) / positiveScale)
}

// SplitPCM16 turns interleaved 16-bit samples into channel-planar blocks of
// blockSize frames, numbered from 0. The last block may be shorter.
func SplitPCM16(samples []int16, channels, blockSize int) ([]Block, error) {
	if channels <= 0 {
		return nil, &ConfigurationError{Field: "channels", Reason: "must be positive"}
	}
	if blockSize <= 0 {
		return nil, &ConfigurationError{Field: "block_size", Reason: "must be positive"}
	}
	if len(samples)%channels != 0 {
		return nil, &FramingError{Samples: len(samples), Channels: channels}
	}

	frames := len(samples) / channels
	blocks := make([]Block, 0, (frames+blockSize-1)/blockSize)

	for start := 0; start < frames; start += blockSize {
		n := min(blockSize, frames-start)
		chans := make([][]float32, channels)
		for c := range chans {
			chans[c] = make([]float32, n)
			for i := 0; i < n; i++ {
				chans[c][i] = PCM16ToFloat(samples[(start+i)*channels+c])
			}
		}
		blocks = append(blocks, Block{Sequence: uint32(len(blocks)), Channels: chans})
	}

	return blocks, nil
}
