package gate

import (
	"errors"
	"fmt"
	"math"

	"github.com/JSmith01/silence-detector/internal/audio"
)

// DefaultThreshold is the amplitude below which a sample counts as silence.
// The two low bits of a 16-bit ADC can toggle even on a muted input.
const DefaultThreshold float32 = 3.0 / 32768.0

// ErrInvalidThreshold is returned for thresholds outside [0, 1]
var ErrInvalidThreshold = errors.New("threshold must be between 0 and 1")

// State is the gate's position in its lifecycle
type State int

const (
	// StateListening scans every block for a sample above the threshold
	StateListening State = iota
	// StateTriggered has emitted a block and idles until acknowledged
	StateTriggered
	// StateDisposed is terminal; classification is a no-op
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateTriggered:
		return "triggered"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ValidateThreshold checks that t lies in [0, 1]
func ValidateThreshold(t float32) error {
	if math.IsNaN(float64(t)) || t < 0 || t > 1 {
		return fmt.Errorf("%w, got %f", ErrInvalidThreshold, t)
	}
	return nil
}

// Gate is the silence-gate state machine. It is owned by the goroutine that
// receives blocks and is not safe for concurrent use; acknowledgments and
// disposal reach it as messages on that goroutine.
type Gate struct {
	state     State
	blockSize int

	// Statistics
	blocksScanned uint64
	activations   uint64
	ignored       uint64
}

// Stats represents gate statistics
type Stats struct {
	State         string `json:"state"`
	BlocksScanned uint64 `json:"blocks_scanned"`
	Activations   uint64 `json:"activations"`
	Ignored       uint64 `json:"ignored_blocks"`
}

// New creates a listening gate. blockSize is the expected samples per block;
// shorter blocks are treated as silent. Zero disables the length check.
func New(blockSize int) *Gate {
	if blockSize < 0 {
		blockSize = 0
	}
	return &Gate{
		state:     StateListening,
		blockSize: blockSize,
	}
}

// State returns the current gate state
func (g *Gate) State() State {
	return g.state
}

// Silent reports whether the gate is still waiting for a non-silent onset
func (g *Gate) Silent() bool {
	return g.state != StateTriggered
}

// Active reports whether the gate has not been disposed
func (g *Gate) Active() bool {
	return g.state != StateDisposed
}

// Classify inspects one block. While listening, the first block holding any
// sample with |s| > threshold on any channel flips the gate to triggered and is
// returned whole. Triggered and disposed gates return no emission without
// scanning.
func (g *Gate) Classify(block audio.Block, threshold float32) (audio.Block, bool) {
	if g.state != StateListening {
		return audio.Block{}, false
	}

	if block.NumChannels() == 0 || block.Len() == 0 || block.Len() < g.blockSize {
		g.ignored++
		return audio.Block{}, false
	}

	g.blocksScanned++

	for _, ch := range block.Channels {
		for _, s := range ch {
			if s > threshold || -s > threshold {
				g.state = StateTriggered
				g.activations++
				return block, true
			}
		}
	}

	return audio.Block{}, false
}

// Ack re-arms detection after the emitted block has been consumed.
// It has no effect on a disposed gate.
func (g *Gate) Ack() {
	if g.state == StateTriggered {
		g.state = StateListening
	}
}

// Dispose permanently deactivates the gate. Repeated calls are harmless.
func (g *Gate) Dispose() {
	g.state = StateDisposed
}

// GetStats returns current gate statistics
func (g *Gate) GetStats() Stats {
	return Stats{
		State:         g.state.String(),
		BlocksScanned: g.blocksScanned,
		Activations:   g.activations,
		Ignored:       g.ignored,
	}
}
