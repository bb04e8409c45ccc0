package capture

import (
	"fmt"

	"github.com/JSmith01/silence-detector/internal/audio"
)

// Ring is a fixed set of preallocated blocks handed out round-robin
type Ring struct {
	slots []audio.Block
	next  int
	seq   uint32
}

// NewRing allocates size blocks of channels x blockSize samples
func NewRing(size, channels, blockSize int) (*Ring, error) {
	if size < 2 {
		return nil, fmt.Errorf("ring size must be at least 2, got %d", size)
	}
	if channels < 1 || blockSize < 1 {
		return nil, fmt.Errorf("invalid block shape %dx%d", channels, blockSize)
	}

	slots := make([]audio.Block, size)
	for i := range slots {
		chans := make([][]float32, channels)
		for c := range chans {
			chans[c] = make([]float32, blockSize)
		}
		slots[i] = audio.Block{Channels: chans}
	}
	return &Ring{slots: slots}, nil
}

// Size returns the number of slots
func (r *Ring) Size() int {
	return len(r.slots)
}

// Fill copies src (one slice per channel) into the next slot and returns it
// with the next sequence number. Short channels are zero-padded.
func (r *Ring) Fill(src [][]float32) audio.Block {
	block := r.slots[r.next]
	r.next = (r.next + 1) % len(r.slots)

	for c, dst := range block.Channels {
		var n int
		if c < len(src) {
			n = copy(dst, src[c])
		}
		clear(dst[n:])
	}

	block.Sequence = r.seq
	r.seq++
	return block
}
