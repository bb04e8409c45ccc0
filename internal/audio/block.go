package audio

// Block is one fixed-size delivery of consecutive samples from a capture
// source. Samples are channel-planar: Channels[c][i] is sample i of channel c,
// each in [-1.0, 1.0]. A delivered block is treated as immutable.
type Block struct {
	Sequence uint32
	Channels [][]float32
}

// Mono wraps a single channel of samples as a Block.
func Mono(samples []float32) Block {
	return Block{Channels: [][]float32{samples}}
}

// NumChannels returns the number of channels carried by the block
func (b Block) NumChannels() int {
	return len(b.Channels)
}

// Len returns the number of samples per channel (0 for a block without channels)
func (b Block) Len() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// IsEmpty reports whether the block carries no samples at all
func (b Block) IsEmpty() bool {
	return b.Len() == 0
}

// Frame copies the first n samples of channel 0 into dst, zero-padding when
// the block is shorter than n. dst is grown only if its capacity is below n.
func (b Block) Frame(dst []float64, n int) []float64 {
	if cap(dst) < n {
		dst = make([]float64, n)
	}
	dst = dst[:n]

	var src []float32
	if len(b.Channels) > 0 {
		src = b.Channels[0]
	}

	for i := range dst {
		if i < len(src) {
			dst[i] = float64(src[i])
		} else {
			dst[i] = 0
		}
	}
	return dst
}

// Clone returns a deep copy of the block
func (b Block) Clone() Block {
	out := Block{Sequence: b.Sequence, Channels: make([][]float32, len(b.Channels))}
	for c, ch := range b.Channels {
		out.Channels[c] = append([]float32(nil), ch...)
	}
	return out
}
