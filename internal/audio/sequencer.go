package audio

import (
	"fmt"
	"sync"
)

// Sequencer restores arrival order for blocks that travel over an unordered
// transport. Blocks are released strictly by sequence number; a gap larger
// than maxGap is declared lost and skipped so that delivery never stalls.
type Sequencer struct {
	expectedSeq uint32
	started     bool
	pending     map[uint32]Block
	maxGap      uint32

	released  uint64
	lostCount uint64
	stale     uint64

	mu sync.Mutex
}

// SequencerStats represents sequencer statistics for monitoring
type SequencerStats struct {
	Released    uint64 `json:"released"`
	Lost        uint64 `json:"lost"`
	Stale       uint64 `json:"stale"`
	Pending     int    `json:"pending"`
	ExpectedSeq uint32 `json:"expected_sequence"`
}

// NewSequencer creates a sequencer that waits for at most maxGap missing blocks
func NewSequencer(maxGap uint32) *Sequencer {
	if maxGap == 0 {
		maxGap = 20
	}
	return &Sequencer{
		pending: make(map[uint32]Block),
		maxGap:  maxGap,
	}
}

// Push accepts a block and returns the blocks that became releasable, in order.
// Duplicates and blocks older than the release point are rejected.
func (s *Sequencer) Push(block Block) ([]Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := block.Sequence

	// First block defines the starting point
	if !s.started {
		s.started = true
		s.expectedSeq = seq
	}

	switch {
	case seq == s.expectedSeq:
		ready := []Block{block}
		s.expectedSeq++
		return s.drainLocked(ready), nil

	case seq-s.expectedSeq < 1<<31:
		// Future block - hold it
		if _, dup := s.pending[seq]; dup {
			s.stale++
			return nil, fmt.Errorf("duplicate block: seq=%d", seq)
		}
		s.pending[seq] = block

		if seq-s.expectedSeq > s.maxGap {
			return s.skipToLocked(s.oldestPendingLocked()), nil
		}
		return nil, nil

	default:
		s.stale++
		return nil, fmt.Errorf("ignoring old/duplicate block: seq=%d, expected=%d", seq, s.expectedSeq)
	}
}

// Flush releases every pending block in sequence order, counting the holes as lost
func (s *Sequencer) Flush() []Block {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Block
	for len(s.pending) > 0 {
		out = append(out, s.skipToLocked(s.oldestPendingLocked())...)
	}
	return out
}

// skipToLocked marks everything before seq as lost and drains from seq
func (s *Sequencer) skipToLocked(seq uint32) []Block {
	for s.expectedSeq != seq {
		s.lostCount++
		s.expectedSeq++
	}
	return s.drainLocked(nil)
}

// drainLocked appends consecutive pending blocks starting at expectedSeq
func (s *Sequencer) drainLocked(ready []Block) []Block {
	for {
		next, ok := s.pending[s.expectedSeq]
		if !ok {
			break
		}
		ready = append(ready, next)
		delete(s.pending, s.expectedSeq)
		s.expectedSeq++
	}
	s.released += uint64(len(ready))
	return ready
}

// oldestPendingLocked returns the pending sequence closest to expectedSeq
func (s *Sequencer) oldestPendingLocked() uint32 {
	best := s.expectedSeq
	bestDist := uint32(0)
	first := true
	for seq := range s.pending {
		d := seq - s.expectedSeq
		if first || d < bestDist {
			best, bestDist, first = seq, d, false
		}
	}
	return best
}

// GetStats returns current sequencer statistics
func (s *Sequencer) GetStats() SequencerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SequencerStats{
		Released:    s.released,
		Lost:        s.lostCount,
		Stale:       s.stale,
		Pending:     len(s.pending),
		ExpectedSeq: s.expectedSeq,
	}
}
