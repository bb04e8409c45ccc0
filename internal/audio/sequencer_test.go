package audio

import "testing"

func seqBlock(seq uint32) Block {
	return Block{Sequence: seq, Channels: [][]float32{{float32(seq)}}}
}

func sequences(blocks []Block) []uint32 {
	out := make([]uint32, len(blocks))
	for i, b := range blocks {
		out[i] = b.Sequence
	}
	return out
}

func TestSequencerInOrder(t *testing.T) {
	s := NewSequencer(20)
	for seq := uint32(100); seq < 105; seq++ {
		ready, err := s.Push(seqBlock(seq))
		if err != nil {
			t.Fatalf("Push(%d) failed: %v", seq, err)
		}
		if len(ready) != 1 || ready[0].Sequence != seq {
			t.Errorf("Expected block %d released, got %v", seq, sequences(ready))
		}
	}

	stats := s.GetStats()
	if stats.Released != 5 || stats.Lost != 0 || stats.Pending != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestSequencerReorders(t *testing.T) {
	s := NewSequencer(20)
	s.Push(seqBlock(1))

	ready, _ := s.Push(seqBlock(3))
	if len(ready) != 0 {
		t.Errorf("Expected block 3 held, got %v", sequences(ready))
	}

	ready, _ = s.Push(seqBlock(2))
	got := sequences(ready)
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("Expected [2 3], got %v", got)
	}
}

func TestSequencerRejectsStale(t *testing.T) {
	s := NewSequencer(20)
	s.Push(seqBlock(10))
	s.Push(seqBlock(11))

	if _, err := s.Push(seqBlock(10)); err == nil {
		t.Error("Expected error for duplicate block")
	}
	if s.GetStats().Stale != 1 {
		t.Errorf("Expected 1 stale block, got %d", s.GetStats().Stale)
	}
}

func TestSequencerSkipsLargeGap(t *testing.T) {
	s := NewSequencer(5)
	s.Push(seqBlock(0))

	ready, err := s.Push(seqBlock(10))
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	got := sequences(ready)
	if len(got) != 1 || got[0] != 10 {
		t.Errorf("Expected [10] after gap skip, got %v", got)
	}
	if lost := s.GetStats().Lost; lost != 9 {
		t.Errorf("Expected 9 lost blocks, got %d", lost)
	}
}

func TestSequencerFlush(t *testing.T) {
	s := NewSequencer(20)
	s.Push(seqBlock(0))
	s.Push(seqBlock(3))
	s.Push(seqBlock(2))

	got := sequences(s.Flush())
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("Expected [2 3] on flush, got %v", got)
	}
	if lost := s.GetStats().Lost; lost != 1 {
		t.Errorf("Expected 1 lost block, got %d", lost)
	}
}
