package gate

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/JSmith01/silence-detector/internal/audio"
)

func constantBlock(n int, v float32) audio.Block {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return audio.Mono(s)
}

func TestNewGate(t *testing.T) {
	g := New(128)

	if g.State() != StateListening {
		t.Errorf("Expected state listening, got %s", g.State())
	}
	if !g.Silent() || !g.Active() {
		t.Errorf("Expected silent=true active=true, got silent=%v active=%v", g.Silent(), g.Active())
	}
}

func TestValidateThreshold(t *testing.T) {
	tests := []struct {
		name      string
		threshold float32
		expectErr bool
	}{
		{"default", DefaultThreshold, false},
		{"zero", 0, false},
		{"one", 1, false},
		{"negative", -0.1, true},
		{"above one", 1.1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateThreshold(tt.threshold)
			if tt.expectErr && !errors.Is(err, ErrInvalidThreshold) {
				t.Errorf("Expected ErrInvalidThreshold, got %v", err)
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestClassifyBelowThreshold(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, threshold := range []float32{0, DefaultThreshold, 0.25, 0.5, 1} {
		g := New(128)
		for i := 0; i < 50; i++ {
			s := make([]float32, 128)
			for j := range s {
				s[j] = (rng.Float32()*2 - 1) * threshold
			}
			if _, emitted := g.Classify(audio.Mono(s), threshold); emitted {
				t.Fatalf("threshold %v: block with max |s| <= threshold was emitted", threshold)
			}
		}
		if !g.Silent() {
			t.Errorf("threshold %v: expected gate to stay silent", threshold)
		}
	}
}

func TestClassifyEmitsOncePerActivation(t *testing.T) {
	g := New(128)
	loud := constantBlock(128, 0.5)

	out, emitted := g.Classify(loud, DefaultThreshold)
	if !emitted {
		t.Fatal("Expected emission for loud block")
	}
	if out.Len() != loud.Len() || &out.Channels[0][0] != &loud.Channels[0][0] {
		t.Error("Expected the triggering block to be emitted whole")
	}
	if g.Silent() {
		t.Error("Expected silent=false after activation")
	}

	// No second emission before acknowledgment
	for i := 0; i < 5; i++ {
		if _, emitted := g.Classify(loud, DefaultThreshold); emitted {
			t.Fatal("Gate emitted twice without acknowledgment")
		}
	}

	g.Ack()
	if !g.Silent() {
		t.Error("Expected gate re-armed after Ack")
	}
	if _, emitted := g.Classify(loud, DefaultThreshold); !emitted {
		t.Error("Expected emission after Ack")
	}

	stats := g.GetStats()
	if stats.Activations != 2 {
		t.Errorf("Expected 2 activations, got %d", stats.Activations)
	}
	// Triggered gate does not scan
	if stats.BlocksScanned != 2 {
		t.Errorf("Expected 2 blocks scanned, got %d", stats.BlocksScanned)
	}
}

func TestClassifyNegativeSample(t *testing.T) {
	g := New(0)
	s := make([]float32, 16)
	s[7] = -0.01
	if _, emitted := g.Classify(audio.Mono(s), 0.005); !emitted {
		t.Error("Expected negative excursion to trigger the gate")
	}
}

func TestClassifyAnyChannel(t *testing.T) {
	g := New(4)
	block := audio.Block{Channels: [][]float32{{0, 0, 0, 0}, {0, 0, 0.9, 0}}}
	if _, emitted := g.Classify(block, DefaultThreshold); !emitted {
		t.Error("Expected loud second channel to trigger the gate")
	}
}

func TestClassifyMalformedBlocks(t *testing.T) {
	g := New(128)

	if _, emitted := g.Classify(audio.Block{}, DefaultThreshold); emitted {
		t.Error("Block without channels must be silent")
	}
	if _, emitted := g.Classify(constantBlock(64, 1), DefaultThreshold); emitted {
		t.Error("Short block must be silent")
	}
	if g.GetStats().Ignored != 2 {
		t.Errorf("Expected 2 ignored blocks, got %d", g.GetStats().Ignored)
	}
	if !g.Silent() {
		t.Error("Expected gate to remain silent")
	}
}

func TestDisposeIsTerminal(t *testing.T) {
	g := New(0)
	g.Dispose()
	g.Dispose()

	if g.Active() {
		t.Error("Expected active=false after dispose")
	}

	g.Ack()
	for i := 0; i < 3; i++ {
		if _, emitted := g.Classify(constantBlock(8, 1), DefaultThreshold); emitted {
			t.Fatal("Disposed gate emitted a block")
		}
	}
	if g.State() != StateDisposed {
		t.Errorf("Expected disposed state, got %s", g.State())
	}
}

func TestTenSilentBlocksThenSpike(t *testing.T) {
	g := New(128)
	emissions := 0
	emittedAt := -1

	for i := 0; i < 11; i++ {
		block := constantBlock(128, 0)
		if i == 10 {
			block.Channels[0][0] = 0.5
		}
		if _, emitted := g.Classify(block, DefaultThreshold); emitted {
			emissions++
			emittedAt = i
		}
	}

	if emissions != 1 || emittedAt != 10 {
		t.Errorf("Expected exactly one emission at block 11, got %d emissions (last at index %d)", emissions, emittedAt)
	}
}
