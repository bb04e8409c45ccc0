package capture

import (
	"net"
	"testing"
	"time"

	"github.com/JSmith01/silence-detector/internal/audio"
	"github.com/JSmith01/silence-detector/internal/protocol"
)

func TestForwarderSendsStream(t *testing.T) {
	listener, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket failed: %v", err)
	}
	defer listener.Close()

	fwd, err := NewForwarder(listener.LocalAddr().String(), 9, 1, 48000, 0.01)
	if err != nil {
		t.Fatalf("NewForwarder failed: %v", err)
	}

	block := audio.Mono([]float32{0.5, -0.5, 0.25, 0})
	block.Sequence = 3
	if !fwd.Deliver(block) {
		t.Fatal("Expected block to be sent")
	}
	if err := fwd.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if fwd.Sent() != 1 || fwd.Failed() != 0 {
		t.Errorf("Expected 1 sent and 0 failed, got %d and %d", fwd.Sent(), fwd.Failed())
	}

	wantTypes := []uint8{protocol.PacketTypeStart, protocol.PacketTypeBlock, protocol.PacketTypeStop}
	buf := make([]byte, 65536)
	for i, want := range wantTypes {
		listener.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _, err := listener.ReadFrom(buf)
		if err != nil {
			t.Fatalf("Packet %d: read failed: %v", i, err)
		}

		pkt, err := protocol.ParsePacket(buf[:n])
		if err != nil {
			t.Fatalf("Packet %d: parse failed: %v", i, err)
		}
		if pkt.Header.PacketType != want {
			t.Errorf("Packet %d: expected type %d, got %d", i, want, pkt.Header.PacketType)
		}
		if pkt.Header.StreamID != 9 {
			t.Errorf("Packet %d: expected stream 9, got %d", i, pkt.Header.StreamID)
		}

		switch want {
		case protocol.PacketTypeStart:
			if pkt.Start.SampleRate != 48000 || pkt.Start.Threshold != 0.01 {
				t.Errorf("Unexpected start payload: %+v", pkt.Start)
			}
		case protocol.PacketTypeBlock:
			got := pkt.Block.ToBlock()
			if got.Sequence != 3 || got.Len() != 4 || got.Channels[0][1] != -0.5 {
				t.Errorf("Unexpected block payload: %+v", got)
			}
		}
	}
}

func TestNewForwarderRejectsChannels(t *testing.T) {
	if _, err := NewForwarder("127.0.0.1:1", 1, 0, 48000, 0); err == nil {
		t.Error("Expected error for zero channels")
	}
	if _, err := NewForwarder("127.0.0.1:1", 1, protocol.MaxChannels+1, 48000, 0); err == nil {
		t.Error("Expected error for too many channels")
	}
}
