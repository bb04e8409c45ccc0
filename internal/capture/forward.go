package capture

import (
	"fmt"
	"net"
	"sync/atomic"

	"github.com/JSmith01/silence-detector/internal/audio"
	"github.com/JSmith01/silence-detector/internal/protocol"
)

// Forwarder sends captured blocks to a remote UDP receiver instead of a local
// session. It announces the stream on creation and ends it on Close.
type Forwarder struct {
	conn     net.Conn
	streamID uint32
	channels uint8

	sent   atomic.Uint64
	failed atomic.Uint64
}

// NewForwarder dials addr and sends the start packet
func NewForwarder(addr string, streamID uint32, channels, sampleRate int, threshold float32) (*Forwarder, error) {
	if channels < 1 || channels > protocol.MaxChannels {
		return nil, fmt.Errorf("channels must be in [1, %d], got %d", protocol.MaxChannels, channels)
	}

	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	f := &Forwarder{conn: conn, streamID: streamID, channels: uint8(channels)}
	if _, err := conn.Write(protocol.EncodeStart(streamID, f.channels, uint32(sampleRate), threshold)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send start packet: %w", err)
	}
	return f, nil
}

// Deliver encodes and sends one block. UDP writes do not wait for the peer.
func (f *Forwarder) Deliver(block audio.Block) bool {
	data, err := protocol.EncodeBlock(f.streamID, block)
	if err != nil {
		f.failed.Add(1)
		return false
	}
	if _, err := f.conn.Write(data); err != nil {
		f.failed.Add(1)
		return false
	}
	f.sent.Add(1)
	return true
}

// Sent returns the number of blocks written
func (f *Forwarder) Sent() uint64 {
	return f.sent.Load()
}

// Failed returns the number of blocks that could not be encoded or written
func (f *Forwarder) Failed() uint64 {
	return f.failed.Load()
}

// Close sends the stop packet and closes the socket
func (f *Forwarder) Close() error {
	_, werr := f.conn.Write(protocol.EncodeStop(f.streamID, f.channels))
	cerr := f.conn.Close()
	if werr != nil {
		return fmt.Errorf("failed to send stop packet: %w", werr)
	}
	return cerr
}
