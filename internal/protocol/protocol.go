package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/JSmith01/silence-detector/internal/audio"
)

// Protocol constants
const (
	// Packet types
	PacketTypeStart = 0x01
	PacketTypeBlock = 0x02
	PacketTypeStop  = 0x03

	// Packet structure sizes
	HeaderSize             = 8 // 1 + 2 + 4 + 1 bytes
	StartPayloadSize       = 8 // 4 + 4 bytes
	BlockPayloadHeaderSize = 4 // Sequence number (4 bytes)
	SampleSize             = 4 // IEEE-754 float32
	MaxPacketSize          = math.MaxUint16

	MaxChannels = 8
)

// Header represents the 8-byte packet header
// Layout: [PacketType:1][PacketLen:2][StreamID:4][Channels:1]
type Header struct {
	PacketType uint8  // 0x01=Start, 0x02=Block, 0x03=Stop
	PacketLen  uint16 // Total packet size (header + payload)
	StreamID   uint32 // Unique stream identifier
	Channels   uint8  // Channels carried by the stream
}

// StartPayload opens a stream
// Layout: [SampleRate:4][Threshold:4]
type StartPayload struct {
	SampleRate uint32
	Threshold  float32 // 0 selects the configured default
}

// BlockPayload carries one channel-planar sample block
// Layout: [Sequence:4][Channel0 samples][Channel1 samples]...
type BlockPayload struct {
	Sequence uint32
	Samples  [][]float32
}

// ParsedPacket represents a fully parsed packet
type ParsedPacket struct {
	Header *Header
	Start  *StartPayload // Only set for start packets
	Block  *BlockPayload // Only set for block packets
}

// ParseHeader parses the 8-byte packet header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	header := &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		StreamID:   binary.BigEndian.Uint32(data[3:7]),
		Channels:   data[7],
	}

	return header, nil
}

// ParseStartPayload parses the 8-byte start payload
func ParseStartPayload(data []byte) (*StartPayload, error) {
	if len(data) < StartPayloadSize {
		return nil, fmt.Errorf("start payload too short: expected %d bytes, got %d",
			StartPayloadSize, len(data))
	}

	payload := &StartPayload{
		SampleRate: binary.BigEndian.Uint32(data[0:4]),
		Threshold:  math.Float32frombits(binary.BigEndian.Uint32(data[4:8])),
	}

	if payload.SampleRate == 0 {
		return nil, fmt.Errorf("sample rate cannot be zero")
	}

	return payload, nil
}

// ParseBlockPayload parses the block payload (4-byte sequence + planar samples)
func ParseBlockPayload(data []byte, channels int) (*BlockPayload, error) {
	if len(data) < BlockPayloadHeaderSize {
		return nil, fmt.Errorf("block payload too short: expected at least %d bytes, got %d",
			BlockPayloadHeaderSize, len(data))
	}
	if channels < 1 {
		return nil, fmt.Errorf("invalid channel count: %d", channels)
	}

	sampleBytes := data[BlockPayloadHeaderSize:]
	if len(sampleBytes)%(SampleSize*channels) != 0 {
		return nil, fmt.Errorf("block sample data of %d bytes is not a multiple of %d channels",
			len(sampleBytes), channels)
	}

	perChannel := len(sampleBytes) / (SampleSize * channels)
	payload := &BlockPayload{
		Sequence: binary.BigEndian.Uint32(data[0:4]),
		Samples:  make([][]float32, channels),
	}

	offset := 0
	for ch := range payload.Samples {
		samples := make([]float32, perChannel)
		for i := range samples {
			samples[i] = math.Float32frombits(binary.BigEndian.Uint32(sampleBytes[offset:]))
			offset += SampleSize
		}
		payload.Samples[ch] = samples
	}

	return payload, nil
}

// ParsePacket parses a complete packet (header + payload)
func ParsePacket(data []byte) (*ParsedPacket, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("packet too short: expected at least %d bytes, got %d", HeaderSize, len(data))
	}

	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	// Validate packet length matches actual data
	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &ParsedPacket{Header: header}
	payloadData := data[HeaderSize:]

	switch header.PacketType {
	case PacketTypeStart:
		payload, err := ParseStartPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse start payload: %w", err)
		}
		packet.Start = payload

	case PacketTypeBlock:
		payload, err := ParseBlockPayload(payloadData, int(header.Channels))
		if err != nil {
			return nil, fmt.Errorf("failed to parse block payload: %w", err)
		}
		packet.Block = payload

	case PacketTypeStop:
		// No payload

	default:
		return nil, fmt.Errorf("unknown packet type: 0x%02x", header.PacketType)
	}

	return packet, nil
}

// ValidateHeader validates the packet header fields
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if header.Channels < 1 || header.Channels > MaxChannels {
		return fmt.Errorf("invalid channel count: %d (expected 1-%d)", header.Channels, MaxChannels)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	// Validate expected payload sizes
	payloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeStart:
		if payloadSize != StartPayloadSize {
			return fmt.Errorf("start packet payload size mismatch: expected %d, got %d",
				StartPayloadSize, payloadSize)
		}
	case PacketTypeBlock:
		if payloadSize < BlockPayloadHeaderSize {
			return fmt.Errorf("block packet payload too small: expected at least %d, got %d",
				BlockPayloadHeaderSize, payloadSize)
		}
	case PacketTypeStop:
		if payloadSize != 0 {
			return fmt.Errorf("stop packet must not carry a payload, got %d bytes", payloadSize)
		}
	}

	return nil
}

// IsValidPacketType checks if the packet type is valid
func IsValidPacketType(ptype uint8) bool {
	return ptype == PacketTypeStart || ptype == PacketTypeBlock || ptype == PacketTypeStop
}

func putHeader(buf []byte, ptype uint8, streamID uint32, channels uint8) {
	buf[0] = ptype
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(buf)))
	binary.BigEndian.PutUint32(buf[3:7], streamID)
	buf[7] = channels
}

// EncodeStart builds a start packet
func EncodeStart(streamID uint32, channels uint8, sampleRate uint32, threshold float32) []byte {
	buf := make([]byte, HeaderSize+StartPayloadSize)
	putHeader(buf, PacketTypeStart, streamID, channels)
	binary.BigEndian.PutUint32(buf[8:12], sampleRate)
	binary.BigEndian.PutUint32(buf[12:16], math.Float32bits(threshold))
	return buf
}

// EncodeBlock builds a block packet from a sample block. Every channel must
// carry the same number of samples and the packet must fit in 64 KiB.
func EncodeBlock(streamID uint32, block audio.Block) ([]byte, error) {
	channels := block.NumChannels()
	if channels < 1 || channels > MaxChannels {
		return nil, fmt.Errorf("invalid channel count: %d (expected 1-%d)", channels, MaxChannels)
	}

	perChannel := len(block.Channels[0])
	for ch, samples := range block.Channels {
		if len(samples) != perChannel {
			return nil, fmt.Errorf("channel %d has %d samples, expected %d", ch, len(samples), perChannel)
		}
	}

	size := HeaderSize + BlockPayloadHeaderSize + channels*perChannel*SampleSize
	if size > MaxPacketSize {
		return nil, fmt.Errorf("block of %d samples per channel exceeds maximum packet size", perChannel)
	}

	buf := make([]byte, size)
	putHeader(buf, PacketTypeBlock, streamID, uint8(channels))
	binary.BigEndian.PutUint32(buf[8:12], block.Sequence)

	offset := HeaderSize + BlockPayloadHeaderSize
	for _, samples := range block.Channels {
		for _, s := range samples {
			binary.BigEndian.PutUint32(buf[offset:], math.Float32bits(s))
			offset += SampleSize
		}
	}

	return buf, nil
}

// EncodeStop builds a stop packet
func EncodeStop(streamID uint32, channels uint8) []byte {
	buf := make([]byte, HeaderSize)
	putHeader(buf, PacketTypeStop, streamID, channels)
	return buf
}

// ToBlock converts the payload into a sample block
func (b *BlockPayload) ToBlock() audio.Block {
	return audio.Block{Sequence: b.Sequence, Channels: b.Samples}
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	var packetType string

	switch h.PacketType {
	case PacketTypeStart:
		packetType = "Start"
	case PacketTypeBlock:
		packetType = "Block"
	case PacketTypeStop:
		packetType = "Stop"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}

	return fmt.Sprintf("Header{Type:%s, Len:%d, StreamID:%d, Channels:%d}",
		packetType, h.PacketLen, h.StreamID, h.Channels)
}

// String returns a human-readable representation of the start payload
func (s *StartPayload) String() string {
	return fmt.Sprintf("StartPayload{SampleRate:%d, Threshold:%g}", s.SampleRate, s.Threshold)
}

// String returns a human-readable representation of the block payload
func (b *BlockPayload) String() string {
	samples := 0
	if len(b.Samples) > 0 {
		samples = len(b.Samples[0])
	}
	return fmt.Sprintf("BlockPayload{Sequence:%d, Channels:%d, Samples:%d}", b.Sequence, len(b.Samples), samples)
}
