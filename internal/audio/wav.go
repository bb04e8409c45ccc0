package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Container layout constants
const (
	HeaderSize         = 44
	PCMFormat          = 1
	fmtChunkSize       = 16
	riffHeaderOverhead = 36

	// Defaults produced by this system
	DefaultSampleRate    = 48000
	DefaultChannels      = 1
	DefaultBitsPerSample = 16
)

// ErrInvalidFraming is returned when a PCM buffer cannot be split into whole
// sample frames for the declared channel count.
var ErrInvalidFraming = errors.New("invalid framing")

// FramingError describes a PCM buffer whose length is not a multiple of the
// channel count.
type FramingError struct {
	Samples  int
	Channels int
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("invalid framing: %d samples is not a multiple of %d channels", e.Samples, e.Channels)
}

func (e *FramingError) Unwrap() error {
	return ErrInvalidFraming
}

// ConfigurationError reports container parameters rejected before encoding
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// WAVHeader represents the header structure of a WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 36 + data bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * BlockAlign
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// Format describes the PCM framing declared in a container header
type Format struct {
	SampleRate    int `json:"sample_rate"`
	Channels      int `json:"channels"`
	BitsPerSample int `json:"bits_per_sample"`
}

// DefaultFormat is 48 kHz mono 16-bit PCM
func DefaultFormat() Format {
	return Format{
		SampleRate:    DefaultSampleRate,
		Channels:      DefaultChannels,
		BitsPerSample: DefaultBitsPerSample,
	}
}

// Validate checks the format is one this codec can produce
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return &ConfigurationError{Field: "sample rate", Reason: fmt.Sprintf("must be positive, got %d", f.SampleRate)}
	}
	if f.Channels <= 0 || f.Channels > 0xFFFF {
		return &ConfigurationError{Field: "channels", Reason: fmt.Sprintf("must be between 1 and 65535, got %d", f.Channels)}
	}
	if f.BitsPerSample != 16 {
		return &ConfigurationError{Field: "bits per sample", Reason: fmt.Sprintf("only 16-bit PCM is supported, got %d", f.BitsPerSample)}
	}
	return nil
}

// BlockAlign returns the number of bytes in one sample frame
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// ByteRate returns the number of payload bytes per second
func (f Format) ByteRate() int {
	return f.SampleRate * f.BlockAlign()
}

// NewHeader builds the canonical header for dataBytes of payload
func NewHeader(f Format, dataBytes uint32) WAVHeader {
	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     riffHeaderOverhead + dataBytes,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: fmtChunkSize,
		AudioFormat:   PCMFormat,
		NumChannels:   uint16(f.Channels),
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(f.ByteRate()),
		BlockAlign:    uint16(f.BlockAlign()),
		BitsPerSample: uint16(f.BitsPerSample),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataBytes,
	}
}

// Encode serializes interleaved PCM-16 samples into a WAV container. An empty
// buffer yields a valid 44-byte file with no payload.
func Encode(samples []int16, sampleRate, channels, bitsPerSample int) ([]byte, error) {
	f := Format{SampleRate: sampleRate, Channels: channels, BitsPerSample: bitsPerSample}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	if len(samples)%channels != 0 {
		return nil, &FramingError{Samples: len(samples), Channels: channels}
	}

	dataSize := uint64(len(samples)) * uint64(bitsPerSample/8)
	if dataSize > 0xFFFFFFFF-riffHeaderOverhead {
		return nil, fmt.Errorf("payload of %d bytes exceeds the 4 GiB container limit", dataSize)
	}

	header := NewHeader(f, uint32(dataSize))

	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+int(dataSize)))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	if len(samples) > 0 {
		if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
			return nil, fmt.Errorf("failed to write audio data: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// EncodeFormat is Encode with the parameters taken from f
func EncodeFormat(samples []int16, f Format) ([]byte, error) {
	return Encode(samples, f.SampleRate, f.Channels, f.BitsPerSample)
}

// readHeader parses and validates the fixed 44-byte header
func readHeader(data []byte) (*WAVHeader, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data[:HeaderSize]), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	return &header, nil
}

// Decode decodes WAV data back to interleaved PCM-16 samples
func Decode(data []byte) ([]int16, Format, error) {
	header, err := readHeader(data)
	if err != nil {
		return nil, Format{}, err
	}

	if header.AudioFormat != PCMFormat {
		return nil, Format{}, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	}

	f := Format{
		SampleRate:    int(header.SampleRate),
		Channels:      int(header.NumChannels),
		BitsPerSample: int(header.BitsPerSample),
	}
	if err := f.Validate(); err != nil {
		return nil, Format{}, err
	}

	if int(header.BlockAlign) != f.BlockAlign() || int(header.ByteRate) != f.ByteRate() {
		return nil, Format{}, fmt.Errorf("inconsistent header: block_align=%d byte_rate=%d for %d channels at %d Hz",
			header.BlockAlign, header.ByteRate, f.Channels, f.SampleRate)
	}

	dataSize := int(header.Subchunk2Size)
	if dataSize > len(data)-HeaderSize {
		return nil, Format{}, fmt.Errorf("data chunk declares %d bytes, only %d present", dataSize, len(data)-HeaderSize)
	}

	if header.ChunkSize != riffHeaderOverhead+header.Subchunk2Size {
		return nil, Format{}, fmt.Errorf("chunk size %d does not match data size %d", header.ChunkSize, header.Subchunk2Size)
	}

	numSamples := dataSize / 2
	if numSamples%f.Channels != 0 {
		return nil, Format{}, &FramingError{Samples: numSamples, Channels: f.Channels}
	}

	samples := make([]int16, numSamples)
	if numSamples > 0 {
		if err := binary.Read(bytes.NewReader(data[HeaderSize:HeaderSize+dataSize]), binary.LittleEndian, samples); err != nil {
			return nil, Format{}, fmt.Errorf("failed to read audio samples: %w", err)
		}
	}

	return samples, f, nil
}

// Validate validates a WAV file format without decoding the entire audio data
func Validate(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("WAV data too short: need at least %d bytes, got %d", HeaderSize, len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	if string(data[12:16]) != "fmt " {
		return fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if string(data[36:40]) != "data" {
		return fmt.Errorf("invalid WAV file: missing data chunk")
	}

	return nil
}

// Duration calculates the duration of a WAV file in seconds
func Duration(data []byte) (float64, error) {
	info, err := GetInfo(data)
	if err != nil {
		return 0, err
	}
	return info.Duration, nil
}

// Info holds basic information about a WAV file
type Info struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumFrames     uint32  `json:"num_frames"`
}

// GetInfo extracts metadata from a WAV file header
func GetInfo(data []byte) (*Info, error) {
	header, err := readHeader(data)
	if err != nil {
		return nil, err
	}

	if header.SampleRate == 0 {
		return nil, fmt.Errorf("invalid sample rate: 0")
	}

	if header.BlockAlign == 0 {
		return nil, fmt.Errorf("invalid block align: 0")
	}

	numFrames := header.Subchunk2Size / uint32(header.BlockAlign)

	return &Info{
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		Duration:      float64(numFrames) / float64(header.SampleRate),
		DataSize:      header.Subchunk2Size,
		NumFrames:     numFrames,
	}, nil
}
