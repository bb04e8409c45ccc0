package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/JSmith01/silence-detector/internal/audio"
)

// BlockSink accepts captured blocks without blocking
type BlockSink interface {
	Deliver(block audio.Block) bool
}

// Config describes the capture stream
type Config struct {
	SampleRate int
	Channels   int
	BlockSize  int
	RingSize   int // should exceed the consumer's queue length
}

// Microphone captures blocks from the default input device
type Microphone struct {
	cfg    Config
	stream *portaudio.Stream
	buffer [][]float32
	ring   *Ring
	logger *slog.Logger

	captured   atomic.Uint64
	rejected   atomic.Uint64
	overflowed atomic.Uint64
}

// Stats reports capture counters
type Stats struct {
	Captured   uint64 `json:"captured"`
	Rejected   uint64 `json:"rejected"`
	Overflowed uint64 `json:"overflowed"`
}

// NewMicrophone initializes portaudio and opens the default input stream
func NewMicrophone(cfg Config, logger *slog.Logger) (*Microphone, error) {
	if cfg.RingSize == 0 {
		cfg.RingSize = 512
	}
	if logger == nil {
		logger = slog.Default()
	}

	ring, err := NewRing(cfg.RingSize, cfg.Channels, cfg.BlockSize)
	if err != nil {
		return nil, err
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	m := &Microphone{
		cfg:    cfg,
		buffer: make([][]float32, cfg.Channels),
		ring:   ring,
		logger: logger,
	}
	for c := range m.buffer {
		m.buffer[c] = make([]float32, cfg.BlockSize)
	}

	stream, err := portaudio.OpenDefaultStream(
		cfg.Channels, // input channels
		0,            // output channels
		float64(cfg.SampleRate),
		cfg.BlockSize, // frames per buffer
		m.buffer,
	)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}
	m.stream = stream

	return m, nil
}

// Run captures until ctx is cancelled, delivering each block to sink
func (m *Microphone) Run(ctx context.Context, sink BlockSink) error {
	if err := m.stream.Start(); err != nil {
		return fmt.Errorf("failed to start audio stream: %w", err)
	}
	defer func() {
		if err := m.stream.Stop(); err != nil {
			m.logger.Warn("Failed to stop audio stream", slog.String("error", err.Error()))
		}
	}()

	m.logger.Info("Capture started",
		slog.Int("sample_rate", m.cfg.SampleRate),
		slog.Int("channels", m.cfg.Channels),
		slog.Int("block_size", m.cfg.BlockSize),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := m.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				m.overflowed.Add(1)
			} else {
				return fmt.Errorf("failed to read audio stream: %w", err)
			}
		}

		if sink.Deliver(m.ring.Fill(m.buffer)) {
			m.captured.Add(1)
		} else {
			m.rejected.Add(1)
		}
	}
}

// GetStats returns the capture counters
func (m *Microphone) GetStats() Stats {
	return Stats{
		Captured:   m.captured.Load(),
		Rejected:   m.rejected.Load(),
		Overflowed: m.overflowed.Load(),
	}
}

// Close releases the stream and portaudio
func (m *Microphone) Close() error {
	var err error
	if m.stream != nil {
		err = m.stream.Close()
	}
	portaudio.Terminate()
	return err
}
