package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/JSmith01/silence-detector/internal/audio"
	"github.com/JSmith01/silence-detector/internal/config"
	"github.com/JSmith01/silence-detector/internal/metrics"
	"github.com/JSmith01/silence-detector/internal/protocol"
	"github.com/JSmith01/silence-detector/internal/session"
)

// UDPServer receives sample blocks from remote capture sources
type UDPServer struct {
	conn       *net.UDPConn
	config     *config.ServerConfig
	logger     *slog.Logger
	sessionMgr *session.Manager
	metrics    *metrics.Metrics

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// One queue per worker; a stream always lands on the same worker so its
	// blocks stay in arrival order.
	queues []chan *incomingPacket

	// Statistics
	packetsReceived  uint64
	packetsProcessed uint64
	packetsDropped   uint64
	parseErrors      uint64
	mu               sync.RWMutex
}

// incomingPacket represents a received UDP packet with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
}

// workerState is owned by a single packet processor
type workerState struct {
	id         int
	sequencers map[uint32]*audio.Sequencer
}

// NewUDPServer creates a new UDP server instance
func NewUDPServer(cfg *config.ServerConfig, logger *slog.Logger, sessionMgr *session.Manager, m *metrics.Metrics) *UDPServer {
	ctx, cancel := context.WithCancel(context.Background())

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	queues := make([]chan *incomingPacket, workers)
	for i := range queues {
		queues[i] = make(chan *incomingPacket, 1000)
	}

	return &UDPServer{
		config:     cfg,
		logger:     logger,
		sessionMgr: sessionMgr,
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
		queues:     queues,
	}
}

// Start begins listening for UDP packets
func (s *UDPServer) Start() error {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(s.config.BindAddress, fmt.Sprint(s.config.UDPPort)))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	s.conn = conn

	if err := s.conn.SetReadBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("UDP server started",
		slog.String("address", s.conn.LocalAddr().String()),
		slog.Int("buffer_size", s.config.BufferSize),
		slog.Int("workers", len(s.queues)),
	)

	for i := range s.queues {
		s.wg.Add(1)
		go s.packetProcessor(i)
	}

	s.wg.Add(1)
	go s.receiveLoop()

	return nil
}

// Addr returns the bound address once started
func (s *UDPServer) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Stop gracefully stops the UDP server. Sessions are left to the manager.
func (s *UDPServer) Stop() error {
	s.logger.Info("Stopping UDP server...")

	s.cancel()

	// Close UDP connection to unblock the receive loop
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
	}

	s.wg.Wait()

	stats := s.GetStatistics()
	s.logger.Info("UDP server stopped",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("packets_dropped", stats.PacketsDropped),
		slog.Uint64("parse_errors", stats.ParseErrors),
	)

	return nil
}

// receiveLoop is the main packet receiving loop
func (s *UDPServer) receiveLoop() {
	defer s.wg.Done()
	// Workers exit once their queue is closed and drained
	defer func() {
		for _, q := range s.queues {
			close(q)
		}
	}()

	buffer := make([]byte, s.config.BufferSize)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		// Set read deadline to check for context cancellation periodically
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
				continue
			}
		}

		s.mu.Lock()
		s.packetsReceived++
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.RecordPacketReceived()
		}

		// Copy: buffer is reused
		packetData := make([]byte, n)
		copy(packetData, buffer[:n])

		packet := &incomingPacket{
			data:       packetData,
			remoteAddr: remoteAddr,
			timestamp:  time.Now(),
		}

		if !s.enqueue(packet) {
			s.mu.Lock()
			s.packetsDropped++
			s.mu.Unlock()

			s.logger.Warn("Packet processing queue full, dropping packet",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
	}
}

// enqueue routes the packet to the worker owning its stream. Packets too short
// to carry a stream ID go to worker 0, which reports the parse error.
func (s *UDPServer) enqueue(packet *incomingPacket) bool {
	worker := 0
	if header, err := protocol.ParseHeader(packet.data); err == nil {
		worker = int(header.StreamID % uint32(len(s.queues)))
	}

	select {
	case s.queues[worker] <- packet:
		return true
	default:
		return false
	}
}

// packetProcessor processes packets from one worker queue
func (s *UDPServer) packetProcessor(workerID int) {
	defer s.wg.Done()

	state := &workerState{
		id:         workerID,
		sequencers: make(map[uint32]*audio.Sequencer),
	}

	s.logger.Debug("Packet processor started", slog.Int("worker_id", workerID))

	for packet := range s.queues[workerID] {
		s.handlePacket(packet, state)
	}

	s.logger.Debug("Packet processor stopped", slog.Int("worker_id", workerID))
}

// handlePacket processes a single incoming packet
func (s *UDPServer) handlePacket(packet *incomingPacket, state *workerState) {
	parsedPacket, err := protocol.ParsePacket(packet.data)
	if err != nil {
		s.mu.Lock()
		s.parseErrors++
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.RecordParseError()
		}

		s.logger.Warn("Failed to parse packet",
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.Int("packet_size", len(packet.data)),
			slog.String("error", err.Error()),
			slog.Int("worker_id", state.id),
		)
		return
	}

	s.mu.Lock()
	s.packetsProcessed++
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.RecordPacketProcessed()
	}

	switch parsedPacket.Header.PacketType {
	case protocol.PacketTypeStart:
		s.processStartPacket(parsedPacket.Header, parsedPacket.Start, state)
	case protocol.PacketTypeBlock:
		s.processBlockPacket(parsedPacket.Header, parsedPacket.Block, state)
	case protocol.PacketTypeStop:
		s.processStopPacket(parsedPacket.Header, state)
	}
}

// processStartPacket opens a session for the stream
func (s *UDPServer) processStartPacket(header *protocol.Header, payload *protocol.StartPayload, state *workerState) {
	sess, err := s.sessionMgr.CreateSession(header.StreamID, session.Options{
		SampleRate: int(payload.SampleRate),
		Channels:   int(header.Channels),
		Threshold:  payload.Threshold,
	})
	if err != nil {
		s.logger.Error("Failed to create session",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.String("error", err.Error()),
			slog.Int("worker_id", state.id),
		)
		return
	}

	state.sequencers[header.StreamID] = audio.NewSequencer(uint32(s.config.MaxGap))

	s.logger.Info("Stream started",
		slog.Uint64("stream_id", uint64(header.StreamID)),
		slog.Int("sample_rate", sess.Format().SampleRate),
		slog.Int("channels", sess.Format().Channels),
		slog.Int("worker_id", state.id),
	)
}

// processBlockPacket reorders the block and delivers what is ready
func (s *UDPServer) processBlockPacket(header *protocol.Header, payload *protocol.BlockPayload, state *workerState) {
	sess, exists := s.sessionMgr.GetSession(header.StreamID)
	if !exists {
		s.logger.Debug("Received block for unknown stream",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.Uint64("sequence", uint64(payload.Sequence)),
			slog.Int("worker_id", state.id),
		)
		return
	}

	seq, ok := state.sequencers[header.StreamID]
	if !ok {
		// Session created through another path (e.g. restarted worker)
		seq = audio.NewSequencer(uint32(s.config.MaxGap))
		state.sequencers[header.StreamID] = seq
	}

	before := seq.GetStats()
	ready, err := seq.Push(payload.ToBlock())
	if err != nil {
		s.logger.Debug("Discarding block",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.Uint64("sequence", uint64(payload.Sequence)),
			slog.String("error", err.Error()),
		)
	}
	if s.metrics != nil {
		after := seq.GetStats()
		if lost := (after.Lost - before.Lost) + (after.Stale - before.Stale); lost > 0 {
			s.metrics.RecordOutOfOrder(int(lost))
		}
	}

	for _, block := range ready {
		sess.Deliver(block)
	}
}

// processStopPacket delivers any held blocks and finishes the session
func (s *UDPServer) processStopPacket(header *protocol.Header, state *workerState) {
	sess, exists := s.sessionMgr.GetSession(header.StreamID)
	if !exists {
		s.logger.Warn("Received stop for unknown stream",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.Int("worker_id", state.id),
		)
		return
	}

	if seq, ok := state.sequencers[header.StreamID]; ok {
		for _, block := range seq.Flush() {
			sess.Deliver(block)
		}
		delete(state.sequencers, header.StreamID)
	}

	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	rec, err := s.sessionMgr.FinishSession(ctx, header.StreamID)
	if err != nil {
		s.logger.Error("Failed to finish session",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.String("error", err.Error()),
			slog.Int("worker_id", state.id),
		)
		return
	}

	s.logger.Info("Stream stopped",
		slog.Uint64("stream_id", uint64(header.StreamID)),
		slog.String("recording_id", rec.ID),
		slog.Int("samples", rec.Samples),
		slog.Uint64("activations", rec.Activations),
		slog.Int("worker_id", state.id),
	)
}

// GetStatistics returns current server statistics
func (s *UDPServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	queued := 0
	capacity := 0
	for _, q := range s.queues {
		queued += len(q)
		capacity += cap(q)
	}

	return ServerStatistics{
		PacketsReceived:  s.packetsReceived,
		PacketsProcessed: s.packetsProcessed,
		PacketsDropped:   s.packetsDropped,
		ParseErrors:      s.parseErrors,
		ActiveStreams:    uint64(s.sessionMgr.GetActiveSessionCount()),
		QueueSize:        uint64(queued),
		QueueCapacity:    uint64(capacity),
	}
}

// ServerStatistics represents server performance metrics
type ServerStatistics struct {
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsProcessed uint64 `json:"packets_processed"`
	PacketsDropped   uint64 `json:"packets_dropped"`
	ParseErrors      uint64 `json:"parse_errors"`
	ActiveStreams    uint64 `json:"active_streams"`
	QueueSize        uint64 `json:"queue_size"`
	QueueCapacity    uint64 `json:"queue_capacity"`
}
