package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JSmith01/silence-detector/internal/capture"
	"github.com/JSmith01/silence-detector/internal/cli"
	"github.com/JSmith01/silence-detector/internal/session"
	"github.com/JSmith01/silence-detector/internal/spectral"
)

// RecordCmd captures the default microphone
type RecordCmd struct {
	Duration  time.Duration `short:"d" default:"10s" help:"How long to record (0 records until interrupted)"`
	Output    string        `short:"o" default:"recording.wav" type:"path" help:"Where to write the WAV file"`
	Forward   string        `help:"Send blocks to a detector service at host:port instead of recording locally"`
	StreamID  uint32        `name:"stream-id" default:"1" help:"Stream ID used with --forward"`
	Threshold *float32      `help:"Override the silence threshold (0-1)"`
}

// Run implements the record command
func (r *RecordCmd) Run(g *Globals) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	if r.Threshold != nil {
		cfg.Gate.Threshold = *r.Threshold
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if r.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Duration)
		defer cancel()
	}

	mic, err := capture.NewMicrophone(capture.Config{
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		BlockSize:  cfg.Audio.BlockSize,
		RingSize:   cfg.Session.QueueSize * 2,
	}, logger)
	if err != nil {
		return err
	}
	defer mic.Close()

	if r.Forward != "" {
		return r.forward(ctx, mic, cfg.Audio.Channels, cfg.Audio.SampleRate, cfg.Gate.Threshold, logger)
	}

	analyzer, err := spectral.NewAnalyzer(analysisConfig(cfg), logger)
	if err != nil {
		return err
	}
	sess, err := session.NewSession(sessionConfig(cfg), analyzer, logger, nil)
	if err != nil {
		return err
	}
	if err := sess.Start(); err != nil {
		return err
	}

	start := time.Now()
	runErr := mic.Run(ctx, sess)

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rec, err := sess.Stop(stopCtx)
	if err != nil {
		return fmt.Errorf("failed to finalize recording: %w", err)
	}
	if runErr != nil {
		logger.Error("Capture stopped early", slog.String("error", runErr.Error()))
	}

	if err := os.WriteFile(r.Output, rec.WAV, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", r.Output, err)
	}

	stats := mic.GetStats()
	logger.Debug("Capture statistics",
		slog.Uint64("captured", stats.Captured),
		slog.Uint64("rejected", stats.Rejected),
		slog.Uint64("overflowed", stats.Overflowed),
	)

	cli.RenderReport(os.Stdout, cli.Report{
		Title:      "Recording",
		OutputPath: r.Output,
		Recording:  rec,
		Elapsed:    time.Since(start),
	})
	return runErr
}

func (r *RecordCmd) forward(ctx context.Context, mic *capture.Microphone, channels, sampleRate int, threshold float32, logger *slog.Logger) error {
	fwd, err := capture.NewForwarder(r.Forward, r.StreamID, channels, sampleRate, threshold)
	if err != nil {
		return err
	}

	logger.Info("Forwarding capture",
		slog.String("target", r.Forward),
		slog.Uint64("stream_id", uint64(r.StreamID)),
	)

	runErr := mic.Run(ctx, fwd)
	if err := fwd.Close(); err != nil {
		logger.Warn("Failed to send stop packet", slog.String("error", err.Error()))
	}

	logger.Info("Forwarding finished",
		slog.Uint64("sent", fwd.Sent()),
		slog.Uint64("failed", fwd.Failed()),
	)
	return runErr
}
