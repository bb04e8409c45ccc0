package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/JSmith01/silence-detector/internal/audio"
	"github.com/JSmith01/silence-detector/internal/cli"
	"github.com/JSmith01/silence-detector/internal/config"
	"github.com/JSmith01/silence-detector/internal/session"
	"github.com/JSmith01/silence-detector/internal/spectral"
)

// AnalyzeCmd replays a WAV file through a detection session
type AnalyzeCmd struct {
	File      string   `arg:"" type:"existingfile" help:"16-bit PCM WAV file to analyze"`
	Threshold *float32 `help:"Override the silence threshold (0-1)"`
	BlockSize int      `name:"block-size" help:"Override the block size in frames"`
}

// Run implements the analyze command
func (a *AnalyzeCmd) Run(g *Globals) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	if a.Threshold != nil {
		cfg.Gate.Threshold = *a.Threshold
	}
	if a.BlockSize > 0 {
		cfg.Audio.BlockSize = a.BlockSize
	}

	start := time.Now()
	rec, err := analyzeFile(a.File, cfg, logger)
	if err != nil {
		return err
	}

	cli.RenderReport(os.Stdout, cli.Report{
		Title:     "Analysis",
		Source:    a.File,
		Recording: rec,
		Elapsed:   time.Since(start),
	})
	return nil
}

// analyzeFile decodes path and feeds every block through a fresh session. The
// queue holds the whole file so no block is dropped.
func analyzeFile(path string, cfg *config.Config, logger *slog.Logger) (*session.Recording, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	samples, format, err := audio.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	blocks, err := audio.SplitPCM16(samples, format.Channels, cfg.Audio.BlockSize)
	if err != nil {
		return nil, err
	}

	analysis := analysisConfig(cfg)
	analysis.SampleRate = format.SampleRate
	analyzer, err := spectral.NewAnalyzer(analysis, logger)
	if err != nil {
		return nil, err
	}

	sessCfg := sessionConfig(cfg)
	sessCfg.Format = format
	sessCfg.QueueSize = max(len(blocks), 1)

	sess, err := session.NewSession(sessCfg, analyzer, logger, nil)
	if err != nil {
		return nil, err
	}
	if err := sess.Start(); err != nil {
		return nil, err
	}

	for _, block := range blocks {
		sess.Deliver(block)
	}

	return sess.Stop(context.Background())
}
