package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/JSmith01/silence-detector/internal/audio"
	"github.com/JSmith01/silence-detector/internal/cli"
	"github.com/JSmith01/silence-detector/internal/config"
	"github.com/JSmith01/silence-detector/internal/session"
	"github.com/JSmith01/silence-detector/internal/spectral"
)

const serviceName = "silence-detector"

var (
	version = "0.1.0"
)

// Globals are flags shared by every command
type Globals struct {
	Config   string `short:"c" type:"path" help:"Path to YAML config file (optional)"`
	LogLevel string `name:"log-level" help:"Override the configured log level (debug, info, warn, error)"`
}

// CLI defines the command-line interface
type CLI struct {
	Globals

	Serve   ServeCmd   `cmd:"" help:"Receive sample blocks over UDP and serve the HTTP API"`
	Record  RecordCmd  `cmd:"" help:"Record from the default microphone"`
	Analyze AnalyzeCmd `cmd:"" help:"Replay a WAV file through the detector"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

func main() {
	cliArgs := &CLI{}
	ctx := kong.Parse(cliArgs,
		kong.Name("silence-detector"),
		kong.Description("Silence gating, recording and tonal interference detection"),
		kong.UsageOnError(),
		kong.Vars{
			"version": version,
		},
		kong.Help(cli.StyledHelpPrinter(kong.HelpOptions{Compact: true})),
	)

	if err := ctx.Run(&cliArgs.Globals); err != nil {
		cli.PrintError(err.Error())
		os.Exit(1)
	}
}

// VersionCmd prints the version
type VersionCmd struct{}

// Run implements the version command
func (v *VersionCmd) Run(g *Globals) error {
	cli.PrintVersion(os.Stdout, version)
	return nil
}

// load reads the configuration (defaults when no file is given) and builds
// the logger
func (g *Globals) load() (*config.Config, *slog.Logger, error) {
	cfg := config.Default()
	if g.Config != "" {
		loaded, err := config.Load(g.Config)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = loaded
	}

	if g.LogLevel != "" {
		cfg.Logging.Level = g.LogLevel
		if err := cfg.Logging.Validate(); err != nil {
			return nil, nil, fmt.Errorf("invalid --log-level: %w", err)
		}
	}

	return cfg, initLogger(cfg.Logging), nil
}

// analysisConfig maps the analysis section onto the analyzer configuration
func analysisConfig(cfg *config.Config) spectral.Config {
	return spectral.Config{
		FrameSize:  cfg.Analysis.FrameSize,
		SampleRate: cfg.Audio.SampleRate,
		TopK:       cfg.Analysis.TopK,
		Backend:    cfg.Analysis.Backend,
	}
}

// audioFormat returns the container format of recordings
func audioFormat(cfg *config.Config) audio.Format {
	return audio.Format{
		SampleRate:    cfg.Audio.SampleRate,
		Channels:      cfg.Audio.Channels,
		BitsPerSample: cfg.Audio.BitDepth,
	}
}

// sessionConfig builds the session template from the configuration
func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		Format:    audioFormat(cfg),
		BlockSize: cfg.Audio.BlockSize,
		Threshold: cfg.Gate.Threshold,
		QueueSize: cfg.Session.QueueSize,
		Thresholds: spectral.Thresholds{
			Similarity: cfg.Analysis.SimilarityThreshold,
			Magnitude:  cfg.Analysis.MagnitudeThreshold,
		},
	}
}

// managerConfig builds the session manager configuration
func managerConfig(cfg *config.Config) session.ManagerConfig {
	return session.ManagerConfig{
		Session:     sessionConfig(cfg),
		Analysis:    analysisConfig(cfg),
		MaxSessions: cfg.Session.MaxSessions,
		IdleTimeout: cfg.Session.GetIdleTimeoutDuration(),
		MaxDuration: cfg.Session.GetMaxDuration(),
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
