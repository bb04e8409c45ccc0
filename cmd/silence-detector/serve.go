package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/JSmith01/silence-detector/internal/metrics"
	"github.com/JSmith01/silence-detector/internal/server"
	"github.com/JSmith01/silence-detector/internal/session"
	"github.com/JSmith01/silence-detector/internal/storage"
	"github.com/JSmith01/silence-detector/internal/upload"
)

// ServeCmd runs the detector as a service
type ServeCmd struct {
	UDPPort  int `name:"udp-port" help:"Override the UDP listen port"`
	HTTPPort int `name:"http-port" help:"Override the HTTP API port"`
}

// Run implements the serve command
func (s *ServeCmd) Run(g *Globals) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	if s.UDPPort != 0 {
		cfg.Server.UDPPort = s.UDPPort
	}
	if s.HTTPPort != 0 {
		cfg.HTTP.Port = s.HTTPPort
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", version),
		slog.String("config_path", g.Config),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("udp_port", cfg.Server.UDPPort),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("workers", cfg.Server.Workers),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("block_size", cfg.Audio.BlockSize),
		slog.Float64("gate_threshold", float64(cfg.Gate.Threshold)),
		slog.Int("frame_size", cfg.Analysis.FrameSize),
		slog.String("backend", cfg.Analysis.Backend),
		slog.Bool("storage_enabled", cfg.Storage.Enabled),
		slog.Bool("upload_enabled", cfg.Upload.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Prometheus metrics on a private registry
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(reg)
	logger.Info("Prometheus metrics initialized")

	// Recording sinks
	var sinks []session.Sink

	var store *storage.Store
	if cfg.Storage.Enabled {
		store, err = storage.Open(cfg.Storage.OutputDir, cfg.Storage.CatalogPath, logger)
		if err != nil {
			return fmt.Errorf("failed to open storage: %w", err)
		}
		defer store.Close()
		sinks = append(sinks, store)
		logger.Info("Recording storage initialized",
			slog.String("output_dir", cfg.Storage.OutputDir),
			slog.String("catalog", cfg.Storage.CatalogPath),
		)
	}

	var uploader *upload.Client
	if cfg.Upload.Enabled {
		uploader, err = upload.NewClient(upload.Config{
			Endpoint:      cfg.Upload.Endpoint,
			APIKey:        cfg.Upload.APIKey,
			Timeout:       cfg.Upload.GetTimeoutDuration(),
			MaxRetries:    cfg.Upload.MaxRetries,
			MaxConcurrent: cfg.Upload.MaxConcurrent,
		}, logger, appMetrics)
		if err != nil {
			return fmt.Errorf("failed to create upload client: %w", err)
		}
		sinks = append(sinks, uploader)
		logger.Info("Upload client initialized", slog.String("endpoint", cfg.Upload.Endpoint))
	}

	sessionMgr, err := session.NewManager(managerConfig(cfg), logger, appMetrics, sinks...)
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}
	logger.Info("Session manager initialized",
		slog.Int("max_sessions", cfg.Session.MaxSessions),
		slog.Duration("idle_timeout", cfg.Session.GetIdleTimeoutDuration()),
	)

	var udpServer *server.UDPServer
	if cfg.Server.Enabled {
		udpServer = server.NewUDPServer(&cfg.Server, logger, sessionMgr, appMetrics)
		if err := udpServer.Start(); err != nil {
			sessionMgr.Stop()
			return fmt.Errorf("failed to start UDP server: %w", err)
		}
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		deps := server.Dependencies{
			Config:   cfg,
			Sessions: sessionMgr,
			UDP:      udpServer,
			Metrics:  appMetrics,
			Gatherer: reg,
			Version:  version,
		}
		// Leave the interfaces nil when the feature is off
		if store != nil {
			deps.Store = store
		}
		if uploader != nil {
			deps.Uploader = uploader
		}

		httpServer = server.NewHTTPServer(logger, deps)
		if err := httpServer.Start(); err != nil {
			if udpServer != nil {
				udpServer.Stop()
			}
			sessionMgr.Stop()
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Stop UDP server (stop accepting new packets)
	if udpServer != nil {
		if err := udpServer.Stop(); err != nil {
			logger.Error("Error stopping UDP server", slog.String("error", err.Error()))
		}
	}

	// Finish remaining sessions and wait for the sinks
	sessionMgr.Stop()

	if uploader != nil {
		uploader.Close()
		stats := uploader.GetStats()
		logger.Info("Final upload statistics",
			slog.Uint64("total_requests", stats.TotalRequests),
			slog.Uint64("failed_requests", stats.FailedRequests),
			slog.Uint64("retries", stats.TotalRetries),
		)
	}

	if udpServer != nil {
		stats := udpServer.GetStatistics()
		logger.Info("Final server statistics",
			slog.Uint64("packets_received", stats.PacketsReceived),
			slog.Uint64("packets_processed", stats.PacketsProcessed),
			slog.Uint64("parse_errors", stats.ParseErrors),
		)
	}

	logger.Info("Service stopped")
	return nil
}
