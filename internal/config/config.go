package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	HTTP     HTTPConfig     `yaml:"http" json:"http"`
	Audio    AudioConfig    `yaml:"audio" json:"audio"`
	Gate     GateConfig     `yaml:"gate" json:"gate"`
	Analysis AnalysisConfig `yaml:"analysis" json:"analysis"`
	Session  SessionConfig  `yaml:"session" json:"session"`
	Storage  StorageConfig  `yaml:"storage" json:"storage"`
	Upload   UploadConfig   `yaml:"upload" json:"upload"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// ServerConfig contains UDP block receiver configuration
type ServerConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	UDPPort     int    `yaml:"udp_port" json:"udp_port"`
	BindAddress string `yaml:"bind_address" json:"bind_address"`
	BufferSize  int    `yaml:"buffer_size" json:"buffer_size"`
	Workers     int    `yaml:"workers" json:"workers"`
	MaxGap      int    `yaml:"max_gap" json:"max_gap"` // blocks
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port" json:"port"`
	Address string `yaml:"address" json:"address"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

// AudioConfig contains audio capture and container parameters
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`
	Channels   int `yaml:"channels" json:"channels"`
	BitDepth   int `yaml:"bit_depth" json:"bit_depth"`
	BlockSize  int `yaml:"block_size" json:"block_size"` // samples per channel
}

// GateConfig contains silence gate configuration
type GateConfig struct {
	Threshold float32 `yaml:"threshold" json:"threshold"`
}

// AnalysisConfig contains spectral analysis configuration
type AnalysisConfig struct {
	FrameSize           int     `yaml:"frame_size" json:"frame_size"`
	TopK                int     `yaml:"top_k" json:"top_k"`
	Backend             string  `yaml:"backend" json:"backend"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold"`
	MagnitudeThreshold  float64 `yaml:"magnitude_threshold" json:"magnitude_threshold"`
}

// SessionConfig contains session lifecycle configuration
type SessionConfig struct {
	QueueSize   int `yaml:"queue_size" json:"queue_size"`     // blocks
	IdleTimeout int `yaml:"idle_timeout" json:"idle_timeout"` // seconds
	MaxSessions int `yaml:"max_sessions" json:"max_sessions"`
	MaxDuration int `yaml:"max_duration" json:"max_duration"` // seconds, 0 = unlimited
}

// StorageConfig contains recording persistence configuration
type StorageConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	OutputDir   string `yaml:"output_dir" json:"output_dir"`
	CatalogPath string `yaml:"catalog_path" json:"catalog_path"`
}

// UploadConfig contains recording publisher configuration
type UploadConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	Endpoint      string `yaml:"endpoint" json:"endpoint"`
	APIKey        string `yaml:"api_key" json:"-"`
	Timeout       int    `yaml:"timeout" json:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries" json:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent" json:"max_concurrent"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// Default returns a configuration that runs without a config file
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Enabled:     true,
			UDPPort:     4444,
			BindAddress: "0.0.0.0",
			BufferSize:  65536,
			Workers:     4,
			MaxGap:      20,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Audio: AudioConfig{
			SampleRate: 48000,
			Channels:   1,
			BitDepth:   16,
			BlockSize:  128,
		},
		Gate: GateConfig{
			Threshold: 3.0 / 32768.0,
		},
		Analysis: AnalysisConfig{
			FrameSize:           128,
			TopK:                5,
			Backend:             "auto",
			SimilarityThreshold: 0.997,
			MagnitudeThreshold:  0.0025,
		},
		Session: SessionConfig{
			QueueSize:   256,
			IdleTimeout: 30,
			MaxSessions: 100,
			MaxDuration: 0,
		},
		Storage: StorageConfig{
			Enabled:     true,
			OutputDir:   "./recordings",
			CatalogPath: "./recordings/catalog.db",
		},
		Upload: UploadConfig{
			Enabled:       false,
			Timeout:       30,
			MaxRetries:    3,
			MaxConcurrent: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file. Keys missing from the file
// keep their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Gate.Validate(); err != nil {
		return fmt.Errorf("gate config: %w", err)
	}

	if err := c.Analysis.Validate(); err != nil {
		return fmt.Errorf("analysis config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Upload.Validate(); err != nil {
		return fmt.Errorf("upload config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates UDP server configuration
func (s *ServerConfig) Validate() error {
	if !s.Enabled {
		return nil
	}

	if s.UDPPort < 1 || s.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", s.UDPPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", s.BufferSize)
	}

	if s.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", s.Workers)
	}

	if s.MaxGap < 1 {
		return fmt.Errorf("max_gap must be at least 1, got %d", s.MaxGap)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 1 {
		return fmt.Errorf("sample_rate must be positive, got %d", a.SampleRate)
	}

	if a.Channels < 1 || a.Channels > 8 {
		return fmt.Errorf("channels must be between 1 and 8, got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	if a.BlockSize < 1 {
		return fmt.Errorf("block_size must be positive, got %d", a.BlockSize)
	}

	return nil
}

// Validate validates silence gate configuration
func (g *GateConfig) Validate() error {
	if math.IsNaN(float64(g.Threshold)) || g.Threshold < 0 || g.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", g.Threshold)
	}

	return nil
}

// Validate validates spectral analysis configuration
func (a *AnalysisConfig) Validate() error {
	if a.FrameSize < 2 || a.FrameSize&(a.FrameSize-1) != 0 {
		return fmt.Errorf("frame_size must be a power of two, got %d", a.FrameSize)
	}

	if a.TopK < 1 || a.TopK > a.FrameSize/2 {
		return fmt.Errorf("top_k must be between 1 and %d, got %d", a.FrameSize/2, a.TopK)
	}

	validBackends := map[string]bool{"auto": true, "direct": true, "fft": true}
	if !validBackends[a.Backend] {
		return fmt.Errorf("backend must be one of [auto, direct, fft], got '%s'", a.Backend)
	}

	if a.SimilarityThreshold <= 0 || a.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in (0, 1], got %f", a.SimilarityThreshold)
	}

	if a.MagnitudeThreshold < 0 {
		return fmt.Errorf("magnitude_threshold cannot be negative, got %f", a.MagnitudeThreshold)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", s.QueueSize)
	}

	if s.IdleTimeout < 1 {
		return fmt.Errorf("idle_timeout must be at least 1 second, got %d", s.IdleTimeout)
	}

	if s.MaxSessions < 1 {
		return fmt.Errorf("max_sessions must be at least 1, got %d", s.MaxSessions)
	}

	if s.MaxDuration < 0 {
		return fmt.Errorf("max_duration cannot be negative, got %d", s.MaxDuration)
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	if !s.Enabled {
		return nil
	}

	if s.OutputDir == "" {
		return fmt.Errorf("output_dir cannot be empty when storage is enabled")
	}

	if s.CatalogPath == "" {
		return fmt.Errorf("catalog_path cannot be empty when storage is enabled")
	}

	return nil
}

// Validate validates upload configuration
func (u *UploadConfig) Validate() error {
	if !u.Enabled {
		return nil
	}

	if u.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if u.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", u.Timeout)
	}

	if u.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", u.MaxRetries)
	}

	if u.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", u.MaxConcurrent)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout/stderr is treated as a file path
	return nil
}

// GetIdleTimeoutDuration returns the session idle timeout as a time.Duration
func (s *SessionConfig) GetIdleTimeoutDuration() time.Duration {
	return time.Duration(s.IdleTimeout) * time.Second
}

// GetMaxDuration returns the maximum session duration; zero means unlimited
func (s *SessionConfig) GetMaxDuration() time.Duration {
	return time.Duration(s.MaxDuration) * time.Second
}

// GetTimeoutDuration returns the upload timeout as a time.Duration
func (u *UploadConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(u.Timeout) * time.Second
}

// GetBlockDuration returns how much audio one block carries
func (a *AudioConfig) GetBlockDuration() time.Duration {
	return time.Duration(a.BlockSize) * time.Second / time.Duration(a.SampleRate)
}
