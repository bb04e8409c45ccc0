// Package config provides configuration loading and validation for the silence detector.
// It handles YAML-based configuration where every section has a default and its own
// Validate method; keys omitted from the file keep the defaults from Default.
package config
