// Package server implements the UDP receiver for remote sample-block sources
// and the HTTP API. The receiver shards packets across workers by stream ID so
// every stream is handled in arrival order; the API exposes health, sessions,
// stored recordings, configuration and Prometheus metrics.
package server
