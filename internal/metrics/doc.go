// Package metrics defines the Prometheus metrics exported by the silence detector.
package metrics
