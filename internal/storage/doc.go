// Package storage keeps finished recordings on disk and indexes them in a
// sqlite catalog.
//
// Each recording is written as recording-<timestamp>-<id>.wav under the
// output directory. The catalog row carries the audio parameters and the
// spectral summary so the HTTP API can list recordings without opening the
// files.
package storage
