// Package upload publishes finished recordings to an HTTP endpoint.
// Each recording is sent as multipart form data (the WAV file plus a JSON
// metadata part), with bounded concurrency and exponential backoff retries.
package upload
