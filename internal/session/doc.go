// Package session runs recording sessions. Each session splits work across two
// goroutines joined by bounded channels: a real-time loop that feeds every
// delivered block to the silence gate and the PCM accumulator without ever
// blocking, and a control loop that analyzes gate activations, acknowledges
// them and encodes the final recording once the session is stopped.
//
// Manager keeps the sessions of a service keyed by stream ID, enforces the
// session limit, finishes idle sessions and hands finished recordings to sinks.
package session
