// Package gate implements the per-block silence gate.
// It classifies each block against an amplitude threshold and emits the first
// non-silent block once per activation, re-arming only after an acknowledgment.
package gate
