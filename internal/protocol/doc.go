// Package protocol implements the binary packet format used to deliver sample
// blocks over UDP: an 8-byte big-endian header followed by a start, block or
// stop payload. Block samples are IEEE-754 float32 values laid out channel by
// channel.
package protocol
