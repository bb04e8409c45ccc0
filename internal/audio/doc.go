// Package audio holds the sample-block data model, PCM accumulation and the
// canonical 44-byte RIFF/WAVE container codec.
// Float blocks arrive channel-planar from a capture source, are converted to
// 16-bit PCM in arrival order, and are serialized once at the end of a session.
package audio
