// Package capture reads sample blocks from the default audio input device.
//
// Blocks are copied into a fixed ring of preallocated buffers, so steady-state
// capture does not allocate. A ring slot is reused only after every other slot
// has been handed out, which keeps a delivered block intact while it waits in
// a session queue no longer than the ring.
package capture
