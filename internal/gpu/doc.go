// Package gpu serializes access to the single accelerator shared by the
// transcribe and analyze workers.
//
// The Gate is a capacity-one semaphore: Acquire suspends the calling worker
// until the slot frees, Release hands it to the next waiter. Holders release
// via defer, so a panicking critical section never wedges the gate. Once
// shutdown is requested new acquisitions fail fast while in-flight holders
// finish.
package gpu
