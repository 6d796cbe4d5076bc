// Package daemon assembles the pipeline: it owns the queue store, the
// per-kind worker pools, the recovery orchestrator, and the accelerator
// gate, and enforces single-instance execution with a file lock.
package daemon
