// Package recovery re-queues failed files once their backoff expires.
//
// The orchestrator runs on a ticker (or an external Tick call), picks up
// failed files whose retry_after has passed, restores each to the checkpoint
// for the kind that failed, and inserts a fresh job. Files that exhaust the
// configured attempt ceiling are parked with manual_retry_required set — the
// only state a human has to dig the pipeline out of.
package recovery
