// Package processing implements the process stage by shelling out to the
// configured transcoder.
//
// The external tool's output is not safely interruptible, so the job is not
// cancellable while the transcoder runs; cancellation is honored at the
// stage boundaries instead. Tool failures surface verbatim so the failure
// classifier can bucket them.
package processing
