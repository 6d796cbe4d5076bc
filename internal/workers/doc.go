// Package workers runs per-kind worker pools against the scheduler.
//
// Each pool holds a fixed number of goroutines that claim ready jobs,
// execute the registered handler, and report completion or failure back to
// the scheduler. An empty queue is polled at the configured interval; no
// busier loop exists anywhere in the pipeline.
//
// Cancellation is cooperative. Handlers poll the Task at their safe points
// and return ErrCancelled once they have stopped and removed partial output;
// the pool then finalizes the job and the file rolls back to its checkpoint.
package workers
