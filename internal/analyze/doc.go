// Package analyze implements the analyze stage. It reads the transcript
// sidecar, asks the configured summarizer for a content summary, and writes
// the summary sidecar next to the organized file. The stage holds the
// accelerator gate while the request is in flight.
package analyze
