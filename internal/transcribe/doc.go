// Package transcribe implements the transcribe stage. It serializes on the
// accelerator gate, shells out to the configured transcriber, and writes the
// transcript as a sidecar next to the organized file.
package transcribe
