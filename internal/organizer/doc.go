// Package organizer implements the organize stage. It moves processed
// artifacts into the library tree with sanitized names, verifies the copy by
// content hash, and resolves name collisions without overwriting existing
// library files.
package organizer
