// Package fetch implements the copy stage: streaming a file from the remote
// source into the staging directory.
//
// The remote transport is an injected Fetcher; conveyor ships a filesystem
// fetcher for mounted or local sources and tests, while FTP/SFTP transports
// live outside the core. Copying is the most interruptible stage, so it
// stays cancellable for its whole duration and removes the partial download
// when it stops.
package fetch
