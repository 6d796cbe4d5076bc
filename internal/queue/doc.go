// Package queue persists pipeline files and their jobs in SQLite and is the
// single source of truth for lifecycle semantics.
//
// A File is a media asset progressing through the pipeline; a Job is one unit
// of work of a specific Kind (copy, process, organize, transcribe, analyze)
// against one File. Files move through a closed state machine whose edges are
// validated on every write; illegal transitions are rejected with
// ErrInvalidTransition and leave the stored state untouched. Jobs are
// append-only: a retry never mutates a failed Job, it inserts a fresh row so
// the Job table doubles as an audit trail per File.
//
// The Store provides the one primitive that needs true atomicity: claiming a
// queued job via a conditional update so concurrent workers never double-claim
// the same row. All other writes touch a single File/Job pair inside one
// transaction.
//
// Schema changes bump schemaVersion in schema.go; the database is transient
// storage for in-flight work, so users clear it to adopt a new schema.
package queue
