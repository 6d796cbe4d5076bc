// Package notifications publishes pipeline events to an external sink.
//
// The scheduler and recovery orchestrator emit an Event on every file and job
// transition. The default sink pushes selected events to ntfy when a topic is
// configured and otherwise drops them; tests inject a recording sink. Event
// delivery is best effort and never blocks pipeline progress.
package notifications
