// Package scheduler exposes the orchestration API the worker pools, recovery
// orchestrator, and CLI drive the pipeline through.
//
// It owns job creation and the kind sequence (copy, process, organize, then
// the optional transcribe/analyze tail), enforces per-kind concurrency on
// claim, routes failures through the classifier to pick a backoff, and
// publishes an event to the notification sink on every transition. All row
// mutations delegate to the queue store so each externally visible event is
// one transaction.
package scheduler
