// Package summarizer wraps the chat-completions API used by the analyze
// stage to produce content summaries from transcripts. Requests are retried
// with exponential backoff on transient HTTP failures.
package summarizer
