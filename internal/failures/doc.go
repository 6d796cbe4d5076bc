// Package failures maps stage errors to a closed failure taxonomy and
// computes the recovery backoff each category earns.
//
// Classification is a deliberate best-effort heuristic: lower-cased error
// text is matched against ordered, kind-specific keyword groups, most
// specific first. Ambiguous errors (a timeout during resource exhaustion,
// say) can land in the wrong bucket; that is inherent to the approach and
// every (kind, error) pair still yields exactly one category. The taxonomy
// is pluggable as long as the category/backoff contract holds.
package failures
