package failures

import "time"

const (
	baseBackoffCapMinutes     = 60
	resourceBackoffCapMinutes = 120
)

// BackoffMinutes computes the recovery delay for a category and 1-based
// recovery attempt. The base doubles per attempt capped at an hour;
// reconnect-style failures are halved (floor one minute) because they clear
// as soon as the link is back, while resource exhaustion doubles capped at
// two hours to let the accelerator drain.
func BackoffMinutes(category Category, attempt int) int {
	if attempt < 1 {
		attempt = 1
	}
	base := 1
	for i := 0; i < attempt; i++ {
		base *= 2
		if base >= baseBackoffCapMinutes {
			base = baseBackoffCapMinutes
			break
		}
	}

	switch {
	case category.RequiresFTPReconnect():
		base /= 2
		if base < 1 {
			base = 1
		}
	case category == ProcessingResource:
		base *= 2
		if base > resourceBackoffCapMinutes {
			base = resourceBackoffCapMinutes
		}
	}
	return base
}

// BackoffDelay is BackoffMinutes as a duration.
func BackoffDelay(category Category, attempt int) time.Duration {
	return time.Duration(BackoffMinutes(category, attempt)) * time.Minute
}
