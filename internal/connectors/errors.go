package connectors

import (
	"fmt"
	"time"
)

// ThrottleError — оракул попросил подождать (HTTP 429 с Retry-After).
// ReliabilityWrapper учитывает задержку при расчете бэкоффа.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error {
	return e.Cause
}
