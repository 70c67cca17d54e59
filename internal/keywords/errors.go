package keywords

import (
	"errors"
	"fmt"
)

// Sentinel errors for the query pipeline. Per-keyword failures never surface
// as errors; they resolve to absent entries in the result map.
var (
	// ErrCircuitOpen indicates dispatch was short-circuited without a network call.
	ErrCircuitOpen = errors.New("circuit open")
	// ErrBudgetExceeded indicates the run hit its wall-clock ceiling.
	ErrBudgetExceeded = errors.New("runtime budget exceeded")
	// ErrRequestTimeout indicates the round trip exceeded its configured timeout.
	ErrRequestTimeout = errors.New("request timed out")
	// ErrResponseParse indicates the response body did not match the expected schema.
	ErrResponseParse = errors.New("response parse failed")
	// ErrNoEndpoints indicates the pool has no endpoints configured.
	ErrNoEndpoints = errors.New("no endpoints configured")
)

// RequestFailedError reports a non-2xx HTTP response from a metrics endpoint.
type RequestFailedError struct {
	Status int
}

func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("request failed with status %d", e.Status)
}
