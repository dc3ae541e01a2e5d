// Package pricing implements the Pricing Coordinator from spec §4.E:
// cache probe, distributed lock, double-check, breaker-wrapped upstream
// call, dual-namespace write, and the degraded-mode stale fallback.
package pricing

import "errors"

// Busy is returned when the distributed lock could not be acquired and
// the fresh re-read made after the failed lock wait found no value
// (spec §4.E step 2, "on LockUnavailableError").
var Busy = errors.New("pricing: service temporarily busy, please retry")

// ErrStoreUnavailable is returned when the shared Redis store itself is
// unreachable. Per spec §9, the explicit policy is to fail rather than
// bypass locking (bypassing would restore the thundering-herd pathology).
var ErrStoreUnavailable = errors.New("pricing: shared cache unavailable")

// Kind classifies the terminal error of a Resolve call for the edge's
// status-code mapping (spec §7).
type Kind int

const (
	KindNone Kind = iota
	KindTimeout
	KindClientError
	KindServerError
	KindNetworkError
	KindProtocolError
	KindBreakerOpen
	KindBusy
	KindStoreUnavailable
)

// Error is the typed error surfaced by Resolve, carrying both a Kind
// for status mapping and the underlying cause for logging.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }
