package synth

import "errors"

// Failure classes of a synthesis round trip. Callers branch on these
// with errors.Is; everything else that can go wrong is wrapped around
// one of them.
var (
	// ErrUpstream means the provider could not be reached or returned a
	// transport-level failure. The request may be retried as-is.
	ErrUpstream = errors.New("synthesis provider unavailable")

	// ErrMalformed means the provider responded, but the payload is not
	// parseable JSON even after markdown fences are stripped.
	ErrMalformed = errors.New("malformed synthesis response")

	// ErrSchemaViolation means the payload parsed as JSON but does not
	// conform to the delta schema.
	ErrSchemaViolation = errors.New("synthesis response violates schema")
)
