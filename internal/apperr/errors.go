// Package apperr holds the sentinel errors shared across mdparts packages.
// Packages wrap them with context; callers match with errors.Is.
package apperr

import "errors"

// Expansion errors. Any of these aborts an encode run before output is written.
var (
	ErrUnsafePath      = errors.New("unsafe path")
	ErrIncludeNotFound = errors.New("include not found")
	ErrIncludeCycle    = errors.New("include cycle")
	ErrDepthExceeded   = errors.New("include depth exceeded")
)

// Verification errors. These are collected per part, never fatal on their own.
var (
	ErrPartMissing      = errors.New("part missing")
	ErrMalformedMarkers = errors.New("malformed markers")
	ErrDigestMismatch   = errors.New("digest mismatch")
	ErrMissingEndMarker = errors.New("missing end marker")
	ErrCompareMismatch  = errors.New("reconstruction does not match reference")
)

// Usage-level errors.
var (
	ErrInputNotFound = errors.New("input not found")
	ErrInvalidInput  = errors.New("invalid input")
)

// ErrVerificationFailed wraps the aggregated failures of a verification run.
var ErrVerificationFailed = errors.New("verification failed")

// IsUsage reports whether err is a usage/input error rather than a processing failure.
func IsUsage(err error) bool {
	return errors.Is(err, ErrInputNotFound) || errors.Is(err, ErrInvalidInput)
}
