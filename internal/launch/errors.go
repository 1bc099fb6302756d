package launch

import "errors"

// All builder failures are precondition violations: the caller must correct
// the accumulated constraints and rebuild. errors.Is against these sentinels
// distinguishes the failure class; the wrapped message carries the specifics.
var (
	// ErrUnderSpecified: not enough of block/grid/overall is known to derive
	// the rest.
	ErrUnderSpecified = errors.New("launch configuration under-specified")

	// ErrConflict: mutually exclusive dimensions or modes were both supplied,
	// or an explicit block/grid/overall triple is inconsistent.
	ErrConflict = errors.New("conflicting launch specifications")

	// ErrLimitExceeded: dimensions or shared memory exceed a kernel or device
	// capability.
	ErrLimitExceeded = errors.New("launch configuration exceeds capability limit")

	// ErrInvalidMode: a derivation mode was requested without its
	// prerequisites, or two modes were requested at once.
	ErrInvalidMode = errors.New("invalid launch derivation mode")
)
