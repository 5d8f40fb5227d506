package sandbox

import "errors"

// Lifecycle errors. Each maps to a distinct API error code at the HTTP
// boundary so clients can tell an unusable sandbox from a stale read.
var (
	// ErrInvalidReference means a personality, guardrail, or animal the
	// sandbox points at does not exist or cannot be assigned.
	ErrInvalidReference = errors.New("sandbox: invalid reference")

	// ErrInvalidTTL means the requested TTL is malformed or out of bounds.
	ErrInvalidTTL = errors.New("sandbox: invalid ttl")

	// ErrExpired means the sandbox's TTL has passed; it accepts no further
	// turns or promotion.
	ErrExpired = errors.New("sandbox: expired")

	// ErrAlreadyPromoted means the sandbox has already produced its
	// assistant and is frozen.
	ErrAlreadyPromoted = errors.New("sandbox: already promoted")

	// ErrNotTested means promotion was requested before any conversation
	// turn was recorded.
	ErrNotTested = errors.New("sandbox: not tested")

	// ErrGuardrailNotAssignable means promotion was requested while the
	// sandbox's guardrail holds no rules. A live assistant must have an
	// enforceable rule set; a sandbox under test need not.
	ErrGuardrailNotAssignable = errors.New("sandbox: guardrail not assignable")

	// ErrConflict means the caller's version was stale; re-read and retry.
	ErrConflict = errors.New("sandbox: version conflict")
)
