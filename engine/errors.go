package engine

import "errors"

// Error taxonomy. Every failure below the controller propagates wrapped
// around exactly one of these sentinels so callers can classify with
// errors.Is; nothing downgrades to a silent default. Malformed-circuit
// errors carry circuit.ErrMalformed instead and are rejected before any
// plan is built.
var (
	// ErrCapacity reports a memory budget smaller than a single plan step's
	// touch set. A configuration error: surfaced before execution starts and
	// never retried.
	ErrCapacity = errors.New("memory budget below step requirement")

	// ErrFatalIO reports a transfer that kept failing after the configured
	// retry budget, or an unrecoverable device error.
	ErrFatalIO = errors.New("fatal backing-store I/O failure")

	// ErrStoreExhausted reports that the backing store cannot grow to hold a
	// newly allocated page.
	ErrStoreExhausted = errors.New("backing store exhausted")

	// ErrCorruptCheckpoint reports a checkpoint manifest that failed
	// verification during restore. Restore never resumes from unverified
	// state; the caller may retry from an earlier checkpoint.
	ErrCorruptCheckpoint = errors.New("corrupt or incomplete checkpoint")

	// ErrAborted reports a run cancelled between steps via Abort.
	ErrAborted = errors.New("run aborted")
)
