package pipeline

import "errors"

// Error kinds surfaced by the pipeline. All of them are wrapped with stage
// and format context at the point of failure so callers can log or retry
// with enough detail; use errors.Is to classify.
var (
	// ErrValidation means a requested size or format exceeds what the
	// sensor can produce. It is detected before any hardware call.
	ErrValidation = errors.New("configuration validation failed")

	// ErrLink means a graph link enable or disable was rejected. The
	// remaining link changes are abandoned; the graph may be left in a
	// mixed state until the next configure re-runs selection.
	ErrLink = errors.New("link setup failed")

	// ErrNegotiation means a pipeline stage rejected a format or accepted
	// an incompatible one. The chain stops at the failing stage.
	ErrNegotiation = errors.New("format negotiation failed")

	// ErrHardwareCommand means a stream or buffer command was not
	// acknowledged by the capture node.
	ErrHardwareCommand = errors.New("hardware command failed")

	// ErrPipelineBusy means the shared physical pipeline is held by a
	// streaming camera and the requested operation was rejected, not
	// queued.
	ErrPipelineBusy = errors.New("pipeline busy")

	// ErrProtocolViolation marks a broken ordering invariant. Lifecycle
	// operations invoked from an illegal state return it wrapped; a buffer
	// completion arriving with nothing in flight panics with it, since
	// that can only be an upstream ordering bug and must not be papered
	// over.
	ErrProtocolViolation = errors.New("pipeline protocol violation")
)
