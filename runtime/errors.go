package runtime

import (
	"context"
	"errors"

	"github.com/justapithecus/wvrunner/extract"
)

// Sentinel errors for attempt failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrTimeout indicates the hard ceiling expired and the agent was killed.
	ErrTimeout = errors.New("hard timeout exceeded")

	// ErrStreamClosed indicates an output stream failed outside a deliberate shutdown.
	ErrStreamClosed = errors.New("output stream closed unexpectedly")

	// ErrExecutableNotFound indicates the agent executable could not be located or started.
	ErrExecutableNotFound = errors.New("agent executable not found")

	// ErrStart indicates the agent process could not be started for another reason.
	ErrStart = errors.New("failed to start agent")
)

// FailureKind classifies why an attempt failed.
type FailureKind string

// Failure kinds, in the order Classify checks them.
const (
	FailureNone               FailureKind = ""
	FailureCanceled           FailureKind = "canceled"
	FailureExecutableNotFound FailureKind = "executable_not_found"
	FailureTimeout            FailureKind = "timeout"
	FailureStreamClosed       FailureKind = "stream_closed"
	FailureStart              FailureKind = "start_failed"
	FailureMarkerMissing      FailureKind = "marker_missing"
	FailureParse              FailureKind = "parse_failure"
	FailureUnknown            FailureKind = "unknown"
)

// Classify maps an attempt error to its failure kind.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return FailureCanceled
	case errors.Is(err, ErrExecutableNotFound):
		return FailureExecutableNotFound
	case errors.Is(err, ErrTimeout):
		return FailureTimeout
	case errors.Is(err, ErrStreamClosed):
		return FailureStreamClosed
	case errors.Is(err, ErrStart):
		return FailureStart
	case errors.Is(err, extract.ErrMarkerNotFound):
		return FailureMarkerMissing
	case errors.Is(err, extract.ErrNoObjectStart),
		errors.Is(err, extract.ErrUnterminatedObject),
		errors.Is(err, extract.ErrParse):
		return FailureParse
	default:
		return FailureUnknown
	}
}

// Retryable reports whether a fresh attempt after backoff may succeed.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureTimeout, FailureStreamClosed, FailureStart:
		return true
	default:
		return false
	}
}
