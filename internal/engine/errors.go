package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents a failure detected while processing a batch
// attempt.
//
// Runtime errors include:
//   - Invariant violation: a hard invariant failed on a candidate state
//   - Bound violation: a certified displacement bound was breached
//   - Singleton gate failure: an unsplittable operator failed the gate
//   - Correction failure: no proximal step satisfied the witness inequality
//
// RuntimeError includes structured fields for diagnostics; every rejection
// names the batch and operator it concerns.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// AttemptID identifies the affected batch attempt.
	AttemptID string

	// BatchID identifies the sub-batch being processed.
	BatchID string

	// OpID identifies the specific operator (for singleton/bound errors).
	OpID string

	// Details contains additional context.
	Details map[string]string

	// Cause is the wrapped underlying error, if any.
	Cause error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeInvariantViolation indicates a hard invariant failed.
	ErrCodeInvariantViolation RuntimeErrorCode = "INVARIANT_VIOLATION"

	// ErrCodeBoundViolation indicates a certified displacement or curvature
	// bound was breached at runtime (stale or forged certificate).
	ErrCodeBoundViolation RuntimeErrorCode = "BOUND_VIOLATION"

	// ErrCodeSingletonGateFailed indicates a single-operator batch failed
	// the gate; terminal for the enclosing attempt.
	ErrCodeSingletonGateFailed RuntimeErrorCode = "SINGLETON_GATE_FAILED"

	// ErrCodeCorrectionFailed indicates no proximal correction satisfied
	// the witness inequality within the halving schedule.
	ErrCodeCorrectionFailed RuntimeErrorCode = "CORRECTION_FAILED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.AttemptID != "" && e.OpID != "" {
		return fmt.Sprintf("%s: %s (attempt=%s, op=%s)", e.Code, e.Message, e.AttemptID, e.OpID)
	}
	if e.AttemptID != "" {
		return fmt.Sprintf("%s: %s (attempt=%s)", e.Code, e.Message, e.AttemptID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.As chains.
func (e *RuntimeError) Unwrap() error {
	return e.Cause
}

// IsInvariantViolation returns true if the error is a hard-invariant
// rejection. Uses errors.As to handle wrapped errors.
func IsInvariantViolation(err error) bool {
	return hasCode(err, ErrCodeInvariantViolation)
}

// IsBoundViolation returns true if the error is a certificate integrity
// failure. Uses errors.As to handle wrapped errors.
func IsBoundViolation(err error) bool {
	return hasCode(err, ErrCodeBoundViolation)
}

// IsSingletonGateFailed returns true if the error is a terminal singleton
// gate failure. Uses errors.As to handle wrapped errors.
func IsSingletonGateFailed(err error) bool {
	return hasCode(err, ErrCodeSingletonGateFailed)
}

// IsCorrectionFailed returns true if the error is a failed proximal
// correction. Uses errors.As to handle wrapped errors.
func IsCorrectionFailed(err error) bool {
	return hasCode(err, ErrCodeCorrectionFailed)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}
