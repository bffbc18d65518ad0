package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuntimeErrorPredicates(t *testing.T) {
	inv := &RuntimeError{Code: ErrCodeInvariantViolation, Message: "balance negative"}
	assert.True(t, IsInvariantViolation(inv))
	assert.False(t, IsBoundViolation(inv))

	wrapped := fmt.Errorf("execute: %w", &RuntimeError{Code: ErrCodeSingletonGateFailed, Message: "residual"})
	assert.True(t, IsSingletonGateFailed(wrapped))

	assert.False(t, IsCorrectionFailed(errors.New("plain")))
}

func TestRuntimeErrorMessageIncludesContext(t *testing.T) {
	err := &RuntimeError{
		Code:      ErrCodeBoundViolation,
		Message:   "displacement 25 exceeds certified bound 16",
		AttemptID: "att-1",
		OpID:      "op.a",
	}
	assert.Contains(t, err.Error(), "BOUND_VIOLATION")
	assert.Contains(t, err.Error(), "att-1")
	assert.Contains(t, err.Error(), "op.a")
}

func TestRuntimeErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &RuntimeError{Code: ErrCodeCorrectionFailed, Message: "exhausted", Cause: cause}
	assert.ErrorIs(t, err, cause)
}
