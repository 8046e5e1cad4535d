package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesWrappedCode(t *testing.T) {
	err := Busy("ledger transaction dispatch")
	assert.True(t, Is(err, CodeBusy))
	assert.False(t, Is(err, CodeTimeout))
}

func TestIsFollowsUnwrapChain(t *testing.T) {
	cause := errors.New("connection reset")
	err := ConnectionLost(cause)
	wrapped := fmt.Errorf("retry loop: %w", err)

	assert.True(t, Is(wrapped, CodeConnectionLost))
}

func TestIsReturnsFalseForPlainError(t *testing.T) {
	assert.False(t, Is(errors.New("boom"), CodeBusy))
}

func TestAsExtractsChronicleError(t *testing.T) {
	err := TimeOrdering("2026-01-01T00:00:00Z", "2025-01-01T00:00:00Z")

	ce, ok := As(err)
	require := assert.New(t)
	require.True(ok)
	require.Equal(CodeTimeOrdering, ce.Code)
	require.Equal("2026-01-01T00:00:00Z", ce.Details["started"])
}

func TestWithDetailsAccumulates(t *testing.T) {
	err := New(CodeInvariantViolation, "bad state").
		WithDetails("a", 1).
		WithDetails("b", 2)

	assert.Equal(t, 1, err.Details["a"])
	assert.Equal(t, 2, err.Details["b"])
}

func TestErrorStringIncludesCodeAndCause(t *testing.T) {
	cause := errors.New("eof")
	err := BadSignature(cause)

	msg := err.Error()
	assert.Contains(t, msg, string(CodeBadSignature))
	assert.Contains(t, msg, "eof")
}

func TestUnwrapReturnsUnderlyingCause(t *testing.T) {
	cause := errors.New("parse failure")
	err := UnparseablePayload(cause)

	assert.Equal(t, cause, errors.Unwrap(err))
}
