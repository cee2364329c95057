package errors_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	dErrors "custodia/pkg/domain-errors"
)

func TestIs_MatchesCode(t *testing.T) {
	err := dErrors.New(dErrors.CodeNotFound, "no such patient")
	assert.True(t, dErrors.Is(err, dErrors.CodeNotFound))
	assert.False(t, dErrors.Is(err, dErrors.CodeConflict))
}

func TestIs_WrappedChain(t *testing.T) {
	inner := dErrors.New(dErrors.CodeUnavailable, "audit backend unreachable")
	wrapped := fmt.Errorf("create user: %w", inner)
	assert.True(t, dErrors.Is(wrapped, dErrors.CodeUnavailable))
}

func TestCodeOf_Uncoded(t *testing.T) {
	assert.Equal(t, dErrors.CodeInternal, dErrors.CodeOf(fmt.Errorf("boom")))
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	err := dErrors.Wrap(cause, dErrors.CodeUnavailable, "ledger append failed")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, dErrors.CodeUnavailable, dErrors.CodeOf(err))
}
