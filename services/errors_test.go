package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorMatching(t *testing.T) {
	err := NewRateLimitError("exceeded 10 requests per hour")

	assert.True(t, IsType(err, ErrorTypeRateLimit))
	assert.False(t, IsType(err, ErrorTypeBudget))
	assert.Equal(t, ErrorTypeRateLimit, TypeOf(err))

	// Matching survives wrapping.
	wrapped := fmt.Errorf("handling request: %w", err)
	assert.True(t, IsType(wrapped, ErrorTypeRateLimit))
	assert.Equal(t, ErrorTypeRateLimit, TypeOf(wrapped))
}

func TestDomainErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewInternalError("ledger query failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "ledger query failed")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestTypeOfUnclassifiedErrorIsInternal(t *testing.T) {
	assert.Equal(t, ErrorTypeInternal, TypeOf(errors.New("plain")))
}

func TestWithDetail(t *testing.T) {
	err := NewBudgetError("monthly budget exhausted").
		WithDetail("limit", 50).
		WithDetail("used", 50)

	require.NotNil(t, err.Details)
	assert.Equal(t, 50, err.Details["limit"])
	assert.Equal(t, 50, err.Details["used"])
}

func TestDomainErrorIsComparesTypes(t *testing.T) {
	a := NewBudgetError("one")
	b := NewBudgetError("two")
	c := NewRateLimitError("three")

	assert.ErrorIs(t, a, b)
	assert.NotErrorIs(t, a, c)
}
