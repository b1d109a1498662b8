package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryableError(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewRetryableError(fmt.Errorf("failed to claim job: %w", cause))

	var retryable *RetryableError
	require.ErrorAs(t, err, &retryable)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "failed to claim job")
}
