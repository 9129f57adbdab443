package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
)

func TestUnretriable(t *testing.T) {
	err := Unretriable(fmt.Errorf("bar"))
	require.True(t, IsUnretriable(err))
	var permErr *backoff.PermanentError
	require.True(t, errors.As(err, &permErr))

	require.False(t, IsUnretriable(fmt.Errorf("plain")))
	require.True(t, IsUnretriable(fmt.Errorf("wrapped: %w", err)))
}

func TestComputeErrorNormalization(t *testing.T) {
	transport := NewTransportError(fmt.Errorf("dial tcp: connection refused"))
	require.True(t, transport.Transport)
	require.Contains(t, transport.Error(), "transport")
	require.Equal(t, "dial tcp: connection refused", ComputeReason(transport))

	runner := NewRunnerError("disk full")
	require.False(t, runner.Transport)
	require.Equal(t, "disk full", ComputeReason(runner))
	require.Equal(t, "disk full", ComputeReason(fmt.Errorf("assemble: %w", runner)))

	// both flavors stay retryable at this layer
	require.False(t, IsUnretriable(transport))
	require.False(t, IsUnretriable(runner))
}
