package circuit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDoSucceedsOnFirstAttempt(t *testing.T) {
	policy := DefaultPolicy("test")
	b := New(policy, zap.NewNop())

	calls := 0
	err := b.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestDoRetriesUpToMaxAttempts(t *testing.T) {
	policy := DefaultPolicy("test")
	policy.InitialBackoff = 0
	policy.MaxBackoff = 0
	policy.FailureThreshold = 100 // keep breaker closed across this test
	b := New(policy, zap.NewNop())

	calls := 0
	wantErr := errors.New("boom")
	err := b.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return wantErr
	})
	require.Error(t, err)
	require.Equal(t, policy.MaxAttempts, calls)
}

func TestDoReturnsNilAfterTransientFailureThenSuccess(t *testing.T) {
	policy := DefaultPolicy("test")
	policy.InitialBackoff = 0
	policy.MaxBackoff = 0
	b := New(policy, zap.NewNop())

	calls := 0
	err := b.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}
