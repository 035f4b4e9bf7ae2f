package duck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsTransactionConflictError(t *testing.T) {
	t.Parallel()

	require.False(t, isTransactionConflictError(nil))
	require.False(t, isTransactionConflictError(errors.New("syntax error at or near FROM")))
	require.True(t, isTransactionConflictError(errors.New("TransactionContext Error: Transaction conflict on table dim_parlamentar")))
	require.True(t, isTransactionConflictError(errors.New("write-write conflict on update")))
	require.True(t, isTransactionConflictError(errors.New("table is being modified by another transaction")))
}

func TestRetryWithBackoff(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	t.Run("returns_immediately_on_success", func(t *testing.T) {
		t.Parallel()

		calls := 0
		err := retryWithBackoff(ctx, log, "test", func() error {
			calls++
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 1, calls)
	})

	t.Run("does_not_retry_other_errors", func(t *testing.T) {
		t.Parallel()

		calls := 0
		wantErr := errors.New("syntax error")
		err := retryWithBackoff(ctx, log, "test", func() error {
			calls++
			return wantErr
		})
		require.ErrorIs(t, err, wantErr)
		require.Equal(t, 1, calls)
	})

	t.Run("retries_conflicts_until_success", func(t *testing.T) {
		t.Parallel()

		calls := 0
		err := retryWithBackoff(ctx, log, "test", func() error {
			calls++
			if calls < 3 {
				return fmt.Errorf("write-write conflict on table")
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 3, calls)
	})

	t.Run("stops_when_context_cancelled", func(t *testing.T) {
		t.Parallel()

		cancelCtx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := retryWithBackoff(cancelCtx, log, "test", func() error {
			calls++
			cancel()
			return fmt.Errorf("write-write conflict on table")
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), "context cancelled")
		require.Equal(t, 1, calls)
	})
}
