package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo(t *testing.T) {
	t.Run("Should succeed on first try", func(t *testing.T) {
		attempts := 0
		err := Do(context.Background(), func(context.Context) error {
			attempts++
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("Should succeed after retries", func(t *testing.T) {
		attempts := 0
		err := Do(context.Background(), func(context.Context) error {
			attempts++
			if attempts < 3 {
				return errors.New("temporary error")
			}
			return nil
		}, WithMaxRetries(5), WithDelay(time.Millisecond))

		assert.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("Should fail after max retries", func(t *testing.T) {
		attempts := 0
		expectedErr := errors.New("persistent error")

		err := Do(context.Background(), func(context.Context) error {
			attempts++
			return expectedErr
		}, WithMaxRetries(3), WithDelay(time.Millisecond))

		require.Error(t, err)
		assert.Equal(t, 4, attempts)
		assert.ErrorIs(t, err, expectedErr)
	})

	t.Run("Should stop on permanent errors", func(t *testing.T) {
		attempts := 0
		err := Do(context.Background(), func(context.Context) error {
			attempts++
			return MarkPermanent(errors.New("no"))
		}, WithMaxRetries(5), WithDelay(time.Millisecond))

		require.Error(t, err)
		assert.True(t, IsPermanent(err))
		assert.Equal(t, 1, attempts)
	})

	t.Run("Should respect context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		attempts := 0

		go func() {
			time.Sleep(30 * time.Millisecond)
			cancel()
		}()

		err := Do(ctx, func(context.Context) error {
			attempts++
			return errors.New("keep failing")
		}, WithMaxRetries(1000), WithDelay(10*time.Millisecond))

		assert.ErrorIs(t, err, context.Canceled)
		assert.Less(t, attempts, 1000)
	})

	t.Run("Should call onRetry before each retry", func(t *testing.T) {
		var seen []int
		_ = Do(context.Background(), func(context.Context) error {
			return errors.New("x")
		}, WithMaxRetries(2), WithDelay(time.Millisecond), WithOnRetry(func(n int, _ error) {
			seen = append(seen, n)
		}))

		assert.Equal(t, []int{1, 2}, seen)
	})

	t.Run("Should honour a custom retryIf", func(t *testing.T) {
		attempts := 0
		_ = Do(context.Background(), func(context.Context) error {
			attempts++
			return errors.New("x")
		}, WithMaxRetries(5), WithDelay(time.Millisecond), WithRetryIf(func(error) bool { return false }))

		assert.Equal(t, 1, attempts)
	})
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	got, err := DoWithResult(context.Background(), func(context.Context) (int, error) {
		attempts++
		if attempts < 2 {
			return 0, errors.New("again")
		}
		return 42, nil
	}, WithExponentialBackoff(time.Millisecond, 2), WithMaxDelay(4*time.Millisecond), WithJitter(0.5))

	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestJittered(t *testing.T) {
	assert.Equal(t, time.Second, jittered(time.Second, 0))

	for i := 0; i < 50; i++ {
		d := jittered(100*time.Millisecond, 0.5)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}
