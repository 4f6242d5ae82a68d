package retry_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/immutable/go-passport/retry"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func TestWithDelay(t *testing.T) {
	errFinal := errors.New("gave up")

	tests := []struct {
		name          string
		retries       int
		failures      int
		expectedCalls int32
		expectErr     bool
	}{
		{name: "succeeds first time", retries: 3, failures: 0, expectedCalls: 1},
		{name: "succeeds after failures", retries: 3, failures: 2, expectedCalls: 3},
		{name: "succeeds on last attempt", retries: 3, failures: 3, expectedCalls: 4},
		{name: "exhausted", retries: 3, failures: 10, expectedCalls: 4, expectErr: true},
		{name: "zero retries means one attempt", retries: 0, failures: 10, expectedCalls: 1, expectErr: true},
		{name: "negative retries treated as zero", retries: -2, failures: 10, expectedCalls: 1, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls, finallyCalls int32
			got, err := retry.WithDelay(context.Background(), func(context.Context) (string, error) {
				n := atomic.AddInt32(&calls, 1)
				if int(n) <= tt.failures {
					return "", errFlaky
				}
				return "ok", nil
			},
				retry.WithRetries(tt.retries),
				retry.WithInterval(time.Millisecond),
				retry.WithFinalErr(errFinal),
				retry.WithFinally(func() { atomic.AddInt32(&finallyCalls, 1) }),
			)

			require.Equal(t, tt.expectedCalls, atomic.LoadInt32(&calls))
			if tt.expectErr {
				require.ErrorIs(t, err, errFinal)
				require.ErrorIs(t, err, errFlaky)
				require.Empty(t, got)
				require.Equal(t, int32(1), atomic.LoadInt32(&finallyCalls))
				return
			}
			require.NoError(t, err)
			require.Equal(t, "ok", got)
			require.Equal(t, int32(0), atomic.LoadInt32(&finallyCalls))
		})
	}
}

func TestWithDelayDefaultFinalErr(t *testing.T) {
	_, err := retry.WithDelay(context.Background(), func(context.Context) (int, error) {
		return 0, errFlaky
	}, retry.WithRetries(1), retry.WithInterval(time.Millisecond))

	require.ErrorIs(t, err, retry.ErrRetryFailed)
}

func TestWithDelayPermanent(t *testing.T) {
	var calls, finallyCalls int32
	errFatal := errors.New("invalid_grant")

	_, err := retry.WithDelay(context.Background(), func(context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, retry.Permanent(errFatal)
	},
		retry.WithRetries(5),
		retry.WithInterval(time.Millisecond),
		retry.WithFinally(func() { atomic.AddInt32(&finallyCalls, 1) }),
	)

	require.ErrorIs(t, err, errFatal)
	require.NotErrorIs(t, err, retry.ErrRetryFailed)
	require.Equal(t, int32(1), calls)
	require.Equal(t, int32(1), finallyCalls)
}

func TestWithDelayContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var finallyCalls int32

	_, err := retry.WithDelay(ctx, func(context.Context) (int, error) {
		cancel()
		return 0, errFlaky
	},
		retry.WithRetries(5),
		retry.WithInterval(time.Hour),
		retry.WithFinally(func() { atomic.AddInt32(&finallyCalls, 1) }),
	)

	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, int32(1), finallyCalls)
}

func TestWithDelayNotify(t *testing.T) {
	var notified []time.Duration
	_, _ = retry.WithDelay(context.Background(), func(context.Context) (int, error) {
		return 0, errFlaky
	},
		retry.WithRetries(2),
		retry.WithInterval(2*time.Millisecond),
		retry.WithNotify(func(err error, next time.Duration) {
			require.ErrorIs(t, err, errFlaky)
			notified = append(notified, next)
		}),
	)

	require.Equal(t, []time.Duration{2 * time.Millisecond, 2 * time.Millisecond}, notified)
}
