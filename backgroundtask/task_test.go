package backgroundtask_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/immutable/go-passport/backgroundtask"
	"github.com/stretchr/testify/require"
)

func TestTaskSharesSingleAttempt(t *testing.T) {
	var calls int32
	release := make(chan struct{})

	task := backgroundtask.New(context.Background(), func(context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 42, nil
	})
	require.Equal(t, backgroundtask.Pending, task.Status())

	var wg sync.WaitGroup
	results := make([]int, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := task.Result(context.Background())
			require.NoError(t, err)
			results[i] = v
		}(i)
	}

	close(release)
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, v := range results {
		require.Equal(t, 42, v)
	}
	require.Equal(t, backgroundtask.Successful, task.Status())

	// A settled success is returned without running the producer again.
	v, err := task.Result(context.Background())
	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTaskRestartsAfterFailure(t *testing.T) {
	var calls int32
	errFirst := errors.New("first attempt fails")

	task := backgroundtask.New(context.Background(), func(context.Context) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return "", errFirst
		}
		return "recovered", nil
	})

	<-task.Done()
	require.Equal(t, backgroundtask.Failed, task.Status())

	v, err := task.Result(context.Background())
	require.NoError(t, err)
	require.Equal(t, "recovered", v)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
	require.Equal(t, backgroundtask.Successful, task.Status())
}

func TestTaskFailureSharedByConcurrentWaiters(t *testing.T) {
	errBoom := errors.New("boom")
	release := make(chan struct{})
	var calls int32

	task := backgroundtask.New(context.Background(), func(context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 0, errBoom
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := task.Result(context.Background())
			require.ErrorIs(t, err, errBoom)
		}()
	}
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTaskWaiterContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	task := backgroundtask.New(context.Background(), func(context.Context) (int, error) {
		<-release
		return 1, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := task.Result(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, backgroundtask.Pending, task.Status())
}
