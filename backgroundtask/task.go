// Package backgroundtask shares one in-flight asynchronous result between many waiters.
package backgroundtask

import (
	"context"
	"sync"
)

// Status of the current attempt.
type Status int

const (
	Pending Status = iota
	Successful
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Successful:
		return "successful"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Producer computes the task value.
type Producer[T any] func(ctx context.Context) (T, error)

type attempt[T any] struct {
	done   chan struct{}
	value  T
	err    error
	status Status
}

// Task runs its producer in the background. Waiters share the outcome of the
// current attempt, and a failed attempt is replaced by a fresh one on the next Result call.
type Task[T any] struct {
	ctx      context.Context
	producer Producer[T]

	mu      sync.Mutex
	current *attempt[T]
}

// New starts producer immediately under ctx. Cancelling ctx fails the attempt
// in flight; waiters' own contexts only bound how long they wait.
func New[T any](ctx context.Context, producer Producer[T]) *Task[T] {
	t := &Task[T]{
		ctx:      ctx,
		producer: producer,
	}
	t.mu.Lock()
	t.start()
	t.mu.Unlock()
	return t
}

// start launches a new attempt. Callers hold t.mu.
func (t *Task[T]) start() *attempt[T] {
	a := &attempt[T]{
		done:   make(chan struct{}),
		status: Pending,
	}
	t.current = a

	go func() {
		value, err := t.producer(t.ctx)
		t.mu.Lock()
		a.value, a.err = value, err
		if err != nil {
			a.status = Failed
		} else {
			a.status = Successful
		}
		t.mu.Unlock()
		close(a.done)
	}()
	return a
}

// Result waits for the current attempt. When the previous attempt failed a new one is started first.
func (t *Task[T]) Result(ctx context.Context) (T, error) {
	t.mu.Lock()
	a := t.current
	if a.status == Failed {
		a = t.start()
	}
	t.mu.Unlock()

	select {
	case <-a.done:
		return a.value, a.err
	case <-ctx.Done():
		var zero T
		return zero, context.Cause(ctx)
	}
}

// Status reports the state of the current attempt.
func (t *Task[T]) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current.status
}

// Done is closed when the current attempt settles.
func (t *Task[T]) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current.done
}
