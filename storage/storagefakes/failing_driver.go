package storagefakes

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/immutable/go-passport/storage"
	"github.com/immutable/go-passport/storage/memory"
)

// ErrInjected is returned by FailingDriver while failing is switched on.
var ErrInjected = errors.New("injected storage failure")

// FailingDriver wraps a memory driver and fails every call while Fail(true) is
// in effect, and single operations on matching keys after FailOp.
type FailingDriver struct {
	inner *memory.Driver

	mu      sync.RWMutex
	failing bool
	failOps map[string]string
	calls   map[string]int
}

var _ storage.Driver = (*FailingDriver)(nil)

// NewFailingDriver creates a driver that works until told to fail.
func NewFailingDriver() *FailingDriver {
	return &FailingDriver{
		inner:   memory.New(),
		failOps: make(map[string]string),
		calls:   make(map[string]int),
	}
}

// Fail switches failure injection on or off.
func (f *FailingDriver) Fail(failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = failing
}

// FailOp makes op ("get", "set", "delete" or "keys") fail for keys containing
// substr. An empty substr clears the rule.
func (f *FailingDriver) FailOp(op, substr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if substr == "" {
		delete(f.failOps, op)
		return
	}
	f.failOps[op] = substr
}

// Calls returns how many times op was invoked.
func (f *FailingDriver) Calls(op string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.calls[op]
}

func (f *FailingDriver) record(op, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if f.failing {
		return ErrInjected
	}
	if substr, ok := f.failOps[op]; ok && strings.Contains(key, substr) {
		return ErrInjected
	}
	return nil
}

func (f *FailingDriver) Name() string { return "failing" }

func (f *FailingDriver) Get(ctx context.Context, key string) ([]byte, error) {
	if err := f.record("get", key); err != nil {
		return nil, err
	}
	return f.inner.Get(ctx, key)
}

func (f *FailingDriver) Set(ctx context.Context, key string, value []byte) error {
	if err := f.record("set", key); err != nil {
		return err
	}
	return f.inner.Set(ctx, key, value)
}

func (f *FailingDriver) Delete(ctx context.Context, key string) error {
	if err := f.record("delete", key); err != nil {
		return err
	}
	return f.inner.Delete(ctx, key)
}

func (f *FailingDriver) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := f.record("keys", prefix); err != nil {
		return nil, err
	}
	return f.inner.Keys(ctx, prefix)
}
