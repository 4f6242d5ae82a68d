// Package memory is an in-process storage driver backed by go-cache.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/immutable/go-passport/storage"
	gocache "github.com/patrickmn/go-cache"
)

// Driver keeps values in memory for the life of the process.
type Driver struct {
	mu         sync.Mutex
	c          *gocache.Cache
	maxEntries int
}

var _ storage.Driver = (*Driver)(nil)

// Option configures the memory driver.
type Option func(*Driver)

// WithMaxEntries caps the number of stored keys. Sets of new keys beyond the cap fail with storage.ErrQuotaExceeded.
func WithMaxEntries(n int) Option {
	return func(d *Driver) {
		d.maxEntries = n
	}
}

// New creates an empty memory driver.
func New(options ...Option) *Driver {
	d := &Driver{c: gocache.New(gocache.NoExpiration, 0)}
	for _, opt := range options {
		opt(d)
	}
	return d
}

func (d *Driver) Name() string { return "memory" }

func (d *Driver) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := d.c.Get(key)
	if !ok {
		return nil, storage.ErrNotFound
	}
	b, _ := v.([]byte)
	return append([]byte(nil), b...), nil
}

func (d *Driver) Set(_ context.Context, key string, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.maxEntries > 0 {
		if _, exists := d.c.Get(key); !exists && d.c.ItemCount() >= d.maxEntries {
			return storage.ErrQuotaExceeded
		}
	}
	d.c.Set(key, append([]byte(nil), value...), gocache.NoExpiration)
	return nil
}

func (d *Driver) Delete(_ context.Context, key string) error {
	d.c.Delete(key)
	return nil
}

func (d *Driver) Keys(_ context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	for k := range d.c.Items() {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}
