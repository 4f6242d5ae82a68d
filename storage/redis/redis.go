// Package redis is a storage driver for sharing passport sessions between
// processes through a Redis server.
package redis

import (
	"context"
	"errors"
	"time"

	"github.com/immutable/go-passport/storage"
	pkgerrors "github.com/pkg/errors"
	rdb "github.com/redis/go-redis/v9"
)

const scanBatch = 100

// Driver stores values as plain Redis strings.
type Driver struct {
	client rdb.UniversalClient
	ttl    time.Duration
}

var _ storage.Driver = (*Driver)(nil)

// Option configures the redis driver.
type Option func(*Driver)

// WithTTL expires stored keys after ttl. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(d *Driver) {
		d.ttl = ttl
	}
}

// New wraps an existing client.
func New(client rdb.UniversalClient, options ...Option) (*Driver, error) {
	if client == nil {
		return nil, pkgerrors.New("[redis.New] client is required")
	}
	d := &Driver{client: client}
	for _, opt := range options {
		opt(d)
	}
	return d, nil
}

// NewFromURL parses a redis:// URL and connects lazily.
func NewFromURL(url string, options ...Option) (*Driver, error) {
	opts, err := rdb.ParseURL(url)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[redis.NewFromURL] parse url")
	}
	return New(rdb.NewClient(opts), options...)
}

func (d *Driver) Name() string { return "redis" }

func (d *Driver) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := d.client.Get(ctx, key).Bytes()
	if errors.Is(err, rdb.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[redis.Driver.Get]")
	}
	return b, nil
}

func (d *Driver) Set(ctx context.Context, key string, value []byte) error {
	if err := d.client.Set(ctx, key, value, d.ttl).Err(); err != nil {
		return pkgerrors.Wrap(err, "[redis.Driver.Set]")
	}
	return nil
}

func (d *Driver) Delete(ctx context.Context, key string) error {
	if err := d.client.Del(ctx, key).Err(); err != nil {
		return pkgerrors.Wrap(err, "[redis.Driver.Delete]")
	}
	return nil
}

func (d *Driver) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	seen := make(map[string]struct{})
	iter := d.client.Scan(ctx, 0, escapeGlob(prefix)+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		// SCAN may return a key more than once
		if _, dup := seen[iter.Val()]; dup {
			continue
		}
		seen[iter.Val()] = struct{}{}
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, pkgerrors.Wrap(err, "[redis.Driver.Keys]")
	}
	return keys, nil
}

// Close releases the underlying client.
func (d *Driver) Close() error {
	return d.client.Close()
}

func escapeGlob(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
