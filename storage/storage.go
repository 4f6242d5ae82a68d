// Package storage is the namespaced, asynchronous key-value store used to persist
// passport sessions and pending login flows. Persistence is delegated to a Driver.
package storage

import (
	"context"
	"errors"
	"sort"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when a key has no stored value.
	ErrNotFound = errors.New("storage: key not found")
	// ErrStorageUnavailable wraps any driver failure other than a missing key.
	ErrStorageUnavailable = errors.New("storage: unavailable")
	// ErrQuotaExceeded is returned by drivers that cap their size.
	ErrQuotaExceeded = errors.New("storage: quota exceeded")
)

// Driver persists raw values. Keys passed to a driver are already namespaced.
type Driver interface {
	Name() string
	// Get returns ErrNotFound when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Delete of an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists every stored key starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

const separator = ":"

// Store exposes a Driver under a namespace. Two stores with different
// namespaces over the same driver never observe each other's keys, unless one
// namespace is the other followed by the separator.
type Store struct {
	driver    Driver
	namespace string
}

// New creates a Store writing through driver under namespace.
func New(driver Driver, namespace string) (*Store, error) {
	if driver == nil {
		return nil, pkgerrors.New("[storage.New] driver is required")
	}
	if strings.TrimSpace(namespace) == "" {
		return nil, pkgerrors.New("[storage.New] namespace is required")
	}
	return &Store{driver: driver, namespace: namespace}, nil
}

// Namespace returns the key prefix used by this store.
func (s *Store) Namespace() string {
	return s.namespace
}

// DriverName returns the name of the underlying driver.
func (s *Store) DriverName() string {
	return s.driver.Name()
}

func (s *Store) prefix() string {
	return s.namespace + separator
}

func (s *Store) fullKey(key string) string {
	return s.prefix() + key
}

// GetItem returns the value stored under key, or ErrNotFound.
func (s *Store) GetItem(ctx context.Context, key string) ([]byte, error) {
	value, err := s.driver.Get(ctx, s.fullKey(key))
	if err != nil {
		return nil, s.wrap(err, "get", key)
	}
	return value, nil
}

// SetItem stores value under key, replacing any previous value.
func (s *Store) SetItem(ctx context.Context, key string, value []byte) error {
	if err := s.driver.Set(ctx, s.fullKey(key), value); err != nil {
		return s.wrap(err, "set", key)
	}
	return nil
}

// RemoveItem deletes key. Removing an absent key succeeds.
func (s *Store) RemoveItem(ctx context.Context, key string) error {
	if err := s.driver.Delete(ctx, s.fullKey(key)); err != nil {
		return s.wrap(err, "remove", key)
	}
	return nil
}

// Clear removes every key in this store's namespace.
func (s *Store) Clear(ctx context.Context) error {
	keys, err := s.driver.Keys(ctx, s.prefix())
	if err != nil {
		return s.wrap(err, "clear", "")
	}
	for _, k := range keys {
		if err := s.driver.Delete(ctx, k); err != nil {
			return s.wrap(err, "clear", k)
		}
	}
	return nil
}

// Keys returns the namespace-relative keys in lexical order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.driver.Keys(ctx, s.prefix())
	if err != nil {
		return nil, s.wrap(err, "keys", "")
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, s.prefix()))
	}
	sort.Strings(out)
	return out, nil
}

// Key returns the index-th key of Keys, or ErrNotFound when out of range.
func (s *Store) Key(ctx context.Context, index int) (string, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return "", err
	}
	if index < 0 || index >= len(keys) {
		return "", ErrNotFound
	}
	return keys[index], nil
}

// Length returns the number of keys in the namespace.
func (s *Store) Length(ctx context.Context) (int, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (s *Store) wrap(err error, op, key string) error {
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return &UnavailableError{Driver: s.driver.Name(), Op: op, Key: key, Err: err}
}

// UnavailableError reports a driver failure. It matches ErrStorageUnavailable.
type UnavailableError struct {
	Driver string
	Op     string
	Key    string
	Err    error
}

func (e *UnavailableError) Error() string {
	if e.Key == "" {
		return "storage " + e.Driver + " " + e.Op + ": " + e.Err.Error()
	}
	return "storage " + e.Driver + " " + e.Op + " " + e.Key + ": " + e.Err.Error()
}

func (e *UnavailableError) Unwrap() []error {
	return []error{ErrStorageUnavailable, e.Err}
}
