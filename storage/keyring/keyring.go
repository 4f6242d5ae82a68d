// Package keyring is a storage driver backed by the operating system credential store.
package keyring

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/immutable/go-passport/storage"
	pkgerrors "github.com/pkg/errors"
	gokeyring "github.com/zalando/go-keyring"
)

const (
	// DefaultService is the keychain service name entries are stored under.
	DefaultService = "immutable-passport"
	// indexKey holds the list of stored keys, the OS keychains cannot enumerate by prefix.
	indexKey = "__index__"
)

// Driver stores each value as a keychain secret.
type Driver struct {
	service string
	mu      sync.Mutex
}

var _ storage.Driver = (*Driver)(nil)

// New creates a driver storing entries under service.
func New(service string) *Driver {
	if service == "" {
		service = DefaultService
	}
	return &Driver{service: service}
}

func (d *Driver) Name() string { return "keyring" }

func (d *Driver) Get(_ context.Context, key string) ([]byte, error) {
	secret, err := gokeyring.Get(d.service, key)
	if errors.Is(err, gokeyring.ErrNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[keyring.Driver.Get]")
	}
	value, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[keyring.Driver.Get] decode")
	}
	return value, nil
}

func (d *Driver) Set(_ context.Context, key string, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := gokeyring.Set(d.service, key, base64.StdEncoding.EncodeToString(value))
	if errors.Is(err, gokeyring.ErrSetDataTooBig) {
		return storage.ErrQuotaExceeded
	}
	if err != nil {
		return pkgerrors.Wrap(err, "[keyring.Driver.Set]")
	}
	return d.updateIndex(func(index map[string]struct{}) { index[key] = struct{}{} })
}

func (d *Driver) Delete(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := gokeyring.Delete(d.service, key)
	if err != nil && !errors.Is(err, gokeyring.ErrNotFound) {
		return pkgerrors.Wrap(err, "[keyring.Driver.Delete]")
	}
	return d.updateIndex(func(index map[string]struct{}) { delete(index, key) })
}

func (d *Driver) Keys(_ context.Context, prefix string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	index, err := d.loadIndex()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(index))
	for k := range index {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Callers hold d.mu.
func (d *Driver) loadIndex() (map[string]struct{}, error) {
	index := make(map[string]struct{})
	raw, err := gokeyring.Get(d.service, indexKey)
	if errors.Is(err, gokeyring.ErrNotFound) {
		return index, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[keyring.Driver] read index")
	}
	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, pkgerrors.Wrap(err, "[keyring.Driver] decode index")
	}
	for _, k := range keys {
		index[k] = struct{}{}
	}
	return index, nil
}

// Callers hold d.mu.
func (d *Driver) updateIndex(mutate func(map[string]struct{})) error {
	index, err := d.loadIndex()
	if err != nil {
		return err
	}
	mutate(index)

	keys := make([]string, 0, len(index))
	for k := range index {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	raw, err := json.Marshal(keys)
	if err != nil {
		return pkgerrors.Wrap(err, "[keyring.Driver] encode index")
	}
	if err := gokeyring.Set(d.service, indexKey, string(raw)); err != nil {
		return pkgerrors.Wrap(err, "[keyring.Driver] write index")
	}
	return nil
}
