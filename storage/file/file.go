// Package file is a storage driver persisting every key in a single JSON document.
// Writes are atomic and serialised across processes with a lock file.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/immutable/go-passport/storage"
	"github.com/pkg/errors"
)

const filePerm fs.FileMode = 0o600

// Driver stores values in a JSON file.
type Driver struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

var _ storage.Driver = (*Driver)(nil)

// New creates a driver for path. The parent directory is created on first write.
func New(path string) (*Driver, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("[file.New] path is required")
	}
	return &Driver{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

// DefaultPath returns the per-user location of the passport store.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "[file.DefaultPath] user config dir")
	}
	return filepath.Join(dir, "passport", "store.json"), nil
}

func (d *Driver) Name() string { return "file" }

func (d *Driver) Get(_ context.Context, key string) ([]byte, error) {
	var value []byte
	err := d.withLock(false, func(doc map[string][]byte) (bool, error) {
		v, ok := doc[key]
		if !ok {
			return false, storage.ErrNotFound
		}
		value = v
		return false, nil
	})
	return value, err
}

func (d *Driver) Set(_ context.Context, key string, value []byte) error {
	return d.withLock(true, func(doc map[string][]byte) (bool, error) {
		doc[key] = value
		return true, nil
	})
}

func (d *Driver) Delete(_ context.Context, key string) error {
	return d.withLock(true, func(doc map[string][]byte) (bool, error) {
		if _, ok := doc[key]; !ok {
			return false, nil
		}
		delete(doc, key)
		return true, nil
	})
}

func (d *Driver) Keys(_ context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	err := d.withLock(false, func(doc map[string][]byte) (bool, error) {
		for k := range doc {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		return false, nil
	})
	return keys, err
}

// withLock loads the document under the file lock, runs fn and writes the
// document back when fn reports a change.
func (d *Driver) withLock(write bool, fn func(doc map[string][]byte) (bool, error)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(d.path), 0o700); err != nil {
		return errors.Wrap(err, "[file.Driver] create directory")
	}

	var err error
	if write {
		err = d.lock.Lock()
	} else {
		err = d.lock.RLock()
	}
	if err != nil {
		return errors.Wrap(err, "[file.Driver] acquire lock")
	}
	defer func() { _ = d.lock.Unlock() }()

	doc, err := d.load()
	if err != nil {
		return err
	}

	changed, err := fn(doc)
	if err != nil || !changed {
		return err
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "[file.Driver] encode document")
	}
	return atomicWriteFile(d.path, data, filePerm)
}

func (d *Driver) load() (map[string][]byte, error) {
	doc := make(map[string][]byte)
	data, err := os.ReadFile(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "[file.Driver] read document")
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "[file.Driver] decode document")
	}
	return doc, nil
}

// atomicWriteFile writes to a temp file in the same directory, syncs it and renames it over path.
// If the rename fails (Windows with the target open) it retries after removing the target.
func atomicWriteFile(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	_ = os.Chmod(tmpPath, perm)

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(path)
		if err2 := os.Rename(tmpPath, path); err2 != nil {
			return fmt.Errorf("rename: %v (after remove: %v)", err, err2)
		}
	}
	return nil
}
