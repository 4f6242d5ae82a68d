// Package storagetest holds the behaviour every storage.Driver must share.
package storagetest

import (
	"context"
	"sort"
	"testing"

	"github.com/immutable/go-passport/storage"
	"github.com/stretchr/testify/require"
)

// RunDriverTests exercises driver through the storage.Store API.
func RunDriverTests(t *testing.T, driver storage.Driver) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		s, err := storage.New(driver, "conformance-missing")
		require.NoError(t, err)

		_, err = s.GetItem(ctx, "absent")
		require.ErrorIs(t, err, storage.ErrNotFound)
		require.NoError(t, s.RemoveItem(ctx, "absent"))
	})

	t.Run("set get remove", func(t *testing.T) {
		s, err := storage.New(driver, "conformance-crud")
		require.NoError(t, err)

		require.NoError(t, s.SetItem(ctx, "session", []byte(`{"a":1}`)))
		got, err := s.GetItem(ctx, "session")
		require.NoError(t, err)
		require.Equal(t, []byte(`{"a":1}`), got)

		require.NoError(t, s.SetItem(ctx, "session", []byte("replaced")))
		got, err = s.GetItem(ctx, "session")
		require.NoError(t, err)
		require.Equal(t, []byte("replaced"), got)

		require.NoError(t, s.RemoveItem(ctx, "session"))
		_, err = s.GetItem(ctx, "session")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("namespaces are isolated", func(t *testing.T) {
		a, err := storage.New(driver, "passport:client-a")
		require.NoError(t, err)
		b, err := storage.New(driver, "passport:client-b")
		require.NoError(t, err)

		require.NoError(t, a.SetItem(ctx, "session", []byte("a")))
		require.NoError(t, a.SetItem(ctx, "flow:1", []byte("a1")))
		require.NoError(t, b.SetItem(ctx, "session", []byte("b")))

		got, err := b.GetItem(ctx, "session")
		require.NoError(t, err)
		require.Equal(t, []byte("b"), got)

		n, err := a.Length(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, n)

		key, err := a.Key(ctx, 0)
		require.NoError(t, err)
		require.Equal(t, "flow:1", key)
		_, err = a.Key(ctx, 2)
		require.ErrorIs(t, err, storage.ErrNotFound)

		require.NoError(t, a.Clear(ctx))
		n, err = a.Length(ctx)
		require.NoError(t, err)
		require.Zero(t, n)

		keys, err := b.Keys(ctx)
		require.NoError(t, err)
		sort.Strings(keys)
		require.Equal(t, []string{"session"}, keys)
		require.NoError(t, b.Clear(ctx))
	})
}
