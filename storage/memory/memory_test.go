package memory_test

import (
	"context"
	"testing"

	"github.com/immutable/go-passport/storage/memory"
	"github.com/immutable/go-passport/storage/storagetest"
	"github.com/stretchr/testify/require"
)

func TestMemoryDriver(t *testing.T) {
	storagetest.RunDriverTests(t, memory.New())
}

func TestMemoryDriverCopiesValues(t *testing.T) {
	ctx := context.Background()
	d := memory.New()

	value := []byte("abc")
	require.NoError(t, d.Set(ctx, "k", value))
	value[0] = 'z'

	got, err := d.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), got)
}
