package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Get(ctx, "a")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, "a", []byte("1")))
	require.NoError(t, store.Put(ctx, "ab", []byte("2")))
	require.NoError(t, store.Put(ctx, "b", []byte("3")))

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)

	names, err := store.List(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "ab"}, names)

	require.NoError(t, store.Delete(ctx, "a"))
	ok, err := store.Exists(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStoreCopiesData(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	data := []byte("original")
	require.NoError(t, store.Put(ctx, "a", data))
	data[0] = 'X'

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, []byte("original"), got)

	got[0] = 'Y'
	again, err := store.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, []byte("original"), again)
}
