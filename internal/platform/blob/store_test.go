package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFSStorePutGet(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	ref, err := store.Put(context.Background(), "datasets/1/CSV/abc.csv", "text/csv", []byte("a,b\n"))
	require.NoError(t, err)
	require.Equal(t, "file://datasets/1/CSV/abc.csv", ref)

	data, err := store.Get(context.Background(), ref)
	require.NoError(t, err)
	require.Equal(t, "a,b\n", string(data))
}

func TestFSStoreConfinesKeysToRoot(t *testing.T) {
	root := t.TempDir()
	store, err := NewFSStore(root)
	require.NoError(t, err)

	ref, err := store.Put(context.Background(), "../../escape.txt", "text/plain", []byte("x"))
	require.NoError(t, err)
	require.Equal(t, "file://../../escape.txt", ref)

	data, err := store.Get(context.Background(), ref)
	require.NoError(t, err)
	require.Equal(t, "x", string(data))

	path, err := store.resolve("../../escape.txt")
	require.NoError(t, err)
	require.Contains(t, path, root)
}

func TestFSStoreMissingReference(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "file://nope.csv")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.Get(context.Background(), "s3://bucket/nope.csv")
	require.Error(t, err)
}
