package cache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteBlobStoreWriteReadRemove(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenSQLiteBlobStore(filepath.Join(dir, "blobs.db"))
	require.NoError(t, err)
	defer store.Close()

	key := []byte("uuid-bytes-0123456789ab")
	require.NoError(t, store.Write("echo", key, []byte("payload-1")))

	data, err := store.Read("echo", key)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload-1"), data)

	// overwrite
	require.NoError(t, store.Write("echo", key, []byte("payload-2")))
	data, err = store.Read("echo", key)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload-2"), data)

	require.NoError(t, store.Remove("echo", key))
	_, err = store.Read("echo", key)
	assert.Equal(t, ErrNotFound, err)
}

func TestSQLiteBlobStoreIterate(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenSQLiteBlobStore(filepath.Join(dir, "blobs.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Write("svc", []byte("k1"), []byte("v1")))
	require.NoError(t, store.Write("svc", []byte("k2"), []byte("v2")))
	require.NoError(t, store.Write("other", []byte("k3"), []byte("v3")))

	seen := map[string]string{}
	err = store.Iterate("svc", func(key, data []byte) error {
		seen[string(key)] = string(data)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"k1": "v1", "k2": "v2"}, seen)
}
