package runtime

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toshic/cocaine-dealer/cache"
	"github.com/toshic/cocaine-dealer/config"
)

func TestNewRAMOnlyUsesNullBlobStore(t *testing.T) {
	cfg := config.Default()
	rt, h, err := New(cfg)
	require.NoError(t, err)
	defer h.Close()

	_, ok := rt.Store.(cache.NullBlobStore)
	assert.True(t, ok)
}

func TestNewPersistentOpensSQLiteStore(t *testing.T) {
	cfg := config.Default()
	cfg.MessageCacheType = config.CachePersistent
	cfg.PersistentStorage.Path = filepath.Join(t.TempDir(), "blobs.db")

	rt, h, err := New(cfg)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, rt.Store.Write("svc", []byte("k"), []byte("v")))
	data, err := rt.Store.Read("svc", []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), data)
}

func TestHandleCloseIsRefCountedAndIdempotent(t *testing.T) {
	cfg := config.Default()
	rt, h1, err := New(cfg)
	require.NoError(t, err)

	h2 := rt.Acquire()

	require.NoError(t, h1.Close())
	require.NoError(t, h1.Close()) // idempotent, does not double-release

	// Store is still usable: h2 has not released its share yet.
	_, ok := rt.Store.(cache.NullBlobStore)
	assert.True(t, ok)

	require.NoError(t, h2.Close())
}
