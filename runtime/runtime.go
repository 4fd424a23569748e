// Package runtime implements the process-wide shared context of spec
// §2 item 8 / §9 "Process-wide shared context": the configuration and
// the blob store, acquired once at startup and shared by
// every subsystem through reference-counted handles, torn down only
// when the last handle drops. Modeled on the acquire/Close lifecycle
// of the teacher's own Client (client.go NewClient/Close), generalized
// from a single connection to a set of shared, read-mostly resources.
package runtime

import (
	"sync"
	"sync/atomic"

	"github.com/toshic/cocaine-dealer/cache"
	"github.com/toshic/cocaine-dealer/config"
)

// Runtime bundles the resources every subsystem needs read access to:
// the loaded configuration and the persistent blob store backing
// message caches, if one is configured.
type Runtime struct {
	Config *config.Config
	Store  cache.BlobStore

	mu       sync.Mutex
	refcount int32
	closer   func() error
}

// New builds a Runtime from cfg, opening the persistent blob store
// named in cfg.PersistentStorage when cfg.MessageCacheType is
// persistent. It returns one Handle already acquired; callers release
// it with Handle.Close when they are done, same as every other
// acquired Handle.
func New(cfg *config.Config) (*Runtime, Handle, error) {
	rt := &Runtime{Config: cfg}

	if cfg.MessageCacheType == config.CachePersistent {
		store, err := cache.OpenSQLiteBlobStore(cfg.PersistentStorage.Path)
		if err != nil {
			return nil, Handle{}, err
		}
		rt.Store = store
		rt.closer = store.Close
	} else {
		rt.Store = cache.NullBlobStore{}
		rt.closer = func() error { return nil }
	}

	return rt, rt.acquire(), nil
}

// Handle extends a Runtime's lifetime. Every subsystem that shares a
// Runtime holds exactly one Handle and calls Close exactly once, on
// its own shutdown.
type Handle struct {
	rt       *Runtime
	released int32
}

func (rt *Runtime) acquire() Handle {
	atomic.AddInt32(&rt.refcount, 1)
	return Handle{rt: rt}
}

// Acquire returns a new Handle extending rt's lifetime, for a
// subsystem constructed after startup.
func (rt *Runtime) Acquire() Handle {
	return rt.acquire()
}

// Close releases this handle's share of the Runtime. Once every
// acquired Handle has been closed, the underlying blob store is
// closed. Idempotent per Handle.
func (h *Handle) Close() error {
	if !atomic.CompareAndSwapInt32(&h.released, 0, 1) {
		return nil
	}
	rt := h.rt
	if atomic.AddInt32(&rt.refcount, -1) > 0 {
		return nil
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.closer()
}
