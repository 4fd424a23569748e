package cache

// BlobStore is the persistent mirror interface of spec §6: write,
// read, remove and iterate byte blobs keyed by (namespace, key).
// Namespace is a service alias; key is a message uuid's raw bytes.
// Crash-recovery semantics of iterate are explicitly out of scope
// (spec §9, Open Questions) -- this core never calls iterate itself;
// it exists so a caller bootstrapping a process can replay into
// enqueue if it chooses to.
type BlobStore interface {
	Write(namespace string, key []byte, data []byte) error
	Read(namespace string, key []byte) ([]byte, error)
	Remove(namespace string, key []byte) error
	Iterate(namespace string, cb func(key, data []byte) error) error
}

// NullBlobStore implements BlobStore as a no-op, used when
// message_cache_type is ram_only (spec §6).
type NullBlobStore struct{}

func (NullBlobStore) Write(string, []byte, []byte) error                    { return nil }
func (NullBlobStore) Read(string, []byte) ([]byte, error)                   { return nil, ErrNotFound }
func (NullBlobStore) Remove(string, []byte) error                          { return nil }
func (NullBlobStore) Iterate(string, func(key, data []byte) error) error { return nil }
