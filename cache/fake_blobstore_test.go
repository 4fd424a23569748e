package cache

import "sync"

// fakeBlobStore is an in-memory BlobStore used by cache tests that
// need to observe write-through/delete-on-resolve behavior without
// touching disk.
type fakeBlobStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{data: make(map[string][]byte)}
}

func (f *fakeBlobStore) k(namespace string, key []byte) string {
	return namespace + "/" + string(key)
}

func (f *fakeBlobStore) Write(namespace string, key, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[f.k(namespace, key)] = append([]byte(nil), data...)
	return nil
}

func (f *fakeBlobStore) Read(namespace string, key []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[f.k(namespace, key)]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (f *fakeBlobStore) Remove(namespace string, key []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, f.k(namespace, key))
	return nil
}

func (f *fakeBlobStore) Iterate(namespace string, cb func(key, data []byte) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range f.data {
		_ = k
		if err := cb([]byte(k), v); err != nil {
			return err
		}
	}
	return nil
}
