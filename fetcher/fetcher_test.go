package fetcher

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileFetcherParsesHostsAndIgnoresComments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts.txt")
	content := "# comment\ntcp://10.0.0.1:5000\n\ntcp://10.0.0.2:6000\nbare-host\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	f := NewFileFetcher(path, 5000)
	hosts, err := f.Fetch()
	require.NoError(t, err)
	require.Len(t, hosts, 3)
	assert.Equal(t, "tcp://10.0.0.1:5000", hosts[0].TransportURI)
	assert.Equal(t, "tcp://10.0.0.2:6000", hosts[1].TransportURI)
	assert.Equal(t, "tcp://bare-host:5000", hosts[2].TransportURI)
}

func TestFileFetcherMissingPortDefaultsToControlPort(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts.txt")
	require.NoError(t, os.WriteFile(path, []byte("tcp://10.0.0.1\n"), 0o644))

	f := NewFileFetcher(path, 9999)
	hosts, err := f.Fetch()
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	assert.Equal(t, "tcp://10.0.0.1:9999", hosts[0].TransportURI)
}

func TestFileFetcherFailureFallsBackToLastKnownGood(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts.txt")
	require.NoError(t, os.WriteFile(path, []byte("tcp://10.0.0.1:5000\n"), 0o644))

	f := NewFileFetcher(path, 5000)
	hosts, err := f.Fetch()
	require.NoError(t, err)
	require.Len(t, hosts, 1)

	require.NoError(t, os.Remove(path))

	hosts2, err := f.Fetch()
	require.NoError(t, err)
	assert.Equal(t, hosts, hosts2)
}

func TestFileFetcherFirstFailureWithNoCacheReturnsError(t *testing.T) {
	f := NewFileFetcher("/does/not/exist", 5000)
	_, err := f.Fetch()
	assert.Error(t, err)
}

func TestHTTPFetcherParsesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tcp://20.0.0.1:5001\ntcp://20.0.0.2:5002\n"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, 5000)
	hosts, err := f.Fetch()
	require.NoError(t, err)
	require.Len(t, hosts, 2)
	assert.Equal(t, "tcp://20.0.0.1:5001", hosts[0].TransportURI)
}

func TestHTTPFetcherFailureFallsBackToLastKnownGood(t *testing.T) {
	var fail bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("tcp://20.0.0.1:5001\n"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, 5000)
	hosts, err := f.Fetch()
	require.NoError(t, err)
	require.Len(t, hosts, 1)

	fail = true
	hosts2, err := f.Fetch()
	require.NoError(t, err)
	assert.Equal(t, hosts, hosts2)
}
