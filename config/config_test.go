package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 5000, cfg.ControlPort)
	assert.Equal(t, 2.0, cfg.EndpointTimeout)
	assert.Equal(t, CacheRAMOnly, cfg.MessageCacheType)
	assert.Equal(t, 0.05, cfg.PolicyDefaults.AckTimeout)
}

func TestLoadFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
services:
  - name: echo
    app: echoapp
    discovery:
      type: file
      source: /etc/dealer/hosts.echo
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Services, 1)
	assert.Equal(t, "echo", cfg.Services[0].Name)
	assert.Equal(t, DiscoveryFile, cfg.Services[0].Discovery.Type)
	assert.Equal(t, 5000, cfg.ControlPort)
	assert.Equal(t, 0.05, cfg.Services[0].PolicyDefaults.AckTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path.yaml")
	assert.Error(t, err)
}
