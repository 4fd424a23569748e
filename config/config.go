// Package config loads the static configuration recognized by the
// dealer core (spec §6). Parsing the actual discovery source syntax
// (a file path or an HTTP URL) is left to the configured fetcher;
// this package only knows the shape of the options themselves.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// DiscoveryType selects the hosts-fetcher implementation for a service.
type DiscoveryType string

const (
	DiscoveryFile DiscoveryType = "file"
	DiscoveryHTTP DiscoveryType = "http"
)

// Discovery names where a service's host list comes from.
type Discovery struct {
	Type   DiscoveryType `yaml:"type"`
	Source string        `yaml:"source"`
}

// PolicyDefaults mirrors spec §6 policy_defaults, in wire-friendly
// (seconds as float64) form; callers convert to time.Duration via
// Seconds when building a dealer.MessagePolicy.
type PolicyDefaults struct {
	Urgent       bool    `yaml:"urgent"`
	Persistent   bool    `yaml:"persistent"`
	ChunkTimeout float64 `yaml:"chunk_timeout"`
	AckTimeout   float64 `yaml:"ack_timeout"`
	Deadline     float64 `yaml:"deadline"`
	MaxRetries   int     `yaml:"max_retries"`
}

// Seconds converts a float64-seconds config value to a time.Duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// DefaultPolicyDefaults mirrors spec §6's literal defaults.
func DefaultPolicyDefaults() PolicyDefaults {
	return PolicyDefaults{
		Urgent:      false,
		Persistent:  false,
		ChunkTimeout: 0,
		AckTimeout:  0.05,
		Deadline:    0,
		MaxRetries:  0,
	}
}

// ServiceConfig describes one statically-configured service (spec §3).
type ServiceConfig struct {
	Name           string         `yaml:"name"`
	App            string         `yaml:"app"`
	Discovery      Discovery      `yaml:"discovery"`
	PolicyDefaults PolicyDefaults `yaml:"policy_defaults"`
}

// PersistentStorage mirrors spec §6's persistent_storage block.
type PersistentStorage struct {
	Path          string  `yaml:"path"`
	BlobSize      int     `yaml:"blob_size"`
	SyncInterval  float64 `yaml:"sync_interval"`
	DefragTimeout float64 `yaml:"defrag_timeout"`
	ThreadPool    int     `yaml:"thread_pool"`
}

// MessageCacheType selects whether the message cache mirrors to a
// persistent blob store.
type MessageCacheType string

const (
	CacheRAMOnly    MessageCacheType = "ram_only"
	CachePersistent MessageCacheType = "persistent"
)

// Config is the top-level, recognized configuration (spec §6).
type Config struct {
	Services          []ServiceConfig   `yaml:"services"`
	ControlPort       int               `yaml:"control_port"`
	EndpointTimeout   float64           `yaml:"endpoint_timeout"`
	PersistentStorage PersistentStorage `yaml:"persistent_storage"`
	MessageCacheType  MessageCacheType  `yaml:"message_cache_type"`
	PolicyDefaults    PolicyDefaults    `yaml:"policy_defaults"`
}

// Default returns a Config with every default named in spec §6 and no
// services configured.
func Default() *Config {
	return &Config{
		ControlPort:      5000,
		EndpointTimeout:  2.0,
		MessageCacheType: CacheRAMOnly,
		PolicyDefaults:   DefaultPolicyDefaults(),
	}
}

// Load reads and parses a YAML configuration file, filling in any
// field left zero-valued with the spec-mandated default.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: opening %s: %w", path, err)
	}
	defer f.Close()

	cfg := Default()
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if cfg.ControlPort == 0 {
		cfg.ControlPort = 5000
	}
	if cfg.EndpointTimeout == 0 {
		cfg.EndpointTimeout = 2.0
	}
	if cfg.MessageCacheType == "" {
		cfg.MessageCacheType = CacheRAMOnly
	}

	for i := range cfg.Services {
		if cfg.Services[i].PolicyDefaults == (PolicyDefaults{}) {
			cfg.Services[i].PolicyDefaults = cfg.PolicyDefaults
		}
	}

	return cfg, nil
}

// EndpointTimeoutDuration converts EndpointTimeout to a time.Duration.
func (c *Config) EndpointTimeoutDuration() time.Duration {
	return Seconds(c.EndpointTimeout)
}
