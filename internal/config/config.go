// Package config provides service configuration parsing and
// persistence for trustless.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	appDirName     = "trustless"
	configFileName = "config.yaml"
)

// StoreConfig describes one secrets store known to the service.
type StoreConfig struct {
	// StoreURL selects the block store backend and its root, e.g.
	// "multilane+file:///home/user/.trustless/store".
	StoreURL string `yaml:"store_url" json:"store_url"`

	// ClientID identifies this installation to the store.
	ClientID string `yaml:"client_id" json:"client_id"`

	// AutolockTimeoutSecs is the idle span after which the store locks
	// itself.
	AutolockTimeoutSecs uint64 `yaml:"autolock_timeout_secs" json:"autolock_timeout_secs"`
}

// Config is the persisted service configuration.
type Config struct {
	Stores       map[string]StoreConfig `yaml:"stores"`
	DefaultStore string                 `yaml:"default_store,omitempty"`
}

// DefaultAutolockTimeoutSecs is applied when a store config carries no
// timeout.
const DefaultAutolockTimeoutSecs = 300

// New returns an empty configuration.
func New() *Config {
	return &Config{Stores: make(map[string]StoreConfig)}
}

// Parse reads a configuration document.
func Parse(data []byte) (*Config, error) {
	cfg := New()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Stores == nil {
		cfg.Stores = make(map[string]StoreConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the structural invariants of the configuration.
func (c *Config) Validate() error {
	for name, store := range c.Stores {
		if name == "" {
			return fmt.Errorf("config: empty store name")
		}
		if store.StoreURL == "" {
			return fmt.Errorf("config: store %q has no store_url", name)
		}
	}
	if c.DefaultStore != "" {
		if _, ok := c.Stores[c.DefaultStore]; !ok {
			return fmt.Errorf("config: default store %q is not configured", c.DefaultStore)
		}
	}
	return nil
}

// Load reads the configuration from path. A missing file yields an
// empty configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Save atomically persists the configuration to path, creating parent
// directories as needed.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("persist config: %w", err)
	}
	return nil
}

// DefaultPath returns the default configuration file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config directory: %w", err)
	}
	return filepath.Join(dir, appDirName, configFileName), nil
}

// DefaultSocketPath returns the default daemon control socket location.
func DefaultSocketPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config directory: %w", err)
	}
	return filepath.Join(dir, appDirName, "daemon.sock"), nil
}

// DefaultStoreDir returns the default block store directory for a store
// name.
func DefaultStoreDir(name string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, "."+appDirName, name), nil
}
