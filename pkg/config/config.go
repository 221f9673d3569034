package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// ResolveConfigPath decides the config file path: an explicit flag wins,
// then the CHATRELAY_CONFIG env var, then the provided default.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if v := os.Getenv("CHATRELAY_CONFIG"); v != "" {
		return v
	}
	return flagPath
}

// ApplyDefaults fills zero-valued tunables so the rest of the code never
// has to re-check them.
func (c *Config) ApplyDefaults() {
	if c.Server.DBPath == "" {
		c.Server.DBPath = "./.database"
	}
	if c.Auth.TokenTTL.Duration() == 0 {
		c.Auth.TokenTTL = Duration(24 * time.Hour)
	}
	if c.Broker.SubscriberBuffer <= 0 {
		c.Broker.SubscriberBuffer = 256
	}
	if c.Broker.ReplayBatch <= 0 {
		c.Broker.ReplayBatch = 500
	}
	if c.Storage.AppendTimeout.Duration() == 0 {
		c.Storage.AppendTimeout = Duration(5 * time.Second)
	}
	if c.Storage.MaxMessageBytes <= 0 {
		c.Storage.MaxMessageBytes = 64 * 1024
	}
	if c.Blob.Dir == "" {
		c.Blob.Dir = "./.blobs"
	}
	if c.Blob.MaxBlobBytes <= 0 {
		c.Blob.MaxBlobBytes = 4 * 1024 * 1024
	}
	if c.Retention.BatchSize <= 0 {
		c.Retention.BatchSize = 500
	}
}
