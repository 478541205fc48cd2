// Package config loads and validates the pgward configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"pgward/internal/schedule"
)

// Config is the top-level configuration.
type Config struct {
	// Listen is the optional address for the status HTTP API ("" disables it).
	Listen string `yaml:"listen,omitempty"`
	// ScratchDir is where pipeline scratch files live. Defaults to the OS
	// temp directory.
	ScratchDir string `yaml:"scratchDir,omitempty"`
	// CompressionLevel is the gzip level (1-9, 0 = default).
	CompressionLevel int `yaml:"compressionLevel,omitempty"`
	// Storage is the default backend shared by targets without their own.
	Storage *StorageConfig `yaml:"storage,omitempty"`
	// Targets lists the data sources to back up.
	Targets []TargetConfig `yaml:"targets"`
}

// TargetConfig configures a single backup target.
type TargetConfig struct {
	// Key is the stable identifier; it prefixes every object name the target
	// writes, so it must be unique and non-empty.
	Key string `yaml:"key"`
	// Name is the optional display name; defaults to Key.
	Name string `yaml:"name,omitempty"`
	// Schedule is the cron descriptor for periodic backups.
	Schedule string `yaml:"schedule"`
	// CheckForUpdate enables the staleness check: a scheduled backup is
	// skipped when the catalog already holds a record newer than the
	// source's last change.
	CheckForUpdate bool `yaml:"checkForUpdate"`
	// Connection describes how to reach the source database.
	Connection Connection `yaml:"connection"`
	// Storage overrides the top-level backend for this target.
	Storage *StorageConfig `yaml:"storage,omitempty"`
}

// Connection holds PostgreSQL connection details.
type Connection struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	// LastModifiedQuery optionally overrides the scalar query used for the
	// staleness check. It must return a single timestamptz.
	LastModifiedQuery string `yaml:"lastModifiedQuery,omitempty"`
}

// StorageConfig defines a storage backend destination.
type StorageConfig struct {
	Type string `yaml:"type"` // "local", "s3"

	// Local backend
	Path string `yaml:"path,omitempty"`

	// S3 backend
	Bucket          string `yaml:"bucket,omitempty"`
	Prefix          string `yaml:"prefix,omitempty"`
	Region          string `yaml:"region,omitempty"`
	Endpoint        string `yaml:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"accessKeyId,omitempty"`
	SecretAccessKey string `yaml:"secretAccessKey,omitempty"`
	StorageClass    string `yaml:"storageClass,omitempty"`
	ForcePathStyle  bool   `yaml:"forcePathStyle,omitempty"`
}

// TargetName returns the effective display name for a target.
func (t TargetConfig) TargetName() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Key
}

// EffectiveStorage returns the target's backend config, falling back to the
// top-level default.
func (c Config) EffectiveStorage(t TargetConfig) *StorageConfig {
	if t.Storage != nil {
		return t.Storage
	}
	return c.Storage
}

// Parse reads, parses, and validates the config file at the given path.
func Parse(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("error reading config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the constraints that are fatal at startup: unique non-empty
// target keys, parseable cron descriptors, and a resolvable storage backend
// for every target.
func (c Config) Validate() error {
	if len(c.Targets) == 0 {
		return fmt.Errorf("config: no targets configured")
	}
	seen := make(map[string]bool)
	for _, t := range c.Targets {
		if t.Key == "" {
			return fmt.Errorf("config: target with empty key")
		}
		if seen[t.Key] {
			return fmt.Errorf("config: duplicate target key %q", t.Key)
		}
		seen[t.Key] = true

		if _, err := schedule.Parse(t.Schedule); err != nil {
			return fmt.Errorf("config: target %q: %w", t.Key, err)
		}

		sc := c.EffectiveStorage(t)
		if sc == nil {
			return fmt.Errorf("config: target %q has no storage backend", t.Key)
		}
		switch sc.Type {
		case "local", "s3":
		default:
			return fmt.Errorf("config: target %q: unsupported storage type %q", t.Key, sc.Type)
		}
	}
	return nil
}

// Path resolves the config file path from (in order of priority):
// 1. PGWARD_CONFIG environment variable
// 2. /config/config.yml (Docker default)
// 3. ./config.yml (local development fallback)
func Path() string {
	if v := os.Getenv("PGWARD_CONFIG"); v != "" {
		return v
	}
	// Docker default location
	if _, err := os.Stat("/config/config.yml"); err == nil {
		return "/config/config.yml"
	}
	// Local development fallback
	return "config.yml"
}
