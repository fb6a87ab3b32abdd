package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "tiercache.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setDuration(&cfg.DefaultTTL, "TIERCACHE_DEFAULT_TTL")
	setDuration(&cfg.SweepInterval, "TIERCACHE_SWEEP_INTERVAL")

	setInt64(&cfg.Memory.CapacityBytes, "TIERCACHE_MEMORY_CAPACITY_BYTES")

	setBool(&cfg.Bolt.Enabled, "TIERCACHE_BOLT_ENABLED")
	setString(&cfg.Bolt.Path, "TIERCACHE_BOLT_PATH")
	setInt64(&cfg.Bolt.CapacityBytes, "TIERCACHE_BOLT_CAPACITY_BYTES")

	setBool(&cfg.Disk.Enabled, "TIERCACHE_DISK_ENABLED")
	setString(&cfg.Disk.Dir, "TIERCACHE_DISK_DIR")
	setInt64(&cfg.Disk.CapacityBytes, "TIERCACHE_DISK_CAPACITY_BYTES")

	setBool(&cfg.Codec.Compression, "TIERCACHE_COMPRESSION")
	setString(&cfg.Codec.EncryptionKey, "TIERCACHE_ENCRYPTION_KEY")

	setString(&cfg.Logging.Level, "TIERCACHE_LOG_LEVEL")
	setBool(&cfg.Logging.Pretty, "TIERCACHE_LOG_PRETTY")
}

func validate(cfg *Config) error {
	if cfg.Memory.CapacityBytes <= 0 {
		return errors.New("memory capacity must be positive")
	}
	if cfg.Bolt.Enabled && cfg.Bolt.CapacityBytes <= 0 {
		return errors.New("bolt capacity must be positive")
	}
	if cfg.Bolt.Enabled && cfg.Bolt.Path == "" {
		return errors.New("bolt path must be set")
	}
	if cfg.Disk.Enabled && cfg.Disk.CapacityBytes <= 0 {
		return errors.New("disk capacity must be positive")
	}
	if cfg.Disk.Enabled && cfg.Disk.Dir == "" {
		return errors.New("disk dir must be set")
	}
	if cfg.Codec.EncryptionKey != "" {
		key, err := hex.DecodeString(cfg.Codec.EncryptionKey)
		if err != nil {
			return fmt.Errorf("encryption key is not hex: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
		}
	}
	return nil
}

// EncryptionKeyBytes decodes the configured hex key, or nil when unset.
// Call after Load: validation has already checked the format.
func (c *Config) EncryptionKeyBytes() []byte {
	if c.Codec.EncryptionKey == "" {
		return nil
	}
	key, err := hex.DecodeString(c.Codec.EncryptionKey)
	if err != nil {
		return nil
	}
	return key
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt64(dst *int64, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, env string) {
	if v := os.Getenv(env); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, env string) {
	if v := os.Getenv(env); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
