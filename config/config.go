// Package config provides hierarchical configuration loading for the
// tiered cache. Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds the full cache engine configuration.
type Config struct {
	DefaultTTL    time.Duration `yaml:"default_ttl"`    // TTL for writes without one; 0 = never expires
	SweepInterval time.Duration `yaml:"sweep_interval"` // expiry sweep period; 0 disables the sweep

	Memory  Memory  `yaml:"memory"`
	Bolt    Bolt    `yaml:"bolt"`
	Disk    Disk    `yaml:"disk"`
	Codec   Codec   `yaml:"codec"`
	Logging Logging `yaml:"logging"`
}

// Memory configures the in-process tier. Always enabled; it is the
// fastest tier and the hierarchy cannot exist without it.
type Memory struct {
	CapacityBytes int64 `yaml:"capacity_bytes"`
}

// Bolt configures the first durable tier (single-file bbolt store).
type Bolt struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	CapacityBytes int64  `yaml:"capacity_bytes"`
}

// Disk configures the second durable tier (envelope file per key).
type Disk struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	CapacityBytes int64  `yaml:"capacity_bytes"`
}

// Codec configures the payload transform pipeline.
type Codec struct {
	Compression bool `yaml:"compression"`
	// EncryptionKey is a hex-encoded 32-byte key; empty disables encryption.
	EncryptionKey string `yaml:"encryption_key"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Defaults returns the baseline configuration before YAML and env overlays.
func Defaults() Config {
	return Config{
		DefaultTTL:    5 * time.Minute,
		SweepInterval: 5 * time.Minute,
		Memory: Memory{
			CapacityBytes: 16 << 20, // 16 MiB
		},
		Bolt: Bolt{
			Enabled:       true,
			Path:          "tiercache.db",
			CapacityBytes: 64 << 20, // 64 MiB
		},
		Disk: Disk{
			Enabled:       true,
			Dir:           "tiercache-data",
			CapacityBytes: 256 << 20, // 256 MiB
		},
		Codec: Codec{
			Compression: true,
		},
		Logging: Logging{
			Level: "info",
		},
	}
}
