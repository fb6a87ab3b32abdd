package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	want := Defaults()
	assert.Equal(t, &want, cfg)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiercache.yaml")
	yaml := `
default_ttl: 1m
memory:
  capacity_bytes: 1048576
bolt:
  enabled: false
disk:
  dir: /var/cache/app
codec:
  compression: false
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.DefaultTTL)
	assert.Equal(t, int64(1048576), cfg.Memory.CapacityBytes)
	assert.False(t, cfg.Bolt.Enabled)
	assert.Equal(t, "/var/cache/app", cfg.Disk.Dir)
	assert.False(t, cfg.Codec.Compression)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched values keep their defaults.
	assert.Equal(t, Defaults().SweepInterval, cfg.SweepInterval)
	assert.Equal(t, Defaults().Disk.CapacityBytes, cfg.Disk.CapacityBytes)
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiercache.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default_ttl: 1m\n"), 0o600))

	t.Setenv("TIERCACHE_DEFAULT_TTL", "30s")
	t.Setenv("TIERCACHE_MEMORY_CAPACITY_BYTES", "2048")
	t.Setenv("TIERCACHE_DISK_ENABLED", "false")
	t.Setenv("TIERCACHE_LOG_LEVEL", "warn")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.DefaultTTL, "env beats yaml")
	assert.Equal(t, int64(2048), cfg.Memory.CapacityBytes)
	assert.False(t, cfg.Disk.Enabled)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiercache.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default_ttl: [broken"), 0o600))

	_, err := LoadFrom(path)
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero memory capacity", func(c *Config) { c.Memory.CapacityBytes = 0 }},
		{"bolt without path", func(c *Config) { c.Bolt.Path = "" }},
		{"negative disk capacity", func(c *Config) { c.Disk.CapacityBytes = -1 }},
		{"non-hex encryption key", func(c *Config) { c.Codec.EncryptionKey = "zz" }},
		{"short encryption key", func(c *Config) { c.Codec.EncryptionKey = "deadbeef" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			assert.Error(t, validate(&cfg))
		})
	}
}

func TestEncryptionKeyBytes(t *testing.T) {
	cfg := Defaults()
	assert.Nil(t, cfg.EncryptionKeyBytes())

	cfg.Codec.EncryptionKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	require.NoError(t, validate(&cfg))

	key := cfg.EncryptionKeyBytes()
	require.Len(t, key, 32)
	assert.Equal(t, byte(0x1f), key[31])
}
