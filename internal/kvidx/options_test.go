package kvidx

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "pebble", cfg.Adapter)
	require.False(t, cfg.NoSync)
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		errPart string
	}{
		{"empty-adapter", func(c *Config) { c.Adapter = "" }, "adapter must be specified"},
		{"unknown-adapter", func(c *Config) { c.Adapter = "rocksdb" }, "unknown adapter"},
		{"negative-cache", func(c *Config) { c.CacheSize = -1 }, "cache_size"},
		{"bad-compression", func(c *Config) { c.Compression = "zip" }, "unsupported compression"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.errPart)
		})
	}
}

func TestConfigOptionsApply(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ApplyOptions(
		WithAdapter("bolt"),
		WithNoSync(true),
		WithCacheSize(128),
		WithCompression("lz4"),
	)
	require.Equal(t, "bolt", cfg.Adapter)
	require.True(t, cfg.NoSync)
	require.Equal(t, 128, cfg.CacheSize)
	require.Equal(t, "lz4", cfg.Compression)
	require.NoError(t, cfg.Validate())
}

func TestConfigClone(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()
	clone.Adapter = "memory"
	require.Equal(t, "pebble", cfg.Adapter)
}

func TestConfigString(t *testing.T) {
	s := DefaultConfig().String()
	for _, part := range []string{"adapter=pebble", "no_sync=false", "compression=none"} {
		require.True(t, strings.Contains(s, part), s)
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	_, err := Open(t.TempDir()+"/x", WithAdapter("no-such-engine"))
	require.ErrorIs(t, err, ErrInvalidArgument)
}
