// Package config loads CLI settings from an optional kvidx.toml file and
// KVIDX_-prefixed environment variables, layered over built-in defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/kvidx-db/kvidx/internal/kvidx"
	"github.com/kvidx-db/kvidx/internal/store"
)

// DefaultFile is the config file probed in the working directory when no
// explicit path is given.
const DefaultFile = "kvidx.toml"

// DefaultDataDir is the data directory used when the config names none.
const DefaultDataDir = "kvidx-data"

// Config holds the settings for one kvidx invocation. The top-level fields
// mirror the kvidx handle options; the fuzz and bench sections parameterize
// the harness commands.
type Config struct {
	Path        string `toml:"path" mapstructure:"path"`
	Adapter     string `toml:"adapter" mapstructure:"adapter"`
	NoSync      bool   `toml:"no_sync" mapstructure:"no_sync"`
	CacheSize   int    `toml:"cache_size" mapstructure:"cache_size"`
	Compression string `toml:"compression" mapstructure:"compression"`

	Fuzz  FuzzConfig  `toml:"fuzz" mapstructure:"fuzz"`
	Bench BenchConfig `toml:"bench" mapstructure:"bench"`
}

// FuzzConfig bounds the differential fuzzer.
type FuzzConfig struct {
	Ops      int    `toml:"ops" mapstructure:"ops"`
	KeySpace uint64 `toml:"key_space" mapstructure:"key_space"`
	MaxData  int    `toml:"max_data" mapstructure:"max_data"`
	// TraceDir receives failure traces; empty means the system temp dir.
	TraceDir string `toml:"trace_dir" mapstructure:"trace_dir"`
}

// BenchConfig bounds the benchmark runner.
type BenchConfig struct {
	Count    int `toml:"count" mapstructure:"count"`
	DataSize int `toml:"data_size" mapstructure:"data_size"`
}

// Options converts the handle-level settings into kvidx functional options.
func (c *Config) Options() []kvidx.Option {
	return []kvidx.Option{
		kvidx.WithAdapter(c.Adapter),
		kvidx.WithNoSync(c.NoSync),
		kvidx.WithCacheSize(c.CacheSize),
		kvidx.WithCompression(c.Compression),
	}
}

// EnginePath returns the engine location for the configured adapter. Each
// adapter gets its own subdirectory of Path so switching adapters never
// points one engine at another's files.
func (c *Config) EnginePath() (string, error) {
	info, _, ok := store.Lookup(c.Adapter)
	if !ok {
		return "", fmt.Errorf("unknown adapter: %s", c.Adapter)
	}
	return filepath.Join(c.Path, info.Name, "index"+info.PathSuffix), nil
}

// Validate checks the loaded settings.
func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.New("path must not be empty")
	}

	db := kvidx.DefaultConfig()
	db.ApplyOptions(c.Options()...)
	if err := db.Validate(); err != nil {
		return err
	}

	if c.Fuzz.Ops <= 0 {
		return fmt.Errorf("fuzz.ops must be positive, got %d", c.Fuzz.Ops)
	}
	if c.Fuzz.KeySpace == 0 {
		return errors.New("fuzz.key_space must be positive")
	}
	if c.Fuzz.MaxData < 0 {
		return fmt.Errorf("fuzz.max_data must be non-negative, got %d", c.Fuzz.MaxData)
	}
	if c.Bench.Count <= 0 {
		return fmt.Errorf("bench.count must be positive, got %d", c.Bench.Count)
	}
	if c.Bench.DataSize <= 0 {
		return fmt.Errorf("bench.data_size must be positive, got %d", c.Bench.DataSize)
	}
	return nil
}

// Clone creates a copy of the settings.
func (c *Config) Clone() *Config {
	out := *c
	return &out
}

// String returns a one-line rendering of the handle-level settings.
func (c *Config) String() string {
	return fmt.Sprintf("path=%s adapter=%s no_sync=%t cache=%d compression=%s",
		c.Path, c.Adapter, c.NoSync, c.CacheSize, c.Compression)
}
