package kvidx

import (
	"errors"
	"fmt"
	"log"

	"github.com/kvidx-db/kvidx/internal/store"
	"github.com/kvidx-db/kvidx/internal/store/compress"
)

// Config holds configuration options for a DB handle.
type Config struct {
	// Adapter selects the storage engine by registry name
	Adapter string `json:"adapter" yaml:"adapter"`

	// NoSync relaxes the fsync-per-commit durability guarantee
	NoSync bool `json:"no_sync" yaml:"no_sync"`

	// CacheSize is the number of records held in the read cache (0 disables it)
	CacheSize int `json:"cache_size" yaml:"cache_size"`

	// Compression selects the value compressor for adapters that support one
	Compression string `json:"compression" yaml:"compression"`

	// Logger receives sweep and import diagnostics; nil keeps the handle
	// silent
	Logger *log.Logger `json:"-" yaml:"-"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Adapter:     "pebble",
		NoSync:      false,
		CacheSize:   0,
		Compression: "none",
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Adapter == "" {
		return errors.New("adapter must be specified")
	}
	if _, _, ok := store.Lookup(c.Adapter); !ok {
		return fmt.Errorf("unknown adapter: %s", c.Adapter)
	}
	if c.CacheSize < 0 {
		return errors.New("cache_size must be non-negative")
	}
	if c.Compression != "" && !compress.IsAvailable(c.Compression) {
		return fmt.Errorf("unsupported compression: %s", c.Compression)
	}
	return nil
}

// Option represents a functional option for configuring a DB handle.
type Option func(*Config)

// WithAdapter selects the storage engine.
func WithAdapter(name string) Option {
	return func(c *Config) {
		c.Adapter = name
	}
}

// WithNoSync disables the per-commit fsync.
func WithNoSync(noSync bool) Option {
	return func(c *Config) {
		c.NoSync = noSync
	}
}

// WithCacheSize sets the record cache size (number of records).
func WithCacheSize(size int) Option {
	return func(c *Config) {
		c.CacheSize = size
	}
}

// WithCompression sets the value compression algorithm.
func WithCompression(name string) Option {
	return func(c *Config) {
		c.Compression = name
	}
}

// WithLogger directs sweep and import diagnostics to l.
func WithLogger(l *log.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// ApplyOptions applies the given options to the config.
func (c *Config) ApplyOptions(options ...Option) {
	for _, option := range options {
		option(c)
	}
}

// Clone creates a copy of the configuration.
func (c *Config) Clone() *Config {
	out := *c
	return &out
}

// String returns a string representation of the configuration.
func (c *Config) String() string {
	return fmt.Sprintf("adapter=%s no_sync=%t cache=%d compression=%s",
		c.Adapter, c.NoSync, c.CacheSize, c.Compression)
}
