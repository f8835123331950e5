package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Load reads settings in priority order:
// 1. Built-in defaults
// 2. Configuration file (kvidx.toml)
// 3. Environment variables (KVIDX_ prefix)
//
// An empty path probes DefaultFile in the working directory and falls back
// to defaults when it is absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if err := readFile(v, path); err != nil {
		return nil, err
	}

	v.SetEnvPrefix("KVIDX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// readFile loads the config file into v when one is present.
func readFile(v *viper.Viper, path string) error {
	optional := path == ""
	if optional {
		path = DefaultFile
	}

	if _, err := os.Stat(path); err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config file %s: %w", path, err)
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return nil
}
