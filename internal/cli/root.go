// Package cli implements the kvidx command line interface.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kvidx-db/kvidx/internal/config"
	"github.com/kvidx-db/kvidx/internal/kvidx"
	_ "github.com/kvidx-db/kvidx/internal/store/all"
)

var (
	// Global flags
	configFile  string
	dataDir     string
	adapterName string
	verbose     bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kvidx",
	Short: "kvidx - embedded ordered index over pluggable storage engines",
	Long: `kvidx maintains an ordered index from 64-bit keys to records (term, cmd,
payload) on top of a pluggable key-value engine: pebble, leveldb, bolt,
sqlite or an in-memory store.

Settings are read from kvidx.toml when present and from KVIDX_-prefixed
environment variables; command-line flags override both.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "conf", "", "configuration file path (default: probe ./kvidx.toml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "path", "", "data directory (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&adapterName, "adapter", "a", "", "storage engine (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadSettings loads the configuration and applies global flag overrides.
func loadSettings() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.Path = dataDir
	}
	if adapterName != "" {
		cfg.Adapter = adapterName
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if verbose {
		fmt.Fprintln(os.Stderr, cfg.String())
	}
	return cfg, nil
}

// openIndex opens the configured index, creating the data directory when
// it does not exist yet.
func openIndex(cfg *config.Config) (*kvidx.DB, error) {
	path, err := cfg.EnginePath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return kvidx.Open(path, cfg.Options()...)
}
