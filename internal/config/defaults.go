package config

import (
	"github.com/spf13/viper"

	"github.com/kvidx-db/kvidx/internal/kvidx"
)

// setDefaults seeds a default for every known key. Environment overrides
// only resolve for keys viper already knows about, so every key must
// appear here.
func setDefaults(v *viper.Viper) {
	db := kvidx.DefaultConfig()

	v.SetDefault("path", DefaultDataDir)
	v.SetDefault("adapter", db.Adapter)
	v.SetDefault("no_sync", db.NoSync)
	v.SetDefault("cache_size", db.CacheSize)
	v.SetDefault("compression", db.Compression)

	// Harness defaults, matching the fuzzer's and bench runner's own.
	v.SetDefault("fuzz.ops", 5000)
	v.SetDefault("fuzz.key_space", 512)
	v.SetDefault("fuzz.max_data", 128)
	v.SetDefault("fuzz.trace_dir", "")
	v.SetDefault("bench.count", 10000)
	v.SetDefault("bench.data_size", 100)
}
