package cli

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kvidx-db/kvidx/internal/harness"
)

// quickBenchCount is the operation budget for "bench quick".
const quickBenchCount = 1000

var (
	// Bench flags
	benchAdapters []string
	benchDataSize int
)

var benchCmd = &cobra.Command{
	Use:   "bench [quick|count]",
	Short: "Benchmark the storage engines",
	Long: `Bench measures fill, read, scan, delete and fsync throughput for every
storage engine and prints throughput, bandwidth and latency tables plus a
per-benchmark winner report.

The positional argument sets the operation budget per benchmark: "quick"
runs a reduced budget for a fast smoke comparison, a number runs exactly
that many operations. Without an argument the configured budget is used.

Example:
    kvidx bench quick
    kvidx bench 50000
    kvidx bench --adapters pebble,bolt --data-size 1024`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBench,
}

func init() {
	rootCmd.AddCommand(benchCmd)

	benchCmd.Flags().StringSliceVar(&benchAdapters, "adapters", nil, "adapters to measure (default: all registered)")
	benchCmd.Flags().IntVar(&benchDataSize, "data-size", 0, "payload bytes per record (overrides config)")
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}

	count := cfg.Bench.Count
	if len(args) == 1 {
		if args[0] == "quick" {
			count = quickBenchCount
		} else {
			count, err = strconv.Atoi(args[0])
			if err != nil || count <= 0 {
				return fmt.Errorf("invalid operation count %q", args[0])
			}
		}
	}

	dataSize := cfg.Bench.DataSize
	if benchDataSize > 0 {
		dataSize = benchDataSize
	}

	var logger *log.Logger
	if verbose {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	report, err := harness.RunBench(harness.BenchConfig{
		Adapters: benchAdapters,
		Count:    count,
		DataSize: dataSize,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	report.Render(os.Stdout)
	return nil
}
