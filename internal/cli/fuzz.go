package cli

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/kvidx-db/kvidx/internal/harness"
)

var (
	// Fuzz flags
	fuzzAll    bool
	fuzzReplay string
	fuzzOps    int
)

var fuzzCmd = &cobra.Command{
	Use:   "fuzz [seed]",
	Short: "Run the differential fuzzer against a reference model",
	Long: `Fuzz replays a seed-determined stream of randomized operations against
the configured storage engine and an in-memory reference model, comparing
every observable result. On divergence the failing prefix is written as a
msgpack trace whose path appears in the error.

Without a seed argument a fresh seed is derived from the clock and process
id and printed, so any failure can be reproduced by rerunning with it.

Example:
    kvidx fuzz
    kvidx fuzz 0x1db3c3f85a2ca5b9 --adapter bolt
    kvidx fuzz --all --ops 20000
    kvidx fuzz --replay /tmp/kvidx-fuzz-1db3c3f85a2ca5b9.trace`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFuzz,
}

func init() {
	rootCmd.AddCommand(fuzzCmd)

	fuzzCmd.Flags().BoolVar(&fuzzAll, "all", false, "run one stream against every registered adapter and cross-compare")
	fuzzCmd.Flags().StringVar(&fuzzReplay, "replay", "", "replay a recorded failure trace instead of generating operations")
	fuzzCmd.Flags().IntVar(&fuzzOps, "ops", 0, "operations per run (overrides config)")
}

func runFuzz(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}

	if fuzzReplay != "" {
		return replayTrace(fuzzReplay)
	}

	seed := uint64(time.Now().UnixNano()) ^ uint64(os.Getpid())
	if len(args) == 1 {
		seed, err = strconv.ParseUint(args[0], 0, 64)
		if err != nil {
			return fmt.Errorf("invalid seed %q: %w", args[0], err)
		}
	}

	ops := cfg.Fuzz.Ops
	if fuzzOps > 0 {
		ops = fuzzOps
	}

	var logger *log.Logger
	if verbose {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	if fuzzAll {
		fmt.Printf("fuzzing all adapters: seed %#016x, %d ops\n", seed, ops)
		if err := harness.Cross(harness.CrossConfig{
			Seed:     seed,
			Ops:      ops,
			KeySpace: cfg.Fuzz.KeySpace,
			MaxData:  cfg.Fuzz.MaxData,
			TraceDir: cfg.Fuzz.TraceDir,
			Logger:   logger,
		}); err != nil {
			return err
		}
		fmt.Println("all adapters agree")
		return nil
	}

	fmt.Printf("fuzzing %s: seed %#016x, %d ops\n", cfg.Adapter, seed, ops)
	report, err := harness.Run(harness.Config{
		Adapter:  cfg.Adapter,
		Seed:     seed,
		Ops:      ops,
		KeySpace: cfg.Fuzz.KeySpace,
		MaxData:  cfg.Fuzz.MaxData,
		TraceDir: cfg.Fuzz.TraceDir,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	fmt.Printf("clean: %d ops, %d records at end of stream\n", report.Ops, report.Keys)
	return nil
}

// replayTrace re-executes a recorded failure trace. The trace names the
// adapter it was captured against; the --adapter flag overrides it.
func replayTrace(path string) error {
	tr, err := harness.ReadTrace(path)
	if err != nil {
		return err
	}

	adapter := adapterName
	if adapter == "" {
		adapter = tr.Adapter
	}
	fmt.Printf("replaying %s: adapter %s, seed %#016x, %d ops\n",
		path, adapter, tr.Seed, len(tr.Ops))

	if err := harness.Replay(tr, adapter, ""); err != nil {
		return err
	}
	fmt.Println("trace replayed clean")
	return nil
}
