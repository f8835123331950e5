package harness

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/kvidx-db/kvidx/internal/store"
)

// CrossConfig drives the cross-adapter equivalence fuzz.
type CrossConfig struct {
	// Adapters lists the engines to compare. Nil means every registered
	// adapter.
	Adapters []string

	// Dir is the scratch directory. Empty means a fresh temporary
	// directory removed when the run ends.
	Dir string

	Seed     uint64
	Ops      int
	KeySpace uint64
	MaxData  int

	// TraceDir receives the msgpack trace on divergence. Defaults to the
	// system temporary directory.
	TraceDir string

	Logger *log.Logger
}

// Cross replays one seed-determined operation stream against every
// listed adapter in parallel, requiring byte-identical observations
// across all of them. Each run also checks itself against the reference
// model, so a divergence names the adapter at fault rather than just a
// disagreeing pair.
func Cross(cfg CrossConfig) error {
	base := Config{
		Seed:     cfg.Seed,
		Ops:      cfg.Ops,
		KeySpace: cfg.KeySpace,
		MaxData:  cfg.MaxData,
		TraceDir: cfg.TraceDir,
	}
	base.fill()

	adapters := cfg.Adapters
	if len(adapters) == 0 {
		for _, info := range store.Adapters() {
			adapters = append(adapters, info.Name)
		}
	}
	if len(adapters) == 0 {
		return fmt.Errorf("harness: no adapters registered")
	}

	dir := cfg.Dir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "kvidx-cross-*")
		if err != nil {
			return fmt.Errorf("harness: scratch dir: %w", err)
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	ops := genOps(base.Seed, base.Ops, base.KeySpace, base.MaxData)
	if cfg.Logger != nil {
		cfg.Logger.Printf("harness: cross-fuzzing %d adapters with %d ops (seed %#016x)",
			len(adapters), len(ops), base.Seed)
	}

	logs := make([][]string, len(adapters))
	var g errgroup.Group
	for i, name := range adapters {
		sub := filepath.Join(dir, name)
		g.Go(func() error {
			if err := os.MkdirAll(sub, 0o755); err != nil {
				return fmt.Errorf("harness: adapter %s: %w", name, err)
			}
			obs, _, err := execStream(name, sub, "cross", ops)
			if err != nil {
				return err
			}
			logs[i] = obs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var mm *MismatchError
		if errors.As(err, &mm) {
			mm.Seed = base.Seed
			mm.TracePath = dumpTrace(base.TraceDir, base.Seed, mm.Adapter, ops, mm.Step)
		}
		return err
	}

	// Every run agreed with the model over the shared stream, so the logs
	// can only diverge in the final walk; compare them anyway so the
	// equivalence claim does not rest on the model alone.
	for i := 1; i < len(logs); i++ {
		for j := range logs[0] {
			if j >= len(logs[i]) || logs[i][j] != logs[0][j] {
				got := "<missing>"
				if j < len(logs[i]) {
					got = logs[i][j]
				}
				return &MismatchError{
					Adapter: adapters[i],
					Seed:    base.Seed,
					Step:    j,
					Op:      "cross-compare vs " + adapters[0],
					Want:    logs[0][j],
					Got:     got,
				}
			}
		}
	}
	return nil
}
