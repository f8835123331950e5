package harness

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/kvidx-db/kvidx/internal/kvidx"
	"github.com/kvidx-db/kvidx/internal/store"
)

// benchSeed fixes the key streams so every adapter measures the same
// workload.
const benchSeed = 0x5EED

// tieMargin is the relative gap below the best ops/s inside which
// adapters are reported as a statistical tie.
const tieMargin = 0.10

// BenchConfig drives a full benchmark run.
type BenchConfig struct {
	// Adapters lists the engines to measure. Nil means every registered
	// adapter.
	Adapters []string

	// Dir is the scratch directory. Empty means a fresh temporary
	// directory removed when the run ends.
	Dir string

	// Count is the operation budget per benchmark. Defaults to 10000.
	Count int

	// DataSize is the payload length per record. Defaults to 100.
	DataSize int

	Logger *log.Logger
}

// BenchResult is one benchmark x adapter measurement.
type BenchResult struct {
	Benchmark string
	Adapter   string
	Ops       int
	Elapsed   time.Duration
	Bytes     uint64
}

func (r BenchResult) OpsPerSec() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Ops) / r.Elapsed.Seconds()
}

func (r BenchResult) MBPerSec() float64 {
	if r.Elapsed <= 0 || r.Bytes == 0 {
		return 0
	}
	return float64(r.Bytes) / (1 << 20) / r.Elapsed.Seconds()
}

func (r BenchResult) MicrosPerOp() float64 {
	if r.Ops == 0 {
		return 0
	}
	return float64(r.Elapsed.Microseconds()) / float64(r.Ops)
}

// BenchWinner names the fastest adapter for one benchmark. Winners holds
// more than one name when runners-up land within the tie margin.
type BenchWinner struct {
	Benchmark string
	Winners   []string
	OpsPerSec float64
}

// BenchReport aggregates a full run.
type BenchReport struct {
	Count    int
	DataSize int
	Adapters []string
	Results  []BenchResult
	Winners  []BenchWinner
}

type benchRun struct {
	db   *kvidx.DB
	num  int
	data []byte
	rng  *xorshift64
	ops  int // ops the timed section executed
}

type benchDef struct {
	name    string
	moves   bool // payload bytes flow per op
	durable bool // measures real sync, skip ephemeral engines
	setup   func(r *benchRun) error
	run     func(r *benchRun) error
}

var benchDefs = []benchDef{
	{name: "fill-seq", moves: true, run: benchFillSeq},
	{name: "fill-rand", moves: true, run: benchFillRand},
	{name: "fill-batch", moves: true, run: benchFillBatch},
	{name: "overwrite", moves: true, setup: setupFill, run: benchOverwrite},
	{name: "read-seq", moves: true, setup: setupFill, run: benchReadSeq},
	{name: "read-rand", moves: true, setup: setupFill, run: benchReadRand},
	{name: "read-miss", setup: setupFill, run: benchReadMiss},
	{name: "count-range", setup: setupFill, run: benchCountRange},
	{name: "remove-seq", setup: setupFill, run: benchRemoveSeq},
	{name: "fsync-insert", moves: true, durable: true, run: benchFsyncInsert},
}

// RunBench measures every benchmark against every listed adapter and
// returns the aggregated report. Durability benchmarks are skipped for
// ephemeral engines.
func RunBench(cfg BenchConfig) (*BenchReport, error) {
	if cfg.Count <= 0 {
		cfg.Count = 10000
	}
	if cfg.DataSize <= 0 {
		cfg.DataSize = 100
	}
	adapters := cfg.Adapters
	if len(adapters) == 0 {
		for _, info := range store.Adapters() {
			adapters = append(adapters, info.Name)
		}
	}
	if len(adapters) == 0 {
		return nil, fmt.Errorf("harness: no adapters registered")
	}

	dir := cfg.Dir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "kvidx-bench-*")
		if err != nil {
			return nil, fmt.Errorf("harness: scratch dir: %w", err)
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	payload := make([]byte, cfg.DataSize)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}

	report := &BenchReport{Count: cfg.Count, DataSize: cfg.DataSize, Adapters: adapters}
	for _, def := range benchDefs {
		for _, adapter := range adapters {
			info, _, ok := store.Lookup(adapter)
			if !ok {
				return nil, fmt.Errorf("harness: unknown adapter %q", adapter)
			}
			if def.durable && !info.Persistent {
				continue
			}
			sub := filepath.Join(dir, info.Name)
			if err := os.MkdirAll(sub, 0o755); err != nil {
				return nil, fmt.Errorf("harness: bench dir: %w", err)
			}
			res, err := runBenchmark(info.Name, def, sub, cfg.Count, payload)
			if err != nil {
				return nil, fmt.Errorf("harness: %s on %s: %w", def.name, info.Name, err)
			}
			if cfg.Logger != nil {
				cfg.Logger.Printf("harness: %-13s %-8s %12.0f ops/s", def.name, info.Name, res.OpsPerSec())
			}
			report.Results = append(report.Results, res)
		}
	}
	report.Winners = computeWinners(report.Results)
	return report, nil
}

// runBenchmark opens a fresh index, runs the untimed setup, then times
// the benchmark body.
func runBenchmark(adapter string, def benchDef, dir string, count int, payload []byte) (BenchResult, error) {
	db, err := openIndex(adapter, dir, "bench-"+def.name, kvidx.WithNoSync(true))
	if err != nil {
		return BenchResult{}, err
	}
	defer db.Close()

	r := &benchRun{db: db, num: count, data: payload, rng: newXorshift64(benchSeed)}
	if def.setup != nil {
		if err := def.setup(r); err != nil {
			return BenchResult{}, err
		}
	}

	start := time.Now()
	if err := def.run(r); err != nil {
		return BenchResult{}, err
	}
	elapsed := time.Since(start)

	res := BenchResult{Benchmark: def.name, Adapter: adapter, Ops: r.ops, Elapsed: elapsed}
	if def.moves {
		res.Bytes = uint64(r.ops) * uint64(len(r.data))
	}
	return res, nil
}

// setupFill loads keys 0..num-1 in one batch before the timed section.
func setupFill(r *benchRun) error {
	if err := r.db.Begin(); err != nil {
		return err
	}
	for i := 0; i < r.num; i++ {
		if err := r.db.Insert(uint64(i), 1, uint64(i), r.data); err != nil {
			return err
		}
	}
	return r.db.Commit()
}

func benchFillSeq(r *benchRun) error {
	for i := 0; i < r.num; i++ {
		if err := r.db.Insert(uint64(i), 1, uint64(i), r.data); err != nil {
			return err
		}
	}
	r.ops = r.num
	return nil
}

func benchFillRand(r *benchRun) error {
	for i := 0; i < r.num; i++ {
		err := r.db.Insert(r.rng.next(), 1, uint64(i), r.data)
		if err != nil && !errors.Is(err, kvidx.ErrDuplicateKey) {
			return err
		}
	}
	r.ops = r.num
	return nil
}

func benchFillBatch(r *benchRun) error {
	if err := r.db.Begin(); err != nil {
		return err
	}
	for i := 0; i < r.num; i++ {
		if err := r.db.Insert(uint64(i), 1, uint64(i), r.data); err != nil {
			return err
		}
	}
	if err := r.db.Commit(); err != nil {
		return err
	}
	r.ops = r.num
	return nil
}

func benchOverwrite(r *benchRun) error {
	for i := 0; i < r.num; i++ {
		if _, err := r.db.GetAndSet(r.rng.next()%uint64(r.num), 2, uint64(i), r.data); err != nil {
			return err
		}
	}
	r.ops = r.num
	return nil
}

// benchReadSeq walks the index in key order via GetNext, restarting from
// the front when it runs off the end.
func benchReadSeq(r *benchRun) error {
	prev := uint64(math.MaxUint64)
	for done := 0; done < r.num; done++ {
		var rec *kvidx.Record
		var err error
		if prev == math.MaxUint64 {
			k, err2 := r.db.MinKey()
			if err2 != nil {
				return err2
			}
			rec, err = r.db.Get(k)
		} else {
			rec, err = r.db.GetNext(prev)
			if errors.Is(err, kvidx.ErrNotFound) {
				prev = math.MaxUint64
				done--
				continue
			}
		}
		if err != nil {
			return err
		}
		prev = rec.Key
	}
	r.ops = r.num
	return nil
}

func benchReadRand(r *benchRun) error {
	for i := 0; i < r.num; i++ {
		if _, err := r.db.Get(r.rng.next() % uint64(r.num)); err != nil {
			return err
		}
	}
	r.ops = r.num
	return nil
}

func benchReadMiss(r *benchRun) error {
	for i := 0; i < r.num; i++ {
		key := uint64(r.num) + r.rng.next()%uint64(r.num)
		if _, err := r.db.Get(key); !errors.Is(err, kvidx.ErrNotFound) {
			if err == nil {
				return fmt.Errorf("unexpected hit at %d", key)
			}
			return err
		}
	}
	r.ops = r.num
	return nil
}

// benchCountRange issues windowed counts. Counting walks the window on
// engines without size estimates, so the op budget is scaled down.
func benchCountRange(r *benchRun) error {
	ops := r.num / 100
	if ops < 10 {
		ops = 10
	}
	width := uint64(r.num) / 10
	if width == 0 {
		width = 1
	}
	for i := 0; i < ops; i++ {
		lo := r.rng.next() % uint64(r.num)
		if _, err := r.db.CountRange(lo, lo+width); err != nil {
			return err
		}
	}
	r.ops = ops
	return nil
}

func benchRemoveSeq(r *benchRun) error {
	for i := 0; i < r.num; i++ {
		if err := r.db.Remove(uint64(i)); err != nil {
			return err
		}
	}
	r.ops = r.num
	return nil
}

// benchFsyncInsert measures the per-operation durability cost: one
// insert and one sync per op, on a reduced budget.
func benchFsyncInsert(r *benchRun) error {
	ops := r.num / 50
	if ops < 20 {
		ops = 20
	}
	for i := 0; i < ops; i++ {
		if err := r.db.Insert(uint64(i), 1, uint64(i), r.data); err != nil {
			return err
		}
		if err := r.db.Fsync(); err != nil {
			return err
		}
	}
	r.ops = ops
	return nil
}

// computeWinners picks the best ops/s per benchmark and folds in every
// adapter within the tie margin.
func computeWinners(results []BenchResult) []BenchWinner {
	byBench := make(map[string][]BenchResult)
	var order []string
	for _, res := range results {
		if _, ok := byBench[res.Benchmark]; !ok {
			order = append(order, res.Benchmark)
		}
		byBench[res.Benchmark] = append(byBench[res.Benchmark], res)
	}

	winners := make([]BenchWinner, 0, len(order))
	for _, name := range order {
		group := byBench[name]
		best := group[0]
		for _, res := range group[1:] {
			if res.OpsPerSec() > best.OpsPerSec() {
				best = res
			}
		}
		win := BenchWinner{Benchmark: name, OpsPerSec: best.OpsPerSec()}
		floor := best.OpsPerSec() * (1 - tieMargin)
		for _, res := range group {
			if res.OpsPerSec() >= floor {
				win.Winners = append(win.Winners, res.Adapter)
			}
		}
		winners = append(winners, win)
	}
	return winners
}

// Render writes the four result tables: throughput, bandwidth, latency,
// and the winner report.
func (r *BenchReport) Render(w io.Writer) {
	fmt.Fprintf(w, "benchmarks: %d ops per benchmark, %d-byte payloads\n\n", r.Count, r.DataSize)
	r.renderGrid(w, "throughput (ops/sec)", func(res BenchResult) string {
		return fmt.Sprintf("%.0f", res.OpsPerSec())
	})
	r.renderGrid(w, "bandwidth (MB/s)", func(res BenchResult) string {
		if res.Bytes == 0 {
			return "-"
		}
		return fmt.Sprintf("%.2f", res.MBPerSec())
	})
	r.renderGrid(w, "latency (us/op)", func(res BenchResult) string {
		return fmt.Sprintf("%.2f", res.MicrosPerOp())
	})
	renderWinners(w, r.Winners)
}

func (r *BenchReport) renderGrid(w io.Writer, title string, cell func(BenchResult) string) {
	fmt.Fprintln(w, title)
	table := tablewriter.NewWriter(w)
	table.SetHeader(append([]string{"benchmark"}, r.Adapters...))
	table.SetAutoFormatHeaders(false)

	cells := make(map[string]map[string]string)
	var order []string
	for _, res := range r.Results {
		if _, ok := cells[res.Benchmark]; !ok {
			cells[res.Benchmark] = make(map[string]string)
			order = append(order, res.Benchmark)
		}
		cells[res.Benchmark][res.Adapter] = cell(res)
	}
	for _, bench := range order {
		row := []string{bench}
		for _, adapter := range r.Adapters {
			v, ok := cells[bench][adapter]
			if !ok {
				v = "-"
			}
			row = append(row, v)
		}
		table.Append(row)
	}
	table.Render()
	fmt.Fprintln(w)
}

func renderWinners(w io.Writer, winners []BenchWinner) {
	fmt.Fprintf(w, "winner report (%.0f%% tie margin)\n", tieMargin*100)
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"benchmark", "winner", "ops/sec"})
	table.SetAutoFormatHeaders(false)
	for _, win := range winners {
		name := strings.Join(win.Winners, ", ")
		if len(win.Winners) > 1 {
			name += " (tie)"
		}
		table.Append([]string{win.Benchmark, name, fmt.Sprintf("%.0f", win.OpsPerSec)})
	}
	table.Render()
}
