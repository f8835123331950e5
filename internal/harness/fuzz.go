package harness

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"

	"github.com/kvidx-db/kvidx/internal/kvidx"
	"github.com/kvidx-db/kvidx/internal/store"
)

// xorshift64 is the Marsaglia shift generator. The state must never be
// zero, so a zero seed is remapped to a fixed constant.
type xorshift64 struct {
	s uint64
}

func newXorshift64(seed uint64) *xorshift64 {
	if seed == 0 {
		seed = 0x9E3779B97F4A7C15
	}
	return &xorshift64{s: seed}
}

func (x *xorshift64) next() uint64 {
	s := x.s
	s ^= s << 13
	s ^= s >> 7
	s ^= s << 17
	x.s = s
	return s
}

// Fuzzer operation codes, recorded in traces.
const (
	OpInsert uint8 = iota
	OpGet
	OpRemove
	OpExists
	OpMaxKey
	OpGetNext
	OpGetPrev
	OpBegin
	OpCommit
	OpRemoveFrom
	OpRemoveThrough
	OpCountRange
	OpKeyCount

	opCodes
)

var opNames = [opCodes]string{
	OpInsert:        "insert",
	OpGet:           "get",
	OpRemove:        "remove",
	OpExists:        "exists",
	OpMaxKey:        "max-key",
	OpGetNext:       "get-next",
	OpGetPrev:       "get-prev",
	OpBegin:         "begin",
	OpCommit:        "commit",
	OpRemoveFrom:    "remove-from",
	OpRemoveThrough: "remove-through",
	OpCountRange:    "count-range",
	OpKeyCount:      "key-count",
}

func opName(code uint8) string {
	if int(code) < len(opNames) {
		return opNames[code]
	}
	return fmt.Sprintf("op-%d", code)
}

// opWeights biases the draw towards point reads and writes while keeping
// batches and range deletes in play. The draw table is built by array
// index, so the stream for a seed is stable across processes.
var opWeights = [opCodes]int{
	OpInsert:        8,
	OpGet:           6,
	OpRemove:        4,
	OpExists:        4,
	OpMaxKey:        2,
	OpGetNext:       3,
	OpGetPrev:       3,
	OpBegin:         2,
	OpCommit:        2,
	OpRemoveFrom:    1,
	OpRemoveThrough: 1,
	OpCountRange:    2,
	OpKeyCount:      2,
}

var drawTable = buildDrawTable()

func buildDrawTable() []uint8 {
	var table []uint8
	for code, weight := range opWeights {
		for i := 0; i < weight; i++ {
			table = append(table, uint8(code))
		}
	}
	return table
}

// edgeKeys are mixed into the dense keyspace so every run brushes the
// extremes of the u64 range.
var edgeKeys = []uint64{0, 1, math.MaxUint64 / 2, 1 << 63, math.MaxUint64 - 1, math.MaxUint64}

// Config drives one differential fuzz run.
type Config struct {
	// Adapter names the storage engine. Empty means memory.
	Adapter string

	// Dir is the scratch directory holding engine state. Empty means a
	// fresh temporary directory removed when the run ends.
	Dir string

	// Seed fully determines the operation stream. Zero is remapped
	// internally, so two runs with seed zero still agree.
	Seed uint64

	// Ops is the number of operations to draw. Defaults to 5000.
	Ops int

	// KeySpace bounds the dense key range. Defaults to 512.
	KeySpace uint64

	// MaxData bounds payload lengths. Defaults to 128.
	MaxData int

	// TraceDir receives the msgpack trace on divergence. Defaults to the
	// system temporary directory so dumps outlive the scratch state.
	TraceDir string

	Logger *log.Logger
}

func (c *Config) fill() {
	if c.Adapter == "" {
		c.Adapter = "memory"
	}
	if c.Ops <= 0 {
		c.Ops = 5000
	}
	if c.KeySpace == 0 {
		c.KeySpace = 512
	}
	if c.MaxData <= 0 {
		c.MaxData = 128
	}
	if c.TraceDir == "" {
		c.TraceDir = os.TempDir()
	}
}

func (c *Config) logf(format string, args ...any) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
	}
}

// Report summarizes a completed fuzz run.
type Report struct {
	Adapter string
	Seed    uint64
	Ops     int
	Keys    uint64 // records live when the stream ended
}

// MismatchError reports the first operation whose observable result
// differed between the index and the reference, or between two adapters.
type MismatchError struct {
	Adapter   string
	Seed      uint64
	Step      int
	Op        string
	Want      string
	Got       string
	TracePath string
}

func (e *MismatchError) Error() string {
	msg := fmt.Sprintf("harness: adapter %s diverged at op %d (%s): want %q, got %q (seed %#016x)",
		e.Adapter, e.Step, e.Op, e.Want, e.Got, e.Seed)
	if e.TracePath != "" {
		msg += ", trace " + e.TracePath
	}
	return msg
}

// Run executes one differential fuzz against the reference model. The
// returned error is a *MismatchError on divergence, carrying the path of
// the dumped trace; any other error is an engine failure.
func Run(cfg Config) (*Report, error) {
	cfg.fill()

	dir := cfg.Dir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "kvidx-fuzz-*")
		if err != nil {
			return nil, fmt.Errorf("harness: scratch dir: %w", err)
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	ops := genOps(cfg.Seed, cfg.Ops, cfg.KeySpace, cfg.MaxData)
	cfg.logf("harness: fuzzing %s with %d ops (seed %#016x)", cfg.Adapter, len(ops), cfg.Seed)

	_, keys, err := execStream(cfg.Adapter, dir, "fuzz", ops)
	if err != nil {
		var mm *MismatchError
		if errors.As(err, &mm) {
			mm.Seed = cfg.Seed
			mm.TracePath = dumpTrace(cfg.TraceDir, cfg.Seed, cfg.Adapter, ops, mm.Step)
			cfg.logf("harness: divergence at op %d, trace %s", mm.Step, mm.TracePath)
		}
		return nil, err
	}
	cfg.logf("harness: %s clean, %d records at end of stream", cfg.Adapter, keys)
	return &Report{Adapter: cfg.Adapter, Seed: cfg.Seed, Ops: len(ops), Keys: keys}, nil
}

// genOps expands a seed into the operation stream. The stream depends
// only on the arguments, never on index state, so every adapter replays
// an identical sequence.
func genOps(seed uint64, n int, keySpace uint64, maxData int) []TraceOp {
	rng := newXorshift64(seed)
	ops := make([]TraceOp, n)
	for i := range ops {
		code := drawTable[rng.next()%uint64(len(drawTable))]
		op := TraceOp{Code: code}
		switch code {
		case OpInsert:
			op.Key = drawKey(rng, keySpace)
			op.Term = rng.next()
			op.Cmd = rng.next()
			op.Data = drawData(rng, maxData)
		case OpGet, OpRemove, OpExists, OpGetNext, OpGetPrev, OpRemoveFrom, OpRemoveThrough:
			op.Key = drawKey(rng, keySpace)
		case OpCountRange:
			op.Key = drawKey(rng, keySpace)
			op.Hi = drawKey(rng, keySpace)
		}
		ops[i] = op
	}
	return ops
}

func drawKey(rng *xorshift64, keySpace uint64) uint64 {
	v := rng.next()
	if v%16 == 0 {
		return edgeKeys[(v>>32)%uint64(len(edgeKeys))]
	}
	return (v >> 16) % keySpace
}

func drawData(rng *xorshift64, maxData int) []byte {
	n := int(rng.next() % uint64(maxData+1))
	data := make([]byte, n)
	var word [8]byte
	for i := 0; i < n; i += 8 {
		binary.LittleEndian.PutUint64(word[:], rng.next())
		copy(data[i:], word[:])
	}
	return data
}

// openIndex opens a fresh index over the named adapter, deriving the
// state path from the adapter's registered suffix.
func openIndex(adapter, dir, name string, opts ...kvidx.Option) (*kvidx.DB, error) {
	info, _, ok := store.Lookup(adapter)
	if !ok {
		return nil, fmt.Errorf("harness: unknown adapter %q", adapter)
	}
	path := filepath.Join(dir, name+info.PathSuffix)
	return kvidx.Open(path, append([]kvidx.Option{kvidx.WithAdapter(info.Name)}, opts...)...)
}

// execStream replays ops on a fresh index, checking every observation
// against a reference model, and finishes with a full ordered walk. It
// returns the observation log and the final record count. Sync is off:
// the stream asserts visible semantics, not crash durability.
func execStream(adapter, dir, name string, ops []TraceOp) ([]string, uint64, error) {
	db, err := openIndex(adapter, dir, name, kvidx.WithNoSync(true))
	if err != nil {
		return nil, 0, err
	}
	defer db.Close()

	m := NewModel()
	obs := make([]string, 0, len(ops)+16)
	for i, op := range ops {
		got, err := applyIndex(db, op)
		if err != nil {
			return nil, 0, fmt.Errorf("harness: adapter %s: op %d (%s): %w", adapter, i, opName(op.Code), err)
		}
		want := applyModel(m, op)
		if got != want {
			return nil, 0, &MismatchError{Adapter: adapter, Step: i, Op: opName(op.Code), Want: want, Got: got}
		}
		obs = append(obs, got)
	}

	walk, err := walkIndex(db)
	if err != nil {
		return nil, 0, fmt.Errorf("harness: adapter %s: final walk: %w", adapter, err)
	}
	wantWalk := walkModel(m)
	for i := 0; i < len(walk) || i < len(wantWalk); i++ {
		var got, want string
		if i < len(walk) {
			got = walk[i]
		}
		if i < len(wantWalk) {
			want = wantWalk[i]
		}
		if got != want {
			return nil, 0, &MismatchError{Adapter: adapter, Step: len(ops) + i, Op: "final-walk", Want: want, Got: got}
		}
		obs = append(obs, got)
	}
	return obs, m.KeyCount(), nil
}

// applyIndex executes one operation against the index and renders its
// observable outcome. Expected sentinel results are part of the
// observation; anything else is an engine failure.
func applyIndex(db *kvidx.DB, op TraceOp) (string, error) {
	switch op.Code {
	case OpInsert:
		err := db.Insert(op.Key, op.Term, op.Cmd, op.Data)
		switch {
		case err == nil:
			return "ok", nil
		case errors.Is(err, kvidx.ErrDuplicateKey):
			return "dup", nil
		}
		return "", err
	case OpGet:
		rec, err := db.Get(op.Key)
		switch {
		case err == nil:
			return fmt.Sprintf("t=%d c=%d d=%x", rec.Term, rec.Cmd, rec.Data), nil
		case errors.Is(err, kvidx.ErrNotFound):
			return "miss", nil
		}
		return "", err
	case OpRemove:
		if err := db.Remove(op.Key); err != nil {
			return "", err
		}
		return "ok", nil
	case OpExists:
		ok, err := db.Exists(op.Key)
		if err != nil {
			return "", err
		}
		return obsBool(ok), nil
	case OpMaxKey:
		k, err := db.MaxKey()
		switch {
		case err == nil:
			return fmt.Sprintf("k=%d", k), nil
		case errors.Is(err, kvidx.ErrNotFound):
			return "none", nil
		}
		return "", err
	case OpGetNext:
		return obsNavigate(db.GetNext(op.Key))
	case OpGetPrev:
		return obsNavigate(db.GetPrev(op.Key))
	case OpBegin:
		if err := db.Begin(); err != nil {
			return "", err
		}
		return "ok", nil
	case OpCommit:
		if err := db.Commit(); err != nil {
			return "", err
		}
		return "ok", nil
	case OpRemoveFrom:
		n, err := db.RemoveFrom(op.Key)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("n=%d", n), nil
	case OpRemoveThrough:
		n, err := db.RemoveThrough(op.Key)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("n=%d", n), nil
	case OpCountRange:
		// Engines may estimate outside a batch, so the count is only an
		// observable on the exact in-batch path.
		n, err := db.CountRange(op.Key, op.Hi)
		if err != nil {
			return "", err
		}
		if db.InBatch() {
			return fmt.Sprintf("n=%d", n), nil
		}
		return "ok", nil
	case OpKeyCount:
		n, err := db.KeyCount()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("n=%d", n), nil
	}
	return "", fmt.Errorf("harness: unknown op code %d", op.Code)
}

// applyModel mirrors applyIndex against the reference model.
func applyModel(m *Model, op TraceOp) string {
	switch op.Code {
	case OpInsert:
		if m.Insert(op.Key, op.Term, op.Cmd, op.Data) {
			return "ok"
		}
		return "dup"
	case OpGet:
		rec, ok := m.Get(op.Key)
		if !ok {
			return "miss"
		}
		return fmt.Sprintf("t=%d c=%d d=%x", rec.Term, rec.Cmd, rec.Data)
	case OpRemove:
		m.Remove(op.Key)
		return "ok"
	case OpExists:
		return obsBool(m.Exists(op.Key))
	case OpMaxKey:
		k, ok := m.MaxKey()
		if !ok {
			return "none"
		}
		return fmt.Sprintf("k=%d", k)
	case OpGetNext:
		rec, ok := m.GetNext(op.Key)
		if !ok {
			return "miss"
		}
		return obsWalk(rec)
	case OpGetPrev:
		rec, ok := m.GetPrev(op.Key)
		if !ok {
			return "miss"
		}
		return obsWalk(rec)
	case OpBegin:
		m.Begin()
		return "ok"
	case OpCommit:
		m.Commit()
		return "ok"
	case OpRemoveFrom:
		return fmt.Sprintf("n=%d", m.RemoveFrom(op.Key))
	case OpRemoveThrough:
		return fmt.Sprintf("n=%d", m.RemoveThrough(op.Key))
	case OpCountRange:
		if m.InBatch() {
			return fmt.Sprintf("n=%d", m.CountRange(op.Key, op.Hi))
		}
		return "ok"
	case OpKeyCount:
		return fmt.Sprintf("n=%d", m.KeyCount())
	}
	return ""
}

func obsNavigate(rec *kvidx.Record, err error) (string, error) {
	switch {
	case err == nil:
		return obsWalk(*rec), nil
	case errors.Is(err, kvidx.ErrNotFound):
		return "miss", nil
	}
	return "", err
}

func obsWalk(rec kvidx.Record) string {
	return fmt.Sprintf("k=%d t=%d c=%d d=%x", rec.Key, rec.Term, rec.Cmd, rec.Data)
}

func obsBool(ok bool) string {
	if ok {
		return "true"
	}
	return "false"
}

// walkIndex renders every record in ascending order via the navigation
// API, which exercises the merged batch view rather than a raw iterator.
func walkIndex(db *kvidx.DB) ([]string, error) {
	var out []string
	k, err := db.MinKey()
	if errors.Is(err, kvidx.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec, err := db.Get(k)
	if err != nil {
		return nil, err
	}
	out = append(out, obsWalk(*rec))
	for {
		rec, err = db.GetNext(rec.Key)
		if errors.Is(err, kvidx.ErrNotFound) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, obsWalk(*rec))
	}
}

func walkModel(m *Model) []string {
	out := make([]string, 0, m.KeyCount())
	m.Ascend(func(rec kvidx.Record) bool {
		out = append(out, obsWalk(rec))
		return true
	})
	return out
}
