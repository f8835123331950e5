package harness

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ugorji/go/codec"
)

// TraceOp is one recorded fuzzer operation. Hi carries the upper bound
// for range operations and is zero otherwise.
type TraceOp struct {
	Code uint8  `codec:"op"`
	Key  uint64 `codec:"key"`
	Hi   uint64 `codec:"hi"`
	Term uint64 `codec:"term"`
	Cmd  uint64 `codec:"cmd"`
	Data []byte `codec:"data"`
}

// Trace is the failing prefix of a fuzz run, sufficient to re-execute the
// divergence without the generator.
type Trace struct {
	Seed    uint64    `codec:"seed"`
	Adapter string    `codec:"adapter"`
	Ops     []TraceOp `codec:"ops"`
}

var traceHandle codec.MsgpackHandle

// WriteTrace writes tr as msgpack to path.
func WriteTrace(path string, tr *Trace) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("harness: create trace: %w", err)
	}
	if err := codec.NewEncoder(f, &traceHandle).Encode(tr); err != nil {
		f.Close()
		return fmt.Errorf("harness: encode trace: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("harness: close trace: %w", err)
	}
	return nil
}

// ReadTrace loads a trace written by WriteTrace.
func ReadTrace(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("harness: open trace: %w", err)
	}
	defer f.Close()

	var tr Trace
	if err := codec.NewDecoder(f, &traceHandle).Decode(&tr); err != nil {
		return nil, fmt.Errorf("harness: decode trace: %w", err)
	}
	return &tr, nil
}

// dumpTrace writes the failing prefix ops[:step+1] beside the seed so the
// divergence can be replayed. A dump failure is reported on the returned
// path rather than masking the mismatch.
func dumpTrace(dir string, seed uint64, adapter string, ops []TraceOp, step int) string {
	if step >= len(ops) {
		step = len(ops) - 1
	}
	tr := &Trace{Seed: seed, Adapter: adapter, Ops: ops[:step+1]}
	path := filepath.Join(dir, fmt.Sprintf("kvidx-fuzz-%016x.trace", seed))
	if err := WriteTrace(path, tr); err != nil {
		return fmt.Sprintf("(dump failed: %v)", err)
	}
	return path
}

// Replay re-executes a recorded trace against a fresh index on the named
// adapter (the trace's own adapter when empty), checking each operation
// against the reference model. It returns nil when the index now agrees
// with the reference for the whole prefix.
func Replay(tr *Trace, adapter, dir string) error {
	if adapter == "" {
		adapter = tr.Adapter
	}
	scratch := dir
	if scratch == "" {
		tmp, err := os.MkdirTemp("", "kvidx-replay-*")
		if err != nil {
			return fmt.Errorf("harness: scratch dir: %w", err)
		}
		defer os.RemoveAll(tmp)
		scratch = tmp
	}

	_, _, err := execStream(adapter, scratch, "replay", tr.Ops)
	var mm *MismatchError
	if errors.As(err, &mm) {
		mm.Seed = tr.Seed
	}
	return err
}
