package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvidx-db/kvidx/internal/store"
	_ "github.com/kvidx-db/kvidx/internal/store/all"
)

func TestXorshiftDeterministic(t *testing.T) {
	a := newXorshift64(0xDEADBEEF)
	b := newXorshift64(0xDEADBEEF)
	for i := 0; i < 100; i++ {
		require.Equal(t, a.next(), b.next())
	}

	// Zero seeds are remapped, not stuck at zero.
	z := newXorshift64(0)
	require.NotZero(t, z.next())
	z2 := newXorshift64(0)
	require.Equal(t, newXorshift64(0).next(), z2.next())
}

func TestGenOpsDeterministic(t *testing.T) {
	a := genOps(77, 2000, 512, 64)
	b := genOps(77, 2000, 512, 64)
	require.Equal(t, a, b)

	c := genOps(78, 2000, 512, 64)
	require.NotEqual(t, a, c)
}

func TestGenOpsCoversEveryCode(t *testing.T) {
	seen := make(map[uint8]bool)
	for _, op := range genOps(1, 5000, 512, 64) {
		seen[op.Code] = true
	}
	for code := uint8(0); code < uint8(opCodes); code++ {
		require.True(t, seen[code], "op %s never drawn", opName(code))
	}
}

func TestFuzzMemoryClean(t *testing.T) {
	report, err := Run(Config{
		Adapter:  "memory",
		Dir:      t.TempDir(),
		Seed:     0xA11CE,
		Ops:      4000,
		TraceDir: t.TempDir(),
	})
	require.NoError(t, err)
	require.Equal(t, "memory", report.Adapter)
	require.Equal(t, uint64(0xA11CE), report.Seed)
	require.Equal(t, 4000, report.Ops)
}

func TestFuzzEveryAdapterClean(t *testing.T) {
	for _, info := range store.Adapters() {
		t.Run(info.Name, func(t *testing.T) {
			_, err := Run(Config{
				Adapter:  info.Name,
				Dir:      t.TempDir(),
				Seed:     0xBEE5,
				Ops:      1000,
				TraceDir: t.TempDir(),
			})
			require.NoError(t, err)
		})
	}
}

func TestApplyDisagreementSurfaces(t *testing.T) {
	// The same op against index and model must agree observation for
	// observation; a model that was fed different data must not.
	dir := t.TempDir()
	db, err := openIndex("memory", dir, "apply")
	require.NoError(t, err)
	defer db.Close()

	m := NewModel()
	ins := TraceOp{Code: OpInsert, Key: 9, Term: 1, Cmd: 2, Data: []byte("same")}
	got, err := applyIndex(db, ins)
	require.NoError(t, err)
	require.Equal(t, applyModel(m, ins), got)

	// Skew the model and watch the next read diverge.
	m.Remove(9)
	m.Insert(9, 1, 2, []byte("skew"))
	read := TraceOp{Code: OpGet, Key: 9}
	got, err = applyIndex(db, read)
	require.NoError(t, err)
	require.NotEqual(t, applyModel(m, read), got)
}

func TestMismatchErrorRendering(t *testing.T) {
	err := &MismatchError{
		Adapter:   "pebble",
		Seed:      0xFEED,
		Step:      41,
		Op:        "get",
		Want:      "miss",
		Got:       "t=1 c=2 d=00",
		TracePath: filepath.Join("tmp", "kvidx-fuzz-000000000000feed.trace"),
	}
	msg := err.Error()
	require.Contains(t, msg, "pebble")
	require.Contains(t, msg, "op 41")
	require.Contains(t, msg, "get")
	require.Contains(t, msg, "0x0000000000feed")
	require.Contains(t, msg, "kvidx-fuzz-000000000000feed.trace")
}

func TestOpNameFallback(t *testing.T) {
	require.Equal(t, "insert", opName(OpInsert))
	require.Equal(t, "key-count", opName(OpKeyCount))
	require.True(t, strings.HasPrefix(opName(200), "op-"))
}
