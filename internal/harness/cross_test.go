package harness

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvidx-db/kvidx/internal/store"
)

func TestCrossPair(t *testing.T) {
	err := Cross(CrossConfig{
		Adapters: []string{"memory", "bolt"},
		Dir:      t.TempDir(),
		Seed:     0x7007,
		Ops:      800,
		TraceDir: t.TempDir(),
	})
	require.NoError(t, err)
}

func TestCrossEveryAdapter(t *testing.T) {
	require.NotEmpty(t, store.Adapters())
	err := Cross(CrossConfig{
		Dir:      t.TempDir(),
		Seed:     0xCAB,
		Ops:      600,
		TraceDir: t.TempDir(),
	})
	require.NoError(t, err)
}

func TestCrossUnknownAdapter(t *testing.T) {
	err := Cross(CrossConfig{
		Adapters: []string{"memory", "no-such-engine"},
		Dir:      t.TempDir(),
		Ops:      50,
		TraceDir: t.TempDir(),
	})
	require.Error(t, err)
}
