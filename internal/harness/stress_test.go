package harness

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStressLongFuzz(t *testing.T) {
	if testing.Short() {
		t.Skip("long fuzz")
	}
	_, err := Run(Config{
		Adapter:  "memory",
		Dir:      t.TempDir(),
		Seed:     0x57E55,
		Ops:      20000,
		KeySpace: 2048,
		MaxData:  256,
		TraceDir: t.TempDir(),
	})
	require.NoError(t, err)
}

func TestStressLargeValues(t *testing.T) {
	if testing.Short() {
		t.Skip("large payload churn")
	}
	const valSize = 256 << 10

	for _, adapter := range []string{"memory", "pebble"} {
		t.Run(adapter, func(t *testing.T) {
			db := openAdapterDB(t, adapter, t.TempDir())
			defer db.Close()

			payload := bytes.Repeat([]byte{0xAB}, valSize)
			for i := uint64(0); i < 40; i++ {
				require.NoError(t, db.Insert(i, i, i, payload))
			}

			sum, err := db.DataSize()
			require.NoError(t, err)
			require.Equal(t, uint64(40*valSize), sum)

			// Tail reads across the large values.
			chunk, err := db.GetValueRange(13, valSize-16, 16)
			require.NoError(t, err)
			require.Equal(t, bytes.Repeat([]byte{0xAB}, 16), chunk)

			// Churn: replace half, drop the rest.
			for i := uint64(0); i < 20; i++ {
				_, err := db.GetAndSet(i, 99, i, payload[:valSize/2])
				require.NoError(t, err)
			}
			removed, err := db.RemoveFrom(20)
			require.NoError(t, err)
			require.Equal(t, uint64(20), removed)

			count, err := db.KeyCount()
			require.NoError(t, err)
			require.Equal(t, uint64(20), count)

			sum, err = db.DataSize()
			require.NoError(t, err)
			require.Equal(t, uint64(20*valSize/2), sum)
		})
	}
}

func TestStressBatchChurn(t *testing.T) {
	if testing.Short() {
		t.Skip("batch churn")
	}
	for _, adapter := range []string{"memory", "bolt"} {
		t.Run(adapter, func(t *testing.T) {
			db := openAdapterDB(t, adapter, t.TempDir())
			defer db.Close()

			var committed uint64
			for cycle := 0; cycle < 50; cycle++ {
				require.NoError(t, db.Begin())
				base := uint64(cycle * 100)
				for i := uint64(0); i < 100; i++ {
					require.NoError(t, db.Insert(base+i, base, i, []byte("churn")))
				}
				if cycle%2 == 0 {
					require.NoError(t, db.Commit())
					committed += 100
				} else {
					require.NoError(t, db.Abort())
				}

				count, err := db.KeyCount()
				require.NoError(t, err)
				require.Equal(t, committed, count, "cycle %d", cycle)
			}
		})
	}
}
