package harness

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvidx-db/kvidx/internal/kvidx"
	"github.com/kvidx-db/kvidx/internal/store"
)

func TestKeyExtremesAcrossAdapters(t *testing.T) {
	keys := []uint64{0, 1, 2, 1<<63 - 1, 1 << 63, 1<<63 + 1, math.MaxUint64 - 1, math.MaxUint64}

	for _, info := range store.Adapters() {
		t.Run(info.Name, func(t *testing.T) {
			db := openAdapterDB(t, info.Name, t.TempDir())
			defer db.Close()

			for _, k := range keys {
				require.NoError(t, db.Insert(k, k, ^k, nil), "key %d", k)
			}

			count, err := db.KeyCount()
			require.NoError(t, err)
			require.Equal(t, uint64(len(keys)), count)

			for _, k := range keys {
				rec, err := db.Get(k)
				require.NoError(t, err, "key %d", k)
				require.Equal(t, k, rec.Key)
				require.Equal(t, k, rec.Term)
				require.Equal(t, ^k, rec.Cmd)
			}

			// Neighbors at the very top of the keyspace.
			rec, err := db.GetPrev(math.MaxUint64)
			require.NoError(t, err)
			require.Equal(t, uint64(math.MaxUint64), rec.Key)
			rec, err = db.GetNext(math.MaxUint64 - 1)
			require.NoError(t, err)
			require.Equal(t, uint64(math.MaxUint64), rec.Key)
			_, err = db.GetNext(math.MaxUint64)
			require.True(t, kvidx.IsNotFound(err))
		})
	}
}

func TestDataSizeLadderAcrossAdapters(t *testing.T) {
	sizes := []int{0, 1, 255, 256, 1023, 1024, 4095, 4096, 65535, 65536}

	for _, info := range store.Adapters() {
		t.Run(info.Name, func(t *testing.T) {
			db := openAdapterDB(t, info.Name, t.TempDir())
			defer db.Close()

			var total uint64
			for i, size := range sizes {
				data := bytes.Repeat([]byte{byte('A' + i)}, size)
				require.NoError(t, db.Insert(uint64(i), 0, 0, data), "size %d", size)
				total += uint64(size)
			}

			for i, size := range sizes {
				rec, err := db.Get(uint64(i))
				require.NoError(t, err)
				require.Len(t, rec.Data, size)
				if size > 0 {
					require.Equal(t, byte('A'+i), rec.Data[0])
					require.Equal(t, byte('A'+i), rec.Data[size-1])
				}
			}

			sum, err := db.DataSize()
			require.NoError(t, err)
			require.Equal(t, total, sum)
		})
	}
}

func TestEmptyIndexAcrossAdapters(t *testing.T) {
	for _, info := range store.Adapters() {
		t.Run(info.Name, func(t *testing.T) {
			db := openAdapterDB(t, info.Name, t.TempDir())
			defer db.Close()

			_, err := db.Get(0)
			require.True(t, kvidx.IsNotFound(err))
			_, err = db.MinKey()
			require.True(t, kvidx.IsNotFound(err))
			_, err = db.MaxKey()
			require.True(t, kvidx.IsNotFound(err))
			_, err = db.GetNext(0)
			require.True(t, kvidx.IsNotFound(err))
			_, err = db.GetPrev(math.MaxUint64)
			require.True(t, kvidx.IsNotFound(err))

			ok, err := db.Exists(42)
			require.NoError(t, err)
			require.False(t, ok)

			count, err := db.KeyCount()
			require.NoError(t, err)
			require.Zero(t, count)

			n, err := db.CountRange(0, math.MaxUint64)
			require.NoError(t, err)
			require.Zero(t, n)

			removed, err := db.RemoveFrom(0)
			require.NoError(t, err)
			require.Zero(t, removed)

			require.NoError(t, db.Remove(7), "removing from empty is clean")
		})
	}
}
