package kvidx_test

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kvidx-db/kvidx/internal/kvidx"
)

func TestBoundaryKeys(t *testing.T) {
	keys := []uint64{0, 1, 2, 1<<63 - 1, 1 << 63, 1<<63 + 1, math.MaxUint64 - 1, math.MaxUint64}

	for _, adapter := range []string{"memory", "pebble"} {
		t.Run(adapter, func(t *testing.T) {
			db := newTestDB(t, kvidx.WithAdapter(adapter))

			for i, k := range keys {
				require.NoError(t, db.Insert(k, uint64(i), uint64(i), []byte{byte(i)}))
			}

			n, err := db.KeyCount()
			require.NoError(t, err)
			require.Equal(t, uint64(len(keys)), n)

			min, err := db.MinKey()
			require.NoError(t, err)
			require.Equal(t, uint64(0), min)

			max, err := db.MaxKey()
			require.NoError(t, err)
			require.Equal(t, uint64(math.MaxUint64), max)

			// Walk the whole keyspace forward.
			var got []uint64
			rec, err := db.Get(0)
			require.NoError(t, err)
			got = append(got, rec.Key)
			cursor := uint64(0)
			for {
				rec, err := db.GetNext(cursor)
				if kvidx.IsNotFound(err) {
					break
				}
				require.NoError(t, err)
				got = append(got, rec.Key)
				cursor = rec.Key
			}
			require.Equal(t, keys, got)

			for i, k := range keys {
				rec, err := db.Get(k)
				require.NoError(t, err)
				require.Equal(t, uint64(i), rec.Term)
				require.Equal(t, []byte{byte(i)}, rec.Data)
			}
		})
	}
}

func TestBoundaryDataSizes(t *testing.T) {
	sizes := []int{0, 1, 255, 256, 1023, 1024, 4095, 4096, 65535, 65536}

	for _, adapter := range []string{"memory", "pebble"} {
		t.Run(adapter, func(t *testing.T) {
			db := newTestDB(t, kvidx.WithAdapter(adapter))

			var total uint64
			for i, sz := range sizes {
				data := bytes.Repeat([]byte{byte(i + 1)}, sz)
				require.NoError(t, db.Insert(uint64(i), 0, 0, data))
				total += uint64(sz)
			}

			for i, sz := range sizes {
				rec, err := db.Get(uint64(i))
				require.NoError(t, err)
				require.Len(t, rec.Data, sz)
				if sz > 0 {
					require.Equal(t, byte(i+1), rec.Data[0])
					require.Equal(t, byte(i+1), rec.Data[sz-1])
				}
			}

			got, err := db.DataSize()
			require.NoError(t, err)
			require.Equal(t, total, got)
		})
	}
}

// Records whose big-endian encoding begins with the TTL sidecar prefix
// sort into the middle of the sidecar span. They must stay visible to
// record iteration and invisible to the sweep.
func TestRecordKeysInsideSidecarSpan(t *testing.T) {
	db := newTestDB(t)

	// 0x0054544C is the sidecar prefix read as a key's top 4 bytes.
	inSpan := uint64(0x0054544C_00000001)
	require.NoError(t, db.Insert(inSpan, 1, 1, []byte("in-span")))
	require.NoError(t, db.Insert(1, 0, 0, []byte("low")))
	require.NoError(t, db.Insert(math.MaxUint64, 0, 0, []byte("high")))

	// Give the low key a TTL so a sidecar entry sits near the record.
	require.NoError(t, db.SetExpire(1, time.Hour))

	n, err := db.KeyCount()
	require.NoError(t, err)
	require.Equal(t, uint64(3), n)

	rec, err := db.GetNext(1)
	require.NoError(t, err)
	require.Equal(t, inSpan, rec.Key)
	require.Equal(t, []byte("in-span"), rec.Data)

	rec, err = db.GetPrev(math.MaxUint64 - 1)
	require.NoError(t, err)
	require.Equal(t, inSpan, rec.Key)

	// The sweep must not touch the record even though its key lies in
	// the sidecar span.
	expired, err := db.Sweep(0)
	require.NoError(t, err)
	require.Zero(t, expired)

	ok, err := db.Exists(inSpan)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEmptyPayloadRoundTrip(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.Insert(1, 5, 5, nil))
	require.NoError(t, db.Insert(2, 5, 5, []byte{}))

	for _, k := range []uint64{1, 2} {
		rec, err := db.Get(k)
		require.NoError(t, err)
		require.NotNil(t, rec.Data)
		require.Empty(t, rec.Data)
		require.Equal(t, uint64(5), rec.Term)
	}
}
