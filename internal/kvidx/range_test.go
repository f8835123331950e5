package kvidx_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvidx-db/kvidx/internal/kvidx"
)

func fillKeys(t *testing.T, db *kvidx.DB, lo, hi uint64) {
	t.Helper()
	for k := lo; k <= hi; k++ {
		require.NoError(t, db.Insert(k, 0, 0, []byte("r")))
	}
}

func TestRemoveRangeBounds(t *testing.T) {
	cases := []struct {
		name           string
		lo, hi         uint64
		loIncl, hiIncl bool
		deleted        uint64
		gone, kept     []uint64
	}{
		{"both-inclusive", 10, 20, true, true, 11, []uint64{10, 20}, []uint64{9, 21}},
		{"both-exclusive", 10, 20, false, false, 9, []uint64{11, 19}, []uint64{10, 20}},
		{"half-open", 10, 20, true, false, 10, []uint64{10, 19}, []uint64{20}},
		{"empty-inverted", 30, 20, true, true, 0, nil, []uint64{20, 25, 30}},
		{"single-key", 15, 15, true, true, 1, []uint64{15}, []uint64{14, 16}},
		{"single-key-exclusive", 15, 15, false, false, 0, nil, []uint64{15}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := newTestDB(t)
			fillKeys(t, db, 1, 40)

			deleted, err := db.RemoveRange(tc.lo, tc.hi, tc.loIncl, tc.hiIncl)
			require.NoError(t, err)
			require.Equal(t, tc.deleted, deleted)

			for _, k := range tc.gone {
				ok, err := db.Exists(k)
				require.NoError(t, err)
				require.False(t, ok, "key %d should be gone", k)
			}
			for _, k := range tc.kept {
				ok, err := db.Exists(k)
				require.NoError(t, err)
				require.True(t, ok, "key %d should remain", k)
			}
		})
	}
}

func TestRemoveRangeAtKeyspaceEdge(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.Insert(0, 0, 0, nil))
	require.NoError(t, db.Insert(math.MaxUint64, 0, 0, nil))
	require.NoError(t, db.Insert(500, 0, 0, nil))

	// Exclusive lower bound at max-u64 wraps nowhere: empty range.
	deleted, err := db.RemoveRange(math.MaxUint64, math.MaxUint64, false, true)
	require.NoError(t, err)
	require.Zero(t, deleted)

	deleted, err = db.RemoveRange(0, math.MaxUint64, true, true)
	require.NoError(t, err)
	require.Equal(t, uint64(3), deleted)

	n, err := db.KeyCount()
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRemoveFromAndThrough(t *testing.T) {
	db := newTestDB(t)
	fillKeys(t, db, 1, 30)

	deleted, err := db.RemoveFrom(21)
	require.NoError(t, err)
	require.Equal(t, uint64(10), deleted)

	deleted, err = db.RemoveThrough(10)
	require.NoError(t, err)
	require.Equal(t, uint64(10), deleted)

	min, err := db.MinKey()
	require.NoError(t, err)
	require.Equal(t, uint64(11), min)

	max, err := db.MaxKey()
	require.NoError(t, err)
	require.Equal(t, uint64(20), max)
}

func TestCountRangeExact(t *testing.T) {
	db := newTestDB(t)
	fillKeys(t, db, 1, 100)

	// An open batch forces the exact path regardless of engine estimates.
	require.NoError(t, db.Begin())
	require.NoError(t, db.Insert(1000, 0, 0, nil))

	n, err := db.CountRange(1, 100)
	require.NoError(t, err)
	require.Equal(t, uint64(100), n)

	n, err = db.CountRange(0, math.MaxUint64)
	require.NoError(t, err)
	require.Equal(t, uint64(101), n)

	n, err = db.CountRange(40, 59)
	require.NoError(t, err)
	require.Equal(t, uint64(20), n)

	n, err = db.CountRange(200, 999)
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = db.CountRange(60, 40)
	require.NoError(t, err)
	require.Zero(t, n)

	require.NoError(t, db.Abort())
}

func TestCountRangeApproximateIsClose(t *testing.T) {
	db := newTestDB(t)

	// Uniform records make byte-ratio estimation accurate on the memory
	// adapter, whose estimates are exact.
	for k := uint64(1); k <= 1000; k++ {
		require.NoError(t, db.Insert(k, 0, 0, []byte("fixed-size-payload")))
	}

	n, err := db.CountRange(1, 500)
	require.NoError(t, err)
	require.InDelta(t, 500, float64(n), 5)

	n, err = db.CountRange(1, 1000)
	require.NoError(t, err)
	require.InDelta(t, 1000, float64(n), 5)
}

func TestExistsInRange(t *testing.T) {
	db := newTestDB(t)

	for _, k := range []uint64{100, 200, 300} {
		require.NoError(t, db.Insert(k, 0, 0, nil))
	}

	cases := []struct {
		lo, hi uint64
		want   bool
	}{
		{0, 99, false},
		{0, 100, true},
		{100, 100, true},
		{101, 199, false},
		{150, 250, true},
		{301, math.MaxUint64, false},
		{250, 150, false},
	}
	for _, tc := range cases {
		got, err := db.ExistsInRange(tc.lo, tc.hi)
		require.NoError(t, err)
		require.Equal(t, tc.want, got, "[%d, %d]", tc.lo, tc.hi)
	}
}
