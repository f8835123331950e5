package kvidx_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvidx-db/kvidx/internal/kvidx"
)

func TestInsertCond(t *testing.T) {
	db := newTestDB(t)

	// IfNotExists on a free slot writes.
	require.NoError(t, db.InsertCond(1, 1, 0, []byte("a"), kvidx.CondIfNotExists))
	// IfNotExists on an occupied slot rejects.
	err := db.InsertCond(1, 2, 0, []byte("b"), kvidx.CondIfNotExists)
	require.ErrorIs(t, err, kvidx.ErrConditionFailed)
	require.True(t, kvidx.IsConditionFailed(err))

	// IfExists on an occupied slot replaces.
	require.NoError(t, db.InsertCond(1, 3, 0, []byte("c"), kvidx.CondIfExists))
	rec, err := db.Get(1)
	require.NoError(t, err)
	require.Equal(t, uint64(3), rec.Term)
	require.Equal(t, []byte("c"), rec.Data)

	// IfExists on a free slot rejects.
	err = db.InsertCond(2, 0, 0, nil, kvidx.CondIfExists)
	require.ErrorIs(t, err, kvidx.ErrConditionFailed)

	// Always overwrites occupied and writes free alike.
	require.NoError(t, db.InsertCond(1, 4, 0, []byte("d"), kvidx.CondAlways))
	require.NoError(t, db.InsertCond(2, 5, 0, []byte("e"), kvidx.CondAlways))
	rec, err = db.Get(1)
	require.NoError(t, err)
	require.Equal(t, []byte("d"), rec.Data)

	err = db.InsertCond(3, 0, 0, nil, kvidx.Cond(42))
	require.ErrorIs(t, err, kvidx.ErrInvalidArgument)
}

func TestCompareAndSwapMissingKey(t *testing.T) {
	db := newTestDB(t)

	swapped, err := db.CompareAndSwap(404, []byte("x"), 0, 0, []byte("y"))
	require.ErrorIs(t, err, kvidx.ErrNotFound)
	require.False(t, swapped)
}

func TestCompareAndSwapEmptyPayload(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.Insert(1, 0, 0, nil))

	swapped, err := db.CompareAndSwap(1, []byte{}, 1, 1, []byte("filled"))
	require.NoError(t, err)
	require.True(t, swapped)

	rec, err := db.Get(1)
	require.NoError(t, err)
	require.Equal(t, []byte("filled"), rec.Data)
}

func TestGetAndSet(t *testing.T) {
	db := newTestDB(t)

	prev, err := db.GetAndSet(1, 10, 11, []byte("new"))
	require.NoError(t, err)
	require.Nil(t, prev)

	prev, err = db.GetAndSet(1, 20, 21, []byte("newer"))
	require.NoError(t, err)
	require.NotNil(t, prev)
	require.Equal(t, uint64(10), prev.Term)
	require.Equal(t, uint64(11), prev.Cmd)
	require.Equal(t, []byte("new"), prev.Data)

	rec, err := db.Get(1)
	require.NoError(t, err)
	require.Equal(t, uint64(20), rec.Term)
	require.Equal(t, []byte("newer"), rec.Data)
}

func TestGetAndRemove(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetAndRemove(1)
	require.ErrorIs(t, err, kvidx.ErrNotFound)

	require.NoError(t, db.Insert(1, 7, 8, []byte("victim")))

	rec, err := db.GetAndRemove(1)
	require.NoError(t, err)
	require.Equal(t, uint64(7), rec.Term)
	require.Equal(t, uint64(8), rec.Cmd)
	require.Equal(t, []byte("victim"), rec.Data)

	ok, err := db.Exists(1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAppendPrepend(t *testing.T) {
	db := newTestDB(t)

	// On an absent key both create the record from scratch.
	n, err := db.Append(1, 1, 0, []byte("mid"))
	require.NoError(t, err)
	require.Equal(t, 3, n)

	n, err = db.Append(1, 2, 0, []byte("-end"))
	require.NoError(t, err)
	require.Equal(t, 7, n)

	n, err = db.Prepend(1, 3, 0, []byte("start-"))
	require.NoError(t, err)
	require.Equal(t, 13, n)

	rec, err := db.Get(1)
	require.NoError(t, err)
	require.Equal(t, []byte("start-mid-end"), rec.Data)
	require.Equal(t, uint64(3), rec.Term)
}

func TestGetValueRange(t *testing.T) {
	db := newTestDB(t)

	data := []byte("0123456789")
	require.NoError(t, db.Insert(1, 0, 0, data))

	cases := []struct {
		offset, length int
		want           []byte
	}{
		{0, 0, data},
		{0, 4, []byte("0123")},
		{3, 4, []byte("3456")},
		{5, 0, []byte("56789")},
		{8, 100, []byte("89")},
		{10, 5, []byte{}},
		{100, 0, []byte{}},
	}
	for _, tc := range cases {
		got, err := db.GetValueRange(1, tc.offset, tc.length)
		require.NoError(t, err)
		require.Equal(t, tc.want, got, "offset=%d length=%d", tc.offset, tc.length)
	}

	_, err := db.GetValueRange(2, 0, 0)
	require.ErrorIs(t, err, kvidx.ErrNotFound)

	_, err = db.GetValueRange(1, -1, 0)
	require.ErrorIs(t, err, kvidx.ErrInvalidArgument)
}

func TestSetValueRange(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.Insert(1, 5, 6, []byte("abcdef")))

	// Overwrite in place.
	require.NoError(t, db.SetValueRange(1, 1, []byte("XY")))
	rec, err := db.Get(1)
	require.NoError(t, err)
	require.Equal(t, []byte("aXYdef"), rec.Data)
	require.Equal(t, uint64(5), rec.Term)
	require.Equal(t, uint64(6), rec.Cmd)

	// Extend past the end.
	require.NoError(t, db.SetValueRange(1, 4, []byte("12345")))
	rec, err = db.Get(1)
	require.NoError(t, err)
	require.Equal(t, []byte("aXYd12345"), rec.Data)

	// A write past the end zero-fills the gap.
	require.NoError(t, db.SetValueRange(1, 12, []byte("ZZ")))
	rec, err = db.Get(1)
	require.NoError(t, err)
	require.Equal(t, 14, len(rec.Data))
	require.True(t, bytes.Equal(rec.Data[9:12], []byte{0, 0, 0}))
	require.Equal(t, []byte("ZZ"), rec.Data[12:])

	chunk, err := db.GetValueRange(1, 12, 2)
	require.NoError(t, err)
	require.Equal(t, []byte("ZZ"), chunk)

	require.ErrorIs(t, db.SetValueRange(404, 0, []byte("x")), kvidx.ErrNotFound)
	require.ErrorIs(t, db.SetValueRange(1, -2, nil), kvidx.ErrInvalidArgument)
}
