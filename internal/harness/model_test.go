package harness

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestModelPointOps(t *testing.T) {
	m := NewModel()

	require.True(t, m.Insert(10, 3, 7, []byte("ten")))
	require.False(t, m.Insert(10, 9, 9, []byte("clobber")), "duplicate insert must be rejected")

	rec, ok := m.Get(10)
	require.True(t, ok)
	require.Equal(t, uint64(10), rec.Key)
	require.Equal(t, uint64(3), rec.Term)
	require.Equal(t, uint64(7), rec.Cmd)
	require.Equal(t, []byte("ten"), rec.Data)

	require.True(t, m.Exists(10))
	require.False(t, m.Exists(11))

	m.Remove(10)
	require.False(t, m.Exists(10))
	_, ok = m.Get(10)
	require.False(t, ok)

	// Removing an absent key is silent.
	m.Remove(10)
}

func TestModelDataIsCopied(t *testing.T) {
	m := NewModel()
	src := []byte("mutable")
	m.Insert(1, 0, 0, src)
	src[0] = 'X'

	rec, ok := m.Get(1)
	require.True(t, ok)
	require.Equal(t, []byte("mutable"), rec.Data)

	rec.Data[0] = 'Y'
	again, _ := m.Get(1)
	require.Equal(t, []byte("mutable"), again.Data)
}

func TestModelNavigation(t *testing.T) {
	m := NewModel()
	for _, k := range []uint64{5, 40, 12, 90} {
		require.True(t, m.Insert(k, k, k, nil))
	}

	mn, ok := m.MinKey()
	require.True(t, ok)
	require.Equal(t, uint64(5), mn)
	mx, ok := m.MaxKey()
	require.True(t, ok)
	require.Equal(t, uint64(90), mx)

	next, ok := m.GetNext(12)
	require.True(t, ok)
	require.Equal(t, uint64(40), next.Key)

	_, ok = m.GetNext(90)
	require.False(t, ok)
	_, ok = m.GetNext(math.MaxUint64)
	require.False(t, ok)

	prev, ok := m.GetPrev(40)
	require.True(t, ok)
	require.Equal(t, uint64(12), prev.Key)

	_, ok = m.GetPrev(5)
	require.False(t, ok)
	_, ok = m.GetPrev(0)
	require.False(t, ok)

	last, ok := m.GetPrev(math.MaxUint64)
	require.True(t, ok)
	require.Equal(t, uint64(90), last.Key)

	require.Equal(t, []uint64{5, 12, 40, 90}, m.Keys())
}

func TestModelEmpty(t *testing.T) {
	m := NewModel()

	_, ok := m.MinKey()
	require.False(t, ok)
	_, ok = m.MaxKey()
	require.False(t, ok)
	_, ok = m.GetNext(0)
	require.False(t, ok)
	_, ok = m.GetPrev(math.MaxUint64)
	require.False(t, ok)
	require.Zero(t, m.KeyCount())
	require.Empty(t, m.Keys())
}

func TestModelRanges(t *testing.T) {
	m := NewModel()
	for k := uint64(10); k <= 30; k++ {
		require.True(t, m.Insert(k, 0, 0, nil))
	}

	require.Equal(t, uint64(21), m.CountRange(10, 30))
	require.Equal(t, uint64(5), m.CountRange(13, 17))
	require.Zero(t, m.CountRange(31, 100))
	require.Zero(t, m.CountRange(20, 10), "inverted bounds count nothing")

	require.True(t, m.ExistsInRange(0, 10))
	require.False(t, m.ExistsInRange(0, 9))
	require.False(t, m.ExistsInRange(31, math.MaxUint64))

	require.Equal(t, uint64(10), m.RemoveFrom(21))
	require.Equal(t, uint64(20), func() uint64 { k, _ := m.MaxKey(); return k }())

	require.Equal(t, uint64(3), m.RemoveThrough(12))
	require.Equal(t, uint64(8), m.KeyCount())
}

func TestModelBatchVisibility(t *testing.T) {
	m := NewModel()
	require.True(t, m.Insert(1, 0, 0, []byte("committed")))

	m.Begin()
	require.True(t, m.InBatch())
	require.True(t, m.Insert(2, 0, 0, []byte("pending")))
	m.Remove(1)

	// Batch reads see their own writes.
	require.True(t, m.Exists(2))
	require.False(t, m.Exists(1))
	require.Equal(t, uint64(1), m.KeyCount())

	m.Abort()
	require.False(t, m.InBatch())
	require.True(t, m.Exists(1))
	require.False(t, m.Exists(2))

	m.Begin()
	require.True(t, m.Insert(3, 0, 0, nil))
	m.Commit()
	require.True(t, m.Exists(3))
	require.Equal(t, uint64(2), m.KeyCount())

	// Begin while open and Commit while closed are no-ops.
	m.Begin()
	m.Begin()
	require.True(t, m.InBatch())
	m.Abort()
	m.Commit()
	require.False(t, m.InBatch())
}
