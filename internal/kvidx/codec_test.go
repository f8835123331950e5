package kvidx

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyEncodingPreservesOrder(t *testing.T) {
	keys := []uint64{0, 1, 255, 256, 1<<32 - 1, 1 << 32, 1<<63 - 1, 1 << 63, math.MaxUint64}

	for i := 1; i < len(keys); i++ {
		a, b := encodeKey(keys[i-1]), encodeKey(keys[i])
		require.Negative(t, bytes.Compare(a, b), "%d vs %d", keys[i-1], keys[i])
	}

	for _, k := range keys {
		got, ok := decodeKey(encodeKey(k))
		require.True(t, ok)
		require.Equal(t, k, got)
	}

	_, ok := decodeKey([]byte{1, 2, 3})
	require.False(t, ok)
}

func TestRecordPackUnpack(t *testing.T) {
	v := packRecord(42, 99, []byte("payload"))
	require.Len(t, v, recordHeaderLen+7)

	term, cmd, data := unpackRecord(v)
	require.Equal(t, uint64(42), term)
	require.Equal(t, uint64(99), cmd)
	require.Equal(t, []byte("payload"), data)

	// Empty payload keeps the header intact.
	term, cmd, data = unpackRecord(packRecord(1, 2, nil))
	require.Equal(t, uint64(1), term)
	require.Equal(t, uint64(2), cmd)
	require.Empty(t, data)
}

func TestUnpackToleratesShortValues(t *testing.T) {
	for _, v := range [][]byte{nil, {}, {1}, make([]byte, recordHeaderLen-1)} {
		term, cmd, data := unpackRecord(v)
		require.Zero(t, term)
		require.Zero(t, cmd)
		require.Empty(t, data)
	}
}

func TestTTLKeyLayout(t *testing.T) {
	k := ttlKey(0x1122334455667788)
	require.Len(t, k, ttlKeyLen)
	require.Equal(t, []byte{0x00, 'T', 'T', 'L'}, k[:4])
	require.Equal(t, []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}, k[4:])

	target, ok := ttlKeyTarget(k)
	require.True(t, ok)
	require.Equal(t, uint64(0x1122334455667788), target)

	require.True(t, isTTLKey(k))
	require.False(t, isTTLKey(k[:8]))
	require.False(t, isRecordKey(k))
	require.True(t, isRecordKey(encodeKey(7)))

	// A record key sharing the prefix bytes is not a sidecar key.
	rec := encodeKey(0x0054544C00000001)
	require.True(t, bytes.HasPrefix(rec, ttlPrefix))
	require.False(t, isTTLKey(rec))

	_, ok = ttlKeyTarget(rec)
	require.False(t, ok)
}

func TestExpiryPackUnpack(t *testing.T) {
	v := packExpiry(123456789)
	exp, ok := unpackExpiry(v)
	require.True(t, ok)
	require.Equal(t, uint64(123456789), exp)

	_, ok = unpackExpiry([]byte{1, 2, 3})
	require.False(t, ok)
	_, ok = unpackExpiry(nil)
	require.False(t, ok)
}
