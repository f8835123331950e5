package kvidx

import (
	"bytes"
	"encoding/binary"
)

// Key and value layout.
//
// Record keys are the 8-byte big-endian encoding of the u64 key, so the
// engine's byte order is the numeric order. Record values carry a fixed
// 16-byte header (term, cmd, both little-endian) followed by the payload.
//
// TTL entries live in the same keyspace under a 12-byte sidecar key:
// a 4-byte prefix {0x00 'T' 'T' 'L'} followed by the big-endian record key.
// The sidecar value is the absolute expiry time in Unix milliseconds,
// little-endian. Key length alone separates the two namespaces.
const (
	recordKeyLen    = 8
	recordHeaderLen = 16
	ttlKeyLen       = 12
)

var ttlPrefix = []byte{0x00, 'T', 'T', 'L'}

func encodeKey(key uint64) []byte {
	var b [recordKeyLen]byte
	binary.BigEndian.PutUint64(b[:], key)
	return b[:]
}

func decodeKey(b []byte) (uint64, bool) {
	if len(b) != recordKeyLen {
		return 0, false
	}
	return binary.BigEndian.Uint64(b), true
}

func isRecordKey(b []byte) bool {
	return len(b) == recordKeyLen
}

func isTTLKey(b []byte) bool {
	return len(b) == ttlKeyLen && bytes.HasPrefix(b, ttlPrefix)
}

func ttlKey(key uint64) []byte {
	b := make([]byte, ttlKeyLen)
	copy(b, ttlPrefix)
	binary.BigEndian.PutUint64(b[len(ttlPrefix):], key)
	return b
}

// ttlKeyTarget extracts the record key a sidecar entry refers to.
func ttlKeyTarget(b []byte) (uint64, bool) {
	if !isTTLKey(b) {
		return 0, false
	}
	return binary.BigEndian.Uint64(b[len(ttlPrefix):]), true
}

func packRecord(term, cmd uint64, data []byte) []byte {
	v := make([]byte, recordHeaderLen+len(data))
	binary.LittleEndian.PutUint64(v[0:8], term)
	binary.LittleEndian.PutUint64(v[8:16], cmd)
	copy(v[recordHeaderLen:], data)
	return v
}

// unpackRecord splits a stored value into its header fields and payload.
// Values shorter than the header decode as zero term, zero cmd and empty
// data rather than failing, so a scan never aborts on a short value.
// The returned payload aliases v.
func unpackRecord(v []byte) (term, cmd uint64, data []byte) {
	if len(v) < recordHeaderLen {
		return 0, 0, nil
	}
	term = binary.LittleEndian.Uint64(v[0:8])
	cmd = binary.LittleEndian.Uint64(v[8:16])
	return term, cmd, v[recordHeaderLen:]
}

func packExpiry(expireAtMs uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], expireAtMs)
	return b[:]
}

func unpackExpiry(v []byte) (uint64, bool) {
	if len(v) != 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(v), true
}
