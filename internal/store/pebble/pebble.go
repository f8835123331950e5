// Package pebble implements the store contract on top of CockroachDB's
// Pebble LSM engine. It is the default persistent adapter: native indexed
// batches give read-through transaction views, and EstimateDiskUsage backs
// the size estimates used for approximate range counts.
package pebble

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"

	"github.com/kvidx-db/kvidx/internal/store"
	"github.com/kvidx-db/kvidx/internal/store/compress"
)

const (
	// Values below this size are never worth compressing.
	minCompressSize = 128

	// Envelope trailer: original length (4 bytes LE) + flag byte.
	envelopeSize = 5

	flagRaw        = 0x00
	flagCompressed = 0x01
)

func init() {
	store.Register(store.Info{
		Name:       "pebble",
		PathSuffix: "",
		Directory:  true,
		Persistent: true,
	}, openStore)
}

// Store wraps a pebble.DB. When a compressor is configured every stored
// value carries a 5-byte trailer, so a database must always be reopened
// with the same compression setting it was created with.
type Store struct {
	db     *pebble.DB
	comp   compress.Compressor
	noSync bool
}

func openStore(path string, opts *store.Options) (store.Store, error) {
	var (
		noSync   bool
		compName string
	)
	if opts != nil {
		noSync = opts.NoSync
		compName = opts.Compression
	}

	var comp compress.Compressor
	if compName != "" && compName != "none" {
		c, err := compress.Get(compName)
		if err != nil {
			return nil, err
		}
		comp = c
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", path, err)
	}

	db, err := pebble.Open(path, buildOptions())
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}

	return &Store{db: db, comp: comp, noSync: noSync}, nil
}

// buildOptions tunes pebble for small fixed-size keys and point-lookup
// heavy workloads: bloom filters on every level, app-level compression.
func buildOptions() *pebble.Options {
	opts := &pebble.Options{
		Cache:                       pebble.NewCache(32 << 20),
		MemTableSize:                16 << 20,
		MemTableStopWritesThreshold: 4,
		MaxConcurrentCompactions: func() int {
			return runtime.NumCPU()
		},
		L0CompactionThreshold: 4,
		L0StopWritesThreshold: 20,
		LBaseMaxBytes:         64 << 20,
		Levels:                make([]pebble.LevelOptions, 7),
	}

	for i := range opts.Levels {
		opts.Levels[i] = pebble.LevelOptions{
			BlockSize:      32 << 10,
			IndexBlockSize: 256 << 10,
			FilterPolicy:   bloom.FilterPolicy(10),
			FilterType:     pebble.TableFilter,
			TargetFileSize: int64(4<<20) << uint(i),
			Compression:    pebble.NoCompression,
		}
		if opts.Levels[i].TargetFileSize > 128<<20 {
			opts.Levels[i].TargetFileSize = 128 << 20
		}
	}

	return opts
}

func (s *Store) writeOpt() *pebble.WriteOptions {
	if s.noSync {
		return pebble.NoSync
	}
	return pebble.Sync
}

func (s *Store) Get(key []byte) ([]byte, error) {
	if s.db == nil {
		return nil, store.ErrClosed
	}
	val, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, store.ErrKeyNotFound
		}
		return nil, err
	}
	defer closer.Close()
	return s.decodeValue(val)
}

func (s *Store) Has(key []byte) (bool, error) {
	if s.db == nil {
		return false, store.ErrClosed
	}
	_, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	closer.Close()
	return true, nil
}

func (s *Store) Put(key, value []byte) error {
	if s.db == nil {
		return store.ErrClosed
	}
	return s.db.Set(key, s.encodeValue(value), s.writeOpt())
}

func (s *Store) Delete(key []byte) error {
	if s.db == nil {
		return store.ErrClosed
	}
	return s.db.Delete(key, s.writeOpt())
}

func (s *Store) NewIterator() (store.Iterator, error) {
	if s.db == nil {
		return nil, store.ErrClosed
	}
	it, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	return &iterator{it: it, s: s}, nil
}

func (s *Store) NewBatch() (store.Batch, error) {
	if s.db == nil {
		return nil, store.ErrClosed
	}
	return &batch{b: s.db.NewIndexedBatch(), s: s}, nil
}

func (s *Store) Sync() error {
	if s.db == nil {
		return store.ErrClosed
	}
	return s.db.Flush()
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	db := s.db
	s.db = nil
	if err := db.Flush(); err != nil {
		db.Close()
		return err
	}
	return db.Close()
}

// EstimateLive reports disk usage and a key count summed from SSTable
// properties. Entries still in the memtable are not counted.
func (s *Store) EstimateLive() (uint64, uint64, error) {
	if s.db == nil {
		return 0, 0, store.ErrClosed
	}
	var keys uint64
	levels, err := s.db.SSTables(pebble.WithProperties())
	if err != nil {
		return 0, 0, err
	}
	for _, level := range levels {
		for _, t := range level {
			if t.Properties == nil {
				continue
			}
			n := t.Properties.NumEntries
			if d := t.Properties.NumDeletions; d < n {
				n -= d
			} else {
				n = 0
			}
			keys += n
		}
	}
	return s.db.Metrics().DiskSpaceUsage(), keys, nil
}

func (s *Store) EstimateRangeSize(start, end []byte) (uint64, error) {
	if s.db == nil {
		return 0, store.ErrClosed
	}
	return s.db.EstimateDiskUsage(start, end)
}

// encodeValue appends the compression trailer when a compressor is
// configured. Incompressible or small values are stored raw but still
// carry the trailer so decoding stays uniform.
func (s *Store) encodeValue(value []byte) []byte {
	if s.comp == nil {
		return value
	}
	if len(value) > minCompressSize {
		// A zero-length result means the codec judged the input
		// incompressible.
		if cd, err := s.comp.Compress(value); err == nil && len(cd) > 0 && len(cd) < len(value)*9/10 {
			out := make([]byte, len(cd)+envelopeSize)
			copy(out, cd)
			binary.LittleEndian.PutUint32(out[len(cd):], uint32(len(value)))
			out[len(out)-1] = flagCompressed
			return out
		}
	}
	out := make([]byte, len(value)+envelopeSize)
	copy(out, value)
	binary.LittleEndian.PutUint32(out[len(value):], uint32(len(value)))
	out[len(out)-1] = flagRaw
	return out
}

// decodeValue returns a copy that stays valid after the pebble buffer is
// released.
func (s *Store) decodeValue(stored []byte) ([]byte, error) {
	if s.comp == nil {
		return append([]byte(nil), stored...), nil
	}
	payload, origLen, compressed, err := splitEnvelope(stored)
	if err != nil {
		return nil, err
	}
	if !compressed {
		return append([]byte(nil), payload...), nil
	}
	return s.comp.Decompress(payload, origLen)
}

// decodeIterValue is decodeValue without the defensive copy for the raw
// case; iterator buffers stay valid until the next positioning call, which
// matches the iterator contract.
func (s *Store) decodeIterValue(stored []byte) ([]byte, error) {
	if s.comp == nil {
		return stored, nil
	}
	payload, origLen, compressed, err := splitEnvelope(stored)
	if err != nil {
		return nil, err
	}
	if !compressed {
		return payload, nil
	}
	return s.comp.Decompress(payload, origLen)
}

func splitEnvelope(stored []byte) ([]byte, int, bool, error) {
	if len(stored) < envelopeSize {
		return nil, 0, false, fmt.Errorf("value too short for compression envelope: %d bytes", len(stored))
	}
	body := len(stored) - envelopeSize
	origLen := int(binary.LittleEndian.Uint32(stored[body : body+4]))
	switch stored[len(stored)-1] {
	case flagRaw:
		return stored[:body], origLen, false, nil
	case flagCompressed:
		return stored[:body], origLen, true, nil
	default:
		return nil, 0, false, fmt.Errorf("unknown compression flag 0x%02x", stored[len(stored)-1])
	}
}

type batch struct {
	b    *pebble.Batch
	s    *Store
	done bool
}

func (b *batch) Put(key, value []byte) error {
	if b.done {
		return store.ErrClosed
	}
	return b.b.Set(key, b.s.encodeValue(value), nil)
}

func (b *batch) Delete(key []byte) error {
	if b.done {
		return store.ErrClosed
	}
	return b.b.Delete(key, nil)
}

func (b *batch) Get(key []byte) ([]byte, error) {
	if b.done {
		return nil, store.ErrClosed
	}
	val, closer, err := b.b.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, store.ErrKeyNotFound
		}
		return nil, err
	}
	defer closer.Close()
	return b.s.decodeValue(val)
}

func (b *batch) Has(key []byte) (bool, error) {
	if b.done {
		return false, store.ErrClosed
	}
	_, closer, err := b.b.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	closer.Close()
	return true, nil
}

func (b *batch) NewIterator() (store.Iterator, error) {
	if b.done {
		return nil, store.ErrClosed
	}
	it, err := b.b.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	return &iterator{it: it, s: b.s}, nil
}

func (b *batch) Len() int {
	return int(b.b.Count())
}

func (b *batch) Commit() error {
	if b.done {
		return store.ErrClosed
	}
	b.done = true
	if err := b.b.Commit(b.s.writeOpt()); err != nil {
		b.b.Close()
		return err
	}
	return b.b.Close()
}

func (b *batch) Discard() error {
	if b.done {
		return nil
	}
	b.done = true
	return b.b.Close()
}

type iterator struct {
	it  *pebble.Iterator
	s   *Store
	err error

	val      []byte
	valReady bool
}

func (it *iterator) reposition(ok bool) bool {
	it.val = nil
	it.valReady = false
	return ok
}

func (it *iterator) First() bool { return it.reposition(it.it.First()) }

func (it *iterator) Last() bool { return it.reposition(it.it.Last()) }

func (it *iterator) Seek(key []byte) bool { return it.reposition(it.it.SeekGE(key)) }

func (it *iterator) Next() bool { return it.reposition(it.it.Next()) }

func (it *iterator) Prev() bool { return it.reposition(it.it.Prev()) }

func (it *iterator) Valid() bool { return it.it.Valid() }

func (it *iterator) Key() []byte {
	if !it.it.Valid() {
		return nil
	}
	return it.it.Key()
}

func (it *iterator) Value() []byte {
	if !it.it.Valid() {
		return nil
	}
	if !it.valReady {
		v, err := it.s.decodeIterValue(it.it.Value())
		if err != nil {
			it.err = err
			return nil
		}
		it.val = v
		it.valReady = true
	}
	return it.val
}

func (it *iterator) Error() error {
	if it.err != nil {
		return it.err
	}
	return it.it.Error()
}

func (it *iterator) Close() error {
	return it.it.Close()
}
