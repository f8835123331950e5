// Package kvidx implements an embedded ordered index from u64 keys to
// records over pluggable key-value engines.
//
// Each record carries two u64 metadata fields (term, cmd) and an opaque
// payload. Keys are stored big-endian so engine byte order matches numeric
// order, which makes navigation (min, max, next, prev) and range operations
// plain ordered scans. All writes between Begin and Commit accumulate in a
// single engine batch; reads observe the batch through the engine's merged
// view. Records may be given an absolute expiry via the TTL operations;
// expiry is enforced lazily on point lookups and reclaimed by Sweep.
package kvidx

import (
	"errors"
	"log"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kvidx-db/kvidx/internal/store"
	_ "github.com/kvidx-db/kvidx/internal/store/all"
)

// Record is one stored entry.
type Record struct {
	Key  uint64
	Term uint64
	Cmd  uint64
	Data []byte
}

type cachedRecord struct {
	term uint64
	cmd  uint64
	data []byte
}

// DB is a handle to one open index. All methods are safe for concurrent
// use; operations are serialized internally. A DB owns at most one open
// batch at a time.
type DB struct {
	mu sync.Mutex

	store   store.Store
	batch   store.Batch // nil when no batch is open
	cache   *lru.Cache[uint64, cachedRecord]
	cfg     *Config
	logger  *log.Logger
	adapter string
	path    string

	hits   uint64
	misses uint64

	// nowMs is the wall clock in Unix milliseconds, swappable in tests.
	nowMs func() int64
}

// Open opens or creates the index at path using the configured adapter.
func Open(path string, options ...Option) (*DB, error) {
	cfg := DefaultConfig()
	cfg.ApplyOptions(options...)
	if err := cfg.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidArgument, err)
	}

	s, err := store.Open(cfg.Adapter, path, &store.Options{
		NoSync:      cfg.NoSync,
		Compression: cfg.Compression,
	})
	if err != nil {
		return nil, wrapOp(err, "open", cfg.Adapter)
	}

	var cache *lru.Cache[uint64, cachedRecord]
	if cfg.CacheSize > 0 {
		cache, err = lru.New[uint64, cachedRecord](cfg.CacheSize)
		if err != nil {
			s.Close()
			return nil, wrapOp(err, "open", cfg.Adapter)
		}
	}

	return &DB{
		store:   s,
		cache:   cache,
		cfg:     cfg,
		logger:  cfg.Logger,
		adapter: cfg.Adapter,
		path:    path,
		nowMs:   func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// logf writes maintenance diagnostics when a logger is configured.
func (db *DB) logf(format string, args ...any) {
	if db.logger != nil {
		db.logger.Printf(format, args...)
	}
}

// Close discards any open batch and releases the underlying store.
// The handle is unusable afterwards.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store == nil {
		return ErrClosed
	}
	if db.batch != nil {
		db.batch.Discard()
		db.batch = nil
	}
	err := db.store.Close()
	db.store = nil
	if db.cache != nil {
		db.cache.Purge()
	}
	return wrapOp(err, "close", db.adapter)
}

// Adapter returns the name of the storage engine backing this handle.
func (db *DB) Adapter() string { return db.adapter }

// Path returns the path the handle was opened with.
func (db *DB) Path() string { return db.path }

// Begin opens a batch. All subsequent writes accumulate in it and all
// reads observe it until Commit or Abort. Begin inside an open batch is
// a no-op.
func (db *DB) Begin() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store == nil {
		return ErrClosed
	}
	if db.batch != nil {
		return nil
	}
	b, err := db.store.NewBatch()
	if err != nil {
		return db.wrapLocked(err, "begin")
	}
	db.batch = b
	return nil
}

// Commit atomically applies the open batch. Without an open batch it is
// a no-op.
func (db *DB) Commit() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store == nil {
		return ErrClosed
	}
	if db.batch == nil {
		return nil
	}
	err := db.batch.Commit()
	db.batch = nil
	if db.cache != nil {
		db.cache.Purge()
	}
	return db.wrapLocked(err, "commit")
}

// Abort discards the open batch. Without an open batch it is a no-op.
func (db *DB) Abort() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store == nil {
		return ErrClosed
	}
	if db.batch == nil {
		return nil
	}
	err := db.batch.Discard()
	db.batch = nil
	return db.wrapLocked(err, "abort")
}

// InBatch reports whether a batch is currently open.
func (db *DB) InBatch() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.batch != nil
}

// Fsync forces buffered engine state to stable storage.
func (db *DB) Fsync() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store == nil {
		return ErrClosed
	}
	return db.wrapLocked(db.store.Sync(), "fsync")
}

// reader is the batch-aware read view.
type reader interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	NewIterator() (store.Iterator, error)
}

// writer is the batch-aware write target.
type writer interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

func (db *DB) readerLocked() reader {
	if db.batch != nil {
		return db.batch
	}
	return db.store
}

func (db *DB) writerLocked() writer {
	if db.batch != nil {
		return db.batch
	}
	return db.store
}

func (db *DB) wrapLocked(err error, op string) error {
	return wrapOp(err, op, db.adapter)
}

// withBatchLocked runs fn against the open batch, or against a private
// batch committed on success when none is open.
func (db *DB) withBatchLocked(op string, fn func(b store.Batch) error) error {
	if db.batch != nil {
		return fn(db.batch)
	}
	b, err := db.store.NewBatch()
	if err != nil {
		return db.wrapLocked(err, op)
	}
	if err := fn(b); err != nil {
		b.Discard()
		return err
	}
	return db.wrapLocked(b.Commit(), op)
}

// expiredLocked reports whether key carries a TTL entry that has lapsed.
// A missing or malformed sidecar counts as no TTL.
func (db *DB) expiredLocked(key uint64) (bool, error) {
	v, err := db.readerLocked().Get(ttlKey(key))
	if errors.Is(err, store.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, db.wrapLocked(err, "ttl-check")
	}
	exp, ok := unpackExpiry(v)
	if !ok {
		return false, nil
	}
	return int64(exp) <= db.nowMs(), nil
}

// hasRecordLocked reports physical record presence, ignoring TTL state.
func (db *DB) hasRecordLocked(key uint64) (bool, error) {
	ok, err := db.readerLocked().Has(encodeKey(key))
	if err != nil {
		return false, db.wrapLocked(err, "has")
	}
	return ok, nil
}

// liveLocked reports record presence with TTL enforcement: an expired
// record counts as absent.
func (db *DB) liveLocked(key uint64) (bool, error) {
	expired, err := db.expiredLocked(key)
	if err != nil || expired {
		return false, err
	}
	return db.hasRecordLocked(key)
}

// readRecordLocked fetches the physical record, ignoring TTL state.
// The returned data is owned by the caller.
func (db *DB) readRecordLocked(key uint64) (term, cmd uint64, data []byte, err error) {
	if db.cache != nil && db.batch == nil {
		if rec, ok := db.cache.Get(key); ok {
			db.hits++
			return rec.term, rec.cmd, append([]byte(nil), rec.data...), nil
		}
		db.misses++
	}

	v, err := db.readerLocked().Get(encodeKey(key))
	if errors.Is(err, store.ErrKeyNotFound) {
		return 0, 0, nil, ErrNotFound
	}
	if err != nil {
		return 0, 0, nil, db.wrapLocked(err, "get")
	}
	term, cmd, data = unpackRecord(v)
	if data == nil {
		data = []byte{}
	}
	if db.cache != nil && db.batch == nil {
		db.cache.Add(key, cachedRecord{term: term, cmd: cmd, data: append([]byte(nil), data...)})
	}
	return term, cmd, data, nil
}

// getLocked is readRecordLocked with lazy TTL enforcement.
func (db *DB) getLocked(key uint64) (term, cmd uint64, data []byte, err error) {
	expired, err := db.expiredLocked(key)
	if err != nil {
		return 0, 0, nil, err
	}
	if expired {
		return 0, 0, nil, ErrNotFound
	}
	return db.readRecordLocked(key)
}

func (db *DB) putRecordLocked(key, term, cmd uint64, data []byte) error {
	if err := db.writerLocked().Put(encodeKey(key), packRecord(term, cmd, data)); err != nil {
		return db.wrapLocked(err, "put")
	}
	db.invalidateLocked(key)
	return nil
}

func (db *DB) deleteRecordLocked(key uint64) error {
	if err := db.writerLocked().Delete(encodeKey(key)); err != nil {
		return db.wrapLocked(err, "delete")
	}
	db.invalidateLocked(key)
	return nil
}

func (db *DB) invalidateLocked(key uint64) {
	if db.cache != nil {
		db.cache.Remove(key)
	}
}

func (db *DB) purgeCacheLocked() {
	if db.cache != nil {
		db.cache.Purge()
	}
}

// recordIter narrows a store iterator to the record namespace, stepping
// over TTL sidecar keys in whichever direction it is moving.
type recordIter struct {
	it store.Iterator
}

func (db *DB) newRecordIterLocked() (recordIter, error) {
	it, err := db.readerLocked().NewIterator()
	if err != nil {
		return recordIter{}, db.wrapLocked(err, "iterator")
	}
	return recordIter{it: it}, nil
}

func (ri recordIter) skipFwd(ok bool) bool {
	for ok && !isRecordKey(ri.it.Key()) {
		ok = ri.it.Next()
	}
	return ok
}

func (ri recordIter) skipBack(ok bool) bool {
	for ok && !isRecordKey(ri.it.Key()) {
		ok = ri.it.Prev()
	}
	return ok
}

func (ri recordIter) First() bool          { return ri.skipFwd(ri.it.First()) }
func (ri recordIter) Last() bool           { return ri.skipBack(ri.it.Last()) }
func (ri recordIter) Seek(key uint64) bool { return ri.skipFwd(ri.it.Seek(encodeKey(key))) }
func (ri recordIter) Next() bool           { return ri.skipFwd(ri.it.Next()) }
func (ri recordIter) Prev() bool           { return ri.skipBack(ri.it.Prev()) }

func (ri recordIter) Key() uint64 {
	k, _ := decodeKey(ri.it.Key())
	return k
}

func (ri recordIter) Value() []byte { return ri.it.Value() }
func (ri recordIter) Close() error  { return ri.it.Close() }

// record materializes the current position as a caller-owned Record.
// Data is never nil.
func (ri recordIter) record() *Record {
	term, cmd, data := unpackRecord(ri.Value())
	out := append([]byte(nil), data...)
	if out == nil {
		out = []byte{}
	}
	return &Record{
		Key:  ri.Key(),
		Term: term,
		Cmd:  cmd,
		Data: out,
	}
}
