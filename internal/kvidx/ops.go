package kvidx

import (
	"errors"
	"math"

	"github.com/kvidx-db/kvidx/internal/store"
)

// Insert writes a new record at key. It fails with ErrDuplicateKey if a
// record is physically present, whether or not its TTL has lapsed; use
// InsertCond to treat expired records as absent.
func (db *DB) Insert(key, term, cmd uint64, data []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store == nil {
		return ErrClosed
	}
	ok, err := db.hasRecordLocked(key)
	if err != nil {
		return err
	}
	if ok {
		return ErrDuplicateKey
	}
	return db.putRecordLocked(key, term, cmd, data)
}

// Get returns the record at key, or ErrNotFound if it is absent or its
// TTL has lapsed. The returned data is owned by the caller.
func (db *DB) Get(key uint64) (*Record, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store == nil {
		return nil, ErrClosed
	}
	term, cmd, data, err := db.getLocked(key)
	if err != nil {
		return nil, err
	}
	return &Record{Key: key, Term: term, Cmd: cmd, Data: data}, nil
}

// Exists reports whether a live record is visible at key. A record whose
// TTL has lapsed counts as absent.
func (db *DB) Exists(key uint64) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store == nil {
		return false, ErrClosed
	}
	return db.liveLocked(key)
}

// ExistsWithTerm reports whether a live record is visible at key and its
// stored term equals term.
func (db *DB) ExistsWithTerm(key, term uint64) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store == nil {
		return false, ErrClosed
	}
	storedTerm, _, _, err := db.getLocked(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return storedTerm == term, nil
}

// Remove deletes the record at key. It succeeds whether or not the key
// existed and also removes any TTL entry for it.
func (db *DB) Remove(key uint64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store == nil {
		return ErrClosed
	}
	if err := db.deleteRecordLocked(key); err != nil {
		return err
	}
	if err := db.writerLocked().Delete(ttlKey(key)); err != nil {
		return db.wrapLocked(err, "delete")
	}
	return nil
}

// MinKey returns the least key, or ErrNotFound on an empty index.
func (db *DB) MinKey() (uint64, error) {
	return db.edgeKey(func(ri recordIter) bool { return ri.First() })
}

// MaxKey returns the greatest key, or ErrNotFound on an empty index.
func (db *DB) MaxKey() (uint64, error) {
	return db.edgeKey(func(ri recordIter) bool { return ri.Last() })
}

func (db *DB) edgeKey(position func(recordIter) bool) (uint64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store == nil {
		return 0, ErrClosed
	}
	ri, err := db.newRecordIterLocked()
	if err != nil {
		return 0, err
	}
	defer ri.Close()

	if !position(ri) {
		return 0, ErrNotFound
	}
	return ri.Key(), nil
}

// GetNext returns the record with the smallest key strictly greater than
// prev, or ErrNotFound when no such key exists.
func (db *DB) GetNext(prev uint64) (*Record, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store == nil {
		return nil, ErrClosed
	}
	if prev == math.MaxUint64 {
		return nil, ErrNotFound
	}
	ri, err := db.newRecordIterLocked()
	if err != nil {
		return nil, err
	}
	defer ri.Close()

	if !ri.Seek(prev + 1) {
		return nil, ErrNotFound
	}
	return ri.record(), nil
}

// GetPrev returns the record with the greatest key strictly less than
// next, or ErrNotFound when no such key exists. As a special case,
// GetPrev(max-u64) returns the last record of the index.
func (db *DB) GetPrev(next uint64) (*Record, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store == nil {
		return nil, ErrClosed
	}
	ri, err := db.newRecordIterLocked()
	if err != nil {
		return nil, err
	}
	defer ri.Close()

	var ok bool
	if next == math.MaxUint64 {
		ok = ri.Last()
	} else {
		// Position at the first key >= next; whether that lands or
		// exhausts, one step back yields the greatest key < next.
		ri.Seek(next)
		ok = ri.Prev()
	}
	if !ok {
		return nil, ErrNotFound
	}
	return ri.record(), nil
}

// KeyCount returns the exact number of live records, including any open
// batch. Engine cardinality estimates exclude pending writes, so this is
// a full scan of the merged view.
func (db *DB) KeyCount() (uint64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store == nil {
		return 0, ErrClosed
	}
	return db.keyCountLocked()
}

func (db *DB) keyCountLocked() (uint64, error) {
	ri, err := db.newRecordIterLocked()
	if err != nil {
		return 0, err
	}
	defer ri.Close()

	var n uint64
	for ok := ri.First(); ok; ok = ri.Next() {
		n++
	}
	return n, nil
}

// DataSize returns the total payload bytes across all records, excluding
// the per-record header.
func (db *DB) DataSize() (uint64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store == nil {
		return 0, ErrClosed
	}
	ri, err := db.newRecordIterLocked()
	if err != nil {
		return 0, err
	}
	defer ri.Close()

	var total uint64
	for ok := ri.First(); ok; ok = ri.Next() {
		if v := ri.Value(); len(v) > recordHeaderLen {
			total += uint64(len(v) - recordHeaderLen)
		}
	}
	return total, nil
}

// Stats describes the current contents of the index.
type Stats struct {
	Adapter    string // storage engine name
	Keys       uint64 // exact live record count
	TTLEntries uint64 // sidecar entries, including stale ones
	DataBytes  uint64 // total payload bytes
	DiskBytes  uint64 // engine-estimated on-disk size, 0 if unavailable
	CacheHits  uint64
	CacheMiss  uint64
}

// Stats scans the index once and returns exact record counts plus the
// engine's disk estimate when it provides one.
func (db *DB) Stats() (Stats, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store == nil {
		return Stats{}, ErrClosed
	}
	st := Stats{
		Adapter:   db.adapter,
		CacheHits: db.hits,
		CacheMiss: db.misses,
	}

	it, err := db.readerLocked().NewIterator()
	if err != nil {
		return Stats{}, db.wrapLocked(err, "stats")
	}
	defer it.Close()

	for ok := it.First(); ok; ok = it.Next() {
		switch {
		case isRecordKey(it.Key()):
			st.Keys++
			if v := it.Value(); len(v) > recordHeaderLen {
				st.DataBytes += uint64(len(v) - recordHeaderLen)
			}
		case isTTLKey(it.Key()):
			st.TTLEntries++
		}
	}

	if sz, ok := db.store.(store.Sizer); ok {
		if bytes, _, err := sz.EstimateLive(); err == nil {
			st.DiskBytes = bytes
		}
	}
	return st, nil
}
