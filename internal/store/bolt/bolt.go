// Package bolt implements the store contract on bbolt. A batch is a live
// writable transaction, so read-through comes from bbolt itself rather than
// an overlay. bbolt allows one writer at a time: opening a second batch
// before the first is finalized blocks, which the record layer's
// one-transaction rule already rules out.
package bolt

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/kvidx-db/kvidx/internal/store"
)

var bucketName = []byte("kvidx")

func init() {
	store.Register(store.Info{
		Name:       "bolt",
		PathSuffix: ".db",
		Directory:  false,
		Persistent: true,
	}, openStore)
}

type Store struct {
	db *bbolt.DB
}

func openStore(path string, opts *store.Options) (store.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt at %s: %w", path, err)
	}
	if opts != nil && opts.NoSync {
		db.NoSync = true
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Get(key []byte) ([]byte, error) {
	if s.db == nil {
		return nil, store.ErrClosed
	}
	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketName).Get(key)
		if v == nil {
			return store.ErrKeyNotFound
		}
		// bbolt slices point into the mmap and die with the transaction.
		value = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *Store) Has(key []byte) (bool, error) {
	if s.db == nil {
		return false, store.ErrClosed
	}
	var ok bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		ok = tx.Bucket(bucketName).Get(key) != nil
		return nil
	})
	return ok, err
}

func (s *Store) Put(key, value []byte) error {
	if s.db == nil {
		return store.ErrClosed
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put(key, value)
	})
}

func (s *Store) Delete(key []byte) error {
	if s.db == nil {
		return store.ErrClosed
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Delete(key)
	})
}

func (s *Store) NewIterator() (store.Iterator, error) {
	if s.db == nil {
		return nil, store.ErrClosed
	}
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, err
	}
	return &iterator{tx: tx, cur: tx.Bucket(bucketName).Cursor()}, nil
}

func (s *Store) NewBatch() (store.Batch, error) {
	if s.db == nil {
		return nil, store.ErrClosed
	}
	tx, err := s.db.Begin(true)
	if err != nil {
		return nil, err
	}
	return &batch{tx: tx, bucket: tx.Bucket(bucketName)}, nil
}

func (s *Store) Sync() error {
	if s.db == nil {
		return store.ErrClosed
	}
	return s.db.Sync()
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	db := s.db
	s.db = nil
	return db.Close()
}

// EstimateLive reports exact live counts from bucket statistics. Range
// estimates are not cheap in a B+tree file, so EstimateRangeSize reports
// unavailable and callers count exactly instead.
func (s *Store) EstimateLive() (uint64, uint64, error) {
	if s.db == nil {
		return 0, 0, store.ErrClosed
	}
	var bytesLive, keys uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		st := tx.Bucket(bucketName).Stats()
		bytesLive = uint64(st.LeafInuse)
		keys = uint64(st.KeyN)
		return nil
	})
	return bytesLive, keys, err
}

func (s *Store) EstimateRangeSize(start, end []byte) (uint64, error) {
	if s.db == nil {
		return 0, store.ErrClosed
	}
	return 0, nil
}

// batch wraps a writable transaction. bbolt requires Put arguments to stay
// valid for the transaction's lifetime, so both key and value are copied.
type batch struct {
	tx     *bbolt.Tx
	bucket *bbolt.Bucket
	ops    int
	done   bool
}

func (b *batch) Put(key, value []byte) error {
	if b.done {
		return store.ErrClosed
	}
	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)
	if err := b.bucket.Put(k, v); err != nil {
		return err
	}
	b.ops++
	return nil
}

func (b *batch) Delete(key []byte) error {
	if b.done {
		return store.ErrClosed
	}
	if err := b.bucket.Delete(key); err != nil {
		return err
	}
	b.ops++
	return nil
}

func (b *batch) Get(key []byte) ([]byte, error) {
	if b.done {
		return nil, store.ErrClosed
	}
	v := b.bucket.Get(key)
	if v == nil {
		return nil, store.ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

func (b *batch) Has(key []byte) (bool, error) {
	if b.done {
		return false, store.ErrClosed
	}
	return b.bucket.Get(key) != nil, nil
}

func (b *batch) NewIterator() (store.Iterator, error) {
	if b.done {
		return nil, store.ErrClosed
	}
	// The writable transaction sees its own pending writes, so its cursor
	// is already the merged view.
	return &iterator{cur: b.bucket.Cursor()}, nil
}

func (b *batch) Len() int {
	return b.ops
}

func (b *batch) Commit() error {
	if b.done {
		return store.ErrClosed
	}
	b.done = true
	return b.tx.Commit()
}

func (b *batch) Discard() error {
	if b.done {
		return nil
	}
	b.done = true
	return b.tx.Rollback()
}

const (
	iterFresh = iota
	iterAt
	iterDoneFwd
	iterDoneBack
)

// iterator walks a bucket cursor. Batch iterators share the batch
// transaction and carry no tx of their own; Close then rolls back nothing.
// Keys and values are copied out because bbolt memory is transaction-scoped.
type iterator struct {
	tx    *bbolt.Tx
	cur   *bbolt.Cursor
	state int
	key   []byte
	val   []byte
}

func (it *iterator) settle(k, v []byte, doneState int) bool {
	if k == nil {
		it.state = doneState
		it.key = nil
		it.val = nil
		return false
	}
	it.state = iterAt
	it.key = append(it.key[:0], k...)
	it.val = append(it.val[:0], v...)
	return true
}

func (it *iterator) First() bool {
	k, v := it.cur.First()
	return it.settle(k, v, iterDoneFwd)
}

func (it *iterator) Last() bool {
	k, v := it.cur.Last()
	return it.settle(k, v, iterDoneBack)
}

func (it *iterator) Seek(key []byte) bool {
	k, v := it.cur.Seek(key)
	return it.settle(k, v, iterDoneFwd)
}

func (it *iterator) Next() bool {
	switch it.state {
	case iterAt:
		// Bucket mutations in a batch can invalidate the cursor, so
		// re-anchor on the current key before stepping. If the current key
		// was deleted, the seek already lands on its successor.
		k, v := it.cur.Seek(it.key)
		if k != nil && bytes.Equal(k, it.key) {
			k, v = it.cur.Next()
		}
		return it.settle(k, v, iterDoneFwd)
	case iterFresh, iterDoneBack:
		return it.First()
	default:
		return false
	}
}

func (it *iterator) Prev() bool {
	switch it.state {
	case iterAt:
		k, v := it.cur.Seek(it.key)
		if k == nil {
			// Nothing at or above the current key remains; the greatest
			// remaining entry is its predecessor.
			k, v = it.cur.Last()
		} else {
			k, v = it.cur.Prev()
		}
		return it.settle(k, v, iterDoneBack)
	case iterFresh, iterDoneFwd:
		return it.Last()
	default:
		return false
	}
}

func (it *iterator) Valid() bool { return it.state == iterAt }

func (it *iterator) Key() []byte {
	if it.state != iterAt {
		return nil
	}
	return it.key
}

func (it *iterator) Value() []byte {
	if it.state != iterAt {
		return nil
	}
	return it.val
}

func (it *iterator) Error() error { return nil }

func (it *iterator) Close() error {
	it.state = iterDoneFwd
	if it.tx != nil {
		return it.tx.Rollback()
	}
	return nil
}
