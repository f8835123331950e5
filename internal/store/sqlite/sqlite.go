// Package sqlite implements the store contract on modernc.org/sqlite, the
// CGo-free SQLite driver. Keys live in a WITHOUT ROWID table with a BLOB
// primary key, which SQLite orders by memcmp, so ordered iteration comes
// straight from the table btree. A batch is a live SQL transaction.
//
// Iterators page rows into memory one chunk at a time and never hold an
// open result set between positioning calls; a Put between two calls on the
// same transaction connection therefore cannot deadlock the pool.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/kvidx-db/kvidx/internal/store"
)

const pageSize = 256

func init() {
	store.Register(store.Info{
		Name:       "sqlite",
		PathSuffix: ".sqlite",
		Directory:  false,
		Persistent: true,
	}, openStore)
}

type Store struct {
	db *sql.DB
}

func openStore(path string, opts *store.Options) (store.Store, error) {
	var noSync bool
	if opts != nil {
		noSync = opts.NoSync
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	sync := "FULL"
	if noSync {
		sync = "OFF"
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=synchronous(%s)", path, sync)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", path, err)
	}

	// One connection carries the write transaction, one serves reads.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	schema := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			k BLOB PRIMARY KEY,
			v BLOB NOT NULL
		) WITHOUT ROWID`,
	}
	for _, q := range schema {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("init schema: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx so point reads and
// iterators work identically inside and outside a batch.
type queryer interface {
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
	Exec(query string, args ...any) (sql.Result, error)
}

func get(q queryer, key []byte) ([]byte, error) {
	var v []byte
	err := q.QueryRow(`SELECT v FROM kv WHERE k = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func has(q queryer, key []byte) (bool, error) {
	var one int
	err := q.QueryRow(`SELECT 1 FROM kv WHERE k = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func put(q queryer, key, value []byte) error {
	if value == nil {
		// A nil slice binds as NULL, which the NOT NULL column rejects.
		value = []byte{}
	}
	_, err := q.Exec(`INSERT INTO kv (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`, key, value)
	return err
}

func del(q queryer, key []byte) error {
	_, err := q.Exec(`DELETE FROM kv WHERE k = ?`, key)
	return err
}

func (s *Store) Get(key []byte) ([]byte, error) {
	if s.db == nil {
		return nil, store.ErrClosed
	}
	return get(s.db, key)
}

func (s *Store) Has(key []byte) (bool, error) {
	if s.db == nil {
		return false, store.ErrClosed
	}
	return has(s.db, key)
}

func (s *Store) Put(key, value []byte) error {
	if s.db == nil {
		return store.ErrClosed
	}
	return put(s.db, key, value)
}

func (s *Store) Delete(key []byte) error {
	if s.db == nil {
		return store.ErrClosed
	}
	return del(s.db, key)
}

func (s *Store) NewIterator() (store.Iterator, error) {
	if s.db == nil {
		return nil, store.ErrClosed
	}
	return &iterator{q: s.db}, nil
}

func (s *Store) NewBatch() (store.Batch, error) {
	if s.db == nil {
		return nil, store.ErrClosed
	}
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	return &batch{tx: tx}, nil
}

func (s *Store) Sync() error {
	if s.db == nil {
		return store.ErrClosed
	}
	_, err := s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`)
	return err
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	db := s.db
	s.db = nil
	return db.Close()
}

// EstimateLive is exact for SQLite: COUNT and SUM walk the primary-key
// btree without touching overflow pages.
func (s *Store) EstimateLive() (uint64, uint64, error) {
	if s.db == nil {
		return 0, 0, store.ErrClosed
	}
	var keys, size uint64
	err := s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(LENGTH(k) + LENGTH(v)), 0) FROM kv`).Scan(&keys, &size)
	if err != nil {
		return 0, 0, err
	}
	return size, keys, nil
}

func (s *Store) EstimateRangeSize(start, end []byte) (uint64, error) {
	if s.db == nil {
		return 0, store.ErrClosed
	}
	var size uint64
	err := s.db.QueryRow(
		`SELECT COALESCE(SUM(LENGTH(k) + LENGTH(v)), 0) FROM kv WHERE k >= ? AND k < ?`,
		start, end,
	).Scan(&size)
	if err != nil {
		return 0, err
	}
	return size, nil
}

type batch struct {
	tx   *sql.Tx
	ops  int
	done bool
}

func (b *batch) Put(key, value []byte) error {
	if b.done {
		return store.ErrClosed
	}
	if err := put(b.tx, key, value); err != nil {
		return err
	}
	b.ops++
	return nil
}

func (b *batch) Delete(key []byte) error {
	if b.done {
		return store.ErrClosed
	}
	if err := del(b.tx, key); err != nil {
		return err
	}
	b.ops++
	return nil
}

func (b *batch) Get(key []byte) ([]byte, error) {
	if b.done {
		return nil, store.ErrClosed
	}
	return get(b.tx, key)
}

func (b *batch) Has(key []byte) (bool, error) {
	if b.done {
		return false, store.ErrClosed
	}
	return has(b.tx, key)
}

func (b *batch) NewIterator() (store.Iterator, error) {
	if b.done {
		return nil, store.ErrClosed
	}
	// The transaction reads its own pending writes, so this is already the
	// merged view.
	return &iterator{q: b.tx}, nil
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

type entry struct {
	k, v []byte
}

// iterator pages through the table. dir is the ordering of the loaded page:
// +1 ascending, -1 descending.
type iterator struct {
	q     queryer
	page  []entry
	idx   int
	dir   int
	state int
	err   error
}

func (it *iterator) load(query string, args ...any) []entry {
	rows, err := it.q.Query(query, args...)
	if err != nil {
		it.err = err
		return nil
	}
	defer rows.Close()

	var page []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.k, &e.v); err != nil {
			it.err = err
			return nil
		}
		page = append(page, e)
	}
	if err := rows.Err(); err != nil {
		it.err = err
		return nil
	}
	return page
}

func (it *iterator) settle(page []entry, dir, doneState int) bool {
	if it.err != nil || len(page) == 0 {
		it.state = doneState
		it.page = nil
		return false
	}
	it.page = page
	it.idx = 0
	it.dir = dir
	it.state = iterAt
	return true
}

func (it *iterator) First() bool {
	return it.settle(it.load(`SELECT k, v FROM kv ORDER BY k LIMIT ?`, pageSize), 1, iterDoneFwd)
}

func (it *iterator) Last() bool {
	return it.settle(it.load(`SELECT k, v FROM kv ORDER BY k DESC LIMIT ?`, pageSize), -1, iterDoneBack)
}

func (it *iterator) Seek(key []byte) bool {
	return it.settle(it.load(`SELECT k, v FROM kv WHERE k >= ? ORDER BY k LIMIT ?`, key, pageSize), 1, iterDoneFwd)
}

func (it *iterator) Next() bool {
	switch it.state {
	case iterAt:
		if it.dir == 1 && it.idx+1 < len(it.page) {
			it.idx++
			return true
		}
		cur := it.page[it.idx].k
		return it.settle(it.load(`SELECT k, v FROM kv WHERE k > ? ORDER BY k LIMIT ?`, cur, pageSize), 1, iterDoneFwd)
	case iterFresh, iterDoneBack:
		return it.First()
	default:
		return false
	}
}

func (it *iterator) Prev() bool {
	switch it.state {
	case iterAt:
		if it.dir == -1 && it.idx+1 < len(it.page) {
			it.idx++
			return true
		}
		cur := it.page[it.idx].k
		return it.settle(it.load(`SELECT k, v FROM kv WHERE k < ? ORDER BY k DESC LIMIT ?`, cur, pageSize), -1, iterDoneBack)
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
	return it.page[it.idx].k
}

func (it *iterator) Value() []byte {
	if it.state != iterAt {
		return nil
	}
	return it.page[it.idx].v
}

func (it *iterator) Error() error { return it.err }

func (it *iterator) Close() error {
	it.state = iterDoneFwd
	it.page = nil
	return nil
}
