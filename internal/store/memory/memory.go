// Package memory implements an in-memory storage adapter backed by a B-tree.
// State does not survive Close; the adapter exists for tests, the reference
// harness, and as the baseline in benchmarks.
package memory

import (
	"bytes"
	"sync"

	"github.com/google/btree"

	"github.com/kvidx-db/kvidx/internal/store"
)

type kv struct {
	key   []byte
	value []byte
}

func kvLess(a, b kv) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// Store is a btree-backed in-memory store. It is safe for concurrent use,
// although the index core drives it from a single goroutine.
type Store struct {
	mu        sync.RWMutex
	tree      *btree.BTreeG[kv]
	liveBytes uint64
	closed    bool
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{tree: btree.NewG(32, kvLess)}
}

func openStore(path string, opts *store.Options) (store.Store, error) {
	return New(), nil
}

func (s *Store) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.ErrClosed
	}
	e, ok := s.tree.Get(kv{key: key})
	if !ok {
		return nil, store.ErrKeyNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (s *Store) Has(key []byte) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, store.ErrClosed
	}
	return s.tree.Has(kv{key: key}), nil
}

func (s *Store) Put(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}
	s.put(key, value)
	return nil
}

// put inserts a copied entry and maintains the live-size counter. Callers
// hold the write lock.
func (s *Store) put(key, value []byte) {
	e := kv{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	}
	if old, ok := s.tree.ReplaceOrInsert(e); ok {
		s.liveBytes -= uint64(len(old.key) + len(old.value))
	}
	s.liveBytes += uint64(len(e.key) + len(e.value))
}

func (s *Store) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}
	s.del(key)
	return nil
}

func (s *Store) del(key []byte) {
	if old, ok := s.tree.Delete(kv{key: key}); ok {
		s.liveBytes -= uint64(len(old.key) + len(old.value))
	}
}

func (s *Store) NewIterator() (store.Iterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.ErrClosed
	}
	// Clone is copy-on-write, so the cursor sees a stable snapshot.
	return &iterator{tree: s.tree.Clone()}, nil
}

func (s *Store) NewBatch() (store.Batch, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()

	if closed {
		return nil, store.ErrClosed
	}
	return store.NewOverlayBatch(s, s.applyOverlay), nil
}

// applyOverlay applies a committed batch under one lock acquisition.
func (s *Store) applyOverlay(ov *store.Overlay) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}
	ov.Ascend(func(key, value []byte, del bool) bool {
		if del {
			s.del(key)
		} else {
			s.put(key, value)
		}
		return true
	})
	return nil
}

func (s *Store) Sync() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return store.ErrClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.tree.Clear(false)
	s.liveBytes = 0
	return nil
}

// EstimateLive implements store.Sizer with exact figures.
func (s *Store) EstimateLive() (uint64, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, 0, store.ErrClosed
	}
	return s.liveBytes, uint64(s.tree.Len()), nil
}

// EstimateRangeSize implements store.Sizer by walking [start, end).
func (s *Store) EstimateRangeSize(start, end []byte) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, store.ErrClosed
	}
	var total uint64
	visit := func(e kv) bool {
		total += uint64(len(e.key) + len(e.value))
		return true
	}
	switch {
	case start == nil && end == nil:
		s.tree.Ascend(visit)
	case end == nil:
		s.tree.AscendGreaterOrEqual(kv{key: start}, visit)
	case start == nil:
		s.tree.AscendLessThan(kv{key: end}, visit)
	default:
		s.tree.AscendRange(kv{key: start}, kv{key: end}, visit)
	}
	return total, nil
}

// Cursor states. Exhaustion is directional so that Next after running off
// the back end restarts from the front (and vice versa) without wrapping
// while still mid-scan.
const (
	iterFresh = iota
	iterAt
	iterDoneFwd
	iterDoneBack
)

// iterator steps over a copy-on-write snapshot of the tree.
type iterator struct {
	tree  *btree.BTreeG[kv]
	cur   kv
	state int
}

func (it *iterator) settle(ok bool, doneState int) bool {
	if ok {
		it.state = iterAt
	} else {
		it.state = doneState
	}
	return ok
}

func (it *iterator) First() bool {
	var ok bool
	it.cur, ok = it.tree.Min()
	return it.settle(ok, iterDoneFwd)
}

func (it *iterator) Last() bool {
	var ok bool
	it.cur, ok = it.tree.Max()
	return it.settle(ok, iterDoneBack)
}

func (it *iterator) Seek(target []byte) bool {
	ok := false
	it.tree.AscendGreaterOrEqual(kv{key: target}, func(e kv) bool {
		it.cur, ok = e, true
		return false
	})
	return it.settle(ok, iterDoneFwd)
}

func (it *iterator) Next() bool {
	switch it.state {
	case iterFresh, iterDoneBack:
		return it.First()
	case iterDoneFwd:
		return false
	}
	prev := it.cur.key
	ok := false
	it.tree.AscendGreaterOrEqual(kv{key: prev}, func(e kv) bool {
		if bytes.Equal(e.key, prev) {
			return true
		}
		it.cur, ok = e, true
		return false
	})
	return it.settle(ok, iterDoneFwd)
}

func (it *iterator) Prev() bool {
	switch it.state {
	case iterFresh, iterDoneFwd:
		return it.Last()
	case iterDoneBack:
		return false
	}
	next := it.cur.key
	ok := false
	it.tree.DescendLessOrEqual(kv{key: next}, func(e kv) bool {
		if bytes.Equal(e.key, next) {
			return true
		}
		it.cur, ok = e, true
		return false
	})
	return it.settle(ok, iterDoneBack)
}

func (it *iterator) Valid() bool {
	return it.state == iterAt
}

func (it *iterator) Key() []byte {
	if it.state != iterAt {
		return nil
	}
	return it.cur.key
}

func (it *iterator) Value() []byte {
	if it.state != iterAt {
		return nil
	}
	return it.cur.value
}

func (it *iterator) Error() error { return nil }

func (it *iterator) Close() error {
	it.state = iterDoneFwd
	it.tree = nil
	return nil
}

func init() {
	store.Register(store.Info{
		Name:       "memory",
		PathSuffix: "",
		Directory:  false,
		Persistent: false,
	}, openStore)
}
