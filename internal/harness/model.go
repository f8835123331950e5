package harness

import (
	"math"

	"github.com/google/btree"

	"github.com/kvidx-db/kvidx/internal/kvidx"
)

type entry struct {
	key  uint64
	term uint64
	cmd  uint64
	data []byte
}

func entryLess(a, b entry) bool { return a.key < b.key }

// Model is the in-memory reference the fuzzer compares the index against.
// It mirrors record and batch visibility semantics exactly but carries no
// TTL state, so TTL-aware operations must not be replayed against it.
type Model struct {
	committed *btree.BTreeG[entry]
	pending   *btree.BTreeG[entry] // clone of committed while a batch is open
}

// NewModel returns an empty reference model.
func NewModel() *Model {
	return &Model{committed: btree.NewG(32, entryLess)}
}

// view returns the tree reads and writes go through: the pending clone
// while a batch is open, the committed tree otherwise.
func (m *Model) view() *btree.BTreeG[entry] {
	if m.pending != nil {
		return m.pending
	}
	return m.committed
}

// Begin opens a batch. Like the index, a second Begin is a no-op.
func (m *Model) Begin() {
	if m.pending == nil {
		m.pending = m.committed.Clone()
	}
}

// Commit publishes the pending writes. Without an open batch it is a
// no-op.
func (m *Model) Commit() {
	if m.pending != nil {
		m.committed = m.pending
		m.pending = nil
	}
}

// Abort discards the pending writes.
func (m *Model) Abort() {
	m.pending = nil
}

// InBatch reports whether a batch is open.
func (m *Model) InBatch() bool { return m.pending != nil }

// Insert stores a record and reports false when the key is taken.
func (m *Model) Insert(key, term, cmd uint64, data []byte) bool {
	t := m.view()
	if t.Has(entry{key: key}) {
		return false
	}
	t.ReplaceOrInsert(entry{
		key:  key,
		term: term,
		cmd:  cmd,
		data: append([]byte(nil), data...),
	})
	return true
}

// Get returns the record at key.
func (m *Model) Get(key uint64) (kvidx.Record, bool) {
	e, ok := m.view().Get(entry{key: key})
	if !ok {
		return kvidx.Record{}, false
	}
	return record(e), true
}

// Exists reports whether key holds a record.
func (m *Model) Exists(key uint64) bool {
	return m.view().Has(entry{key: key})
}

// Remove deletes the record at key. Absent keys are not an error.
func (m *Model) Remove(key uint64) {
	m.view().Delete(entry{key: key})
}

// MinKey returns the least key, or false on an empty model.
func (m *Model) MinKey() (uint64, bool) {
	e, ok := m.view().Min()
	return e.key, ok
}

// MaxKey returns the greatest key, or false on an empty model.
func (m *Model) MaxKey() (uint64, bool) {
	e, ok := m.view().Max()
	return e.key, ok
}

// GetNext returns the record with the smallest key strictly greater than
// prev.
func (m *Model) GetNext(prev uint64) (kvidx.Record, bool) {
	if prev == math.MaxUint64 {
		return kvidx.Record{}, false
	}
	var hit entry
	found := false
	m.view().AscendGreaterOrEqual(entry{key: prev + 1}, func(e entry) bool {
		hit, found = e, true
		return false
	})
	if !found {
		return kvidx.Record{}, false
	}
	return record(hit), true
}

// GetPrev returns the record with the greatest key strictly less than
// next. GetPrev(max-u64) returns the last record, matching the index.
func (m *Model) GetPrev(next uint64) (kvidx.Record, bool) {
	if next == math.MaxUint64 {
		e, ok := m.view().Max()
		if !ok {
			return kvidx.Record{}, false
		}
		return record(e), true
	}
	if next == 0 {
		return kvidx.Record{}, false
	}
	var hit entry
	found := false
	m.view().DescendLessOrEqual(entry{key: next - 1}, func(e entry) bool {
		hit, found = e, true
		return false
	})
	if !found {
		return kvidx.Record{}, false
	}
	return record(hit), true
}

// KeyCount returns the number of records.
func (m *Model) KeyCount() uint64 {
	return uint64(m.view().Len())
}

// CountRange counts the records with lo <= key <= hi.
func (m *Model) CountRange(lo, hi uint64) uint64 {
	if lo > hi {
		return 0
	}
	var n uint64
	m.view().AscendGreaterOrEqual(entry{key: lo}, func(e entry) bool {
		if e.key > hi {
			return false
		}
		n++
		return true
	})
	return n
}

// ExistsInRange reports whether any key falls in [lo, hi].
func (m *Model) ExistsInRange(lo, hi uint64) bool {
	if lo > hi {
		return false
	}
	found := false
	m.view().AscendGreaterOrEqual(entry{key: lo}, func(e entry) bool {
		found = e.key <= hi
		return false
	})
	return found
}

// RemoveFrom deletes every record with key >= from and returns how many
// went.
func (m *Model) RemoveFrom(from uint64) uint64 {
	return m.removeSpan(from, math.MaxUint64)
}

// RemoveThrough deletes every record with key <= through and returns how
// many went.
func (m *Model) RemoveThrough(through uint64) uint64 {
	return m.removeSpan(0, through)
}

// removeSpan deletes every key in [lo, hi]. Keys are materialized before
// deleting so the walk never observes its own mutations.
func (m *Model) removeSpan(lo, hi uint64) uint64 {
	t := m.view()
	var keys []uint64
	t.AscendGreaterOrEqual(entry{key: lo}, func(e entry) bool {
		if e.key > hi {
			return false
		}
		keys = append(keys, e.key)
		return true
	})
	for _, k := range keys {
		t.Delete(entry{key: k})
	}
	return uint64(len(keys))
}

// Ascend walks the records in key order until fn returns false.
func (m *Model) Ascend(fn func(kvidx.Record) bool) {
	m.view().Ascend(func(e entry) bool { return fn(record(e)) })
}

// Keys returns every key in ascending order.
func (m *Model) Keys() []uint64 {
	keys := make([]uint64, 0, m.view().Len())
	m.view().Ascend(func(e entry) bool {
		keys = append(keys, e.key)
		return true
	})
	return keys
}

func record(e entry) kvidx.Record {
	return kvidx.Record{
		Key:  e.key,
		Term: e.term,
		Cmd:  e.cmd,
		Data: append([]byte(nil), e.data...),
	}
}
