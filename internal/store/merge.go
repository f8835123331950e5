package store

import (
	"bytes"

	"github.com/google/btree"
)

// cursor is the uniform stepping surface the merged iterator drives. Both
// sides (committed state and overlay snapshot) implement it; the overlay side
// additionally exposes tombstones through del.
type cursor interface {
	first() bool
	last() bool
	seekGE(key []byte) bool
	seekGT(key []byte) bool
	seekLT(key []byte) bool
	next() bool
	prev() bool
	valid() bool
	key() []byte
	value() []byte
	del() bool
	err() error
}

// baseCursor adapts a store Iterator.
type baseCursor struct {
	it Iterator
}

func (c *baseCursor) first() bool { return c.it.First() }

func (c *baseCursor) last() bool { return c.it.Last() }

func (c *baseCursor) seekGE(key []byte) bool { return c.it.Seek(key) }

func (c *baseCursor) next() bool { return c.it.Next() }

func (c *baseCursor) prev() bool { return c.it.Prev() }

func (c *baseCursor) valid() bool { return c.it.Valid() }

func (c *baseCursor) key() []byte { return c.it.Key() }

func (c *baseCursor) value() []byte { return c.it.Value() }

func (c *baseCursor) del() bool { return false }

func (c *baseCursor) err() error { return c.it.Error() }

func (c *baseCursor) seekGT(key []byte) bool {
	if !c.it.Seek(key) {
		return false
	}
	for c.it.Valid() && bytes.Equal(c.it.Key(), key) {
		if !c.it.Next() {
			return false
		}
	}
	return c.it.Valid()
}

func (c *baseCursor) seekLT(key []byte) bool {
	if c.it.Seek(key) {
		// Landed on the first entry >= key; step back below it.
		for c.it.Valid() && bytes.Compare(c.it.Key(), key) >= 0 {
			if !c.it.Prev() {
				return false
			}
		}
		return c.it.Valid()
	}
	// Everything is < key (or the store is empty).
	return c.it.Last()
}

// ovCursor steps over a copy-on-write snapshot of an overlay, so it stays
// stable even when the live overlay is mutated mid-iteration.
type ovCursor struct {
	tree *btree.BTreeG[overlayEntry]
	cur  overlayEntry
	ok   bool
}

func newOvCursor(ov *Overlay) *ovCursor {
	return &ovCursor{tree: ov.snapshot()}
}

func (c *ovCursor) first() bool {
	c.cur, c.ok = c.tree.Min()
	return c.ok
}

func (c *ovCursor) last() bool {
	c.cur, c.ok = c.tree.Max()
	return c.ok
}

func (c *ovCursor) seekGE(key []byte) bool {
	c.ok = false
	c.tree.AscendGreaterOrEqual(overlayEntry{key: key}, func(e overlayEntry) bool {
		c.cur, c.ok = e, true
		return false
	})
	return c.ok
}

func (c *ovCursor) seekGT(key []byte) bool {
	c.ok = false
	c.tree.AscendGreaterOrEqual(overlayEntry{key: key}, func(e overlayEntry) bool {
		if bytes.Equal(e.key, key) {
			return true
		}
		c.cur, c.ok = e, true
		return false
	})
	return c.ok
}

func (c *ovCursor) seekLT(key []byte) bool {
	c.ok = false
	c.tree.DescendLessOrEqual(overlayEntry{key: key}, func(e overlayEntry) bool {
		if bytes.Equal(e.key, key) {
			return true
		}
		c.cur, c.ok = e, true
		return false
	})
	return c.ok
}

func (c *ovCursor) next() bool {
	if !c.ok {
		return false
	}
	return c.seekGT(c.cur.key)
}

func (c *ovCursor) prev() bool {
	if !c.ok {
		return false
	}
	return c.seekLT(c.cur.key)
}

func (c *ovCursor) valid() bool { return c.ok }

func (c *ovCursor) key() []byte { return c.cur.key }

func (c *ovCursor) value() []byte { return c.cur.value }

func (c *ovCursor) del() bool { return c.cur.del }

func (c *ovCursor) err() error { return nil }

// mergedIterator merges an overlay snapshot over a committed-state iterator:
// an overlay write shadows the committed value for the same key, an overlay
// tombstone hides it, and overlay-only keys appear. The merged sequence is in
// ascending byte order and supports bidirectional stepping.
type mergedIterator struct {
	base *baseCursor
	ov   *ovCursor

	// winner is the side holding the current entry; nil when invalid.
	winner cursor
	dir    int // +1 forward, -1 backward, 0 unpositioned
}

// NewMergedIterator wraps base with a snapshot of ov. Closing the merged
// iterator closes base.
func NewMergedIterator(base Iterator, ov *Overlay) Iterator {
	return &mergedIterator{
		base: &baseCursor{it: base},
		ov:   newOvCursor(ov),
	}
}

func (m *mergedIterator) First() bool {
	m.base.first()
	m.ov.first()
	m.dir = 1
	return m.findForward()
}

func (m *mergedIterator) Last() bool {
	m.base.last()
	m.ov.last()
	m.dir = -1
	return m.findBackward()
}

func (m *mergedIterator) Seek(target []byte) bool {
	m.base.seekGE(target)
	m.ov.seekGE(target)
	m.dir = 1
	return m.findForward()
}

func (m *mergedIterator) Next() bool {
	if m.winner == nil {
		if m.dir == 1 {
			return false // exhausted forward
		}
		return m.First()
	}
	k := append([]byte(nil), m.winner.key()...)
	if m.dir != 1 {
		m.base.seekGT(k)
		m.ov.seekGT(k)
		m.dir = 1
		return m.findForward()
	}
	if m.base.valid() && bytes.Equal(m.base.key(), k) {
		m.base.next()
	}
	if m.ov.valid() && bytes.Equal(m.ov.key(), k) {
		m.ov.next()
	}
	return m.findForward()
}

func (m *mergedIterator) Prev() bool {
	if m.winner == nil {
		if m.dir == -1 {
			return false // exhausted backward
		}
		return m.Last()
	}
	k := append([]byte(nil), m.winner.key()...)
	if m.dir != -1 {
		m.base.seekLT(k)
		m.ov.seekLT(k)
		m.dir = -1
		return m.findBackward()
	}
	if m.base.valid() && bytes.Equal(m.base.key(), k) {
		m.base.prev()
	}
	if m.ov.valid() && bytes.Equal(m.ov.key(), k) {
		m.ov.prev()
	}
	return m.findBackward()
}

// findForward settles on the smallest entry at or after both cursors,
// resolving shadows and skipping tombstones.
func (m *mergedIterator) findForward() bool {
	for {
		bv, ov := m.base.valid(), m.ov.valid()
		switch {
		case !bv && !ov:
			m.winner = nil
			return false
		case !ov:
			m.winner = m.base
			return true
		case !bv:
			if m.ov.del() {
				m.ov.next()
				continue
			}
			m.winner = m.ov
			return true
		}
		switch c := bytes.Compare(m.base.key(), m.ov.key()); {
		case c < 0:
			m.winner = m.base
			return true
		case c > 0:
			if m.ov.del() {
				m.ov.next()
				continue
			}
			m.winner = m.ov
			return true
		default:
			if m.ov.del() {
				m.base.next()
				m.ov.next()
				continue
			}
			m.winner = m.ov
			return true
		}
	}
}

// findBackward mirrors findForward for descending order.
func (m *mergedIterator) findBackward() bool {
	for {
		bv, ov := m.base.valid(), m.ov.valid()
		switch {
		case !bv && !ov:
			m.winner = nil
			return false
		case !ov:
			m.winner = m.base
			return true
		case !bv:
			if m.ov.del() {
				m.ov.prev()
				continue
			}
			m.winner = m.ov
			return true
		}
		switch c := bytes.Compare(m.base.key(), m.ov.key()); {
		case c > 0:
			m.winner = m.base
			return true
		case c < 0:
			if m.ov.del() {
				m.ov.prev()
				continue
			}
			m.winner = m.ov
			return true
		default:
			if m.ov.del() {
				m.base.prev()
				m.ov.prev()
				continue
			}
			m.winner = m.ov
			return true
		}
	}
}

func (m *mergedIterator) Valid() bool {
	return m.winner != nil
}

func (m *mergedIterator) Key() []byte {
	if m.winner == nil {
		return nil
	}
	return m.winner.key()
}

func (m *mergedIterator) Value() []byte {
	if m.winner == nil {
		return nil
	}
	return m.winner.value()
}

func (m *mergedIterator) Error() error {
	return m.base.err()
}

func (m *mergedIterator) Close() error {
	m.winner = nil
	return m.base.it.Close()
}
