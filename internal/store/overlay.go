package store

import (
	"bytes"

	"github.com/google/btree"
)

// overlayEntry is a single pending mutation. del marks a tombstone.
type overlayEntry struct {
	key   []byte
	value []byte
	del   bool
}

func overlayLess(a, b overlayEntry) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// Overlay is an ordered index of pending write-batch mutations. Later
// mutations on the same key replace earlier ones (last-wins). Overlay is the
// shared batch index for adapters whose engine has no native indexed batch.
type Overlay struct {
	tree *btree.BTreeG[overlayEntry]
}

// NewOverlay returns an empty overlay.
func NewOverlay() *Overlay {
	return &Overlay{tree: btree.NewG(32, overlayLess)}
}

// Set queues a write. Key and value are copied.
func (o *Overlay) Set(key, value []byte) {
	o.tree.ReplaceOrInsert(overlayEntry{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
}

// Delete queues a tombstone. Key is copied.
func (o *Overlay) Delete(key []byte) {
	o.tree.ReplaceOrInsert(overlayEntry{
		key: append([]byte(nil), key...),
		del: true,
	})
}

// Get looks up a pending mutation for key.
func (o *Overlay) Get(key []byte) (value []byte, deleted, found bool) {
	e, ok := o.tree.Get(overlayEntry{key: key})
	if !ok {
		return nil, false, false
	}
	return e.value, e.del, true
}

// Len returns the number of distinct pending mutations.
func (o *Overlay) Len() int {
	return o.tree.Len()
}

// Ascend visits pending mutations in ascending key order until fn returns
// false.
func (o *Overlay) Ascend(fn func(key, value []byte, del bool) bool) {
	o.tree.Ascend(func(e overlayEntry) bool {
		return fn(e.key, e.value, e.del)
	})
}

// Reset discards all pending mutations.
func (o *Overlay) Reset() {
	o.tree.Clear(false)
}

// snapshot returns a copy-on-write clone, isolating iterators from later
// mutations of the overlay.
func (o *Overlay) snapshot() *btree.BTreeG[overlayEntry] {
	return o.tree.Clone()
}

// OverlayBatch is a Batch built from an Overlay over a base store. The
// adapter supplies the apply function that turns the accumulated overlay into
// one atomic, durable engine write.
type OverlayBatch struct {
	base   Store
	ov     *Overlay
	apply  func(*Overlay) error
	closed bool
}

// NewOverlayBatch builds an indexed batch for base. apply is invoked once on
// Commit with the final overlay contents.
func NewOverlayBatch(base Store, apply func(*Overlay) error) *OverlayBatch {
	return &OverlayBatch{base: base, ov: NewOverlay(), apply: apply}
}

func (b *OverlayBatch) Put(key, value []byte) error {
	if b.closed {
		return ErrClosed
	}
	b.ov.Set(key, value)
	return nil
}

func (b *OverlayBatch) Delete(key []byte) error {
	if b.closed {
		return ErrClosed
	}
	b.ov.Delete(key)
	return nil
}

func (b *OverlayBatch) Get(key []byte) ([]byte, error) {
	if b.closed {
		return nil, ErrClosed
	}
	if v, deleted, found := b.ov.Get(key); found {
		if deleted {
			return nil, ErrKeyNotFound
		}
		return append([]byte(nil), v...), nil
	}
	return b.base.Get(key)
}

func (b *OverlayBatch) Has(key []byte) (bool, error) {
	if b.closed {
		return false, ErrClosed
	}
	if _, deleted, found := b.ov.Get(key); found {
		return !deleted, nil
	}
	return b.base.Has(key)
}

func (b *OverlayBatch) NewIterator() (Iterator, error) {
	if b.closed {
		return nil, ErrClosed
	}
	base, err := b.base.NewIterator()
	if err != nil {
		return nil, err
	}
	return NewMergedIterator(base, b.ov), nil
}

func (b *OverlayBatch) Len() int {
	return b.ov.Len()
}

func (b *OverlayBatch) Commit() error {
	if b.closed {
		return ErrClosed
	}
	b.closed = true
	if b.ov.Len() == 0 {
		return nil
	}
	err := b.apply(b.ov)
	b.ov.Reset()
	return err
}

func (b *OverlayBatch) Discard() error {
	if b.closed {
		return nil
	}
	b.closed = true
	b.ov.Reset()
	return nil
}
