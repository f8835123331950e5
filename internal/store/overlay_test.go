package store_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/kvidx-db/kvidx/internal/store"
	"github.com/kvidx-db/kvidx/internal/store/memory"
)

func TestOverlayLastWins(t *testing.T) {
	ov := store.NewOverlay()

	ov.Set([]byte("k"), []byte("v1"))
	ov.Set([]byte("k"), []byte("v2"))
	if v, del, found := ov.Get([]byte("k")); !found || del || string(v) != "v2" {
		t.Fatalf("Get after two Sets: (%q, %v, %v)", v, del, found)
	}
	if ov.Len() != 1 {
		t.Fatalf("Len = %d, want 1 (same key)", ov.Len())
	}

	ov.Delete([]byte("k"))
	if _, del, found := ov.Get([]byte("k")); !found || !del {
		t.Fatalf("Get after Delete: (del=%v, found=%v)", del, found)
	}

	// A later Set resurrects the key.
	ov.Set([]byte("k"), []byte("v3"))
	if v, del, found := ov.Get([]byte("k")); !found || del || string(v) != "v3" {
		t.Fatalf("Get after resurrect: (%q, %v, %v)", v, del, found)
	}
}

func TestOverlayCopiesArguments(t *testing.T) {
	ov := store.NewOverlay()

	key := []byte("key")
	val := []byte("val")
	ov.Set(key, val)
	key[0] = 'X'
	val[0] = 'X'

	if v, _, found := ov.Get([]byte("key")); !found || string(v) != "val" {
		t.Fatalf("overlay aliased caller buffers: (%q, %v)", v, found)
	}
}

func TestOverlayAscend(t *testing.T) {
	ov := store.NewOverlay()
	ov.Set([]byte("b"), []byte("2"))
	ov.Delete([]byte("c"))
	ov.Set([]byte("a"), []byte("1"))

	var keys []string
	var dels []bool
	ov.Ascend(func(key, value []byte, del bool) bool {
		keys = append(keys, string(key))
		dels = append(dels, del)
		return true
	})

	if len(keys) != 3 || keys[0] != "a" || keys[1] != "b" || keys[2] != "c" {
		t.Fatalf("ascend order: %v", keys)
	}
	if dels[0] || dels[1] || !dels[2] {
		t.Fatalf("tombstone flags: %v", dels)
	}

	// Early termination.
	n := 0
	ov.Ascend(func(key, value []byte, del bool) bool {
		n++
		return false
	})
	if n != 1 {
		t.Fatalf("ascend did not stop early: visited %d", n)
	}
}

func TestOverlayBatchApplyOnCommit(t *testing.T) {
	base := memory.New()
	defer base.Close()
	if err := base.Put([]byte("existing"), []byte("yes")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	applied := 0
	b := store.NewOverlayBatch(base, func(ov *store.Overlay) error {
		applied++
		if ov.Len() != 2 {
			t.Fatalf("apply saw %d mutations, want 2", ov.Len())
		}
		return nil
	})

	// Read-through hits the base for unknown keys.
	v, err := b.Get([]byte("existing"))
	if err != nil || string(v) != "yes" {
		t.Fatalf("read-through Get: (%q, %v)", v, err)
	}

	if err := b.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := b.Delete([]byte("existing")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := b.Get([]byte("existing")); !errors.Is(err, store.ErrKeyNotFound) {
		t.Fatalf("Get of pending delete: %v", err)
	}

	if err := b.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if applied != 1 {
		t.Fatalf("apply called %d times, want 1", applied)
	}

	// The batch is dead after commit.
	if err := b.Put([]byte("x"), nil); !errors.Is(err, store.ErrClosed) {
		t.Fatalf("Put after Commit: %v", err)
	}
	if err := b.Commit(); !errors.Is(err, store.ErrClosed) {
		t.Fatalf("second Commit: %v", err)
	}
}

func TestOverlayBatchEmptyCommitSkipsApply(t *testing.T) {
	base := memory.New()
	defer base.Close()

	called := false
	b := store.NewOverlayBatch(base, func(ov *store.Overlay) error {
		called = true
		return nil
	})
	if err := b.Commit(); err != nil {
		t.Fatalf("empty Commit failed: %v", err)
	}
	if called {
		t.Fatal("apply invoked for an empty batch")
	}
}

func TestOverlayBatchApplyError(t *testing.T) {
	base := memory.New()
	defer base.Close()

	boom := errors.New("disk on fire")
	b := store.NewOverlayBatch(base, func(ov *store.Overlay) error {
		return boom
	})
	if err := b.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := b.Commit(); !errors.Is(err, boom) {
		t.Fatalf("Commit error = %v, want apply error", err)
	}
}

func TestOverlayBatchIteratorSnapshot(t *testing.T) {
	base := memory.New()
	defer base.Close()
	if err := base.Put([]byte{0x02}, []byte("base")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	b := store.NewOverlayBatch(base, func(*store.Overlay) error { return nil })
	defer b.Discard()
	if err := b.Put([]byte{0x01}, []byte("pending")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	it, err := b.NewIterator()
	if err != nil {
		t.Fatalf("NewIterator failed: %v", err)
	}
	defer it.Close()

	// Overlay mutations after iterator creation stay invisible to it.
	if err := b.Put([]byte{0x03}, []byte("late")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := b.Delete([]byte{0x01}); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	var keys [][]byte
	for ok := it.First(); ok; ok = it.Next() {
		keys = append(keys, append([]byte(nil), it.Key()...))
	}
	if len(keys) != 2 || !bytes.Equal(keys[0], []byte{0x01}) || !bytes.Equal(keys[1], []byte{0x02}) {
		t.Fatalf("snapshot iteration saw % x", keys)
	}
}
