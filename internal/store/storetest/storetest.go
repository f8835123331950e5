// Package storetest provides a conformance suite that every storage adapter
// must pass. Adapter packages run it from their own tests with a factory
// producing a fresh, empty store.
package storetest

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/kvidx-db/kvidx/internal/store"
)

// TestStoreSuite runs the full adapter conformance suite. newStore must
// return a fresh empty store; the suite closes every store it opens.
func TestStoreSuite(t *testing.T, newStore func() store.Store) {
	t.Helper()

	t.Run("PointOps", func(t *testing.T) { testPointOps(t, newStore()) })
	t.Run("IterationOrder", func(t *testing.T) { testIterationOrder(t, newStore()) })
	t.Run("Seek", func(t *testing.T) { testSeek(t, newStore()) })
	t.Run("DirectionSwitch", func(t *testing.T) { testDirectionSwitch(t, newStore()) })
	t.Run("EmptyIteration", func(t *testing.T) { testEmptyIteration(t, newStore()) })
	t.Run("BatchReadThrough", func(t *testing.T) { testBatchReadThrough(t, newStore()) })
	t.Run("BatchMergedIteration", func(t *testing.T) { testBatchMergedIteration(t, newStore()) })
	t.Run("BatchCommit", func(t *testing.T) { testBatchCommit(t, newStore()) })
	t.Run("BatchDiscard", func(t *testing.T) { testBatchDiscard(t, newStore()) })
}

func testPointOps(t *testing.T, s store.Store) {
	defer s.Close()

	key := []byte{0x10, 0x20}
	if _, err := s.Get(key); !errors.Is(err, store.ErrKeyNotFound) {
		t.Fatalf("Get on empty store: want ErrKeyNotFound, got %v", err)
	}
	if ok, err := s.Has(key); err != nil || ok {
		t.Fatalf("Has on empty store: got (%v, %v)", ok, err)
	}

	if err := s.Put(key, []byte("one")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, []byte("one")) {
		t.Fatalf("Get returned %q, want %q", got, "one")
	}

	// Overwrite replaces the value.
	if err := s.Put(key, []byte("two")); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	got, err = s.Get(key)
	if err != nil || !bytes.Equal(got, []byte("two")) {
		t.Fatalf("Get after overwrite: (%q, %v)", got, err)
	}

	if ok, err := s.Has(key); err != nil || !ok {
		t.Fatalf("Has after Put: got (%v, %v)", ok, err)
	}

	if err := s.Delete(key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(key); !errors.Is(err, store.ErrKeyNotFound) {
		t.Fatalf("Get after Delete: want ErrKeyNotFound, got %v", err)
	}

	// Deleting an absent key is not an error.
	if err := s.Delete([]byte{0xFF}); err != nil {
		t.Fatalf("Delete of absent key failed: %v", err)
	}

	if err := s.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
}

// suiteEntries is deliberately unordered and mixes key lengths so ordering
// bugs that only show up on prefix keys are caught.
func suiteEntries() []struct{ k, v []byte } {
	return []struct{ k, v []byte }{
		{[]byte{0x03}, []byte("c")},
		{[]byte{0x01}, []byte("a")},
		{[]byte{0x02, 0x00}, []byte("b0")},
		{[]byte{0x05}, []byte("e")},
		{[]byte{0x02}, []byte("b")},
		{[]byte{0x04, 0xFF}, []byte("dff")},
		{[]byte{0x04}, []byte("d")},
	}
}

// sortedKeys is suiteEntries in bytewise order.
func sortedKeys() [][]byte {
	return [][]byte{
		{0x01}, {0x02}, {0x02, 0x00}, {0x03}, {0x04}, {0x04, 0xFF}, {0x05},
	}
}

func fill(t *testing.T, s store.Store) {
	t.Helper()
	for _, e := range suiteEntries() {
		if err := s.Put(e.k, e.v); err != nil {
			t.Fatalf("Put(% x) failed: %v", e.k, err)
		}
	}
}

func testIterationOrder(t *testing.T, s store.Store) {
	defer s.Close()
	fill(t, s)

	it, err := s.NewIterator()
	if err != nil {
		t.Fatalf("NewIterator failed: %v", err)
	}
	defer it.Close()

	want := sortedKeys()
	var got [][]byte
	for ok := it.First(); ok; ok = it.Next() {
		got = append(got, append([]byte(nil), it.Key()...))
	}
	if err := it.Error(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	assertKeySeq(t, "forward", got, want)

	got = got[:0]
	for ok := it.Last(); ok; ok = it.Prev() {
		got = append(got, append([]byte(nil), it.Key()...))
	}
	reverse(want)
	assertKeySeq(t, "backward", got, want)
}

func testSeek(t *testing.T, s store.Store) {
	defer s.Close()
	fill(t, s)

	it, err := s.NewIterator()
	if err != nil {
		t.Fatalf("NewIterator failed: %v", err)
	}
	defer it.Close()

	// Exact hit.
	if !it.Seek([]byte{0x03}) || !bytes.Equal(it.Key(), []byte{0x03}) {
		t.Fatalf("Seek(03) landed on % x", it.Key())
	}
	// Between keys: lands on the next greater key.
	if !it.Seek([]byte{0x02, 0x01}) || !bytes.Equal(it.Key(), []byte{0x03}) {
		t.Fatalf("Seek(02 01) landed on % x, want 03", it.Key())
	}
	// Before everything.
	if !it.Seek([]byte{0x00}) || !bytes.Equal(it.Key(), []byte{0x01}) {
		t.Fatalf("Seek(00) landed on % x, want 01", it.Key())
	}
	// Past everything.
	if it.Seek([]byte{0xF0}) {
		t.Fatalf("Seek(F0) unexpectedly valid at % x", it.Key())
	}
	if it.Valid() {
		t.Fatal("iterator still valid after failed seek")
	}
}

func testDirectionSwitch(t *testing.T, s store.Store) {
	defer s.Close()
	fill(t, s)

	it, err := s.NewIterator()
	if err != nil {
		t.Fatalf("NewIterator failed: %v", err)
	}
	defer it.Close()

	if !it.Seek([]byte{0x03}) {
		t.Fatal("Seek(03) failed")
	}
	if !it.Prev() || !bytes.Equal(it.Key(), []byte{0x02, 0x00}) {
		t.Fatalf("Prev from 03 landed on % x, want 02 00", it.Key())
	}
	if !it.Next() || !bytes.Equal(it.Key(), []byte{0x03}) {
		t.Fatalf("Next after Prev landed on % x, want 03", it.Key())
	}
	if !it.Next() || !bytes.Equal(it.Key(), []byte{0x04}) {
		t.Fatalf("second Next landed on % x, want 04", it.Key())
	}
}

func testEmptyIteration(t *testing.T, s store.Store) {
	defer s.Close()

	it, err := s.NewIterator()
	if err != nil {
		t.Fatalf("NewIterator failed: %v", err)
	}
	defer it.Close()

	if it.First() || it.Last() || it.Seek([]byte{0x01}) || it.Valid() {
		t.Fatal("empty store iterator reported entries")
	}
	if it.Next() || it.Prev() {
		t.Fatal("stepping an empty iterator reported entries")
	}
}

func testBatchReadThrough(t *testing.T, s store.Store) {
	defer s.Close()

	if err := s.Put([]byte{0x01}, []byte("committed")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put([]byte{0x02}, []byte("doomed")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	b, err := s.NewBatch()
	if err != nil {
		t.Fatalf("NewBatch failed: %v", err)
	}

	if b.Len() != 0 {
		t.Fatalf("fresh batch Len = %d, want 0", b.Len())
	}

	// Committed state is readable through the batch.
	got, err := b.Get([]byte{0x01})
	if err != nil || !bytes.Equal(got, []byte("committed")) {
		t.Fatalf("batch Get of committed key: (%q, %v)", got, err)
	}

	// A pending write shadows the committed value.
	if err := b.Put([]byte{0x01}, []byte("pending")); err != nil {
		t.Fatalf("batch Put failed: %v", err)
	}
	got, err = b.Get([]byte{0x01})
	if err != nil || !bytes.Equal(got, []byte("pending")) {
		t.Fatalf("batch Get after shadowing Put: (%q, %v)", got, err)
	}

	// A pending delete hides the committed value.
	if err := b.Delete([]byte{0x02}); err != nil {
		t.Fatalf("batch Delete failed: %v", err)
	}
	if _, err := b.Get([]byte{0x02}); !errors.Is(err, store.ErrKeyNotFound) {
		t.Fatalf("batch Get of deleted key: want ErrKeyNotFound, got %v", err)
	}
	if ok, _ := b.Has([]byte{0x02}); ok {
		t.Fatal("batch Has reported a deleted key")
	}

	// A batch-only key appears.
	if err := b.Put([]byte{0x03}, []byte("new")); err != nil {
		t.Fatalf("batch Put failed: %v", err)
	}
	if ok, _ := b.Has([]byte{0x03}); !ok {
		t.Fatal("batch Has missed a pending key")
	}

	// The base store is untouched until commit.
	got, err = s.Get([]byte{0x01})
	if err != nil || !bytes.Equal(got, []byte("committed")) {
		t.Fatalf("base Get while batch open: (%q, %v)", got, err)
	}
	if ok, _ := s.Has([]byte{0x03}); ok {
		t.Fatal("pending key leaked into base store before commit")
	}

	if b.Len() != 3 {
		t.Fatalf("batch Len = %d, want 3", b.Len())
	}

	if err := b.Discard(); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}
}

func testBatchMergedIteration(t *testing.T, s store.Store) {
	defer s.Close()

	for _, e := range []struct{ k, v string }{
		{"\x01", "a"}, {"\x03", "c"}, {"\x05", "e"},
	} {
		if err := s.Put([]byte(e.k), []byte(e.v)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	b, err := s.NewBatch()
	if err != nil {
		t.Fatalf("NewBatch failed: %v", err)
	}
	defer b.Discard()

	if err := b.Put([]byte{0x02}, []byte("b")); err != nil {
		t.Fatalf("batch Put failed: %v", err)
	}
	if err := b.Put([]byte{0x06}, []byte("f")); err != nil {
		t.Fatalf("batch Put failed: %v", err)
	}
	if err := b.Delete([]byte{0x03}); err != nil {
		t.Fatalf("batch Delete failed: %v", err)
	}
	if err := b.Put([]byte{0x05}, []byte("E")); err != nil {
		t.Fatalf("batch Put failed: %v", err)
	}

	it, err := b.NewIterator()
	if err != nil {
		t.Fatalf("batch NewIterator failed: %v", err)
	}
	defer it.Close()

	wantKeys := [][]byte{{0x01}, {0x02}, {0x05}, {0x06}}
	wantVals := []string{"a", "b", "E", "f"}

	i := 0
	for ok := it.First(); ok; ok = it.Next() {
		if i >= len(wantKeys) {
			t.Fatalf("merged iteration yielded extra key % x", it.Key())
		}
		if !bytes.Equal(it.Key(), wantKeys[i]) {
			t.Fatalf("merged key %d = % x, want % x", i, it.Key(), wantKeys[i])
		}
		if string(it.Value()) != wantVals[i] {
			t.Fatalf("merged value %d = %q, want %q", i, it.Value(), wantVals[i])
		}
		i++
	}
	if i != len(wantKeys) {
		t.Fatalf("merged iteration yielded %d keys, want %d", i, len(wantKeys))
	}

	// Backward pass over the same merged view.
	i = len(wantKeys) - 1
	for ok := it.Last(); ok; ok = it.Prev() {
		if i < 0 {
			t.Fatalf("backward merged iteration yielded extra key % x", it.Key())
		}
		if !bytes.Equal(it.Key(), wantKeys[i]) {
			t.Fatalf("backward merged key = % x, want % x", it.Key(), wantKeys[i])
		}
		i--
	}
	if i != -1 {
		t.Fatal("backward merged iteration ended early")
	}

	// Seek into the merged view lands on merged entries.
	if !it.Seek([]byte{0x03}) || !bytes.Equal(it.Key(), []byte{0x05}) {
		t.Fatalf("merged Seek(03) landed on % x, want 05", it.Key())
	}
}

func testBatchCommit(t *testing.T, s store.Store) {
	defer s.Close()

	if err := s.Put([]byte{0x02}, []byte("doomed")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	b, err := s.NewBatch()
	if err != nil {
		t.Fatalf("NewBatch failed: %v", err)
	}
	for i := byte(0x10); i < 0x14; i++ {
		if err := b.Put([]byte{i}, []byte{i}); err != nil {
			t.Fatalf("batch Put failed: %v", err)
		}
	}
	if err := b.Delete([]byte{0x02}); err != nil {
		t.Fatalf("batch Delete failed: %v", err)
	}
	if err := b.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	for i := byte(0x10); i < 0x14; i++ {
		got, err := s.Get([]byte{i})
		if err != nil || !bytes.Equal(got, []byte{i}) {
			t.Fatalf("Get(%x) after commit: (%q, %v)", i, got, err)
		}
	}
	if ok, _ := s.Has([]byte{0x02}); ok {
		t.Fatal("committed delete did not remove key")
	}
}

func testBatchDiscard(t *testing.T, s store.Store) {
	defer s.Close()

	if err := s.Put([]byte{0x01}, []byte("keep")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	b, err := s.NewBatch()
	if err != nil {
		t.Fatalf("NewBatch failed: %v", err)
	}
	if err := b.Put([]byte{0x09}, []byte("gone")); err != nil {
		t.Fatalf("batch Put failed: %v", err)
	}
	if err := b.Delete([]byte{0x01}); err != nil {
		t.Fatalf("batch Delete failed: %v", err)
	}
	if err := b.Discard(); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}

	if ok, _ := s.Has([]byte{0x09}); ok {
		t.Fatal("discarded write leaked into base store")
	}
	got, err := s.Get([]byte{0x01})
	if err != nil || !bytes.Equal(got, []byte("keep")) {
		t.Fatalf("Get after discard: (%q, %v)", got, err)
	}
}

func assertKeySeq(t *testing.T, dir string, got, want [][]byte) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s iteration yielded %d keys, want %d", dir, len(got), len(want))
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Fatalf("%s iteration key %d = % x, want % x", dir, i, got[i], want[i])
		}
	}
}

func reverse(keys [][]byte) {
	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}
}

// FillSequential writes n entries with keys fmt.Sprintf("k%05d", i); useful
// for adapter-specific tests that need bulk data.
func FillSequential(t *testing.T, s store.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		k := []byte(fmt.Sprintf("k%05d", i))
		if err := s.Put(k, []byte(fmt.Sprintf("v%05d", i))); err != nil {
			t.Fatalf("Put(%s) failed: %v", k, err)
		}
	}
}
