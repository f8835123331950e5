package leveldb

import (
	"bytes"
	"testing"

	"github.com/kvidx-db/kvidx/internal/store"
	"github.com/kvidx-db/kvidx/internal/store/storetest"
)

func TestLevelDBStoreSuite(t *testing.T) {
	storetest.TestStoreSuite(t, func() store.Store {
		s, err := store.Open("leveldb", t.TempDir(), nil)
		if err != nil {
			t.Fatalf("open leveldb store: %v", err)
		}
		return s
	})
}

func TestLevelDBPersistence(t *testing.T) {
	dir := t.TempDir()

	s, err := store.Open("leveldb", dir, nil)
	if err != nil {
		t.Fatalf("open leveldb store: %v", err)
	}
	storetest.FillSequential(t, s, 100)

	// Delete half inside a batch so the overlay commit path is covered.
	b, err := s.NewBatch()
	if err != nil {
		t.Fatalf("NewBatch failed: %v", err)
	}
	it, err := b.NewIterator()
	if err != nil {
		t.Fatalf("batch NewIterator failed: %v", err)
	}
	n := 0
	for ok := it.First(); ok; ok = it.Next() {
		if n%2 == 0 {
			if err := b.Delete(append([]byte(nil), it.Key()...)); err != nil {
				t.Fatalf("batch Delete failed: %v", err)
			}
		}
		n++
	}
	it.Close()
	if err := b.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s, err = store.Open("leveldb", dir, nil)
	if err != nil {
		t.Fatalf("reopen leveldb store: %v", err)
	}
	defer s.Close()

	if ok, _ := s.Has([]byte("k00000")); ok {
		t.Fatal("deleted key survived reopen")
	}
	got, err := s.Get([]byte("k00001"))
	if err != nil || !bytes.Equal(got, []byte("v00001")) {
		t.Fatalf("kept key after reopen: (%q, %v)", got, err)
	}
}

func TestLevelDBEstimates(t *testing.T) {
	s, err := store.Open("leveldb", t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open leveldb store: %v", err)
	}
	defer s.Close()

	sz, ok := s.(store.Sizer)
	if !ok {
		t.Fatal("leveldb store must implement Sizer")
	}

	storetest.FillSequential(t, s, 2000)
	if err := s.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	liveBytes, liveKeys, err := sz.EstimateLive()
	if err != nil {
		t.Fatalf("EstimateLive failed: %v", err)
	}
	if liveBytes == 0 {
		t.Fatal("EstimateLive reported zero bytes after compaction")
	}
	if liveKeys != 0 {
		t.Fatalf("leveldb key estimate should be unavailable, got %d", liveKeys)
	}
}
