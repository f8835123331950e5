package store_test

import (
	"sort"
	"strings"
	"testing"

	"github.com/kvidx-db/kvidx/internal/store"
	"github.com/kvidx-db/kvidx/internal/store/memory"
)

func fakeFactory(path string, opts *store.Options) (store.Store, error) {
	return memory.New(), nil
}

func TestRegistryLookup(t *testing.T) {
	store.Register(store.Info{Name: "fake-lookup", Persistent: true}, fakeFactory)

	if _, _, ok := store.Lookup("fake-lookup"); !ok {
		t.Fatal("registered adapter not found")
	}
	// Names are matched case-insensitively.
	info, _, ok := store.Lookup("FAKE-Lookup")
	if !ok {
		t.Fatal("case-insensitive lookup failed")
	}
	if info.Name != "fake-lookup" {
		t.Fatalf("lookup returned %q, want canonical name", info.Name)
	}
	if _, _, ok := store.Lookup("no-such-adapter"); ok {
		t.Fatal("lookup of unknown adapter succeeded")
	}
}

func TestRegistryOrderAndIndex(t *testing.T) {
	store.Register(store.Info{Name: "fake-zz"}, fakeFactory)
	store.Register(store.Info{Name: "fake-aa"}, fakeFactory)

	infos := store.Adapters()
	if len(infos) < 3 {
		t.Fatalf("expected at least 3 adapters, got %d", len(infos))
	}
	names := make([]string, len(infos))
	for i, in := range infos {
		names[i] = in.Name
	}
	if !sort.StringsAreSorted(names) {
		t.Fatalf("adapter list not sorted: %v", names)
	}

	for i := range infos {
		got, _, ok := store.ByIndex(i)
		if !ok || got.Name != infos[i].Name {
			t.Fatalf("ByIndex(%d) = (%q, %v), want %q", i, got.Name, ok, infos[i].Name)
		}
	}
	if _, _, ok := store.ByIndex(len(infos)); ok {
		t.Fatal("ByIndex out of range succeeded")
	}
	if _, _, ok := store.ByIndex(-1); ok {
		t.Fatal("ByIndex(-1) succeeded")
	}
}

func TestRegistryDuplicatePanics(t *testing.T) {
	store.Register(store.Info{Name: "fake-dup"}, fakeFactory)

	defer func() {
		if recover() == nil {
			t.Fatal("duplicate Register did not panic")
		}
	}()
	store.Register(store.Info{Name: "Fake-Dup"}, fakeFactory)
}

func TestRegistryOpen(t *testing.T) {
	store.Register(store.Info{Name: "fake-open"}, fakeFactory)

	s, err := store.Open("fake-open", "", nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	_, err = store.Open("no-such-adapter", "", nil)
	if err == nil {
		t.Fatal("Open of unknown adapter succeeded")
	}
	if !strings.Contains(err.Error(), "no-such-adapter") {
		t.Fatalf("error does not name the adapter: %v", err)
	}
}
