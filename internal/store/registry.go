package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Options carries adapter-level tuning shared by all engines. Adapters ignore
// fields that do not apply to them.
type Options struct {
	// NoSync disables per-write durability. Commits still apply atomically
	// but may be lost on a crash.
	NoSync bool

	// Compression selects the value compression codec for adapters that
	// support one ("none" or "lz4").
	Compression string
}

// Factory opens a store at the given path.
type Factory func(path string, opts *Options) (Store, error)

// Info describes a registered adapter.
type Info struct {
	// Name identifies the adapter. Lookup is case-insensitive.
	Name string

	// PathSuffix is the conventional suffix harnesses append when deriving
	// per-adapter paths (".db", ".sqlite", ...). May be empty.
	PathSuffix string

	// Directory reports whether the adapter stores its state in a directory
	// rather than a single file.
	Directory bool

	// Persistent reports whether state survives Close and reopen.
	Persistent bool
}

func (i Info) String() string {
	kind := "file"
	if i.Directory {
		kind = "directory"
	}
	if !i.Persistent {
		kind = "ephemeral"
	}
	return fmt.Sprintf("%s (%s, suffix %q)", i.Name, kind, i.PathSuffix)
}

type registration struct {
	info    Info
	factory Factory
}

var (
	registryMu sync.RWMutex
	registry   []registration
)

// Register adds an adapter to the process-wide registry. It is intended to be
// called from adapter package init functions and panics on a duplicate name.
func Register(info Info, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	for _, r := range registry {
		if strings.EqualFold(r.info.Name, info.Name) {
			panic(fmt.Sprintf("store: duplicate adapter %q", info.Name))
		}
	}
	registry = append(registry, registration{info: info, factory: factory})

	// Keep enumeration order independent of package init order.
	sort.Slice(registry, func(a, b int) bool {
		return registry[a].info.Name < registry[b].info.Name
	})
}

// Adapters returns the registered adapters in stable (name) order.
func Adapters() []Info {
	registryMu.RLock()
	defer registryMu.RUnlock()

	infos := make([]Info, len(registry))
	for i, r := range registry {
		infos[i] = r.info
	}
	return infos
}

// Lookup finds an adapter by case-insensitive name.
func Lookup(name string) (Info, Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	for _, r := range registry {
		if strings.EqualFold(r.info.Name, name) {
			return r.info, r.factory, true
		}
	}
	return Info{}, nil, false
}

// ByIndex returns the i-th adapter in enumeration order.
func ByIndex(i int) (Info, Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if i < 0 || i >= len(registry) {
		return Info{}, nil, false
	}
	return registry[i].info, registry[i].factory, true
}

// Open resolves name in the registry and opens a store at path.
func Open(name, path string, opts *Options) (Store, error) {
	info, factory, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown adapter: %s", name)
	}
	s, err := factory(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open %s adapter: %w", info.Name, err)
	}
	return s, nil
}
