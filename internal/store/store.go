// Package store defines the raw ordered key-value contract the index core
// builds on, along with the process-wide adapter registry and the shared
// write-batch overlay used by engines without a native indexed batch.
//
// Keys are opaque byte strings ordered by bytewise comparison. Every adapter
// must provide point reads and writes, bidirectional iteration with seek, and
// an atomic write-batch whose pending mutations are readable back through the
// batch before commit.
package store

import "errors"

var (
	// ErrKeyNotFound is returned when a key does not exist in the store.
	ErrKeyNotFound = errors.New("key not found")

	// ErrClosed is returned when operating on a closed store or batch.
	ErrClosed = errors.New("store is closed")

	// ErrNotSupported is returned when an adapter lacks an optional capability.
	ErrNotSupported = errors.New("operation not supported")
)

// Store is the contract every storage adapter implements.
//
// A Store is safe for use by a single goroutine. Writes are durable on return
// when the store was opened with sync writes enabled; otherwise durability is
// deferred until Sync or Close.
type Store interface {
	// Get returns the value stored under key, or ErrKeyNotFound.
	// The returned slice is owned by the caller.
	Get(key []byte) ([]byte, error)

	// Has reports whether key exists.
	Has(key []byte) (bool, error)

	// Put stores value under key, replacing any existing value.
	Put(key, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key []byte) error

	// NewIterator returns a cursor over the committed state in ascending
	// byte order. The iterator is positioned before the first entry; call
	// one of the positioning methods before reading.
	NewIterator() (Iterator, error)

	// NewBatch opens an indexed write-batch. Reads through the batch observe
	// its pending mutations merged over the committed state.
	NewBatch() (Batch, error)

	// Sync flushes pending writes to stable storage.
	Sync() error

	// Close releases all resources. The store must not be used afterwards.
	Close() error
}

// Iterator is a bidirectional cursor over byte-ordered entries.
//
// Key and Value return slices that are only valid until the next positioning
// call; callers that retain them must copy.
type Iterator interface {
	// First positions on the smallest key. Returns false when empty.
	First() bool

	// Last positions on the greatest key. Returns false when empty.
	Last() bool

	// Seek positions on the smallest key >= target.
	Seek(target []byte) bool

	// Next advances to the following key in ascending order.
	Next() bool

	// Prev steps back to the preceding key.
	Prev() bool

	// Valid reports whether the cursor is positioned on an entry.
	Valid() bool

	Key() []byte
	Value() []byte

	// Error returns the first error the cursor encountered.
	Error() error

	Close() error
}

// Batch is an indexed write-batch. Mutations accumulate until Commit applies
// them atomically, or Discard drops them. A batch belongs to the store that
// created it and must be committed or discarded before the store closes.
type Batch interface {
	// Put queues a write. The batch copies key and value.
	Put(key, value []byte) error

	// Delete queues a deletion.
	Delete(key []byte) error

	// Get reads key through the batch: pending writes shadow committed
	// values, pending deletions hide them.
	Get(key []byte) ([]byte, error)

	// Has reports existence through the batch.
	Has(key []byte) (bool, error)

	// NewIterator returns a cursor over the merged view of the batch and the
	// committed state, in ascending byte order.
	NewIterator() (Iterator, error)

	// Len returns the number of queued mutations.
	Len() int

	// Commit durably applies all queued mutations and closes the batch.
	Commit() error

	// Discard drops all queued mutations and closes the batch.
	Discard() error
}

// Sizer is an optional interface adapters implement when the engine exposes
// size estimates. A zero return for any estimate means "unavailable" and
// callers must fall back to exact computation.
type Sizer interface {
	// EstimateLive returns the approximate total live data size in bytes and
	// the approximate number of live keys.
	EstimateLive() (bytes uint64, keys uint64, err error)

	// EstimateRangeSize returns the approximate on-disk size of keys in
	// [start, end).
	EstimateRangeSize(start, end []byte) (uint64, error)
}
