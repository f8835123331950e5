package kvidx

import (
	"bytes"
	"errors"
	"fmt"
)

// Cond selects the predicate of a conditional insert.
type Cond int

const (
	// CondAlways writes unconditionally, replacing any existing record.
	CondAlways Cond = iota
	// CondIfExists writes only when a live record is present.
	CondIfExists
	// CondIfNotExists writes only when no live record is present.
	CondIfNotExists
)

func (c Cond) String() string {
	switch c {
	case CondAlways:
		return "always"
	case CondIfExists:
		return "if-exists"
	case CondIfNotExists:
		return "if-not-exists"
	default:
		return fmt.Sprintf("cond(%d)", int(c))
	}
}

// InsertCond writes a record subject to cond. Unlike Insert, the
// existence check honors TTL: a record whose TTL has lapsed counts as
// absent. A rejected predicate returns ErrConditionFailed.
func (db *DB) InsertCond(key, term, cmd uint64, data []byte, cond Cond) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store == nil {
		return ErrClosed
	}
	switch cond {
	case CondAlways:
	case CondIfExists, CondIfNotExists:
		live, err := db.liveLocked(key)
		if err != nil {
			return err
		}
		if cond == CondIfExists && !live {
			return ErrConditionFailed
		}
		if cond == CondIfNotExists && live {
			return ErrConditionFailed
		}
	default:
		return fmt.Errorf("%w: unknown condition %d", ErrInvalidArgument, int(cond))
	}
	return db.putRecordLocked(key, term, cmd, data)
}

// CompareAndSwap replaces the record at key with (term, cmd, data) iff
// the stored payload equals expected. It returns whether the swap was
// performed; an equality miss is not an error. An absent or expired key
// returns ErrNotFound.
func (db *DB) CompareAndSwap(key uint64, expected []byte, term, cmd uint64, data []byte) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store == nil {
		return false, ErrClosed
	}
	_, _, stored, err := db.getLocked(key)
	if err != nil {
		return false, err
	}
	if !bytes.Equal(stored, expected) {
		return false, nil
	}
	if err := db.putRecordLocked(key, term, cmd, data); err != nil {
		return false, err
	}
	return true, nil
}

// GetAndSet writes the record and returns the physically stored prior
// record, or nil when the key was absent. The prior check ignores TTL;
// the returned data is owned by the caller.
func (db *DB) GetAndSet(key, term, cmd uint64, data []byte) (*Record, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store == nil {
		return nil, ErrClosed
	}
	var prev *Record
	oldTerm, oldCmd, oldData, err := db.readRecordLocked(key)
	switch {
	case err == nil:
		prev = &Record{Key: key, Term: oldTerm, Cmd: oldCmd, Data: oldData}
	case errors.Is(err, ErrNotFound):
	default:
		return nil, err
	}
	if err := db.putRecordLocked(key, term, cmd, data); err != nil {
		return nil, err
	}
	return prev, nil
}

// GetAndRemove deletes the record at key and returns its prior contents.
// An absent or expired key returns ErrNotFound. Any TTL entry for the
// key is removed alongside the record.
func (db *DB) GetAndRemove(key uint64) (*Record, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store == nil {
		return nil, ErrClosed
	}
	term, cmd, data, err := db.getLocked(key)
	if err != nil {
		return nil, err
	}
	if err := db.deleteRecordLocked(key); err != nil {
		return nil, err
	}
	if err := db.writerLocked().Delete(ttlKey(key)); err != nil {
		return nil, db.wrapLocked(err, "delete")
	}
	return &Record{Key: key, Term: term, Cmd: cmd, Data: data}, nil
}

// Append concatenates suffix after the existing payload and rewrites the
// record with the supplied term and cmd, creating it when absent or
// expired. It returns the resulting payload length.
func (db *DB) Append(key, term, cmd uint64, suffix []byte) (int, error) {
	return db.concat(key, term, cmd, suffix, false)
}

// Prepend concatenates prefix before the existing payload and rewrites
// the record with the supplied term and cmd, creating it when absent or
// expired. It returns the resulting payload length.
func (db *DB) Prepend(key, term, cmd uint64, prefix []byte) (int, error) {
	return db.concat(key, term, cmd, prefix, true)
}

func (db *DB) concat(key, term, cmd uint64, extra []byte, front bool) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store == nil {
		return 0, ErrClosed
	}
	_, _, existing, err := db.getLocked(key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return 0, err
	}

	merged := make([]byte, 0, len(existing)+len(extra))
	if front {
		merged = append(append(merged, extra...), existing...)
	} else {
		merged = append(append(merged, existing...), extra...)
	}
	if err := db.putRecordLocked(key, term, cmd, merged); err != nil {
		return 0, err
	}
	return len(merged), nil
}

// GetValueRange returns up to length payload bytes starting at offset.
// An offset at or past the end returns an empty slice; length 0 means
// everything from offset to the end. An absent or expired key returns
// ErrNotFound.
func (db *DB) GetValueRange(key uint64, offset, length int) ([]byte, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store == nil {
		return nil, ErrClosed
	}
	if offset < 0 || length < 0 {
		return nil, fmt.Errorf("%w: negative offset or length", ErrInvalidArgument)
	}
	_, _, data, err := db.getLocked(key)
	if err != nil {
		return nil, err
	}
	if offset >= len(data) {
		return []byte{}, nil
	}
	end := len(data)
	if length > 0 && offset+length < end {
		end = offset + length
	}
	return append([]byte(nil), data[offset:end]...), nil
}

// SetValueRange overwrites payload bytes starting at offset, keeping the
// stored term and cmd. Writing past the current end grows the payload;
// any gap between the old end and offset is zero-filled. The key must
// exist and be unexpired.
func (db *DB) SetValueRange(key uint64, offset int, chunk []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store == nil {
		return ErrClosed
	}
	if offset < 0 {
		return fmt.Errorf("%w: negative offset", ErrInvalidArgument)
	}
	term, cmd, data, err := db.getLocked(key)
	if err != nil {
		return err
	}

	newLen := len(data)
	if offset+len(chunk) > newLen {
		newLen = offset + len(chunk)
	}
	merged := make([]byte, newLen)
	copy(merged, data)
	copy(merged[offset:], chunk)
	return db.putRecordLocked(key, term, cmd, merged)
}
