package kvidx

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/kvidx-db/kvidx/internal/store"
)

// TTLStatus classifies the expiry state of a key.
type TTLStatus int

const (
	// TTLNoKey means no record is physically present at the key.
	TTLNoKey TTLStatus = iota
	// TTLNone means the record exists and carries no TTL.
	TTLNone
	// TTLExpired means the record's TTL has lapsed but the sweep has not
	// reclaimed it yet.
	TTLExpired
	// TTLRemaining means the record's TTL is active.
	TTLRemaining
)

func (s TTLStatus) String() string {
	switch s {
	case TTLNoKey:
		return "no-key"
	case TTLNone:
		return "none"
	case TTLExpired:
		return "expired"
	case TTLRemaining:
		return "remaining"
	default:
		return fmt.Sprintf("ttl-status(%d)", int(s))
	}
}

// SetExpire gives the record at key an expiry of now + ttl. The record
// must be physically present; its current TTL state does not matter, so
// an already-expired record can be given a fresh TTL before the sweep
// reclaims it.
func (db *DB) SetExpire(key uint64, ttl time.Duration) error {
	if ttl < 0 {
		return fmt.Errorf("%w: negative ttl", ErrInvalidArgument)
	}
	return db.setExpiry(key, func(nowMs int64) uint64 {
		return uint64(nowMs + ttl.Milliseconds())
	})
}

// SetExpireAt gives the record at key an absolute wall-clock expiry.
func (db *DB) SetExpireAt(key uint64, at time.Time) error {
	ms := at.UnixMilli()
	if ms < 0 {
		return fmt.Errorf("%w: expiry before unix epoch", ErrInvalidArgument)
	}
	return db.setExpiry(key, func(int64) uint64 {
		return uint64(ms)
	})
}

func (db *DB) setExpiry(key uint64, expireAt func(nowMs int64) uint64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store == nil {
		return ErrClosed
	}
	ok, err := db.hasRecordLocked(key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	exp := expireAt(db.nowMs())
	if err := db.writerLocked().Put(ttlKey(key), packExpiry(exp)); err != nil {
		return db.wrapLocked(err, "set-expire")
	}
	return nil
}

// GetTTL reports the expiry state of key. The remaining duration is
// meaningful only when the status is TTLRemaining.
func (db *DB) GetTTL(key uint64) (TTLStatus, time.Duration, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store == nil {
		return TTLNoKey, 0, ErrClosed
	}
	ok, err := db.hasRecordLocked(key)
	if err != nil {
		return TTLNoKey, 0, err
	}
	if !ok {
		return TTLNoKey, 0, nil
	}

	v, err := db.readerLocked().Get(ttlKey(key))
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return TTLNone, 0, nil
		}
		return TTLNone, 0, db.wrapLocked(err, "get-ttl")
	}
	exp, valid := unpackExpiry(v)
	if !valid {
		return TTLNone, 0, nil
	}
	now := db.nowMs()
	if int64(exp) <= now {
		return TTLExpired, 0, nil
	}
	return TTLRemaining, time.Duration(int64(exp)-now) * time.Millisecond, nil
}

// Persist removes any TTL from the record at key, making it permanent.
// The record must be physically present.
func (db *DB) Persist(key uint64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store == nil {
		return ErrClosed
	}
	ok, err := db.hasRecordLocked(key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if err := db.writerLocked().Delete(ttlKey(key)); err != nil {
		return db.wrapLocked(err, "persist")
	}
	return nil
}

// Sweep walks the TTL namespace in key order and reclaims every entry
// whose expiry has lapsed, deleting both the sidecar and its record. It
// stops after maxKeys expirations; maxKeys <= 0 means unbounded. The
// deletions run in the open batch, or in a private batch committed
// before returning. A sidecar whose record is already gone is deleted
// all the same.
func (db *DB) Sweep(maxKeys int) (uint64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store == nil {
		return 0, ErrClosed
	}
	keys, err := db.collectExpiredLocked(maxKeys)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	err = db.withBatchLocked("sweep", func(b store.Batch) error {
		for _, k := range keys {
			if err := b.Delete(ttlKey(k)); err != nil {
				return db.wrapLocked(err, "sweep")
			}
			if err := b.Delete(encodeKey(k)); err != nil {
				return db.wrapLocked(err, "sweep")
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, k := range keys {
		db.invalidateLocked(k)
	}
	db.logf("kvidx: sweep reclaimed %d expired keys", len(keys))
	return uint64(len(keys)), nil
}

// collectExpiredLocked gathers the record keys of lapsed sidecars, in
// key order, up to maxKeys of them. Record keys that happen to sort into
// the sidecar span are stepped over by length.
func (db *DB) collectExpiredLocked(maxKeys int) ([]uint64, error) {
	it, err := db.readerLocked().NewIterator()
	if err != nil {
		return nil, db.wrapLocked(err, "sweep")
	}
	defer it.Close()

	now := db.nowMs()
	var keys []uint64
	for ok := it.Seek(ttlPrefix); ok; ok = it.Next() {
		k := it.Key()
		if !bytes.HasPrefix(k, ttlPrefix) {
			break
		}
		target, valid := ttlKeyTarget(k)
		if !valid {
			continue
		}
		exp, valid := unpackExpiry(it.Value())
		if !valid || int64(exp) > now {
			continue
		}
		keys = append(keys, target)
		if maxKeys > 0 && len(keys) >= maxKeys {
			break
		}
	}
	return keys, nil
}
