package kvidx

import (
	"math"

	"github.com/kvidx-db/kvidx/internal/store"
)

// RemoveRange deletes all records between lo and hi, with inclusivity of
// each bound controlled by loIncl and hiIncl. It returns the number of
// records deleted. The deletions are queued into the open batch, or into
// a private batch committed before returning when none is open. TTL
// entries of deleted records are left for Sweep to reclaim.
func (db *DB) RemoveRange(lo, hi uint64, loIncl, hiIncl bool) (uint64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store == nil {
		return 0, ErrClosed
	}
	start := lo
	if !loIncl {
		if lo == math.MaxUint64 {
			return 0, nil
		}
		start = lo + 1
	}

	keys, err := db.collectRangeLocked(start, hi, hiIncl)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	err = db.withBatchLocked("remove-range", func(b store.Batch) error {
		for _, k := range keys {
			if err := b.Delete(encodeKey(k)); err != nil {
				return db.wrapLocked(err, "remove-range")
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	db.purgeCacheLocked()
	return uint64(len(keys)), nil
}

// collectRangeLocked gathers the record keys in [start, hi] (hiIncl) or
// [start, hi) into a slice. Keys are materialized before any deletion is
// queued because batch mutation may invalidate iterator memory.
func (db *DB) collectRangeLocked(start, hi uint64, hiIncl bool) ([]uint64, error) {
	ri, err := db.newRecordIterLocked()
	if err != nil {
		return nil, err
	}
	defer ri.Close()

	var keys []uint64
	for ok := ri.Seek(start); ok; ok = ri.Next() {
		k := ri.Key()
		if hiIncl {
			if k > hi {
				break
			}
		} else if k >= hi {
			break
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// CountRange counts the records with lo <= key <= hi.
//
// When no batch is open and the engine reports non-zero size estimates,
// the count is approximated as range_bytes / avg_bytes_per_key. Any open
// batch, or a zero estimate from the engine, forces the exact iteration
// fallback.
func (db *DB) CountRange(lo, hi uint64) (uint64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store == nil {
		return 0, ErrClosed
	}
	if lo > hi {
		return 0, nil
	}

	if db.batch == nil {
		if n, ok := db.approxCountLocked(lo, hi); ok {
			return n, nil
		}
	}

	ri, err := db.newRecordIterLocked()
	if err != nil {
		return 0, err
	}
	defer ri.Close()

	var n uint64
	for ok := ri.Seek(lo); ok && ri.Key() <= hi; ok = ri.Next() {
		n++
	}
	return n, nil
}

func (db *DB) approxCountLocked(lo, hi uint64) (uint64, bool) {
	sz, ok := db.store.(store.Sizer)
	if !ok {
		return 0, false
	}
	totalBytes, totalKeys, err := sz.EstimateLive()
	if err != nil || totalBytes == 0 || totalKeys == 0 {
		return 0, false
	}

	// Upper bound is the first byte string past every encoding of hi.
	var end []byte
	if hi == math.MaxUint64 {
		end = append(encodeKey(hi), 0x00)
	} else {
		end = encodeKey(hi + 1)
	}
	rangeBytes, err := sz.EstimateRangeSize(encodeKey(lo), end)
	if err != nil || rangeBytes == 0 {
		return 0, false
	}

	avg := float64(totalBytes) / float64(totalKeys)
	return uint64(math.Round(float64(rangeBytes) / avg)), true
}

// ExistsInRange reports whether any record key falls in [lo, hi].
func (db *DB) ExistsInRange(lo, hi uint64) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store == nil {
		return false, ErrClosed
	}
	if lo > hi {
		return false, nil
	}
	ri, err := db.newRecordIterLocked()
	if err != nil {
		return false, err
	}
	defer ri.Close()

	return ri.Seek(lo) && ri.Key() <= hi, nil
}

// RemoveFrom deletes all records with key >= from and returns how many
// were deleted.
func (db *DB) RemoveFrom(from uint64) (uint64, error) {
	return db.RemoveRange(from, math.MaxUint64, true, true)
}

// RemoveThrough deletes all records with key <= through and returns how
// many were deleted.
func (db *DB) RemoveThrough(through uint64) (uint64, error) {
	return db.RemoveRange(0, through, true, true)
}
