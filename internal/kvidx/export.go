package kvidx

import (
	"bufio"
	"encoding/binary"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/kvidx-db/kvidx/internal/store"
)

// Binary dump layout. The header is 24 bytes: magic, version u32,
// reserved u32, entry count. Each entry is key, term, cmd, data length
// and the payload bytes. All integers are little-endian.
const (
	exportMagic   uint64 = 0x5844495645564B00
	exportVersion uint32 = 1

	exportHeaderLen = 24
	exportEntryLen  = 32

	// progressInterval is how many entries pass between two progress
	// callback invocations.
	progressInterval = 100

	// maxImportDataLen rejects absurd payload lengths from a corrupt or
	// truncated dump before any allocation happens.
	maxImportDataLen = 1 << 31
)

// ExportFormat selects the on-disk representation of a dump.
type ExportFormat int

const (
	FormatBinary ExportFormat = iota
	FormatJSON
	FormatCSV
)

func (f ExportFormat) String() string {
	switch f {
	case FormatBinary:
		return "binary"
	case FormatJSON:
		return "json"
	case FormatCSV:
		return "csv"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// ParseFormat maps a format name to its ExportFormat.
func ParseFormat(s string) (ExportFormat, error) {
	switch s {
	case "binary", "bin":
		return FormatBinary, nil
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	default:
		return 0, fmt.Errorf("%w: unknown format %q", ErrInvalidArgument, s)
	}
}

// ProgressFunc observes a long-running export or import. It receives the
// number of entries processed so far and the total; returning false
// aborts the operation with ErrCancelled.
type ProgressFunc func(processed, total uint64) bool

// ExportOptions controls Export.
type ExportOptions struct {
	Format   ExportFormat
	StartKey uint64 // first key included
	EndKey   uint64 // last key included; zero means through the last key
	DataOnly bool   // omit term and cmd from JSON and CSV output
	Progress ProgressFunc
}

// Export writes every record with StartKey <= key <= EndKey to w in the
// selected format and returns the number of entries written. The export
// observes any open batch.
func (db *DB) Export(w io.Writer, opts ExportOptions) (uint64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store == nil {
		return 0, ErrClosed
	}
	if opts.EndKey == 0 {
		opts.EndKey = math.MaxUint64
	}
	if opts.StartKey > opts.EndKey {
		return 0, nil
	}

	ri, err := db.newRecordIterLocked()
	if err != nil {
		return 0, err
	}
	defer ri.Close()

	var total uint64
	for ok := ri.Seek(opts.StartKey); ok && ri.Key() <= opts.EndKey; ok = ri.Next() {
		total++
	}

	bw := bufio.NewWriter(w)
	var emit func(ri recordIter) error
	var finish func() error

	switch opts.Format {
	case FormatBinary:
		if err := writeDumpHeader(bw, total); err != nil {
			return 0, db.wrapLocked(err, "export")
		}
		emit = func(ri recordIter) error { return writeDumpEntry(bw, ri) }
	case FormatJSON:
		first := true
		if _, err := bw.WriteString(`{"format":"kvidx-json","version":1,"entries":[`); err != nil {
			return 0, db.wrapLocked(err, "export")
		}
		emit = func(ri recordIter) error {
			if !first {
				if err := bw.WriteByte(','); err != nil {
					return err
				}
			}
			first = false
			_, err := bw.Write(appendJSONEntry(nil, ri, opts.DataOnly))
			return err
		}
		finish = func() error {
			_, err := bw.WriteString("]}\n")
			return err
		}
	case FormatCSV:
		cw := csv.NewWriter(bw)
		header := []string{"key", "term", "cmd", "data"}
		if opts.DataOnly {
			header = []string{"key", "data"}
		}
		if err := cw.Write(header); err != nil {
			return 0, db.wrapLocked(err, "export")
		}
		emit = func(ri recordIter) error {
			term, cmd, data := unpackRecord(ri.Value())
			rec := []string{
				strconv.FormatUint(ri.Key(), 10),
				strconv.FormatUint(term, 10),
				strconv.FormatUint(cmd, 10),
				string(data),
			}
			if opts.DataOnly {
				rec = []string{rec[0], rec[3]}
			}
			return cw.Write(rec)
		}
		finish = func() error {
			cw.Flush()
			return cw.Error()
		}
	default:
		return 0, fmt.Errorf("%w: unknown format %d", ErrInvalidArgument, int(opts.Format))
	}

	var processed uint64
	for ok := ri.Seek(opts.StartKey); ok && ri.Key() <= opts.EndKey; ok = ri.Next() {
		if err := emit(ri); err != nil {
			return processed, db.wrapLocked(err, "export")
		}
		processed++
		if opts.Progress != nil && processed%progressInterval == 0 {
			if !opts.Progress(processed, total) {
				return processed, ErrCancelled
			}
		}
	}
	if finish != nil {
		if err := finish(); err != nil {
			return processed, db.wrapLocked(err, "export")
		}
	}
	if err := bw.Flush(); err != nil {
		return processed, db.wrapLocked(err, "export")
	}
	return processed, nil
}

// ExportFile exports to a freshly created file at path.
func (db *DB) ExportFile(path string, opts ExportOptions) (uint64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, &OpError{Op: "export", Adapter: db.adapter, Err: err}
	}
	n, err := db.Export(f, opts)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = &OpError{Op: "export", Adapter: db.adapter, Err: cerr}
	}
	return n, err
}

func writeDumpHeader(w io.Writer, count uint64) error {
	var hdr [exportHeaderLen]byte
	binary.LittleEndian.PutUint64(hdr[0:8], exportMagic)
	binary.LittleEndian.PutUint32(hdr[8:12], exportVersion)
	binary.LittleEndian.PutUint32(hdr[12:16], 0)
	binary.LittleEndian.PutUint64(hdr[16:24], count)
	_, err := w.Write(hdr[:])
	return err
}

func writeDumpEntry(w io.Writer, ri recordIter) error {
	term, cmd, data := unpackRecord(ri.Value())
	var ent [exportEntryLen]byte
	binary.LittleEndian.PutUint64(ent[0:8], ri.Key())
	binary.LittleEndian.PutUint64(ent[8:16], term)
	binary.LittleEndian.PutUint64(ent[16:24], cmd)
	binary.LittleEndian.PutUint64(ent[24:32], uint64(len(data)))
	if _, err := w.Write(ent[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func appendJSONEntry(dst []byte, ri recordIter, dataOnly bool) []byte {
	term, cmd, data := unpackRecord(ri.Value())
	dst = append(dst, `{"key":`...)
	dst = strconv.AppendUint(dst, ri.Key(), 10)
	if !dataOnly {
		dst = append(dst, `,"term":`...)
		dst = strconv.AppendUint(dst, term, 10)
		dst = append(dst, `,"cmd":`...)
		dst = strconv.AppendUint(dst, cmd, 10)
	}
	dst = append(dst, `,"data":`...)
	dst = appendJSONString(dst, data)
	return append(dst, '}')
}

// appendJSONString escapes arbitrary bytes into a JSON string. Printable
// ASCII passes through; everything else, including bytes above 0x7E,
// becomes a \u00XX escape so the output stays byte-exact and pure ASCII.
func appendJSONString(dst, data []byte) []byte {
	dst = append(dst, '"')
	for _, b := range data {
		switch {
		case b == '"':
			dst = append(dst, '\\', '"')
		case b == '\\':
			dst = append(dst, '\\', '\\')
		case b >= 0x20 && b <= 0x7E:
			dst = append(dst, b)
		default:
			const hex = "0123456789abcdef"
			dst = append(dst, '\\', 'u', '0', '0', hex[b>>4], hex[b&0x0F])
		}
	}
	return append(dst, '"')
}

// ImportOptions controls Import.
type ImportOptions struct {
	PreClear       bool // wipe the index before loading
	SkipDuplicates bool // keep existing records instead of overwriting
	Progress       ProgressFunc
}

// Import loads a binary dump from r. All writes, including the PreClear
// wipe, are queued into the open batch or into one private batch that
// commits before returning, so a dump loads atomically. JSON and CSV
// dumps are not importable. Returns the number of records written.
func (db *DB) Import(r io.Reader, opts ImportOptions) (uint64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store == nil {
		return 0, ErrClosed
	}

	br := bufio.NewReader(r)
	var hdr [exportHeaderLen]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return 0, fmt.Errorf("%w: short header: %v", ErrCorrupt, err)
	}
	if magic := binary.LittleEndian.Uint64(hdr[0:8]); magic != exportMagic {
		if looksTextual(hdr[:]) {
			return 0, fmt.Errorf("%w: import of non-binary formats", ErrNotSupported)
		}
		return 0, fmt.Errorf("%w: bad magic %#016x", ErrCorrupt, magic)
	}
	if v := binary.LittleEndian.Uint32(hdr[8:12]); v != exportVersion {
		return 0, fmt.Errorf("%w: unsupported dump version %d", ErrCorrupt, v)
	}
	total := binary.LittleEndian.Uint64(hdr[16:24])

	var wiped []byte
	if opts.PreClear {
		var err error
		if wiped, err = db.collectAllKeysLocked(); err != nil {
			return 0, err
		}
	}

	var imported uint64
	err := db.withBatchLocked("import", func(b store.Batch) error {
		for off := 0; off < len(wiped); {
			klen := int(wiped[off])
			off++
			if err := b.Delete(wiped[off : off+klen]); err != nil {
				return db.wrapLocked(err, "import")
			}
			off += klen
		}

		var ent [exportEntryLen]byte
		for i := uint64(0); i < total; i++ {
			if _, err := io.ReadFull(br, ent[:]); err != nil {
				return fmt.Errorf("%w: truncated at entry %d: %v", ErrCorrupt, i, err)
			}
			key := binary.LittleEndian.Uint64(ent[0:8])
			term := binary.LittleEndian.Uint64(ent[8:16])
			cmd := binary.LittleEndian.Uint64(ent[16:24])
			dataLen := binary.LittleEndian.Uint64(ent[24:32])
			if dataLen > maxImportDataLen {
				return fmt.Errorf("%w: entry %d data length %d", ErrCorrupt, i, dataLen)
			}
			data := make([]byte, dataLen)
			if _, err := io.ReadFull(br, data); err != nil {
				return fmt.Errorf("%w: truncated at entry %d: %v", ErrCorrupt, i, err)
			}

			if opts.SkipDuplicates {
				ok, err := b.Has(encodeKey(key))
				if err != nil {
					return db.wrapLocked(err, "import")
				}
				if ok {
					continue
				}
			}
			if err := b.Put(encodeKey(key), packRecord(term, cmd, data)); err != nil {
				return db.wrapLocked(err, "import")
			}
			imported++

			if opts.Progress != nil && (i+1)%progressInterval == 0 {
				if !opts.Progress(i+1, total) {
					return ErrCancelled
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	db.purgeCacheLocked()
	db.logf("kvidx: import applied %d of %d entries", imported, total)
	return imported, nil
}

// ImportFile imports a binary dump from the file at path.
func (db *DB) ImportFile(path string, opts ImportOptions) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, &OpError{Op: "import", Adapter: db.adapter, Err: err}
	}
	defer f.Close()
	return db.Import(f, opts)
}

// looksTextual sniffs whether a dump header reads as JSON or CSV text,
// to distinguish a wrong-format file from a corrupt one.
func looksTextual(b []byte) bool {
	for _, c := range b {
		if c == '{' || c == 'k' {
			return true
		}
		if c != ' ' && c != '\t' && c != '\r' && c != '\n' {
			return false
		}
	}
	return false
}

// Clear deletes every record and TTL entry. The wipe runs in the open
// batch, or in a private batch committed before returning.
func (db *DB) Clear() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.store == nil {
		return ErrClosed
	}
	keys, err := db.collectAllKeysLocked()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	err = db.withBatchLocked("clear", func(b store.Batch) error {
		for off := 0; off < len(keys); {
			klen := int(keys[off])
			off++
			if err := b.Delete(keys[off : off+klen]); err != nil {
				return db.wrapLocked(err, "clear")
			}
			off += klen
		}
		return nil
	})
	if err != nil {
		return err
	}
	db.purgeCacheLocked()
	return nil
}

// collectAllKeysLocked snapshots every key in the store, records and
// sidecars alike, as length-prefixed bytes in one contiguous buffer.
func (db *DB) collectAllKeysLocked() ([]byte, error) {
	it, err := db.readerLocked().NewIterator()
	if err != nil {
		return nil, db.wrapLocked(err, "scan")
	}
	defer it.Close()

	var buf []byte
	for ok := it.First(); ok; ok = it.Next() {
		k := it.Key()
		buf = append(buf, byte(len(k)))
		buf = append(buf, k...)
	}
	return buf, nil
}
