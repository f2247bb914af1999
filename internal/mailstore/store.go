// Package mailstore implements the shared EMAIL.DAT mail file: an
// append-mostly array of fixed-size records that every node process reads
// and writes directly.
//
// Delivery never shrinks the file. A delivered record is tombstoned in place
// (recipient fields zeroed) and only Compact removes it, sliding survivors
// toward the front in their original order and truncating last.
//
// The file is opened per operation, never held open across calls, so other
// node processes and offline tools can work on it between operations.
package mailstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/stlalpha/mailcore/internal/filelock"
	"github.com/stlalpha/mailcore/internal/logging"
)

// FileName is the conventional name of the mail file inside the data directory.
const FileName = "EMAIL.DAT"

var (
	ErrStorage           = errors.New("mailstore: storage I/O error")
	ErrCompactionAborted = errors.New("mailstore: compaction aborted")
	ErrStaleLocator      = errors.New("mailstore: locator no longer matches slot")
	ErrShortRecord       = errors.New("mailstore: short record")
)

// Locator identifies a slot and remembers what the slot held when it was
// read, so a slot rewritten by a compaction in between is not tombstoned by
// mistake.
type Locator struct {
	Index  int64
	Record Record
}

// Entry is a record together with its locator.
type Entry struct {
	Locator Locator
	Record  Record
}

// CompactResult contains statistics from a Compact pass.
type CompactResult struct {
	RecordsBefore int64
	RecordsAfter  int64
	Removed       int64
	BytesBefore   int64
	BytesAfter    int64
}

// Stats summarizes the slots in the file.
type Stats struct {
	Total      int64
	Live       int64
	Tombstones int64
	Bytes      int64
}

// Store is a handle on one mail file.
type Store struct {
	fs   afero.Fs
	path string
}

// Open returns a Store for path, creating an empty file if none exists.
func Open(fs afero.Fs, path string) (*Store, error) {
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: create directory: %w", ErrStorage, err)
	}
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrStorage, path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("%w: close %s: %w", ErrStorage, path, err)
	}
	return &Store{fs: fs, path: path}, nil
}

// Path returns the mail file path.
func (s *Store) Path() string {
	return s.path
}

// Count returns the number of complete slots in the file, tombstones included.
func (s *Store) Count() (int64, error) {
	info, err := s.fs.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: stat %s: %w", ErrStorage, s.path, err)
	}
	return info.Size() / RecordSize, nil
}

// Append writes rec in a new slot at the end of the file. Either the whole
// record lands or the file is rolled back to its previous size; a returned
// error always means the mail was not stored.
func (s *Store) Append(rec Record) (Locator, error) {
	buf, _ := rec.MarshalBinary()
	// Locators compare against what a later read decodes, not the caller's value.
	var stored Record
	_ = stored.UnmarshalBinary(buf)
	var loc Locator

	err := filelock.With(s.fs, s.path, func() error {
		f, err := s.fs.OpenFile(s.path, os.O_CREATE|os.O_RDWR, 0644)
		if err != nil {
			return fmt.Errorf("%w: open %s: %w", ErrStorage, s.path, err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("%w: stat %s: %w", ErrStorage, s.path, err)
		}
		size := info.Size()
		if rem := size % RecordSize; rem != 0 {
			// Torn tail from a process that died mid-append.
			logging.Warn("mailstore: dropping %d trailing bytes from %s", rem, s.path)
			size -= rem
			if err := f.Truncate(size); err != nil {
				return fmt.Errorf("%w: trim torn tail: %w", ErrStorage, err)
			}
		}

		n, err := f.WriteAt(buf, size)
		if err == nil && n != len(buf) {
			err = fmt.Errorf("short write (%d of %d bytes)", n, len(buf))
		}
		if err != nil {
			if terr := f.Truncate(size); terr != nil {
				logging.Error("mailstore: rollback of failed append on %s: %v", s.path, terr)
			}
			return fmt.Errorf("%w: append: %w", ErrStorage, err)
		}
		if err := f.Sync(); err != nil {
			return fmt.Errorf("%w: sync: %w", ErrStorage, err)
		}
		loc = Locator{Index: size / RecordSize, Record: stored}
		return nil
	})
	if err != nil {
		return Locator{}, err
	}
	logging.Debug("mailstore: appended slot %d to=%d@%d from=%d@%d", loc.Index, rec.ToUser, rec.ToSystem, rec.FromUser, rec.FromSystem)
	return loc, nil
}

// Get reads the slot at index.
func (s *Store) Get(index int64) (Record, error) {
	f, err := s.fs.Open(s.path)
	if err != nil {
		return Record{}, fmt.Errorf("%w: open %s: %w", ErrStorage, s.path, err)
	}
	defer f.Close()
	return readSlot(f, index)
}

func readSlot(f afero.File, index int64) (Record, error) {
	buf := make([]byte, RecordSize)
	if _, err := f.ReadAt(buf, index*RecordSize); err != nil {
		return Record{}, fmt.Errorf("%w: read slot %d: %w", ErrStorage, index, err)
	}
	var rec Record
	if err := rec.UnmarshalBinary(buf); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// MarkDelivered tombstones the record named by loc. Compaction only moves
// records toward the front, so when the slot no longer holds the record the
// slots below it are searched, nearest first. A tombstone at the slot holding
// the same message changes nothing. ErrStaleLocator means the record is no
// longer in the file as a live record.
func (s *Store) MarkDelivered(loc Locator) error {
	return filelock.With(s.fs, s.path, func() error {
		f, err := s.fs.OpenFile(s.path, os.O_RDWR, 0644)
		if err != nil {
			return fmt.Errorf("%w: open %s: %w", ErrStorage, s.path, err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("%w: stat %s: %w", ErrStorage, s.path, err)
		}
		total := info.Size() / RecordSize

		if loc.Index < total {
			cur, err := readSlot(f, loc.Index)
			if err != nil {
				return err
			}
			if cur == loc.Record {
				return tombstoneAndSync(f, loc.Index)
			}
			if cur.IsTombstone() && sameMessage(cur, loc.Record) {
				return nil
			}
		}

		from := min(loc.Index, total) - 1
		for i := from; i >= 0; i-- {
			cur, err := readSlot(f, i)
			if err != nil {
				return err
			}
			if cur == loc.Record {
				logging.Debug("mailstore: slot %d moved to %d since it was read", loc.Index, i)
				return tombstoneAndSync(f, i)
			}
		}
		return fmt.Errorf("%w: slot %d", ErrStaleLocator, loc.Index)
	})
}

func tombstoneAndSync(f afero.File, index int64) error {
	if err := tombstoneSlot(f, index); err != nil {
		return fmt.Errorf("%w: tombstone slot %d: %w", ErrStorage, index, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %w", ErrStorage, err)
	}
	return nil
}

// sameMessage compares everything but the recipient fields.
func sameMessage(a, b Record) bool {
	a.ToSystem, a.ToUser = 0, 0
	b.ToSystem, b.ToUser = 0, 0
	return a == b
}

// tombstoneSlot zeroes to_system and to_user, the first four bytes of a slot.
func tombstoneSlot(f afero.File, index int64) error {
	var zero [4]byte
	_, err := f.WriteAt(zero[:], index*RecordSize+offToSystem)
	return err
}

func slotIsTombstone(buf []byte) bool {
	return buf[0] == 0 && buf[1] == 0 && buf[2] == 0 && buf[3] == 0
}

// Compact removes tombstoned slots in one exclusive pass. Live records are
// copied toward the front in their original order; each destination slot is
// never after its source slot, and the file is truncated only once every copy
// has succeeded. A pass that fails part way leaves a file that is still
// valid, possibly larger than needed, and the next pass finishes the job.
func (s *Store) Compact() (CompactResult, error) {
	var result CompactResult

	err := filelock.With(s.fs, s.path, func() error {
		f, err := s.fs.OpenFile(s.path, os.O_RDWR, 0644)
		if err != nil {
			return fmt.Errorf("%w: open %s: %w", ErrCompactionAborted, s.path, err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("%w: stat: %w", ErrCompactionAborted, err)
		}
		result.BytesBefore = info.Size()
		total := info.Size() / RecordSize
		result.RecordsBefore = total

		buf := make([]byte, RecordSize)
		var dst int64
		for src := int64(0); src < total; src++ {
			if _, err := f.ReadAt(buf, src*RecordSize); err != nil {
				return fmt.Errorf("%w: read slot %d: %w", ErrCompactionAborted, src, err)
			}
			if slotIsTombstone(buf) {
				continue
			}
			if dst != src {
				if _, err := f.WriteAt(buf, dst*RecordSize); err != nil {
					return fmt.Errorf("%w: move slot %d to %d: %w", ErrCompactionAborted, src, dst, err)
				}
				// Retire the source so an interrupted pass leaves no more
				// than one duplicate behind.
				if err := tombstoneSlot(f, src); err != nil {
					return fmt.Errorf("%w: retire slot %d: %w", ErrCompactionAborted, src, err)
				}
			}
			dst++
		}

		if err := f.Sync(); err != nil {
			return fmt.Errorf("%w: sync: %w", ErrCompactionAborted, err)
		}
		if dst*RecordSize != info.Size() {
			if err := f.Truncate(dst * RecordSize); err != nil {
				return fmt.Errorf("%w: truncate: %w", ErrCompactionAborted, err)
			}
		}
		result.RecordsAfter = dst
		result.Removed = total - dst
		result.BytesAfter = dst * RecordSize
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrCompactionAborted) {
			err = fmt.Errorf("%w: %w", ErrCompactionAborted, err)
		}
		logging.Warn("mailstore: compaction of %s aborted: %v", s.path, err)
		return result, err
	}
	if result.Removed > 0 {
		logging.Info("mailstore: compacted %s: %d -> %d records", s.path, result.RecordsBefore, result.RecordsAfter)
	}
	return result, nil
}

// ReadAll returns every complete slot, tombstones included, in file order.
func (s *Store) ReadAll() ([]Entry, error) {
	sc := s.scan(func(Record) bool { return true })
	defer sc.Close()
	var out []Entry
	for sc.Next() {
		out = append(out, sc.Entry())
	}
	return out, sc.Err()
}

// Stats counts live and tombstoned slots.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	if info, err := s.fs.Stat(s.path); err == nil {
		st.Bytes = info.Size()
	}
	entries, err := s.ReadAll()
	if err != nil {
		return st, err
	}
	for _, e := range entries {
		st.Total++
		if e.Record.IsTombstone() {
			st.Tombstones++
		} else {
			st.Live++
		}
	}
	return st, nil
}
