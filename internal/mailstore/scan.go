package mailstore

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
)

// Scanner walks the mail file lazily, one slot at a time, yielding only the
// slots its filter accepts. Reset rewinds it so the same scan can be
// repeated. Scanning takes no lock; appends landing mid-scan are picked up if
// the scan has not passed them yet. A compaction running during the scan can
// move a record to a slot the scan already passed, so that record is missed.
// It stays in the file and the next scan finds it.
type Scanner struct {
	s      *Store
	accept func(Record) bool
	f      afero.File
	r      *bufio.Reader
	buf    []byte
	index  int64
	cur    Entry
	err    error
	done   bool
}

// ScanForRecipient returns a Scanner over the live records waiting in the
// local inbox of userNum.
func (s *Store) ScanForRecipient(userNum uint16) *Scanner {
	return s.scan(func(r Record) bool { return r.IsLocalTo(userNum) })
}

func (s *Store) scan(accept func(Record) bool) *Scanner {
	return &Scanner{s: s, accept: accept, buf: make([]byte, RecordSize)}
}

// Next advances to the next matching record.
func (sc *Scanner) Next() bool {
	if sc.done || sc.err != nil {
		return false
	}
	if sc.f == nil {
		f, err := sc.s.fs.Open(sc.s.path)
		if err != nil {
			sc.done = true
			if !os.IsNotExist(err) {
				sc.err = fmt.Errorf("%w: open %s: %w", ErrStorage, sc.s.path, err)
			}
			return false
		}
		sc.f = f
		sc.r = bufio.NewReaderSize(f, RecordSize*64)
	}

	for {
		if _, err := io.ReadFull(sc.r, sc.buf); err != nil {
			sc.done = true
			// A partial trailing slot is an append still in flight or a torn
			// write; either way it is not a record yet.
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				sc.err = fmt.Errorf("%w: read slot %d: %w", ErrStorage, sc.index, err)
			}
			return false
		}
		idx := sc.index
		sc.index++

		var rec Record
		if err := rec.UnmarshalBinary(sc.buf); err != nil {
			sc.err = err
			return false
		}
		if sc.accept(rec) {
			sc.cur = Entry{Locator: Locator{Index: idx, Record: rec}, Record: rec}
			return true
		}
	}
}

// Entry returns the record Next stopped on.
func (sc *Scanner) Entry() Entry {
	return sc.cur
}

// Record is shorthand for Entry().Record.
func (sc *Scanner) Record() Record {
	return sc.cur.Record
}

// Err returns the first I/O error hit by Next, if any.
func (sc *Scanner) Err() error {
	return sc.err
}

// Reset rewinds the scan to the start of the file.
func (sc *Scanner) Reset() {
	sc.Close()
	sc.index = 0
	sc.cur = Entry{}
	sc.err = nil
	sc.done = false
}

// Close releases the file handle. The Scanner may be reused after Reset.
func (sc *Scanner) Close() error {
	if sc.f == nil {
		return nil
	}
	err := sc.f.Close()
	sc.f = nil
	sc.r = nil
	return err
}

// Collect drains the scanner into a slice and closes it.
func (sc *Scanner) Collect() ([]Entry, error) {
	defer sc.Close()
	var out []Entry
	for sc.Next() {
		out = append(out, sc.Entry())
	}
	return out, sc.Err()
}
