// Package node is the shared instance directory: one fixed-size presence
// slot per node in INSTANCE.DAT, plus a message queue file per node.
//
// A node writes only its own slot, in a single whole-slot write, without
// locking. Readers scan every slot and may see stale but never torn data.
// Liveness is judged from slot contents alone; a crashed node's slot stays
// online until that node id logs on again or the slot is cleared.
package node

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"

	"github.com/stlalpha/mailcore/internal/logging"
)

const (
	InstanceFile = "INSTANCE.DAT"
	QueueDir     = "nodemsg"
)

var (
	ErrBadNode = errors.New("node: node id out of range")
	ErrStorage = errors.New("node: storage I/O error")
)

// Directory is a handle on the instance slot file and the queue directory.
type Directory struct {
	fs       afero.Fs
	path     string
	queueDir string
	maxNodes int
	poll     atomic.Int64
}

// Open returns a Directory rooted at dataPath for node ids 1..maxNodes.
func Open(fs afero.Fs, dataPath string, maxNodes int, pollInterval time.Duration) (*Directory, error) {
	if maxNodes <= 0 || maxNodes > 0xFFFF {
		return nil, fmt.Errorf("node: invalid node count %d", maxNodes)
	}
	d := &Directory{
		fs:       fs,
		path:     filepath.Join(dataPath, InstanceFile),
		queueDir: filepath.Join(dataPath, QueueDir),
		maxNodes: maxNodes,
	}
	d.SetPollInterval(pollInterval)

	if err := fs.MkdirAll(d.queueDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrStorage, d.queueDir, err)
	}
	f, err := fs.OpenFile(d.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrStorage, d.path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("%w: close %s: %w", ErrStorage, d.path, err)
	}
	return d, nil
}

// MaxNodes returns the number of node ids.
func (d *Directory) MaxNodes() int { return d.maxNodes }

// PollInterval returns how often sessions should poll their queue.
func (d *Directory) PollInterval() time.Duration {
	return time.Duration(d.poll.Load())
}

// SetPollInterval changes the poll interval. Non-positive values are ignored.
func (d *Directory) SetPollInterval(interval time.Duration) {
	if interval > 0 {
		d.poll.Store(int64(interval))
	}
}

func (d *Directory) checkNode(node int) error {
	if node < 1 || node > d.maxNodes {
		return fmt.Errorf("%w: %d (1..%d)", ErrBadNode, node, d.maxNodes)
	}
	return nil
}

// WriteStatus overwrites node's slot. Last writer wins.
func (d *Directory) WriteStatus(node int, user uint16, loc Location, subLoc uint16, flags Flags) error {
	if err := d.checkNode(node); err != nil {
		return err
	}
	return d.writeSlot(Slot{
		Node:        uint16(node),
		User:        user,
		Flags:       flags,
		Location:    loc,
		SubLocation: subLoc,
		Updated:     uint32(time.Now().Unix()),
	})
}

// ClearStatus marks node offline, keeping nothing of the previous session.
func (d *Directory) ClearStatus(node int) error {
	return d.WriteStatus(node, 0, LocOffline, 0, 0)
}

// UpdateFlags rewrites node's flags with fn applied, leaving the rest of
// the slot as it is.
func (d *Directory) UpdateFlags(node int, fn func(Flags) Flags) (Slot, error) {
	s, err := d.Read(node)
	if err != nil {
		return Slot{}, err
	}
	s.Node = uint16(node)
	s.Flags = fn(s.Flags)
	s.Updated = uint32(time.Now().Unix())
	if err := d.writeSlot(s); err != nil {
		return Slot{}, err
	}
	return s, nil
}

func (d *Directory) writeSlot(s Slot) error {
	buf, _ := s.MarshalBinary()
	f, err := d.fs.OpenFile(d.path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrStorage, d.path, err)
	}
	defer f.Close()

	n, err := f.WriteAt(buf, int64(s.Node-1)*SlotSize)
	if err == nil && n != len(buf) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return fmt.Errorf("%w: write slot %d: %w", ErrStorage, s.Node, err)
	}
	logging.Debug("node %d: user %d %s [%s]", s.Node, s.User, s.Location, s.Flags)
	return nil
}

// Read returns node's slot. A slot never written comes back zero.
func (d *Directory) Read(node int) (Slot, error) {
	if err := d.checkNode(node); err != nil {
		return Slot{}, err
	}
	f, err := d.fs.Open(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Slot{}, nil
		}
		return Slot{}, fmt.Errorf("%w: open %s: %w", ErrStorage, d.path, err)
	}
	defer f.Close()

	buf := make([]byte, SlotSize)
	n, err := f.ReadAt(buf, int64(node-1)*SlotSize)
	if err != nil && !errors.Is(err, io.EOF) {
		return Slot{}, fmt.Errorf("%w: read slot %d: %w", ErrStorage, node, err)
	}
	var s Slot
	if n == SlotSize {
		_ = s.UnmarshalBinary(buf)
	}
	return s, nil
}

// Slots reads every slot, indexed by node id - 1.
func (d *Directory) Slots() ([]Slot, error) {
	data, err := afero.ReadFile(d.fs, d.path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: read %s: %w", ErrStorage, d.path, err)
	}
	slots := make([]Slot, d.maxNodes)
	for i := range slots {
		off := i * SlotSize
		if off+SlotSize > len(data) {
			break
		}
		_ = slots[i].UnmarshalBinary(data[off : off+SlotSize])
	}
	return slots, nil
}

// IsUserOnline returns the node user is on, invisible or not.
func (d *Directory) IsUserOnline(user uint16) (int, bool, error) {
	if user == 0 {
		return 0, false, nil
	}
	slots, err := d.Slots()
	if err != nil {
		return 0, false, err
	}
	for i, s := range slots {
		if s.Online() && s.User == user {
			return i + 1, true, nil
		}
	}
	return 0, false, nil
}

// CountOnline counts online slots, invisible ones included.
func (d *Directory) CountOnline() (int, error) {
	slots, err := d.Slots()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, s := range slots {
		if s.Online() {
			count++
		}
	}
	return count, nil
}

// Online lists online slots in node order.
func (d *Directory) Online(includeInvisible bool) ([]Slot, error) {
	slots, err := d.Slots()
	if err != nil {
		return nil, err
	}
	var out []Slot
	for _, s := range slots {
		if !s.Online() {
			continue
		}
		if s.Flags.Has(FlagInvisible) && !includeInvisible {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}
