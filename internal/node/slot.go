package node

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SlotSize is the on-disk size of one INSTANCE.DAT slot.
const SlotSize = 32

// Slot layout, little-endian.
const (
	offNode    = 0
	offUser    = 2
	offFlags   = 4
	offLoc     = 6
	offSubLoc  = 8
	offUpdated = 10
	// 14..31 reserved
)

var ErrShortSlot = errors.New("node: short slot")

// Flags are the per-node status bits.
type Flags uint16

const (
	FlagOnline    Flags = 0x01
	FlagAvailable Flags = 0x02 // available for chat
	FlagInvisible Flags = 0x04 // hidden from who's-online listings
)

func (f Flags) Has(flag Flags) bool { return f&flag != 0 }

func (f Flags) String() string {
	var parts []string
	if f.Has(FlagOnline) {
		parts = append(parts, "online")
	}
	if f.Has(FlagAvailable) {
		parts = append(parts, "available")
	}
	if f.Has(FlagInvisible) {
		parts = append(parts, "invisible")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ",")
}

// Location is the activity code a node reports.
type Location uint16

const (
	LocOffline Location = iota
	LocInit
	LocEmail
	LocMain
	LocTransfer
	LocChains
	LocNet
	LocGfiles
	LocChat
	LocLogon
	LocLogoff
	LocEditor
	LocDoor
)

var locationNames = [...]string{
	LocOffline:  "Offline",
	LocInit:     "Initializing",
	LocEmail:    "Reading/Sending E-mail",
	LocMain:     "Main Menu",
	LocTransfer: "Transfer Section",
	LocChains:   "Online Programs",
	LocNet:      "Network Transfer",
	LocGfiles:   "G-Files",
	LocChat:     "Chatting",
	LocLogon:    "Logging On",
	LocLogoff:   "Logging Off",
	LocEditor:   "Message Editor",
	LocDoor:     "External Program",
}

func (l Location) String() string {
	if int(l) < len(locationNames) {
		return locationNames[l]
	}
	return fmt.Sprintf("Location(%d)", int(l))
}

// Slot is one node's presence record. A zero Node means the slot has never
// been written.
type Slot struct {
	Node        uint16
	User        uint16
	Flags       Flags
	Location    Location
	SubLocation uint16
	Updated     uint32
}

// Online reports whether the slot shows a live session.
func (s Slot) Online() bool {
	return s.Node != 0 && s.Flags.Has(FlagOnline)
}

// UpdatedAt returns the time of the last write.
func (s Slot) UpdatedAt() time.Time {
	return time.Unix(int64(s.Updated), 0)
}

// MarshalBinary encodes the slot into SlotSize bytes.
func (s Slot) MarshalBinary() ([]byte, error) {
	buf := make([]byte, SlotSize)
	le := binary.LittleEndian
	le.PutUint16(buf[offNode:], s.Node)
	le.PutUint16(buf[offUser:], s.User)
	le.PutUint16(buf[offFlags:], uint16(s.Flags))
	le.PutUint16(buf[offLoc:], uint16(s.Location))
	le.PutUint16(buf[offSubLoc:], s.SubLocation)
	le.PutUint32(buf[offUpdated:], s.Updated)
	return buf, nil
}

// UnmarshalBinary decodes a SlotSize buffer.
func (s *Slot) UnmarshalBinary(buf []byte) error {
	if len(buf) < SlotSize {
		return ErrShortSlot
	}
	le := binary.LittleEndian
	s.Node = le.Uint16(buf[offNode:])
	s.User = le.Uint16(buf[offUser:])
	s.Flags = Flags(le.Uint16(buf[offFlags:]))
	s.Location = Location(le.Uint16(buf[offLoc:]))
	s.SubLocation = le.Uint16(buf[offSubLoc:])
	s.Updated = le.Uint32(buf[offUpdated:])
	return nil
}
