package mailstore

import (
	"bytes"
	"encoding/binary"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// On-disk layout of one EMAIL.DAT slot (little-endian, packed).
const (
	offToSystem    = 0
	offToUser      = 2
	offFromSystem  = 4
	offFromUser    = 6
	offDateSent    = 8
	offStatus      = 12
	offTitle       = 13
	TitleSize      = 81
	offStorageType = offTitle + TitleSize
	offStoredAs    = offStorageType + 1

	// RecordSize is the fixed size of one mail slot.
	RecordSize = offStoredAs + 4

	// titleNetByte is the title byte that carries the network index when
	// StatusNewNet is set. Title text must end before it.
	titleNetByte = TitleSize - 1

	// MaxTitleLen leaves room for the NUL terminator ahead of titleNetByte.
	MaxTitleLen = titleNetByte - 1
)

// Status is the per-record bitmask. Bit positions are fixed by the legacy
// file format.
type Status uint8

const (
	StatusMultiMail      Status = 0x01
	StatusSourceVerified Status = 0x02
	StatusForwarded      Status = 0x04
	StatusMail           Status = 0x08
	StatusNewNet         Status = 0x10 // Network-sourced/addressed; title byte 80 holds the network index
	StatusFile           Status = 0x20 // File attachment
	StatusSeen           Status = 0x40
	StatusReplied        Status = 0x80
)

// Has reports whether all bits in flag are set.
func (s Status) Has(flag Status) bool {
	return s&flag == flag
}

// MessageRef points at the message body. Its meaning belongs to the body
// storage layer; the mail store only carries it.
type MessageRef struct {
	StorageType uint8
	StoredAs    uint32
}

// Record is one mail entry.
type Record struct {
	ToSystem   uint16
	ToUser     uint16
	FromSystem uint16
	FromUser   uint16
	DateSent   uint32 // Unix seconds
	Status     Status
	Title      string
	Network    uint8 // Only persisted when Status has StatusNewNet
	Body       MessageRef
}

// IsTombstone reports whether the record has been delivered and only awaits
// compaction.
func (r Record) IsTombstone() bool {
	return r.ToSystem == 0 && r.ToUser == 0
}

// IsLocalTo reports whether the record is waiting in userNum's local inbox.
func (r Record) IsLocalTo(userNum uint16) bool {
	return r.ToSystem == 0 && r.ToUser == userNum && userNum != 0
}

// Sent returns DateSent as a time.Time.
func (r Record) Sent() time.Time {
	return time.Unix(int64(r.DateSent), 0)
}

var (
	titleDecoder = charmap.CodePage437.NewDecoder()
	titleEncoder = encoding.ReplaceUnsupported(charmap.CodePage437.NewEncoder())
)

func encodeTitle(title string) []byte {
	// Characters outside CP437 become SUB; every byte is one character.
	raw, err := titleEncoder.Bytes([]byte(title))
	if err != nil {
		raw = []byte(title)
	}
	if len(raw) > MaxTitleLen {
		raw = raw[:MaxTitleLen]
	}
	return raw
}

func decodeTitle(buf []byte) string {
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	out, err := titleDecoder.Bytes(buf)
	if err != nil {
		return string(buf)
	}
	return string(out)
}

// MarshalBinary encodes the record into its RecordSize on-disk form.
func (r Record) MarshalBinary() ([]byte, error) {
	buf := make([]byte, RecordSize)
	r.encode(buf)
	return buf, nil
}

func (r Record) encode(buf []byte) {
	le := binary.LittleEndian
	le.PutUint16(buf[offToSystem:], r.ToSystem)
	le.PutUint16(buf[offToUser:], r.ToUser)
	le.PutUint16(buf[offFromSystem:], r.FromSystem)
	le.PutUint16(buf[offFromUser:], r.FromUser)
	le.PutUint32(buf[offDateSent:], r.DateSent)
	buf[offStatus] = byte(r.Status)

	title := buf[offTitle : offTitle+TitleSize]
	clear(title)
	copy(title, encodeTitle(r.Title))
	if r.Status.Has(StatusNewNet) {
		title[titleNetByte] = r.Network
	}

	buf[offStorageType] = r.Body.StorageType
	le.PutUint32(buf[offStoredAs:], r.Body.StoredAs)
}

// UnmarshalBinary decodes a RecordSize slot.
func (r *Record) UnmarshalBinary(buf []byte) error {
	if len(buf) < RecordSize {
		return ErrShortRecord
	}
	le := binary.LittleEndian
	r.ToSystem = le.Uint16(buf[offToSystem:])
	r.ToUser = le.Uint16(buf[offToUser:])
	r.FromSystem = le.Uint16(buf[offFromSystem:])
	r.FromUser = le.Uint16(buf[offFromUser:])
	r.DateSent = le.Uint32(buf[offDateSent:])
	r.Status = Status(buf[offStatus])

	title := buf[offTitle : offTitle+TitleSize]
	r.Title = decodeTitle(title[:titleNetByte])
	r.Network = 0
	if r.Status.Has(StatusNewNet) {
		r.Network = title[titleNetByte]
	}

	r.Body.StorageType = buf[offStorageType]
	r.Body.StoredAs = le.Uint32(buf[offStoredAs:])
	return nil
}
