package mailstore

import (
	"encoding/binary"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
)

func TestRecordSize(t *testing.T) {
	if RecordSize != 99 {
		t.Fatalf("RecordSize = %d, want 99", RecordSize)
	}
}

func TestRecordLayout(t *testing.T) {
	rec := Record{
		ToSystem:   2,
		ToUser:     7,
		FromSystem: 0,
		FromUser:   5,
		DateSent:   0x01020304,
		Status:     StatusMail | StatusNewNet,
		Title:      "Hello",
		Network:    2,
		Body:       MessageRef{StorageType: 2, StoredAs: 0xAABBCCDD},
	}
	buf, err := rec.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if len(buf) != RecordSize {
		t.Fatalf("len = %d, want %d", len(buf), RecordSize)
	}

	le := binary.LittleEndian
	checks := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"to_system", uint32(le.Uint16(buf[0:])), 2},
		{"to_user", uint32(le.Uint16(buf[2:])), 7},
		{"from_system", uint32(le.Uint16(buf[4:])), 0},
		{"from_user", uint32(le.Uint16(buf[6:])), 5},
		{"date", le.Uint32(buf[8:]), 0x01020304},
		{"status", uint32(buf[12]), uint32(StatusMail | StatusNewNet)},
		{"net byte", uint32(buf[13+80]), 2},
		{"storage type", uint32(buf[94]), 2},
		{"stored as", le.Uint32(buf[95:]), 0xAABBCCDD},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %#x, want %#x", c.name, c.got, c.want)
		}
	}
	if string(buf[13:18]) != "Hello" || buf[18] != 0 {
		t.Errorf("title bytes = %q", buf[13:19])
	}
}

func TestNetworkByteOnlyWithNewNet(t *testing.T) {
	rec := Record{ToUser: 1, Title: "local", Network: 9}
	buf, _ := rec.MarshalBinary()
	if buf[13+80] != 0 {
		t.Errorf("network byte written without StatusNewNet: %d", buf[13+80])
	}

	var back Record
	if err := back.UnmarshalBinary(buf); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if back.Network != 0 {
		t.Errorf("Network = %d, want 0 for local record", back.Network)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	want := Record{
		ToSystem: 0, ToUser: 3, FromSystem: 12, FromUser: 44,
		DateSent: 1700000000, Status: StatusNewNet | StatusSourceVerified,
		Title: "Café ░ test", Network: 4,
		Body: MessageRef{StorageType: 1, StoredAs: 99},
	}
	buf, _ := want.MarshalBinary()
	var got Record
	if err := got.UnmarshalBinary(buf); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLongTitleKeepsNetworkByte(t *testing.T) {
	rec := Record{ToUser: 1, Status: StatusNewNet, Network: 200, Title: strings.Repeat("x", 200)}
	buf, _ := rec.MarshalBinary()

	var got Record
	if err := got.UnmarshalBinary(buf); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if len(got.Title) != MaxTitleLen {
		t.Errorf("title len = %d, want %d", len(got.Title), MaxTitleLen)
	}
	if got.Network != 200 {
		t.Errorf("Network = %d, want 200", got.Network)
	}
}

func TestTitleOutsideCodePage(t *testing.T) {
	rec := Record{ToUser: 1, Title: "Café ✓ done"}
	buf, _ := rec.MarshalBinary()

	var got Record
	if err := got.UnmarshalBinary(buf); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if !strings.HasPrefix(got.Title, "Café ") || !strings.HasSuffix(got.Title, " done") {
		t.Errorf("title = %q", got.Title)
	}
	if n, want := utf8.RuneCountInString(got.Title), utf8.RuneCountInString(rec.Title); n != want {
		t.Errorf("title %q has %d characters, want %d", got.Title, n, want)
	}
}

func TestLongAccentedTitleTruncatesOnCharacter(t *testing.T) {
	rec := Record{ToUser: 1, Title: strings.Repeat("é", 100)}
	buf, _ := rec.MarshalBinary()

	var got Record
	if err := got.UnmarshalBinary(buf); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if want := strings.Repeat("é", MaxTitleLen); got.Title != want {
		t.Errorf("title = %q, want %d x é", got.Title, MaxTitleLen)
	}
}

func TestUnmarshalShort(t *testing.T) {
	var r Record
	if err := r.UnmarshalBinary(make([]byte, RecordSize-1)); err != ErrShortRecord {
		t.Errorf("expected ErrShortRecord, got %v", err)
	}
}

func TestTombstone(t *testing.T) {
	if !(Record{FromUser: 3}).IsTombstone() {
		t.Error("zero recipient should be a tombstone")
	}
	if (Record{ToSystem: 2}).IsTombstone() {
		t.Error("remote recipient is not a tombstone")
	}
	if (Record{ToSystem: 2, ToUser: 7}).IsLocalTo(7) {
		t.Error("remote record reported as local inbox mail")
	}
}
