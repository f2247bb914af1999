package offline

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/stlalpha/mailcore/internal/mailstore"
)

const (
	blockSize   = 128
	lineBreak   = 0xE3
	activeFlag  = 0xE1
	ndxRecord   = 5
	headerField = 25
)

var cp437 = encoding.ReplaceUnsupported(charmap.CodePage437.NewEncoder())

func toCP437(s string) []byte {
	out, err := cp437.Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return out
}

// encodeBody converts text to CP437 with QWK line breaks.
func encodeBody(text string) []byte {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return nil
	}
	raw := toCP437(text)
	out := bytes.ReplaceAll(raw, []byte{'\n'}, []byte{lineBreak})
	return append(out, lineBreak)
}

// messageBlocks is the header block plus the padded body blocks.
func messageBlocks(m Message) int {
	n := len(encodeBody(m.Body))
	return 1 + (n+blockSize-1)/blockSize
}

// field writes s left-justified into dst, space padded.
func field(dst []byte, s string) {
	for i := range dst {
		dst[i] = ' '
	}
	copy(dst, toCP437(s))
}

func messageHeader(m Message) []byte {
	h := make([]byte, blockSize)
	status := byte('+')
	if m.Entry.Record.Status.Has(mailstore.StatusSeen) {
		status = '*'
	}
	h[0] = status
	field(h[1:8], strconv.Itoa(m.Number))
	field(h[8:16], m.Date.Format("01-02-06"))
	field(h[16:21], m.Date.Format("15:04"))
	field(h[21:21+headerField], strings.ToUpper(m.To))
	field(h[46:46+headerField], strings.ToUpper(m.From))
	field(h[71:71+headerField], m.Subject)
	field(h[96:108], "")
	field(h[108:116], "")
	field(h[116:122], strconv.Itoa(messageBlocks(m)))
	h[122] = activeFlag
	binary.LittleEndian.PutUint16(h[123:], EmailConference)
	binary.LittleEndian.PutUint16(h[125:], uint16(m.Number))
	h[127] = ' '
	return h
}

func messagesDAT(pkt *Packet) []byte {
	var buf bytes.Buffer
	first := make([]byte, blockSize)
	field(first, "Produced by "+pkt.BoardName)
	buf.Write(first)

	for _, m := range pkt.Messages {
		buf.Write(messageHeader(m))
		body := encodeBody(m.Body)
		if pad := len(body) % blockSize; pad != 0 {
			body = append(body, bytes.Repeat([]byte{' '}, blockSize-pad)...)
		}
		buf.Write(body)
	}
	return buf.Bytes()
}

func controlDAT(pkt *Packet) []byte {
	lines := []string{
		pkt.BoardName,
		"",
		"",
		"Sysop",
		"00000," + pkt.BBSID,
		pkt.Created.Format("01-02-2006,15:04:05"),
		strings.ToUpper(pkt.UserName),
		"",
		"0",
		strconv.Itoa(len(pkt.Messages)),
		"0",
		strconv.Itoa(EmailConference),
		"E-Mail",
		"HELLO",
		"NEWS",
		"GOODBYE",
	}
	var buf bytes.Buffer
	for _, l := range lines {
		buf.Write(toCP437(l))
		buf.WriteString("\r\n")
	}
	return buf.Bytes()
}

// ToMSBIN converts v to the 4-byte Microsoft Binary Format single used in
// QWK index files.
func ToMSBIN(v float32) [4]byte {
	var out [4]byte
	if v == 0 {
		return out
	}
	bits := math.Float32bits(v)
	sign := byte(bits >> 31)
	exp := byte(bits>>23) + 2
	mant := bits & 0x7FFFFF
	out[0] = byte(mant)
	out[1] = byte(mant >> 8)
	out[2] = byte(mant>>16)&0x7F | sign<<7
	out[3] = exp
	return out
}

// FromMSBIN is the inverse of ToMSBIN.
func FromMSBIN(b [4]byte) float32 {
	if b[3] == 0 {
		return 0
	}
	sign := uint32(b[2]>>7) << 31
	exp := uint32(b[3]-2) << 23
	mant := uint32(b[2]&0x7F)<<16 | uint32(b[1])<<8 | uint32(b[0])
	return math.Float32frombits(sign | exp | mant)
}

func indexFile(entries []IndexEntry) []byte {
	out := make([]byte, 0, len(entries)*ndxRecord)
	for _, e := range entries {
		f := ToMSBIN(float32(e.Block))
		out = append(out, f[:]...)
		out = append(out, e.Conference)
	}
	return out
}

// WritePacket writes pkt as a QWK zip to w.
func WritePacket(w io.Writer, pkt *Packet) error {
	zw := zip.NewWriter(w)
	files := []struct {
		name string
		data []byte
	}{
		{"CONTROL.DAT", controlDAT(pkt)},
		{"MESSAGES.DAT", messagesDAT(pkt)},
		{"PERSONAL.NDX", indexFile(pkt.Personal)},
		{fmt.Sprintf("%03d.NDX", EmailConference), indexFile(pkt.All)},
	}
	for _, f := range files {
		header := &zip.FileHeader{Name: f.name, Method: zip.Deflate, Modified: pkt.Created}
		fw, err := zw.CreateHeader(header)
		if err != nil {
			zw.Close()
			return fmt.Errorf("offline: add %s: %w", f.name, err)
		}
		if _, err := fw.Write(f.data); err != nil {
			zw.Close()
			return fmt.Errorf("offline: write %s: %w", f.name, err)
		}
	}
	if err := zw.SetComment("packet " + pkt.ID.String()); err != nil {
		zw.Close()
		return fmt.Errorf("offline: set comment: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("offline: close zip writer: %w", err)
	}
	return nil
}

// PacketName is the conventional file name for pkt.
func PacketName(pkt *Packet) string {
	return strings.ToUpper(pkt.BBSID) + ".QWK"
}

// WritePacketFile writes pkt to path through a temporary file, so a partial
// packet is never left at path.
func WritePacketFile(fs afero.Fs, path string, pkt *Packet) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("offline: create packet dir: %w", err)
	}
	tmpPath := path + ".tmp"
	f, err := fs.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("offline: create packet file: %w", err)
	}
	if err := WritePacket(f, pkt); err != nil {
		f.Close()
		fs.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		fs.Remove(tmpPath)
		return fmt.Errorf("offline: close packet file: %w", err)
	}
	if err := fs.Rename(tmpPath, path); err != nil {
		fs.Remove(tmpPath)
		return fmt.Errorf("offline: rename packet: %w", err)
	}
	return nil
}
