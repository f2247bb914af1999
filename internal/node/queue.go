package node

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/stlalpha/mailcore/internal/filelock"
	"github.com/stlalpha/mailcore/internal/logging"
)

// Kind tags an instance message.
type Kind uint8

const (
	KindText        Kind = 1
	KindSystem      Kind = 2
	KindChatRequest Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindSystem:
		return "system"
	case KindChatRequest:
		return "chat request"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

const (
	msgHeaderSize = 5 // kind u8, from u16, length u16
	MaxPayload    = 0xFFFF
)

var ErrPayloadTooLarge = errors.New("node: message payload too large")

// Message is one queued instance message. From is the sending node id,
// 0 for tools outside any session.
type Message struct {
	Kind    Kind
	From    uint16
	Payload []byte
}

// NewText builds a message carrying text.
func NewText(kind Kind, from int, text string) Message {
	return Message{Kind: kind, From: uint16(from), Payload: []byte(text)}
}

// Text returns the payload as a string.
func (m Message) Text() string { return string(m.Payload) }

func (m Message) encode() ([]byte, error) {
	if len(m.Payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(m.Payload))
	}
	buf := make([]byte, msgHeaderSize+len(m.Payload))
	buf[0] = byte(m.Kind)
	binary.LittleEndian.PutUint16(buf[1:], m.From)
	binary.LittleEndian.PutUint16(buf[3:], uint16(len(m.Payload)))
	copy(buf[msgHeaderSize:], m.Payload)
	return buf, nil
}

// decodeMessages parses a queue file. A truncated last record is returned as
// a count of leftover bytes.
func decodeMessages(data []byte) ([]Message, int) {
	var out []Message
	for len(data) >= msgHeaderSize {
		n := int(binary.LittleEndian.Uint16(data[3:]))
		if len(data) < msgHeaderSize+n {
			break
		}
		payload := make([]byte, n)
		copy(payload, data[msgHeaderSize:msgHeaderSize+n])
		out = append(out, Message{
			Kind:    Kind(data[0]),
			From:    binary.LittleEndian.Uint16(data[1:]),
			Payload: payload,
		})
		data = data[msgHeaderSize+n:]
	}
	return out, len(data)
}

// QueuePath returns the queue file for node.
func (d *Directory) QueuePath(node int) string {
	return filepath.Join(d.queueDir, fmt.Sprintf("NODE%d.MSG", node))
}

// SendToInstance appends msg to node's queue.
func (d *Directory) SendToInstance(node int, msg Message) error {
	if err := d.checkNode(node); err != nil {
		return err
	}
	buf, err := msg.encode()
	if err != nil {
		return err
	}
	path := d.QueuePath(node)
	return filelock.With(d.fs, path, func() error {
		f, err := d.fs.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("%w: open %s: %w", ErrStorage, path, err)
		}
		if _, err := f.Write(buf); err != nil {
			f.Close()
			return fmt.Errorf("%w: append %s: %w", ErrStorage, path, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("%w: close %s: %w", ErrStorage, path, err)
		}
		logging.Debug("node: queued %s from %d to node %d (%d bytes)", msg.Kind, msg.From, node, len(msg.Payload))
		return nil
	})
}

// Broadcast appends msg to every node's queue. Failures for individual
// nodes are joined; the other nodes still get the message.
func (d *Directory) Broadcast(msg Message) error {
	var errs []error
	for n := 1; n <= d.maxNodes; n++ {
		if err := d.SendToInstance(n, msg); err != nil {
			errs = append(errs, fmt.Errorf("node %d: %w", n, err))
		}
	}
	return errors.Join(errs...)
}

// PollMessages removes and returns everything queued for node, oldest first.
func (d *Directory) PollMessages(node int) ([]Message, error) {
	if err := d.checkNode(node); err != nil {
		return nil, err
	}
	path := d.QueuePath(node)
	var msgs []Message
	err := filelock.With(d.fs, path, func() error {
		f, err := d.fs.OpenFile(path, os.O_RDWR, 0644)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("%w: open %s: %w", ErrStorage, path, err)
		}
		defer f.Close()

		data, err := afero.ReadAll(f)
		if err != nil {
			return fmt.Errorf("%w: read %s: %w", ErrStorage, path, err)
		}
		if len(data) == 0 {
			return nil
		}
		var leftover int
		msgs, leftover = decodeMessages(data)
		if leftover > 0 {
			logging.Warn("node: discarding %d bytes of truncated message in %s", leftover, path)
		}
		if err := f.Truncate(0); err != nil {
			msgs = nil
			return fmt.Errorf("%w: truncate %s: %w", ErrStorage, path, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// Pending reports how many bytes are queued for node without consuming them.
func (d *Directory) Pending(node int) (int64, error) {
	if err := d.checkNode(node); err != nil {
		return 0, err
	}
	info, err := d.fs.Stat(d.QueuePath(node))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: stat queue %d: %w", ErrStorage, node, err)
	}
	return info.Size(), nil
}
