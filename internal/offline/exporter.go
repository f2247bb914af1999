// Package offline packages a user's waiting mail for reading outside a live
// session. Gathering is read-only; records leave the mail file only when the
// caller commits a packet the user has downloaded.
package offline

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stlalpha/mailcore/internal/address"
	"github.com/stlalpha/mailcore/internal/config"
	"github.com/stlalpha/mailcore/internal/logging"
	"github.com/stlalpha/mailcore/internal/mailstore"
)

// EmailConference is the conference number mail is filed under.
const EmailConference = 0

// BodySource fetches message text for a record's body reference.
type BodySource interface {
	Body(ref mailstore.MessageRef) (string, error)
}

// Message is one exported mail message.
type Message struct {
	Number   int // 1-based position in the packet
	Entry    mailstore.Entry
	From     string
	To       string
	Subject  string
	Date     time.Time
	Body     string
	Personal bool
}

// IndexEntry points at a message header block in MESSAGES.DAT.
type IndexEntry struct {
	Block      uint32
	Conference uint8
}

// Packet is the gathered mail for one user.
type Packet struct {
	ID        uuid.UUID
	BBSID     string
	BoardName string
	User      uint16
	UserName  string
	Created   time.Time
	Messages  []Message
	Personal  []IndexEntry
	All       []IndexEntry
}

// UserNames maps local user numbers to names.
type UserNames interface {
	UserName(id int) string
}

// Exporter builds packets from the mail store.
type Exporter struct {
	store    *mailstore.Store
	resolver *address.Resolver
	networks *config.NetworkSet
	bodies   BodySource
	users    UserNames

	BoardName string
	BBSID     string
}

// NewExporter returns an Exporter. bodies may be nil, in which case messages
// are exported with empty text.
func NewExporter(store *mailstore.Store, resolver *address.Resolver, networks *config.NetworkSet, users UserNames, bodies BodySource) *Exporter {
	return &Exporter{
		store:     store,
		resolver:  resolver,
		networks:  networks,
		bodies:    bodies,
		users:     users,
		BoardName: "ViSiON/3 BBS",
		BBSID:     "VISION3",
	}
}

// GatherForUser collects every message waiting for userNum, with sender
// names resolved, and builds both index streams.
func (e *Exporter) GatherForUser(userNum uint16) (*Packet, error) {
	entries, err := e.store.ScanForRecipient(userNum).Collect()
	if err != nil {
		return nil, fmt.Errorf("offline: scan mail for user %d: %w", userNum, err)
	}

	userName := ""
	if e.users != nil {
		userName = e.users.UserName(int(userNum))
	}
	if userName == "" {
		userName = fmt.Sprintf("User #%d", userNum)
	}

	pkt := &Packet{
		ID:        uuid.New(),
		BBSID:     e.BBSID,
		BoardName: e.BoardName,
		User:      userNum,
		UserName:  userName,
		Created:   time.Now(),
	}

	nets := e.networks.Get()
	block := uint32(2) // block 1 is the packet header
	for i, entry := range entries {
		rec := entry.Record
		from := e.resolver.DisplayName(address.NetworkAddress{
			User:    int(rec.FromUser),
			System:  int(rec.FromSystem),
			Network: int(rec.Network),
		}, nets)

		msg := Message{
			Number:   i + 1,
			Entry:    entry,
			From:     from,
			To:       userName,
			Subject:  rec.Title,
			Date:     rec.Sent(),
			Body:     e.body(rec.Body),
			Personal: !rec.Status.Has(mailstore.StatusMultiMail),
		}
		pkt.Messages = append(pkt.Messages, msg)

		idx := IndexEntry{Block: block, Conference: EmailConference}
		pkt.All = append(pkt.All, idx)
		if msg.Personal {
			pkt.Personal = append(pkt.Personal, idx)
		}
		block += uint32(messageBlocks(msg))
	}

	logging.Info("Gathered %d messages for user %d (packet %s)", len(pkt.Messages), userNum, pkt.ID)
	return pkt, nil
}

func (e *Exporter) body(ref mailstore.MessageRef) string {
	if e.bodies == nil {
		return ""
	}
	text, err := e.bodies.Body(ref)
	if err != nil {
		logging.Warn("offline: message text %d/%d unavailable: %v", ref.StorageType, ref.StoredAs, err)
		return "[message text unavailable]"
	}
	return text
}

// Commit tombstones every record in pkt and compacts the mail file. Records
// moved by a compaction since gathering are still found; records no longer in
// the file are skipped and counted.
func (e *Exporter) Commit(pkt *Packet) (delivered, skipped int, err error) {
	for _, m := range pkt.Messages {
		if err := e.store.MarkDelivered(m.Entry.Locator); err != nil {
			if errors.Is(err, mailstore.ErrStaleLocator) {
				logging.Warn("offline: message %d of packet %s is no longer in the mail file", m.Number, pkt.ID)
				skipped++
				continue
			}
			return delivered, skipped, fmt.Errorf("offline: mark delivered: %w", err)
		}
		delivered++
	}

	if res, cerr := e.store.Compact(); cerr != nil {
		// Mail is already tombstoned; the next compaction picks it up.
		logging.Warn("offline: compaction after packet %s failed: %v", pkt.ID, cerr)
	} else {
		logging.Debug("offline: compacted %d records after packet %s", res.Removed, pkt.ID)
	}
	return delivered, skipped, nil
}
