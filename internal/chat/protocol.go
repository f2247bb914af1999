// Package chat carries chat requests, pages and announcements between node
// processes through the instance directory.
package chat

import (
	"errors"
	"fmt"

	"github.com/stlalpha/mailcore/internal/logging"
	"github.com/stlalpha/mailcore/internal/node"
)

// AllNodes addresses a chat request to every available node.
const AllNodes = 0

var (
	ErrNoOperatorAvailable = errors.New("chat: no operator available")
	ErrNodeOffline         = errors.New("chat: node is not online")
)

// Protocol is one node's view of the chat protocol.
type Protocol struct {
	dir  *node.Directory
	self int
}

// NewProtocol returns the protocol for node self.
func NewProtocol(dir *node.Directory, self int) *Protocol {
	return &Protocol{dir: dir, self: self}
}

// RequestChat queues a chat request to target, or to every node available
// for chat when target is AllNodes. It returns the nodes that were asked.
func (p *Protocol) RequestChat(target int, text string) ([]int, error) {
	online, err := p.dir.Online(true)
	if err != nil {
		return nil, err
	}

	var targets []int
	for _, s := range online {
		n := int(s.Node)
		if n == p.self || !s.Flags.Has(node.FlagAvailable) {
			continue
		}
		if target != AllNodes && n != target {
			continue
		}
		targets = append(targets, n)
	}
	if len(targets) == 0 {
		return nil, ErrNoOperatorAvailable
	}

	msg := node.NewText(node.KindChatRequest, p.self, text)
	var sent []int
	var errs []error
	for _, n := range targets {
		if err := p.dir.SendToInstance(n, msg); err != nil {
			errs = append(errs, fmt.Errorf("node %d: %w", n, err))
			continue
		}
		sent = append(sent, n)
	}
	logging.Info("Node %d requested chat with nodes %v", p.self, sent)
	return sent, errors.Join(errs...)
}

// ToggleAvailability flips this node's available-for-chat flag and returns
// the new state.
func (p *Protocol) ToggleAvailability() (bool, error) {
	s, err := p.dir.UpdateFlags(p.self, func(f node.Flags) node.Flags { return f ^ node.FlagAvailable })
	if err != nil {
		return false, err
	}
	return s.Flags.Has(node.FlagAvailable), nil
}

// ToggleInvisible flips this node's invisible flag and returns the new state.
func (p *Protocol) ToggleInvisible() (bool, error) {
	s, err := p.dir.UpdateFlags(p.self, func(f node.Flags) node.Flags { return f ^ node.FlagInvisible })
	if err != nil {
		return false, err
	}
	return s.Flags.Has(node.FlagInvisible), nil
}

// Announce broadcasts a system announcement to every node.
func (p *Protocol) Announce(text string) error {
	logging.Info("Node %d announcement: %s", p.self, text)
	return p.dir.Broadcast(node.NewText(node.KindSystem, p.self, text))
}

// Page sends a line of text to one online node.
func (p *Protocol) Page(target int, text string) error {
	s, err := p.dir.Read(target)
	if err != nil {
		return err
	}
	if !s.Online() {
		return fmt.Errorf("%w: %d", ErrNodeOffline, target)
	}
	return p.dir.SendToInstance(target, node.NewText(node.KindText, p.self, text))
}

// Poll drains this node's queue.
func (p *Protocol) Poll() ([]node.Message, error) {
	return p.dir.PollMessages(p.self)
}

// Format renders a received message as one display line.
func Format(m node.Message) string {
	switch m.Kind {
	case node.KindChatRequest:
		if m.Text() == "" {
			return fmt.Sprintf("Node %d is requesting chat.", m.From)
		}
		return fmt.Sprintf("Node %d is requesting chat: %s", m.From, m.Text())
	case node.KindSystem:
		return "*** " + m.Text()
	default:
		if m.From == 0 {
			return m.Text()
		}
		return fmt.Sprintf("Node %d: %s", m.From, m.Text())
	}
}
