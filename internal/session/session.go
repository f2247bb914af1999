// Package session ties the mail core together for one logged-in node. All
// state a session needs is carried in a Context; nothing is global.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/stlalpha/mailcore/internal/address"
	"github.com/stlalpha/mailcore/internal/chat"
	"github.com/stlalpha/mailcore/internal/config"
	"github.com/stlalpha/mailcore/internal/forward"
	"github.com/stlalpha/mailcore/internal/logging"
	"github.com/stlalpha/mailcore/internal/mailstore"
	"github.com/stlalpha/mailcore/internal/node"
	"github.com/stlalpha/mailcore/internal/user"
)

var (
	ErrNotLoggedIn   = errors.New("session: no user logged in")
	ErrNoSuchUser    = errors.New("session: no such local user")
	ErrUnknownSystem = errors.New("session: system not on network")
)

// Users is the account access a session needs.
type Users interface {
	forward.UserStore
	address.LocalDirectory
}

// Context is the state of one node's session.
type Context struct {
	Node           int
	User           *user.User
	CurrentNetwork int
	StartTime      time.Time
	Location       node.Location

	Config   config.SystemConfig
	Networks *config.NetworkSet
	Store    *mailstore.Store
	Dir      *node.Directory
	Users    Users
	Addr     *address.Resolver
	Fwd      *forward.Resolver
	Chat     *chat.Protocol
}

// New builds a session context for nodeID from shared components.
func New(nodeID int, cfg config.SystemConfig, networks *config.NetworkSet, store *mailstore.Store, dir *node.Directory, users Users) *Context {
	if cfg.InternetSystem <= 0 {
		cfg.InternetSystem = address.InternetSystem
	}
	addr := address.NewResolver(users)
	addr.InternetSystem = cfg.InternetSystem
	addr.GatewayNetwork = cfg.GatewayNetwork
	fwd := forward.NewResolver(users, networks)
	fwd.InternetSystem = cfg.InternetSystem
	return &Context{
		Node:     nodeID,
		Config:   cfg,
		Networks: networks,
		Store:    store,
		Dir:      dir,
		Users:    users,
		Addr:     addr,
		Fwd:      fwd,
		Chat:     chat.NewProtocol(dir, nodeID),
	}
}

// Begin logs u in on this node and marks the node online and available.
func (c *Context) Begin(u *user.User) error {
	c.User = u
	c.StartTime = time.Now()
	c.Location = node.LocMain
	if err := c.Dir.WriteStatus(c.Node, uint16(u.ID), c.Location, 0, node.FlagOnline|node.FlagAvailable); err != nil {
		return fmt.Errorf("session: node %d online: %w", c.Node, err)
	}
	logging.Info("Node %d: user #%d (%s) logged on", c.Node, u.ID, u.Handle)
	return nil
}

// SetLocation updates where the user is on this node, keeping the flags.
func (c *Context) SetLocation(loc node.Location, subLoc uint16) error {
	if c.User == nil {
		return ErrNotLoggedIn
	}
	cur, err := c.Dir.Read(c.Node)
	if err != nil {
		return err
	}
	c.Location = loc
	return c.Dir.WriteStatus(c.Node, uint16(c.User.ID), loc, subLoc, cur.Flags)
}

// Delivery describes a stored message.
type Delivery struct {
	Locator mailstore.Locator
	// To is the final recipient after forwarding.
	To address.NetworkAddress
	// Forwarded is set when To differs from the address the sender gave.
	Forwarded bool
	// ForwardingReset is set when a stale forward on the recipient was
	// cleared while sending; the recipient should be told.
	ForwardingReset bool
}

// Send resolves input, checks the recipient exists, follows forwarding and
// appends the message. Any failure to store the record is returned.
func (c *Context) Send(input, title string, body mailstore.MessageRef) (Delivery, error) {
	if c.User == nil {
		return Delivery{}, ErrNotLoggedIn
	}
	nets := c.Networks.Get()

	res := c.Addr.Resolve(input, nets, c.CurrentNetwork)
	if err := res.Err(); err != nil {
		return Delivery{}, err
	}
	to := res.Address

	var d Delivery
	switch {
	case to.IsLocal():
		u, ok := c.Users.GetUserByID(to.User)
		if !ok || u.IsDeleted() {
			return Delivery{}, fmt.Errorf("%w: #%d", ErrNoSuchUser, to.User)
		}
		target, err := c.Fwd.Resolve(to.User)
		if err != nil {
			return Delivery{}, err
		}
		if err := target.Err(); err != nil {
			return Delivery{}, err
		}
		d.ForwardingReset = target.ForwardingReset()
		if target.Kind != forward.TargetInbox {
			d.Forwarded = true
			to = target.Address
		}
	case to.System != c.Config.InternetSystem:
		n, ok := config.NetworkByNumber(nets, to.Network)
		if !ok || !address.Routable(n, to.System) {
			return Delivery{}, fmt.Errorf("%w: @%d net %d", ErrUnknownSystem, to.System, to.Network)
		}
	}
	d.To = to

	rec := mailstore.Record{
		ToUser:   uint16(to.User),
		ToSystem: uint16(to.System),
		FromUser: uint16(c.User.ID),
		DateSent: uint32(time.Now().Unix()),
		Status:   mailstore.StatusMail,
		Title:    title,
		Body:     body,
	}
	if !to.IsLocal() {
		rec.Status |= mailstore.StatusNewNet
		rec.Network = uint8(to.Network)
	}
	if d.Forwarded {
		rec.Status |= mailstore.StatusForwarded
	}

	loc, err := c.Store.Append(rec)
	if err != nil {
		return Delivery{}, fmt.Errorf("session: store mail for %q: %w", input, err)
	}
	d.Locator = loc
	logging.Debug("Node %d: user #%d sent %q to %s", c.Node, c.User.ID, title, c.Addr.DisplayName(to, nets))
	return d, nil
}

// Inbox returns the mail waiting for the logged-in user in file order.
func (c *Context) Inbox() ([]mailstore.Entry, error) {
	if c.User == nil {
		return nil, ErrNotLoggedIn
	}
	return c.Store.ScanForRecipient(uint16(c.User.ID)).Collect()
}

// End tombstones the delivered records, compacts the mail file if possible
// and marks the node offline. Records moved by another node's compaction are
// still found. Compaction failure is only logged.
func (c *Context) End(delivered []mailstore.Locator) error {
	var errs []error
	for _, loc := range delivered {
		if err := c.Store.MarkDelivered(loc); err != nil {
			if errors.Is(err, mailstore.ErrStaleLocator) {
				logging.Warn("Node %d: mail slot %d is no longer in the mail file", c.Node, loc.Index)
				continue
			}
			errs = append(errs, err)
		}
	}

	if len(delivered) > 0 {
		if _, err := c.Store.Compact(); err != nil {
			logging.Warn("Node %d: compaction at logoff failed: %v", c.Node, err)
		}
	}

	if err := c.Dir.ClearStatus(c.Node); err != nil {
		errs = append(errs, fmt.Errorf("session: node %d offline: %w", c.Node, err))
	}
	if c.User != nil {
		logging.Info("Node %d: user #%d (%s) logged off after %s", c.Node, c.User.ID, c.User.Handle, time.Since(c.StartTime).Round(time.Second))
	}
	c.User = nil
	return errors.Join(errs...)
}

// Poll drains this node's message queue and returns the lines to show.
func (c *Context) Poll() ([]string, error) {
	msgs, err := c.Chat.Poll()
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, chat.Format(m))
	}
	return lines, nil
}
