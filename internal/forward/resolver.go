// Package forward follows a user's single-hop mailbox redirection to the
// final delivery target, clearing links that point at themselves, at deleted
// accounts, or at systems no longer configured.
package forward

import (
	"errors"
	"fmt"

	"github.com/stlalpha/mailcore/internal/address"
	"github.com/stlalpha/mailcore/internal/config"
	"github.com/stlalpha/mailcore/internal/logging"
	"github.com/stlalpha/mailcore/internal/user"
)

var (
	ErrMailboxClosed = errors.New("forward: mailbox closed")
	ErrSelfForward   = errors.New("forward: cannot forward to self")
	ErrDeletedTarget = errors.New("forward: target account deleted or missing")
	ErrUnknownSystem = errors.New("forward: system not known on network")
	ErrNoEmail       = errors.New("forward: no internet address")
	ErrUnknownUser   = errors.New("forward: unknown user")
)

// TargetKind is the final destination class.
type TargetKind int

const (
	TargetInbox TargetKind = iota // the user's own inbox
	TargetLocal
	TargetRemote
	TargetInternet
	TargetClosed
)

func (k TargetKind) String() string {
	switch k {
	case TargetInbox:
		return "inbox"
	case TargetLocal:
		return "local"
	case TargetRemote:
		return "remote"
	case TargetInternet:
		return "internet"
	case TargetClosed:
		return "closed"
	default:
		return fmt.Sprintf("TargetKind(%d)", int(k))
	}
}

// ResetReason records why a stored link was cleared during resolution.
type ResetReason int

const (
	ResetNone ResetReason = iota
	ResetSelfForward
	ResetDeletedTarget
	ResetUnknownSystem
)

func (r ResetReason) String() string {
	switch r {
	case ResetNone:
		return ""
	case ResetSelfForward:
		return "forwarding to self"
	case ResetDeletedTarget:
		return "forward target no longer exists"
	case ResetUnknownSystem:
		return "forward system no longer on network"
	default:
		return fmt.Sprintf("ResetReason(%d)", int(r))
	}
}

// Target is where mail for a user is finally delivered.
type Target struct {
	Kind    TargetKind
	Address address.NetworkAddress
	Reset   ResetReason
}

// ForwardingReset reports whether resolution cleared a stale link; the
// affected user should be told.
func (t Target) ForwardingReset() bool { return t.Reset != ResetNone }

// Err returns ErrMailboxClosed for a closed target.
func (t Target) Err() error {
	if t.Kind == TargetClosed {
		return ErrMailboxClosed
	}
	return nil
}

// UserStore is the account access the resolver needs.
type UserStore interface {
	GetUserByID(id int) (*user.User, bool)
	UpdateUser(u *user.User) error
}

// Resolver resolves and validates forwarding links.
type Resolver struct {
	users          UserStore
	networks       *config.NetworkSet
	InternetSystem int
}

func NewResolver(users UserStore, networks *config.NetworkSet) *Resolver {
	return &Resolver{users: users, networks: networks, InternetSystem: address.InternetSystem}
}

// Link returns the decoded forwarding link of userID.
func (r *Resolver) Link(userID int) (Link, error) {
	u, ok := r.users.GetUserByID(userID)
	if !ok {
		return None, fmt.Errorf("%w: #%d", ErrUnknownUser, userID)
	}
	return r.decode(u), nil
}

func (r *Resolver) decode(u *user.User) Link {
	l := DecodeLink(u.ForwardUser, u.ForwardSystem, u.ForwardNetwork, r.InternetSystem)
	switch l.Kind {
	case LinkInternet:
		l.Email = u.Email
	case LinkRemote:
		l.Node = u.ForwardNode
	}
	return l
}

// Resolve follows userID's forwarding link one hop. A link that is no longer
// valid is cleared and the user's own inbox is returned with Reset set.
// The error is non-nil only if userID does not exist.
func (r *Resolver) Resolve(userID int) (Target, error) {
	u, ok := r.users.GetUserByID(userID)
	if !ok {
		return Target{}, fmt.Errorf("%w: #%d", ErrUnknownUser, userID)
	}
	inbox := Target{Kind: TargetInbox, Address: address.NetworkAddress{User: userID}}
	link := r.decode(u)

	if link.Closed {
		return Target{Kind: TargetClosed, Address: inbox.Address}, nil
	}

	switch link.Kind {
	case LinkInternet:
		if link.Email == "" {
			logging.Warn("User #%d forwards to the internet gateway but has no email address; delivering locally", userID)
			return inbox, nil
		}
		return Target{Kind: TargetInternet, Address: address.NetworkAddress{
			System:  r.InternetSystem,
			Network: link.Network,
			Email:   link.Email,
			Name:    link.Email,
		}}, nil

	case LinkRemote:
		n, ok := config.NetworkByNumber(r.networks.Get(), link.Network)
		if !ok || !address.Routable(n, link.System) {
			return r.reset(u, inbox, ResetUnknownSystem), nil
		}
		return Target{Kind: TargetRemote, Address: address.NetworkAddress{
			User:    link.User,
			System:  link.System,
			Network: link.Network,
			Node:    link.Node,
		}}, nil

	case LinkLocal:
		if link.User == userID {
			return r.reset(u, inbox, ResetSelfForward), nil
		}
		target, ok := r.users.GetUserByID(link.User)
		if !ok || target.IsDeleted() {
			return r.reset(u, inbox, ResetDeletedTarget), nil
		}
		return Target{Kind: TargetLocal, Address: address.NetworkAddress{User: link.User, Name: target.Handle}}, nil
	}

	return inbox, nil
}

// reset clears u's link and returns inbox tagged with why. A failed save is
// logged; the in-flight delivery still goes to the inbox.
func (r *Resolver) reset(u *user.User, inbox Target, why ResetReason) Target {
	logging.Info("Forwarding reset for user #%d (%s): %s", u.ID, u.Handle, why)
	u.ForwardUser, u.ForwardSystem, u.ForwardNetwork = 0, 0, 0
	u.ForwardNode = ""
	if err := r.users.UpdateUser(u); err != nil {
		logging.Error("Failed to clear forwarding for user #%d: %v", u.ID, err)
	}
	inbox.Reset = why
	return inbox
}

// SetForward validates link for userID and stores it. Nothing is written
// when validation fails.
func (r *Resolver) SetForward(userID int, link Link) error {
	u, ok := r.users.GetUserByID(userID)
	if !ok {
		return fmt.Errorf("%w: #%d", ErrUnknownUser, userID)
	}

	if err := r.validate(userID, link); err != nil {
		return err
	}

	u.ForwardUser, u.ForwardSystem, u.ForwardNetwork = link.Encode(r.InternetSystem)
	u.ForwardNode = ""
	if link.Kind == LinkRemote && !link.Closed {
		u.ForwardNode = link.Node
	}
	if link.Kind == LinkInternet && link.Email != "" {
		u.Email = link.Email
	}
	if err := r.users.UpdateUser(u); err != nil {
		return fmt.Errorf("forward: save user #%d: %w", userID, err)
	}
	logging.Info("User #%d forwarding set to %s", userID, link)
	return nil
}

func (r *Resolver) validate(userID int, link Link) error {
	if link.Closed {
		return nil
	}
	switch link.Kind {
	case LinkLocal:
		if link.User == userID {
			return ErrSelfForward
		}
		target, ok := r.users.GetUserByID(link.User)
		if !ok || target.IsDeleted() {
			return fmt.Errorf("%w: #%d", ErrDeletedTarget, link.User)
		}
	case LinkRemote:
		n, ok := config.NetworkByNumber(r.networks.Get(), link.Network)
		if !ok || !address.Routable(n, link.System) {
			return fmt.Errorf("%w: @%d net %d", ErrUnknownSystem, link.System, link.Network)
		}
	case LinkInternet:
		if link.Email == "" {
			u, _ := r.users.GetUserByID(userID)
			if u == nil || u.Email == "" {
				return ErrNoEmail
			}
		}
	}
	return nil
}
