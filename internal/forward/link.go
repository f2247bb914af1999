package forward

import (
	"fmt"

	"github.com/stlalpha/mailcore/internal/address"
)

// ClosedUser in the forward-user field, with forward-system 0, marks a
// closed mailbox.
const ClosedUser = 65535

// LinkKind says where a user's mail is redirected.
type LinkKind int

const (
	LinkNone LinkKind = iota
	LinkLocal
	LinkRemote
	LinkInternet
)

func (k LinkKind) String() string {
	switch k {
	case LinkNone:
		return "none"
	case LinkLocal:
		return "local"
	case LinkRemote:
		return "remote"
	case LinkInternet:
		return "internet"
	default:
		return fmt.Sprintf("LinkKind(%d)", int(k))
	}
}

// Link is a user's single-hop forwarding setting. Closed may be set only
// with LinkNone; the stored encoding cannot carry both.
type Link struct {
	Kind    LinkKind
	User    int    // LinkLocal, LinkRemote
	System  int    // LinkRemote
	Network int    // LinkRemote, LinkInternet
	Node    string // LinkRemote on an FTN network
	Email   string // LinkInternet; persisted as the user's email address
	Closed  bool
}

// None is the empty link.
var None = Link{}

// Closed is a closed mailbox.
var Closed = Link{Closed: true}

// LocalLink redirects to another local account.
func LocalLink(user int) Link { return Link{Kind: LinkLocal, User: user} }

// RemoteLink redirects to user on a remote system.
func RemoteLink(user, system, network int) Link {
	return Link{Kind: LinkRemote, User: user, System: system, Network: network}
}

// InternetLink redirects through the internet gateway on network.
func InternetLink(email string, network int) Link {
	return Link{Kind: LinkInternet, Network: network, Email: email}
}

// LinkFor converts a resolved address into a link.
func LinkFor(a address.NetworkAddress, internetSystem int) Link {
	switch {
	case a.System == internetSystem:
		return InternetLink(a.Email, a.Network)
	case a.System != 0:
		l := RemoteLink(a.User, a.System, a.Network)
		l.Node = a.Node
		return l
	case a.User != 0:
		return LocalLink(a.User)
	default:
		return None
	}
}

// DecodeLink builds a Link from the raw stored integers.
func DecodeLink(user, system, network, internetSystem int) Link {
	switch {
	case user == ClosedUser && system == 0:
		return Closed
	case system == internetSystem:
		return Link{Kind: LinkInternet, Network: network}
	case system != 0:
		return RemoteLink(user, system, network)
	case user != 0:
		return LocalLink(user)
	default:
		return None
	}
}

// Encode returns the raw stored integers for l.
func (l Link) Encode(internetSystem int) (user, system, network int) {
	if l.Closed {
		return ClosedUser, 0, 0
	}
	switch l.Kind {
	case LinkLocal:
		return l.User, 0, 0
	case LinkRemote:
		return l.User, l.System, l.Network
	case LinkInternet:
		return 0, internetSystem, l.Network
	default:
		return 0, 0, 0
	}
}

func (l Link) String() string {
	switch {
	case l.Closed:
		return "closed"
	case l.Kind == LinkLocal:
		return fmt.Sprintf("local #%d", l.User)
	case l.Kind == LinkRemote && l.Node != "":
		return fmt.Sprintf("#%d @%s net %d", l.User, l.Node, l.Network)
	case l.Kind == LinkRemote:
		return fmt.Sprintf("#%d @%d net %d", l.User, l.System, l.Network)
	case l.Kind == LinkInternet:
		if l.Email != "" {
			return "internet " + l.Email
		}
		return "internet"
	default:
		return "none"
	}
}
