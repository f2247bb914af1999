// Package address turns free-form recipient input into a structured network
// address, and maps stored addresses back to display names.
//
// Accepted grammar is who[@where]:
//
//	who   = [#]digits | Z:N/N[.P] | name
//	where = Z:N/N[.P] | system[.network] | network | internet address
//
// Networks are designated by number or name. Without an @where suffix the
// caller's current network is used for numeric and FTN input.
package address

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/stlalpha/mailcore/internal/config"
	"github.com/stlalpha/mailcore/internal/logging"
)

const (
	// InternetSystem is the system number meaning "internet gateway".
	InternetSystem = 32767
	// SynthesizedFTNSystem is assigned to FTN nodes missing from a network's node table.
	SynthesizedFTNSystem = 32765
)

var (
	ErrNotFound           = errors.New("address: not found")
	ErrAmbiguous          = errors.New("address: ambiguous")
	ErrNetworkUnreachable = errors.New("address: network unreachable")
)

// Kind discriminates a Result.
type Kind int

const (
	KindResolved Kind = iota
	KindAmbiguous
	KindNotFound
	KindUnreachable
)

func (k Kind) String() string {
	switch k {
	case KindResolved:
		return "resolved"
	case KindAmbiguous:
		return "ambiguous"
	case KindNotFound:
		return "not found"
	case KindUnreachable:
		return "unreachable"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// NetworkAddress is a resolved mail target. System 0 is the local system;
// User 0 means the user is not known by number.
type NetworkAddress struct {
	User    int
	System  int
	Network int
	Name    string
	Node    string // FTN address text, FTN networks only
	Email   string // internet gateway only
}

// IsLocal reports whether the address is on this system.
func (a NetworkAddress) IsLocal() bool { return a.System == 0 }

// Result is the outcome of Resolve. Address is set when Kind is
// KindResolved; Candidates holds the tied addresses when KindAmbiguous.
type Result struct {
	Kind       Kind
	Input      string
	Address    NetworkAddress
	Candidates []NetworkAddress
}

// Err maps the result kind to its sentinel error, nil when resolved.
func (r Result) Err() error {
	switch r.Kind {
	case KindResolved:
		return nil
	case KindAmbiguous:
		return fmt.Errorf("%w: %q matches %d addresses", ErrAmbiguous, r.Input, len(r.Candidates))
	case KindUnreachable:
		return fmt.Errorf("%w: %q", ErrNetworkUnreachable, r.Input)
	default:
		return fmt.Errorf("%w: %q", ErrNotFound, r.Input)
	}
}

// LocalDirectory supplies the names of local accounts. Entries have System 0.
type LocalDirectory interface {
	NameEntries() []config.DirectoryEntry
}

// Resolver resolves addresses against a local user directory and the
// configured networks.
type Resolver struct {
	local          LocalDirectory
	InternetSystem int
	// GatewayNetwork picks among several internet networks; 0 takes the first.
	GatewayNetwork int
}

func NewResolver(local LocalDirectory) *Resolver {
	return &Resolver{local: local, InternetSystem: InternetSystem}
}

// NetworkMatch is a network that can carry mail for a given input, with the
// system it would be routed to.
type NetworkMatch struct {
	Network     config.NetworkConfig
	System      int
	Node        string
	DisplayName string
}

// FilterNetworks narrows nets to those that can carry mail for text.
// With an explicit system number, a network survives if that system is in
// its routing table. If text is an FTN address, FTN networks whose zone
// matches survive, routed through the node table or SynthesizedFTNSystem.
// Otherwise every non-internet network survives with System 0.
func FilterNetworks(nets []config.NetworkConfig, text string, explicitSystem int) []NetworkMatch {
	var out []NetworkMatch

	if explicitSystem > 0 {
		for _, n := range nets {
			name, ok := n.SystemName(explicitSystem)
			if !ok {
				continue
			}
			out = append(out, NetworkMatch{
				Network:     n,
				System:      explicitSystem,
				Node:        nodeForSystem(n, explicitSystem),
				DisplayName: fmt.Sprintf("%s @%d [%s]", name, explicitSystem, n.Name),
			})
		}
		return out
	}

	if ftn, err := ParseFTN(text); err == nil {
		for _, n := range nets {
			if !n.IsFTN() || n.Zone != ftn.Zone {
				continue
			}
			system := systemForNode(n, ftn)
			display := fmt.Sprintf("%s [%s]", ftn, n.Name)
			if name, ok := n.SystemName(system); ok {
				display = fmt.Sprintf("%s %s [%s]", name, ftn, n.Name)
			}
			out = append(out, NetworkMatch{
				Network:     n,
				System:      system,
				Node:        ftn.String(),
				DisplayName: display,
			})
		}
		return out
	}

	for _, n := range nets {
		if strings.EqualFold(n.Type, config.NetTypeInternet) {
			continue
		}
		out = append(out, NetworkMatch{Network: n, DisplayName: n.Name})
	}
	return out
}

func systemForNode(n config.NetworkConfig, addr FTNAddress) int {
	for _, node := range n.Nodes {
		parsed, err := ParseFTN(node.Address)
		if err != nil {
			continue
		}
		if parsed == addr {
			return node.System
		}
	}
	return SynthesizedFTNSystem
}

// Routable reports whether mail for system can leave on n. FTN networks
// also carry their node-table systems and SynthesizedFTNSystem.
func Routable(n config.NetworkConfig, system int) bool {
	if n.HasSystem(system) {
		return true
	}
	if !n.IsFTN() {
		return false
	}
	return system == SynthesizedFTNSystem || nodeForSystem(n, system) != ""
}

func nodeForSystem(n config.NetworkConfig, system int) string {
	for _, node := range n.Nodes {
		if node.System == system {
			return node.Address
		}
	}
	return ""
}

// Resolve maps input to an address. current is the caller's selected
// network number.
func (r *Resolver) Resolve(input string, nets []config.NetworkConfig, current int) Result {
	text := strings.TrimSpace(input)
	if text == "" {
		return Result{Kind: KindNotFound, Input: input}
	}

	var res Result
	if at := strings.LastIndex(text, "@"); at >= 0 {
		res = r.resolvePinned(strings.TrimSpace(text[:at]), strings.TrimSpace(text[at+1:]), text, nets, current)
	} else {
		res = r.resolveUnpinned(text, nets, current)
	}
	res.Input = input
	if res.Kind == KindResolved && res.Address.Name == "" {
		res.Address.Name = r.DisplayName(res.Address, nets)
	}
	logging.Debug("address: %q -> %s %+v", input, res.Kind, res.Address)
	return res
}

func (r *Resolver) resolveUnpinned(who string, nets []config.NetworkConfig, current int) Result {
	if num, ok := userNumber(who); ok {
		return resolved(NetworkAddress{User: num, System: 0, Network: current})
	}

	if IsFTN(who) {
		matches := FilterNetworks(nets, who, 0)
		return pickNetwork(matches, 0, current, false)
	}

	// Local and network names compete on score alone; an exact local name
	// tied with an exact name in a network directory is ambiguous.
	var scored []scoredAddress
	if r.local != nil {
		for _, e := range r.local.NameEntries() {
			if s := matchScore(e.Name, who); s > 0 {
				scored = append(scored, scoredAddress{s, NetworkAddress{User: e.User, System: 0, Network: current, Name: e.Name}})
			}
		}
	}
	for _, m := range FilterNetworks(nets, who, 0) {
		scored = append(scored, scoreDirectory(m.Network, who, -1)...)
	}
	return best(scored)
}

func (r *Resolver) resolvePinned(who, where, text string, nets []config.NetworkConfig, current int) Result {
	if who == "" || where == "" {
		return Result{Kind: KindNotFound}
	}

	// where = FTN address
	if IsFTN(where) {
		matches := FilterNetworks(nets, where, 0)
		if len(matches) == 0 {
			return Result{Kind: KindUnreachable}
		}
		if num, ok := userNumber(who); ok {
			return pickNetwork(matches, num, current, false)
		}
		var scored []scoredAddress
		for _, m := range matches {
			for _, sa := range scoreDirectory(m.Network, who, m.System) {
				sa.addr.Node = m.Node
				scored = append(scored, sa)
			}
		}
		if len(scored) == 0 {
			// FTN mail is addressed by name; an unlisted name still routes.
			res := pickNetwork(matches, 0, current, false)
			if res.Kind == KindResolved {
				res.Address.Name = who
			}
			return res
		}
		return best(scored)
	}

	// where = system
	if system, ok := userNumber(where); ok {
		matches := FilterNetworks(nets, "", system)
		if len(matches) == 0 {
			return Result{Kind: KindUnreachable}
		}
		if num, ok := userNumber(who); ok {
			return pickNetwork(matches, num, current, false)
		}
		var scored []scoredAddress
		for _, m := range matches {
			scored = append(scored, scoreDirectory(m.Network, who, system)...)
		}
		return best(scored)
	}

	// where = system.network
	if dot := strings.Index(where, "."); dot > 0 {
		if system, ok := userNumber(where[:dot]); ok {
			n, found := config.FindNetwork(nets, where[dot+1:])
			if !found || !n.HasSystem(system) {
				return Result{Kind: KindUnreachable}
			}
			matches := FilterNetworks([]config.NetworkConfig{n}, "", system)
			if num, ok := userNumber(who); ok {
				return pickNetwork(matches, num, current, true)
			}
			return best(scoreDirectory(n, who, system))
		}
	}

	// where = network
	if n, found := config.FindNetwork(nets, where); found {
		if _, ok := userNumber(who); ok {
			// A user number means nothing without a system.
			return Result{Kind: KindNotFound}
		}
		if IsFTN(who) && n.IsFTN() {
			return pickNetwork(FilterNetworks([]config.NetworkConfig{n}, who, 0), 0, current, true)
		}
		return best(scoreDirectory(n, who, -1))
	}

	// Anything else with a dot goes out through the internet gateway.
	if strings.Contains(where, ".") {
		if n, ok := r.gateway(nets); ok {
			return resolved(NetworkAddress{
				System:  r.InternetSystem,
				Network: n.Number,
				Name:    text,
				Email:   text,
			})
		}
	}
	return Result{Kind: KindUnreachable}
}

// gateway returns the internet network numbered GatewayNetwork, or the first
// internet network when that one is not configured.
func (r *Resolver) gateway(nets []config.NetworkConfig) (config.NetworkConfig, bool) {
	var first config.NetworkConfig
	found := false
	for _, n := range nets {
		if !strings.EqualFold(n.Type, config.NetTypeInternet) {
			continue
		}
		if r.GatewayNetwork != 0 && n.Number == r.GatewayNetwork {
			return n, true
		}
		if !found {
			first, found = n, true
		}
	}
	return first, found
}

// pickNetwork chooses among matches for a numeric or FTN target. A single
// match resolves; otherwise the current network breaks the tie.
func pickNetwork(matches []NetworkMatch, user, current int, pinned bool) Result {
	if len(matches) == 0 {
		return Result{Kind: KindUnreachable}
	}
	toAddr := func(m NetworkMatch) NetworkAddress {
		return NetworkAddress{User: user, System: m.System, Network: m.Network.Number, Node: m.Node}
	}
	if len(matches) == 1 || pinned {
		return resolved(toAddr(matches[0]))
	}
	for _, m := range matches {
		if m.Network.Number == current {
			return resolved(toAddr(m))
		}
	}
	res := Result{Kind: KindAmbiguous}
	for _, m := range matches {
		a := toAddr(m)
		a.Name = m.DisplayName
		res.Candidates = append(res.Candidates, a)
	}
	return res
}

type scoredAddress struct {
	score int
	addr  NetworkAddress
}

// scoreDirectory scores every directory entry of n against name. system < 0
// means any system.
func scoreDirectory(n config.NetworkConfig, name string, system int) []scoredAddress {
	var out []scoredAddress
	for _, e := range n.Directory {
		if system >= 0 && e.System != system {
			continue
		}
		if s := matchScore(e.Name, name); s > 0 {
			out = append(out, scoredAddress{s, NetworkAddress{
				User:    e.User,
				System:  e.System,
				Network: n.Number,
				Name:    e.Name,
				Node:    nodeForSystem(n, e.System),
			}})
		}
	}
	return out
}

// best keeps the highest-scoring distinct addresses. More than one is ambiguous.
func best(scored []scoredAddress) Result {
	if len(scored) == 0 {
		return Result{Kind: KindNotFound}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	top := scored[0].score

	type key struct{ user, system, network int }
	seen := make(map[key]bool)
	var winners []NetworkAddress
	for _, sa := range scored {
		if sa.score != top {
			break
		}
		k := key{sa.addr.User, sa.addr.System, sa.addr.Network}
		if seen[k] {
			continue
		}
		seen[k] = true
		winners = append(winners, sa.addr)
	}
	if len(winners) == 1 {
		return resolved(winners[0])
	}
	return Result{Kind: KindAmbiguous, Candidates: winners}
}

func resolved(a NetworkAddress) Result {
	return Result{Kind: KindResolved, Address: a}
}

// matchScore: exact 3, prefix 2, substring 1, case-insensitive.
func matchScore(candidate, query string) int {
	c := strings.ToLower(strings.TrimSpace(candidate))
	q := strings.ToLower(strings.TrimSpace(query))
	switch {
	case c == "" || q == "":
		return 0
	case c == q:
		return 3
	case strings.HasPrefix(c, q):
		return 2
	case strings.Contains(c, q):
		return 1
	default:
		return 0
	}
}

// userNumber parses "[#]digits".
func userNumber(s string) (int, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > 65535 {
		return 0, false
	}
	return n, true
}

// DisplayName renders addr for people, looking names up in the local
// directory and the network tables.
func (r *Resolver) DisplayName(addr NetworkAddress, nets []config.NetworkConfig) string {
	if addr.System == 0 {
		if r.local != nil {
			for _, e := range r.local.NameEntries() {
				if e.User == addr.User && e.System == 0 {
					return fmt.Sprintf("%s #%d", e.Name, addr.User)
				}
			}
		}
		return fmt.Sprintf("#%d", addr.User)
	}

	if addr.System == r.InternetSystem {
		if addr.Email != "" {
			return addr.Email
		}
		return "Internet"
	}

	n, ok := config.NetworkByNumber(nets, addr.Network)
	if !ok {
		return fmt.Sprintf("#%d @%d", addr.User, addr.System)
	}

	who := ""
	for _, e := range n.Directory {
		if e.User == addr.User && e.System == addr.System {
			who = e.Name
			break
		}
	}
	if who == "" && addr.User > 0 {
		who = fmt.Sprintf("#%d", addr.User)
	} else if addr.User > 0 {
		who = fmt.Sprintf("%s #%d", who, addr.User)
	}
	if who == "" {
		who = addr.Name
	}

	if n.IsFTN() {
		node := addr.Node
		if node == "" {
			node = nodeForSystem(n, addr.System)
		}
		if node != "" {
			return strings.TrimSpace(fmt.Sprintf("%s @%s [%s]", who, node, n.Name))
		}
	}

	where := fmt.Sprintf("@%d", addr.System)
	if sys, ok := n.SystemName(addr.System); ok {
		where = fmt.Sprintf("@%d (%s)", addr.System, sys)
	}
	return strings.TrimSpace(fmt.Sprintf("%s %s [%s]", who, where, n.Name))
}
