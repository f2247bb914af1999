package forward

import (
	"testing"

	"github.com/stlalpha/mailcore/internal/address"
)

func TestLinkEncoding(t *testing.T) {
	const inet = address.InternetSystem
	tests := []struct {
		name                  string
		link                  Link
		user, system, network int
	}{
		{"none", None, 0, 0, 0},
		{"closed", Closed, ClosedUser, 0, 0},
		{"local", LocalLink(7), 7, 0, 0},
		{"remote", RemoteLink(7, 2, 3), 7, 2, 3},
		{"internet", InternetLink("", 9), 0, inet, 9},
	}

	for _, tt := range tests {
		u, s, n := tt.link.Encode(inet)
		if u != tt.user || s != tt.system || n != tt.network {
			t.Errorf("%s: Encode = (%d,%d,%d), want (%d,%d,%d)", tt.name, u, s, n, tt.user, tt.system, tt.network)
		}
		if got := DecodeLink(u, s, n, inet); got != tt.link {
			t.Errorf("%s: DecodeLink = %+v, want %+v", tt.name, got, tt.link)
		}
	}
}

func TestLinkFor(t *testing.T) {
	const inet = address.InternetSystem
	if got := LinkFor(address.NetworkAddress{User: 4}, inet); got != LocalLink(4) {
		t.Errorf("local = %+v", got)
	}
	if got := LinkFor(address.NetworkAddress{User: 7, System: 2, Network: 2}, inet); got != RemoteLink(7, 2, 2) {
		t.Errorf("remote = %+v", got)
	}
	got := LinkFor(address.NetworkAddress{System: inet, Network: 9, Email: "a@b.c"}, inet)
	if got.Kind != LinkInternet || got.Email != "a@b.c" || got.Network != 9 {
		t.Errorf("internet = %+v", got)
	}
}
