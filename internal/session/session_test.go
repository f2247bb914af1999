package session

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/stlalpha/mailcore/internal/address"
	"github.com/stlalpha/mailcore/internal/config"
	"github.com/stlalpha/mailcore/internal/forward"
	"github.com/stlalpha/mailcore/internal/mailstore"
	"github.com/stlalpha/mailcore/internal/node"
	"github.com/stlalpha/mailcore/internal/user"
)

type fixture struct {
	users *user.UserMgr
	store *mailstore.Store
	dir   *node.Directory
	cfg   config.SystemConfig
	nets  *config.NetworkSet
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dataPath := t.TempDir()

	users, err := user.NewUserManager(dataPath)
	if err != nil {
		t.Fatalf("NewUserManager: %v", err)
	}
	// Sysop is #1; these become #2 through #7.
	for _, h := range []string{"Two", "Three", "Four", "Alice", "Carol", "Bob"} {
		if _, err := users.AddUser(h, "", ""); err != nil {
			t.Fatalf("AddUser %s: %v", h, err)
		}
	}

	fs := afero.NewOsFs()
	store, err := mailstore.Open(fs, filepath.Join(dataPath, mailstore.FileName))
	if err != nil {
		t.Fatalf("mailstore.Open: %v", err)
	}
	dir, err := node.Open(fs, dataPath, 4, time.Second)
	if err != nil {
		t.Fatalf("node.Open: %v", err)
	}

	cfg := config.SystemConfig{DataPath: dataPath, MaxNodes: 4, InternetSystem: address.InternetSystem}
	nets := config.NewNetworkSet([]config.NetworkConfig{{
		Number:  2,
		Name:    "Second",
		Type:    config.NetTypeWWIV,
		Systems: []config.SystemEntry{{Number: 2, Name: "Two"}},
	}})
	return fixture{users: users, store: store, dir: dir, cfg: cfg, nets: nets}
}

func (f fixture) login(t *testing.T, nodeID, userID int) *Context {
	t.Helper()
	u, ok := f.users.GetUserByID(userID)
	if !ok {
		t.Fatalf("user #%d missing", userID)
	}
	c := New(nodeID, f.cfg, f.nets, f.store, f.dir, f.users)
	c.CurrentNetwork = 2
	if err := c.Begin(u); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return c
}

func TestBeginAndEndTrackPresence(t *testing.T) {
	f := newFixture(t)
	c := f.login(t, 2, 5)

	n, online, err := f.dir.IsUserOnline(5)
	if err != nil || !online || n != 2 {
		t.Fatalf("IsUserOnline(5) = %d, %v, %v", n, online, err)
	}
	if err := c.End(nil); err != nil {
		t.Fatalf("End: %v", err)
	}
	if _, online, _ := f.dir.IsUserOnline(5); online {
		t.Error("user still online after End")
	}
}

func TestSendRemoteSurvivesCompaction(t *testing.T) {
	f := newFixture(t)
	c := f.login(t, 1, 5)

	d, err := c.Send("7@2", "Hello there", mailstore.MessageRef{StorageType: 2, StoredAs: 10})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	want := address.NetworkAddress{User: 7, System: 2, Network: 2}
	if d.To.User != want.User || d.To.System != want.System || d.To.Network != want.Network {
		t.Errorf("delivered to %+v, want %+v", d.To, want)
	}

	rec := d.Locator.Record
	if rec.ToUser != 7 || rec.ToSystem != 2 || rec.FromUser != 5 {
		t.Errorf("record = %+v", rec)
	}
	if !rec.Status.Has(mailstore.StatusNewNet) || rec.Network != 2 {
		t.Errorf("network fields status=%#x net=%d", rec.Status, rec.Network)
	}

	inbox, err := c.Inbox()
	if err != nil {
		t.Fatalf("Inbox: %v", err)
	}
	if len(inbox) != 0 {
		t.Errorf("sender's inbox holds %d records", len(inbox))
	}
	if err := c.End(nil); err != nil {
		t.Fatalf("End: %v", err)
	}
	if _, err := f.store.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	entries, _ := f.store.ReadAll()
	if len(entries) != 1 || entries[0].Record.ToSystem != 2 {
		t.Errorf("after compaction = %+v", entries)
	}
}

func TestSendToUnlistedFTNNode(t *testing.T) {
	f := newFixture(t)
	nets := append([]config.NetworkConfig(nil), f.nets.Get()...)
	nets = append(nets, config.NetworkConfig{
		Number:  3,
		Name:    "FidoNet",
		Type:    config.NetTypeFTN,
		Zone:    21,
		Systems: []config.SystemEntry{{Number: 100, Name: "Hub"}},
		Nodes:   []config.FTNNode{{Address: "21:1/100", System: 100}},
	})
	f.nets.Set(nets)
	c := f.login(t, 1, 5)

	d, err := c.Send("Mark@21:1/999", "Hi Mark", mailstore.MessageRef{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if d.To.System != address.SynthesizedFTNSystem || d.To.Network != 3 || d.To.Node != "21:1/999" {
		t.Errorf("delivered to %+v", d.To)
	}
	rec := d.Locator.Record
	if rec.ToSystem != address.SynthesizedFTNSystem || rec.Network != 3 {
		t.Errorf("record = %+v", rec)
	}
}

func TestSendLocalAndDrain(t *testing.T) {
	f := newFixture(t)
	alice := f.login(t, 1, 5)
	for _, title := range []string{"one", "two"} {
		if _, err := alice.Send("Bob", title, mailstore.MessageRef{}); err != nil {
			t.Fatalf("Send %s: %v", title, err)
		}
	}
	if _, err := alice.Send("Carol", "three", mailstore.MessageRef{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	alice.End(nil)

	bob := f.login(t, 3, 7)
	inbox, err := bob.Inbox()
	if err != nil {
		t.Fatalf("Inbox: %v", err)
	}
	if len(inbox) != 2 || inbox[0].Record.Title != "one" || inbox[1].Record.Title != "two" {
		t.Fatalf("inbox = %+v", inbox)
	}

	locs := []mailstore.Locator{inbox[0].Locator, inbox[1].Locator}
	if err := bob.End(locs); err != nil {
		t.Fatalf("End: %v", err)
	}

	entries, _ := f.store.ReadAll()
	if len(entries) != 1 || entries[0].Record.Title != "three" {
		t.Errorf("remaining = %+v", entries)
	}
}

func TestSendFollowsForward(t *testing.T) {
	f := newFixture(t)
	fwd := forward.NewResolver(f.users, f.nets)
	if err := fwd.SetForward(6, forward.LocalLink(7)); err != nil {
		t.Fatalf("SetForward: %v", err)
	}

	c := f.login(t, 1, 5)
	d, err := c.Send("6", "for carol", mailstore.MessageRef{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !d.Forwarded || d.To.User != 7 {
		t.Errorf("delivery = %+v", d)
	}
	if !d.Locator.Record.Status.Has(mailstore.StatusForwarded) {
		t.Error("forwarded status bit not set")
	}
}

func TestSendReportsForwardingReset(t *testing.T) {
	f := newFixture(t)
	u, _ := f.users.GetUserByID(6)
	u.ForwardUser = 6
	if err := f.users.UpdateUser(u); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}

	c := f.login(t, 1, 5)
	d, err := c.Send("6", "hi", mailstore.MessageRef{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !d.ForwardingReset || d.Forwarded || d.To.User != 6 {
		t.Errorf("delivery = %+v", d)
	}
	if u, _ := f.users.GetUserByID(6); u.ForwardUser != 0 {
		t.Errorf("stale forward not cleared: %+v", u)
	}
}

func TestSendErrors(t *testing.T) {
	f := newFixture(t)
	if err := f.users.DeleteUser(4); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	fwd := forward.NewResolver(f.users, f.nets)
	if err := fwd.SetForward(6, forward.Closed); err != nil {
		t.Fatalf("SetForward: %v", err)
	}

	c := f.login(t, 1, 5)
	tests := []struct {
		input string
		want  error
	}{
		{"99", ErrNoSuchUser},
		{"4", ErrNoSuchUser},
		{"6", forward.ErrMailboxClosed},
		{"7@9", address.ErrNetworkUnreachable},
		{"Nobody", address.ErrNotFound},
	}
	for _, tt := range tests {
		if _, err := c.Send(tt.input, "x", mailstore.MessageRef{}); !errors.Is(err, tt.want) {
			t.Errorf("Send(%q) error = %v, want %v", tt.input, err, tt.want)
		}
	}
	if n, _ := f.store.Count(); n != 0 {
		t.Errorf("%d records stored by failed sends", n)
	}
}

func TestSendRequiresLogin(t *testing.T) {
	f := newFixture(t)
	c := New(1, f.cfg, f.nets, f.store, f.dir, f.users)
	if _, err := c.Send("7", "x", mailstore.MessageRef{}); !errors.Is(err, ErrNotLoggedIn) {
		t.Errorf("err = %v", err)
	}
}

// brokenMailFs fails every open of the mail file once armed.
type brokenMailFs struct {
	afero.Fs
	armed bool
}

func (b *brokenMailFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if b.armed && filepath.Base(name) == mailstore.FileName {
		return nil, errors.New("device not ready")
	}
	return b.Fs.OpenFile(name, flag, perm)
}

func TestSendSurfacesStorageFailure(t *testing.T) {
	f := newFixture(t)
	fs := &brokenMailFs{Fs: afero.NewOsFs()}
	store, err := mailstore.Open(fs, f.store.Path())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fs.armed = true

	c := f.login(t, 1, 5)
	c.Store = store
	if _, err := c.Send("7", "x", mailstore.MessageRef{}); !errors.Is(err, mailstore.ErrStorage) {
		t.Errorf("err = %v, want ErrStorage", err)
	}
	if n, _ := f.store.Count(); n != 0 {
		t.Errorf("%d records stored by a failed send", n)
	}
}

func TestPollFormatsMessages(t *testing.T) {
	f := newFixture(t)
	a := f.login(t, 1, 5)
	b := f.login(t, 2, 7)

	if err := a.Chat.Page(2, "hello"); err != nil {
		t.Fatalf("Page: %v", err)
	}
	lines, err := b.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(lines) != 1 || !strings.Contains(lines[0], "hello") {
		t.Errorf("lines = %q", lines)
	}
}
