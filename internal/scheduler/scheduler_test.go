package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/stlalpha/mailcore/internal/config"
	"github.com/stlalpha/mailcore/internal/forward"
	"github.com/stlalpha/mailcore/internal/mailstore"
	"github.com/stlalpha/mailcore/internal/user"
)

func TestRunNowCompactsMailFile(t *testing.T) {
	store, err := mailstore.Open(afero.NewOsFs(), filepath.Join(t.TempDir(), mailstore.FileName))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	gone, _ := store.Append(mailstore.Record{ToUser: 1, FromUser: 2, Title: "a"})
	store.Append(mailstore.Record{ToUser: 1, FromUser: 2, Title: "b"})
	store.MarkDelivered(gone)

	hf := NewHistoryFile(afero.NewOsFs(), filepath.Join(t.TempDir(), "history.json"))
	s := NewScheduler([]Job{CompactJob(store, "")}, hf)

	res, err := s.RunNow(CompactJobID)
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if !res.Success || !strings.HasPrefix(res.Summary, "removed 1 of 2") {
		t.Errorf("result = %+v", res)
	}
	if n, _ := store.Count(); n != 1 {
		t.Errorf("records after compaction = %d, want 1", n)
	}

	s.Stop()
	loaded, err := hf.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if h := loaded[CompactJobID]; h == nil || h.SuccessCount != 1 {
		t.Errorf("saved history = %+v", h)
	}
}

func TestRunNowUnknownJob(t *testing.T) {
	s := NewScheduler(nil, nil)
	if _, err := s.RunNow("nope"); err == nil {
		t.Error("expected error for unknown job")
	}
}

type failingCompactor struct{}

func (failingCompactor) Compact() (mailstore.CompactResult, error) {
	return mailstore.CompactResult{}, mailstore.ErrCompactionAborted
}

func TestFailedRunIsRecorded(t *testing.T) {
	s := NewScheduler([]Job{CompactJob(failingCompactor{}, "")}, nil)
	res, err := s.RunNow(CompactJobID)
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if res.Success || !errors.Is(res.Error, mailstore.ErrCompactionAborted) {
		t.Errorf("result = %+v", res)
	}
	if h := s.GetHistory()[CompactJobID]; h.FailureCount != 1 {
		t.Errorf("history = %+v", h)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := NewScheduler([]Job{CompactJob(failingCompactor{}, "not a schedule")}, nil)
	if err := s.Start(context.Background()); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestStartRunsScheduledJob(t *testing.T) {
	ran := make(chan struct{}, 1)
	job := Job{
		ID:       "tick",
		Name:     "tick",
		Schedule: "* * * * * *",
		Run: func(ctx context.Context) (string, error) {
			select {
			case ran <- struct{}{}:
			default:
			}
			return "ticked", nil
		},
	}
	s := NewScheduler([]Job{job}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled job did not run")
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Start returned %v", err)
	}
}

func TestForwardAuditClearsStaleLinks(t *testing.T) {
	um, err := user.NewUserManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewUserManager: %v", err)
	}
	for _, h := range []string{"Alice", "Bob", "Carol"} {
		if _, err := um.AddUser(h, "", ""); err != nil {
			t.Fatalf("AddUser(%s): %v", h, err)
		}
	}
	nets := config.NewNetworkSet([]config.NetworkConfig{
		{Number: 1, Name: "WWIVnet", Type: config.NetTypeWWIV, Systems: []config.SystemEntry{{Number: 5, Name: "Far"}}},
	})
	fwd := forward.NewResolver(um, nets)
	if err := fwd.SetForward(2, forward.RemoteLink(7, 5, 1)); err != nil {
		t.Fatalf("SetForward remote: %v", err)
	}
	if err := fwd.SetForward(3, forward.LocalLink(4)); err != nil {
		t.Fatalf("SetForward local: %v", err)
	}

	s := NewScheduler([]Job{ForwardAuditJob(um, fwd, "")}, nil)
	res, err := s.RunNow(ForwardAuditJobID)
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if res.Summary != "checked 2 forwards, reset 0" {
		t.Errorf("first audit = %q", res.Summary)
	}

	nets.Set([]config.NetworkConfig{{Number: 1, Name: "WWIVnet", Type: config.NetTypeWWIV}})
	res, _ = s.RunNow(ForwardAuditJobID)
	if res.Summary != "checked 2 forwards, reset 1" {
		t.Errorf("audit after removal = %q", res.Summary)
	}
	if l, _ := fwd.Link(2); l != forward.None {
		t.Errorf("link of #2 = %+v, want none", l)
	}
	if l, _ := fwd.Link(3); l != forward.LocalLink(4) {
		t.Errorf("link of #3 = %+v", l)
	}

	res, _ = s.RunNow(ForwardAuditJobID)
	if res.Summary != "checked 1 forwards, reset 0" {
		t.Errorf("third audit = %q", res.Summary)
	}
}

func TestStatusListsEveryJob(t *testing.T) {
	s := NewScheduler([]Job{CompactJob(failingCompactor{}, ""), {ID: "idle", Run: func(context.Context) (string, error) { return "", nil }}}, nil)
	s.RunNow(CompactJobID)

	lines := s.Status()
	if len(lines) != 2 {
		t.Fatalf("Status() = %q", lines)
	}
	if !strings.HasPrefix(lines[0], CompactJobID+": failure at ") {
		t.Errorf("compact line = %q", lines[0])
	}
	if lines[1] != "idle: never run" {
		t.Errorf("idle line = %q", lines[1])
	}
}
