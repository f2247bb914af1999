package scheduler

import (
	"context"
	"fmt"

	"github.com/stlalpha/mailcore/internal/forward"
	"github.com/stlalpha/mailcore/internal/mailstore"
	"github.com/stlalpha/mailcore/internal/user"
)

// CompactJobID identifies the mail compaction job.
const CompactJobID = "compact-email"

// Compactor is the part of the mail store the compaction job needs.
type Compactor interface {
	Compact() (mailstore.CompactResult, error)
}

// CompactJob returns a job that compacts store on schedule.
func CompactJob(store Compactor, schedule string) Job {
	return Job{
		ID:       CompactJobID,
		Name:     "Compact EMAIL.DAT",
		Schedule: schedule,
		Run: func(ctx context.Context) (string, error) {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			res, err := store.Compact()
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("removed %d of %d records (%d -> %d bytes)",
				res.Removed, res.RecordsBefore, res.BytesBefore, res.BytesAfter), nil
		},
	}
}

// ForwardAuditJobID identifies the forwarding audit job.
const ForwardAuditJobID = "forward-audit"

// ForwardUsers lists the accounts whose forwarding the audit checks.
type ForwardUsers interface {
	GetAllUsers() []*user.User
}

// ForwardResolver clears a user's stale forwarding link when resolving it.
type ForwardResolver interface {
	Resolve(userID int) (forward.Target, error)
}

// ForwardAuditJob returns a job that resolves every stored forwarding link
// so links to systems dropped from the network tables are cleared.
func ForwardAuditJob(users ForwardUsers, fwd ForwardResolver, schedule string) Job {
	return Job{
		ID:       ForwardAuditJobID,
		Name:     "Audit mail forwarding",
		Schedule: schedule,
		Run: func(ctx context.Context) (string, error) {
			checked, reset := 0, 0
			for _, u := range users.GetAllUsers() {
				if err := ctx.Err(); err != nil {
					return "", err
				}
				if u.IsDeleted() || (u.ForwardUser == 0 && u.ForwardSystem == 0) {
					continue
				}
				target, err := fwd.Resolve(u.ID)
				if err != nil {
					return "", err
				}
				checked++
				if target.ForwardingReset() {
					reset++
				}
			}
			return fmt.Sprintf("checked %d forwards, reset %d", checked, reset), nil
		},
	}
}
