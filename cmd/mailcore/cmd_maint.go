package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/stlalpha/mailcore/internal/config"
	"github.com/stlalpha/mailcore/internal/logging"
	"github.com/stlalpha/mailcore/internal/scheduler"
)

func newMaintCmd(opts *rootOptions) *cobra.Command {
	var once, status bool
	cmd := &cobra.Command{
		Use:   "maint",
		Short: "Run scheduled maintenance until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(opts)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()

			hf := scheduler.NewHistoryFile(afero.NewOsFs(), filepath.Join(e.cfg.DataPath, "maint_history.json"))
			s := scheduler.NewScheduler([]scheduler.Job{
				scheduler.CompactJob(e.store, e.cfg.CompactSchedule),
				scheduler.ForwardAuditJob(e.users, e.forwardResolver(), e.cfg.ForwardAuditSchedule),
			}, hf)

			if status {
				printHeader(w, "Maintenance")
				for _, line := range s.Status() {
					fmt.Fprintln(w, bullet(line))
				}
				return nil
			}

			if once {
				defer s.Stop()
				for _, id := range []string{scheduler.CompactJobID, scheduler.ForwardAuditJobID} {
					res, err := s.RunNow(id)
					if err != nil {
						return err
					}
					if res.Error != nil {
						return res.Error
					}
					fmt.Fprintln(w, bullet(res.Summary))
				}
				return nil
			}

			// Links to systems dropped from the network tables are cleared
			// as soon as the new tables are in place.
			watcher, err := config.NewWatcher(opts.configDir, e.networks, func(nets []config.NetworkConfig) {
				logging.Info("Network configuration reloaded: %d network(s)", len(nets))
				go func() {
					if _, err := s.RunNow(scheduler.ForwardAuditJobID); err != nil {
						logging.Warn("Forward audit after reload: %v", err)
					}
				}()
			})
			if err != nil {
				logging.Warn("Network config watcher unavailable: %v", err)
			} else {
				defer watcher.Stop()
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return s.Start(ctx)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run every job once and exit")
	cmd.Flags().BoolVar(&status, "status", false, "show the last run of every job and exit")
	return cmd
}
