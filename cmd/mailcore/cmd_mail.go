package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stlalpha/mailcore/internal/mailstore"
)

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show mail file and node statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(opts)
			if err != nil {
				return err
			}
			st, err := e.store.Stats()
			if err != nil {
				return err
			}
			online, err := e.dir.CountOnline()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if opts.quiet {
				fmt.Fprintf(w, "total=%d live=%d tombstones=%d bytes=%d online=%d\n",
					st.Total, st.Live, st.Tombstones, st.Bytes, online)
				return nil
			}
			printHeader(w, e.cfg.BoardName)
			fmt.Fprintf(w, "  Mail file:  %s\n", e.store.Path())
			fmt.Fprintf(w, "  Records:    %d total, %d live, %d tombstones\n", st.Total, st.Live, st.Tombstones)
			fmt.Fprintf(w, "  Size:       %s\n", formatBytes(st.Bytes))
			fmt.Fprintf(w, "  Online:     %d of %d nodes\n", online, e.dir.MaxNodes())
			return nil
		},
	}
}

func newCompactCmd(opts *rootOptions) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Remove delivered records from the mail file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(opts)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if dryRun {
				st, err := e.store.Stats()
				if err != nil {
					return err
				}
				fmt.Fprintln(w, bullet(fmt.Sprintf("Would remove %d of %d records (%s)",
					st.Tombstones, st.Total, formatBytes(st.Tombstones*mailstore.RecordSize))))
				return nil
			}
			res, err := e.store.Compact()
			if err != nil {
				return err
			}
			fmt.Fprintln(w, bullet(fmt.Sprintf("Removed %d of %d records, %s -> %s",
				res.Removed, res.RecordsBefore, formatBytes(res.BytesBefore), formatBytes(res.BytesAfter))))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be removed without modifying")
	return cmd
}
