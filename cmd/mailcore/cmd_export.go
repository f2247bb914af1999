package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/stlalpha/mailcore/internal/offline"
)

func newExportCmd(opts *rootOptions) *cobra.Command {
	var outDir, bbsID string
	var commit bool
	cmd := &cobra.Command{
		Use:   "export <user#>",
		Short: "Write a user's waiting mail to a QWK packet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil || id <= 0 || id > 0xFFFF {
				return fmt.Errorf("invalid user number %q", args[0])
			}
			e, err := openEnv(opts)
			if err != nil {
				return err
			}

			r := e.addressResolver()
			exp := offline.NewExporter(e.store, r, e.networks, e.users, nil)
			exp.BoardName = e.cfg.BoardName
			if bbsID != "" {
				exp.BBSID = bbsID
			}

			pkt, err := exp.GatherForUser(uint16(id))
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(pkt.Messages) == 0 {
				fmt.Fprintln(w, bullet(fmt.Sprintf("No mail waiting for %s", pkt.UserName)))
				return nil
			}

			if outDir == "" {
				outDir = filepath.Join(e.cfg.DataPath, "qwk", strconv.Itoa(id))
			}
			path := filepath.Join(outDir, offline.PacketName(pkt))
			if err := offline.WritePacketFile(afero.NewOsFs(), path, pkt); err != nil {
				return err
			}
			fmt.Fprintln(w, bullet(fmt.Sprintf("Wrote %d messages to %s", len(pkt.Messages), path)))

			if commit {
				delivered, skipped, err := exp.Commit(pkt)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, bullet(fmt.Sprintf("Marked %d delivered, %d left queued", delivered, skipped)))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "", "packet directory (default <data>/qwk/<user#>)")
	cmd.Flags().StringVar(&bbsID, "bbsid", "", "packet BBS ID")
	cmd.Flags().BoolVar(&commit, "commit", false, "remove the exported mail from the mail file")
	return cmd
}
