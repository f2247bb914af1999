package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stlalpha/mailcore/internal/address"
	"github.com/stlalpha/mailcore/internal/forward"
)

func newResolveCmd(opts *rootOptions) *cobra.Command {
	var network int
	cmd := &cobra.Command{
		Use:   "resolve <address>",
		Short: "Resolve a mail address the way the mail editor does",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(opts)
			if err != nil {
				return err
			}
			r := e.addressResolver()
			nets := e.networks.Get()

			input := strings.Join(args, " ")
			res := r.Resolve(input, nets, network)
			w := cmd.OutOrStdout()
			switch res.Kind {
			case address.KindResolved:
				a := res.Address
				fmt.Fprintf(w, "%s  (user=%d system=%d network=%d)\n", r.DisplayName(a, nets), a.User, a.System, a.Network)
				return nil
			case address.KindAmbiguous:
				fmt.Fprintln(w, bullet(fmt.Sprintf("%q matches %d addresses:", input, len(res.Candidates))))
				for _, c := range res.Candidates {
					fmt.Fprintf(w, "  %s\n", r.DisplayName(c, nets))
				}
			}
			return res.Err()
		},
	}
	cmd.Flags().IntVar(&network, "network", 0, "network selected by the sender")
	return cmd
}

func newForwardCmd(opts *rootOptions) *cobra.Command {
	var clear, closeBox bool
	cmd := &cobra.Command{
		Use:   "forward <user#> [address]",
		Short: "Show or change a user's mail forwarding",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid user number %q", args[0])
			}
			e, err := openEnv(opts)
			if err != nil {
				return err
			}
			fwd := e.forwardResolver()
			w := cmd.OutOrStdout()

			switch {
			case clear:
				err = fwd.SetForward(id, forward.None)
			case closeBox:
				err = fwd.SetForward(id, forward.Closed)
			case len(args) == 2:
				r := e.addressResolver()
				res := r.Resolve(args[1], e.networks.Get(), 0)
				if rerr := res.Err(); rerr != nil {
					return rerr
				}
				err = fwd.SetForward(id, forward.LinkFor(res.Address, e.cfg.InternetSystem))
			}
			if err != nil {
				return err
			}

			target, err := fwd.Resolve(id)
			if err != nil {
				return err
			}
			if target.ForwardingReset() {
				fmt.Fprintln(w, bullet("Forwarding reset: "+target.Reset.String()))
			}
			link, _ := fwd.Link(id)
			fmt.Fprintf(w, "User #%d: %s -> %s\n", id, link, target.Kind)
			return nil
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "remove forwarding")
	cmd.Flags().BoolVar(&closeBox, "close", false, "close the mailbox")
	return cmd
}
