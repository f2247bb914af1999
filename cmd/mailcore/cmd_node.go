package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stlalpha/mailcore/internal/chat"
	"github.com/stlalpha/mailcore/internal/node"
)

func newWhoCmd(opts *rootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "who",
		Short: "List online nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(opts)
			if err != nil {
				return err
			}
			slots, err := e.dir.Online(all)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(slots) == 0 {
				fmt.Fprintln(w, bullet("Nobody is online"))
				return nil
			}
			printHeader(w, "Node  User                      Activity")
			for _, s := range slots {
				name := e.users.UserName(int(s.User))
				if name == "" {
					name = "#" + strconv.Itoa(int(s.User))
				}
				fmt.Fprintf(w, "%4d  %-24s  %-24s %s  %s\n", s.Node, name, s.Location, s.Flags,
					s.UpdatedAt().Format(time.Kitchen))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include invisible nodes")
	return cmd
}

func newBroadcastCmd(opts *rootOptions) *cobra.Command {
	var from, to int
	cmd := &cobra.Command{
		Use:   "broadcast <text>",
		Short: "Send a system message to every node, or to one",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(opts)
			if err != nil {
				return err
			}
			text := strings.Join(args, " ")
			if to > 0 {
				return e.dir.SendToInstance(to, node.NewText(node.KindSystem, from, text))
			}
			return chat.NewProtocol(e.dir, from).Announce(text)
		},
	}
	cmd.Flags().IntVar(&from, "from", 0, "sending node (0 for the system)")
	cmd.Flags().IntVar(&to, "node", 0, "deliver to this node only")
	return cmd
}

func newPollCmd(opts *rootOptions) *cobra.Command {
	var peek bool
	cmd := &cobra.Command{
		Use:   "poll <node>",
		Short: "Drain and print a node's message queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid node %q", args[0])
			}
			e, err := openEnv(opts)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if peek {
				size, err := e.dir.Pending(n)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "Node %d: %d bytes queued\n", n, size)
				return nil
			}
			msgs, err := e.dir.PollMessages(n)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				fmt.Fprintln(w, chat.Format(m))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&peek, "peek", false, "report the queue size without draining it")
	return cmd
}
