package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/stlalpha/mailcore/internal/address"
	"github.com/stlalpha/mailcore/internal/config"
	"github.com/stlalpha/mailcore/internal/forward"
	"github.com/stlalpha/mailcore/internal/logging"
	"github.com/stlalpha/mailcore/internal/mailstore"
	"github.com/stlalpha/mailcore/internal/node"
	"github.com/stlalpha/mailcore/internal/user"
)

const (
	clrReset   = "\033[0m"
	clrCyan    = "\033[36m"
	clrMagenta = "\033[35m"
	clrBold    = "\033[1m"
	separator  = "────────────────────────────────────────────────────────────────────────────"
)

type rootOptions struct {
	configDir string
	debug     bool
	quiet     bool
}

// env is everything a command needs, opened from the config directory.
type env struct {
	cfg      config.SystemConfig
	networks *config.NetworkSet
	store    *mailstore.Store
	dir      *node.Directory
	users    *user.UserMgr
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "mailcore",
		Short:         "Mail core maintenance utility",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.InitFromEnv()
			if opts.debug {
				logging.DebugEnabled = true
			}
			if opts.quiet {
				log.SetOutput(io.Discard)
			}
		},
	}

	defaultConfig := os.Getenv("MAILCORE_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "configs"
	}
	root.PersistentFlags().StringVar(&opts.configDir, "config", defaultConfig, "config directory (env MAILCORE_CONFIG)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "suppress log output")

	root.AddCommand(
		newStatsCmd(opts),
		newCompactCmd(opts),
		newResolveCmd(opts),
		newForwardCmd(opts),
		newWhoCmd(opts),
		newBroadcastCmd(opts),
		newPollCmd(opts),
		newExportCmd(opts),
		newMaintCmd(opts),
	)
	return root
}

func openEnv(opts *rootOptions) (*env, error) {
	cfg, err := config.LoadSystemConfig(opts.configDir)
	if err != nil {
		return nil, err
	}
	nets, err := config.LoadNetworks(opts.configDir)
	if err != nil {
		return nil, err
	}

	fs := afero.NewOsFs()
	store, err := mailstore.Open(fs, filepath.Join(cfg.DataPath, mailstore.FileName))
	if err != nil {
		return nil, err
	}
	dir, err := node.Open(fs, cfg.DataPath, cfg.MaxNodes, time.Duration(cfg.PollIntervalMs)*time.Millisecond)
	if err != nil {
		return nil, err
	}
	users, err := user.NewUserManager(cfg.DataPath)
	if err != nil {
		return nil, err
	}

	return &env{
		cfg:      cfg,
		networks: config.NewNetworkSet(nets),
		store:    store,
		dir:      dir,
		users:    users,
	}, nil
}

// addressResolver returns a resolver over the local users configured for
// this board's internet gateway.
func (e *env) addressResolver() *address.Resolver {
	r := address.NewResolver(e.users)
	r.InternetSystem = e.cfg.InternetSystem
	r.GatewayNetwork = e.cfg.GatewayNetwork
	return r
}

func (e *env) forwardResolver() *forward.Resolver {
	fwd := forward.NewResolver(e.users, e.networks)
	fwd.InternetSystem = e.cfg.InternetSystem
	return fwd
}

func printHeader(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s%s\n", clrBold, title, clrReset)
	fmt.Fprintln(w, separator)
}

func bullet(msg string) string {
	return fmt.Sprintf("%s■%s  %s%s%s", clrMagenta, clrReset, clrCyan, msg, clrReset)
}

func formatBytes(b int64) string {
	if b < 1024 {
		return fmt.Sprintf("%d bytes", b)
	}
	if b < 1024*1024 {
		return fmt.Sprintf("%.1f KB", float64(b)/1024)
	}
	return fmt.Sprintf("%.1f MB", float64(b)/(1024*1024))
}
