// Package cli builds the phxd command tree: the server itself plus the
// offline account and news maintenance commands.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/phxd-project/phxd/internal/config"
	"github.com/phxd-project/phxd/internal/db"
	"github.com/phxd-project/phxd/internal/server"
	"github.com/phxd-project/phxd/internal/util"
)

const banner = `
        __              __
  ____ / /_ __ __ ____/ /
 / __ \/ __ \ \/ // __  /
/ /_/ / / / />  </ /_/ /
/ .___/_/ /_/_/|_|\__,_/   v%s
/_/
 Hotline server
`

// options are the flags shared by every command.
type options struct {
	configDir string
	logLevel  string
	version   string
}

// NewRootCommand returns the phxd command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &options{version: version}

	root := &cobra.Command{
		Use:   "phxd",
		Short: "Hotline chat and file sharing server",
		Long: `phxd is a Hotline protocol server.

It serves chat, private messages, news and file transfers to Hotline
clients, registers with trackers and exposes an admin REST API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return util.InitLogger(util.LogConfig{Level: opts.logLevel, Console: true})
		},
	}
	root.PersistentFlags().StringVarP(&opts.configDir, "config", "c", config.DefaultConfigDir, "configuration directory")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "console log level for maintenance commands")

	root.AddCommand(
		serveCmd(opts),
		initCmd(opts),
		accountsCmd(opts),
		newsCmd(opts),
		versionCmd(opts),
	)
	return root
}

// openStore loads the configuration and opens the account database,
// seeding the default accounts on first use.
func openStore(opts *options) (*config.Config, *db.SQLStore, error) {
	cfg, err := config.Load(opts.configDir)
	if err != nil {
		return nil, nil, err
	}
	store, err := openDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, store, nil
}

func openDatabase(cfg *config.Config) (*db.SQLStore, error) {
	store, err := db.Open(cfg.GetDatabase().Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if !store.IsConfigured() {
		if err := store.Setup(server.DefaultAccounts()...); err != nil {
			store.Close()
			return nil, fmt.Errorf("set up database: %w", err)
		}
	}
	return store, nil
}
