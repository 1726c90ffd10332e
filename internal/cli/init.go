package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/phxd-project/phxd/internal/config"
	"github.com/phxd-project/phxd/internal/util"
)

func initCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactively create the configuration and account database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			cfg.SetPath(filepath.Join(opts.configDir, config.DefaultConfigFile))
			if util.FileExists(cfg.Path()) {
				loaded, err := config.Load(opts.configDir)
				if err != nil {
					return err
				}
				cfg = loaded
			}

			if err := config.RunSetupWizard(cfg, cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
				return err
			}
			if err := util.EnsureDir(cfg.GetFiles().Root); err != nil {
				return fmt.Errorf("create file root: %w", err)
			}

			store, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Account database ready at", cfg.GetDatabase().Path)
			return nil
		},
	}
}
