package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bamsammich/plotfarm/internal/config"
)

func newConfigCmd(g *globals) *cobra.Command {
	var write bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration plotfarm would run with, as TOML.

With --write, save it to the config file instead. An existing file is never
overwritten.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			switch {
			case write && errors.Is(err, os.ErrNotExist):
				cfg = config.Default()
			case err != nil:
				return err
			}
			if !write {
				return config.Encode(cmd.OutOrStdout(), cfg)
			}
			path := g.configPath
			if path == "" {
				path = config.Path()
			}
			if err := config.WriteFile(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&write, "write", false, "write the configuration file")
	return cmd
}
