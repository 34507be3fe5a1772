package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"github.com/yegors/clipgremlin/internal/config"
)

func newCheckCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, used, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if used == "" {
				fmt.Fprintln(out, "# no config file found, using defaults and environment")
			} else {
				fmt.Fprintf(out, "# loaded from %s\n", used)
			}
			return toml.NewEncoder(out).Encode(cfg.Masked())
		},
	}
}

func loadConfig(path string) (*config.Config, string, error) {
	cfg, used, err := config.LoadWithFallback(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, used, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, used, nil
}
