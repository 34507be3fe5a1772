package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "clipgremlin",
		Short:         "Keep a stream's chat alive with prompts drawn from the broadcast",
		Long:          "clipgremlin transcribes a live stream's audio and, when chat goes quiet, posts a short playful prompt based on what was just said.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Version = Version
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (optional - will search in configs/ and root directory)")

	rootCmd.AddCommand(newRunCmd(&configPath))
	rootCmd.AddCommand(newCheckCmd(&configPath))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "clipgremlin %s\n", Version)
		},
	}
}
