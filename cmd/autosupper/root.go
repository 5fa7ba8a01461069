package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/autosupper/autosupper/internal/config"
)

var configPath string

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "autosupper",
		Short: "Plays Sword & Supper missions in a Chromium tab",
		Long: `autosupper drives the Sword & Supper Reddit game in a browser it controls.
It records every mission it sees, picks the next one matching your filters
and plays it to the end. Run without a subcommand to start the bot and its
status page.`,
		Version:      fmt.Sprintf("%s (built %s)", orDev(buildID), orDev(buildTime)),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context())
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to the configuration file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Start the bot and its status page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context())
		},
	})
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newMissionsCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newImportCmd())
	return rootCmd
}

func orDev(s string) string {
	if s == "" {
		return "dev"
	}
	return s
}
