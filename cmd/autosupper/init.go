package main

import (
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/autosupper/autosupper/internal/config"
)

func newInitCmd() *cobra.Command {
	var template string

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a starter configuration",
		Long:  "Copies the configuration template into dir (default: the directory of --config). Existing files are never overwritten.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dst := filepath.Dir(configPath)
			if len(args) == 1 {
				dst = args[0]
			}
			if err := config.InitFromTemplate(template, dst); err != nil {
				return err
			}

			green := color.New(color.FgGreen).SprintFunc()
			fmt.Fprintf(cmd.OutOrStdout(), "%s configuration written to %s\n", green("✓"), dst)
			fmt.Fprintln(cmd.OutOrStdout(), "Edit autosupper.yaml, then run autosupper to start.")
			return nil
		},
	}
	cmd.Flags().StringVar(&template, "template", config.TemplatePath, "template directory to copy")
	return cmd
}
