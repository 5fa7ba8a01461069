package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/autosupper/autosupper/internal/config"
	"github.com/autosupper/autosupper/internal/mission"
	"github.com/autosupper/autosupper/internal/storage"
)

// openStore loads the configuration only for the database path.
func openStore() (*storage.Store, error) {
	if err := config.LoadFrom(configPath); err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}
	return storage.Open(config.Get().Storage.Path)
}

func newMissionsCmd() *cobra.Command {
	var (
		stars    []int
		minLevel int
		maxLevel int
		pending  bool
	)

	cmd := &cobra.Command{
		Use:   "missions",
		Short: "List recorded missions",
		Long: `Lists the missions in the local database, newest first.
With --pending only missions the bot would still play are shown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			all, err := store.GetAll(cmd.Context())
			if err != nil {
				return err
			}
			list := make([]mission.Mission, 0, len(all))
			for _, m := range all {
				list = append(list, m)
			}

			filtered := cmd.Flags().Changed("stars") || cmd.Flags().Changed("min") || cmd.Flags().Changed("max")
			f := mission.Filters{Stars: stars, MinLevel: minLevel, MaxLevel: maxLevel}
			if len(f.Stars) == 0 {
				f.Stars = []int{1, 2, 3, 4, 5}
			}
			list = selectMissions(list, f, filtered, pending)

			printMissions(cmd.OutOrStdout(), list)
			return nil
		},
	}
	cmd.AddCommand(newMissionsResetCmd())
	cmd.AddCommand(newMissionsClearCmd())
	cmd.Flags().IntSliceVar(&stars, "stars", nil, "star ratings to show (1-5)")
	cmd.Flags().IntVar(&minLevel, "min", 0, "lowest level a mission may require")
	cmd.Flags().IntVar(&maxLevel, "max", 1<<31-1, "highest level a mission may require")
	cmd.Flags().BoolVar(&pending, "pending", false, "only show missions the bot would still play")
	return cmd
}

func newMissionsResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <post id or permalink>",
		Short: "Put a cleared mission back into rotation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			return resetMission(cmd.Context(), store, args[0], cmd.OutOrStdout())
		},
	}
}

func resetMission(ctx context.Context, store *storage.Store, ref string, out io.Writer) error {
	id := ref
	if fromLink := mission.PostIDFromPermalink(ref); fromLink != "" {
		id = fromLink
	}
	if err := store.ResetCleared(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s is pending again\n", color.New(color.FgGreen).Sprint("✓"), id)
	return nil
}

func newMissionsClearCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every recorded mission and all progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete all missions without --yes")
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.ClearAll(cmd.Context()); err != nil {
				return err
			}
			red := color.New(color.FgRed, color.Bold).SprintFunc()
			fmt.Fprintf(cmd.OutOrStdout(), "%s all missions deleted\n", red("✗"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deleting everything")
	return cmd
}

func selectMissions(list []mission.Mission, f mission.Filters, filtered, pending bool) []mission.Mission {
	if pending {
		return mission.Select(list, f)
	}
	out := list[:0]
	for _, m := range list {
		if filtered && !f.Match(m.Record) {
			continue
		}
		out = append(out, m)
	}
	mission.SortNewestFirst(out)
	return out
}

func printMissions(w io.Writer, list []mission.Mission) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No missions recorded.")
		return
	}

	bold := color.New(color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, bold("POST")+"\t"+bold("STARS")+"\t"+bold("LEVELS")+"\t"+bold("MISSION")+"\t"+bold("STATUS"))
	for _, m := range list {
		levels := "?"
		if lo, hi, ok := m.Levels(); ok {
			levels = fmt.Sprintf("%d-%d", lo, hi)
		}
		name := m.MissionTitle
		if name == "" {
			name = m.Environment
		}

		var status string
		switch {
		case m.Progress.Disabled:
			status = gray("disabled")
		case m.Progress.Cleared:
			status = green("cleared")
		case !m.Eligible():
			status = yellow("unclassified")
		default:
			status = "pending"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", m.PostID, m.Difficulty, levels, name, status)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\n%d missions\n", len(list))
}

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Export mission records as JSON",
		Long:  "Writes the shareable part of every mission to file, or to missions-<date>.json when no file is given. Use - for stdout.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			dst := fmt.Sprintf("missions-%s.json", time.Now().Format("2006-01-02"))
			if len(args) == 1 {
				dst = args[0]
			}
			if dst == "-" {
				skipped, err := store.Export(cmd.Context(), cmd.OutOrStdout())
				if err == nil && skipped > 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "%d unclassified missions skipped\n", skipped)
				}
				return err
			}
			return exportTo(cmd.Context(), store, dst, cmd.OutOrStdout())
		},
	}
}

func exportTo(ctx context.Context, store *storage.Store, dst string, out io.Writer) error {
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("error creating %s: %w", dst, err)
	}
	skipped, err := store.Export(ctx, f)
	if err != nil {
		f.Close()
		return fmt.Errorf("error exporting missions: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	abs, _ := filepath.Abs(dst)
	fmt.Fprintf(out, "%s missions exported to %s\n", color.New(color.FgGreen).Sprint("✓"), abs)
	if skipped > 0 {
		fmt.Fprintf(out, "%d unclassified missions skipped\n", skipped)
	}
	return nil
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Merge mission records from an export file",
		Long:  "Adds the missions in file to the local database. A known mission is replaced only by a newer copy; local progress is kept.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			return importFrom(cmd.Context(), store, args[0], cmd.OutOrStdout())
		},
	}
}

func importFrom(ctx context.Context, store *storage.Store, src string, out io.Writer) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("error opening %s: %w", src, err)
	}
	defer f.Close()

	records, rejected, err := mission.ParseExport(f)
	if err != nil {
		return fmt.Errorf("error reading %s: %w", src, err)
	}
	res, err := store.ImportMerge(ctx, records)
	if err != nil {
		return fmt.Errorf("error importing missions: %w", err)
	}
	res.Rejected += rejected

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Fprintf(out, "%s imported, %s skipped, %s rejected\n",
		cyan(res.Imported), cyan(res.Skipped), cyan(res.Rejected))
	return nil
}
