package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/docsync-mcp/pkg/types"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <owner/name>",
	Short: "Remove a repository's vectors and catalog entry",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		ref, err := types.ParseRepositoryRef(args[0])
		if err != nil {
			return err
		}
		res, err := a.syncer.DeleteRepository(cmd.Context(), ref.ID())
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(cmd.OutOrStdout(), res)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s: %d files, %d records\n", res.RepositoryID, res.FilesRemoved, res.RecordsDeleted)
		return nil
	}),
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked repositories",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		repos, err := a.syncer.ListRepositories(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(cmd.OutOrStdout(), repos)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "REPOSITORY\tBRANCH\tFILES\tSTATUS\tUPDATED")
		for _, r := range repos {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", r.RepositoryID, r.Branch, r.FileCount, r.Status, r.LastUpdatedAt.Format(time.RFC3339))
		}
		return tw.Flush()
	}),
}

var filesCmd = &cobra.Command{
	Use:   "files <owner/name>",
	Short: "List the tracked files of a repository",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		ref, err := types.ParseRepositoryRef(args[0])
		if err != nil {
			return err
		}
		files, err := a.syncer.ListFiles(cmd.Context(), ref.ID())
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(cmd.OutOrStdout(), files)
		}
		for _, f := range files {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", shortHash(f.Hash), f.Path)
		}
		return nil
	}),
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog totals",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		stats, err := a.syncer.Stats(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(cmd.OutOrStdout(), stats)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Repositories:   %d\n", stats.Repositories)
		fmt.Fprintf(out, "Tracked files:  %d\n", stats.TrackedFiles)
		fmt.Fprintf(out, "Vector records: %d\n", stats.VectorRecords)
		if !stats.LastUpdatedAt.IsZero() {
			fmt.Fprintf(out, "Last updated:   %s\n", stats.LastUpdatedAt.Format(time.RFC3339))
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(deleteCmd, listCmd, filesCmd, statsCmd)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
