package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/docsync-mcp/pkg/types"
)

var syncCmd = &cobra.Command{
	Use:   "sync <owner/name>",
	Short: "Sync a repository branch into the vector store",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		ref, branch, err := refAndBranch(cmd, args[0], a)
		if err != nil {
			return err
		}

		report, err := a.syncer.Sync(cmd.Context(), ref, branch)
		if report != nil {
			if perr := printReport(cmd, report); perr != nil {
				return perr
			}
		}
		if err != nil {
			return err
		}
		if report.Status == types.StateCancelled {
			return report.Err
		}
		return nil
	}),
}

var detectCmd = &cobra.Command{
	Use:   "detect <owner/name>",
	Short: "Show what a sync would change without writing anything",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		ref, branch, err := refAndBranch(cmd, args[0], a)
		if err != nil {
			return err
		}

		cs, err := a.syncer.DetectChanges(cmd.Context(), ref, branch)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput(cmd) {
			return printJSON(out, cs)
		}
		counts := cs.Counts()
		fmt.Fprintf(out, "%s@%s: %d new, %d modified, %d deleted, %d unchanged\n",
			ref.ID(), branch, counts.New, counts.Modified, counts.Deleted, counts.Unchanged)
		for _, f := range cs.New {
			fmt.Fprintf(out, "  + %s\n", f.Path)
		}
		for _, f := range cs.Modified {
			fmt.Fprintf(out, "  ~ %s\n", f.Path)
		}
		for _, f := range cs.Deleted {
			fmt.Fprintf(out, "  - %s\n", f.Path)
		}
		return nil
	}),
}

func init() {
	for _, c := range []*cobra.Command{syncCmd, detectCmd} {
		c.Flags().StringP("branch", "b", "", "branch to sync (default sync.branch)")
		rootCmd.AddCommand(c)
	}
}

func refAndBranch(cmd *cobra.Command, arg string, a *app) (types.RepositoryRef, string, error) {
	ref, err := types.ParseRepositoryRef(arg)
	if err != nil {
		return types.RepositoryRef{}, "", err
	}
	branch, _ := cmd.Flags().GetString("branch")
	if branch == "" {
		branch = a.cfg.Sync.Branch
	}
	return ref, branch, nil
}

func printReport(cmd *cobra.Command, r *types.SyncReport) error {
	out := cmd.OutOrStdout()
	if jsonOutput(cmd) {
		failed := make([]map[string]string, len(r.FailedPaths))
		for i, f := range r.FailedPaths {
			failed[i] = map[string]string{"path": f.Path, "step": string(f.Step), "reason": f.Reason()}
		}
		return printJSON(out, map[string]interface{}{
			"repository":      r.RepositoryID,
			"branch":          r.Branch,
			"status":          r.Status,
			"new":             r.New,
			"modified":        r.Modified,
			"deleted":         r.Deleted,
			"unchanged":       r.Unchanged,
			"chunks_written":  r.ChunksWritten,
			"deleted_records": r.DeletedRecords,
			"succeeded":       r.Succeeded,
			"failed":          r.Failed,
			"failed_paths":    failed,
			"duration_ms":     r.Elapsed.Milliseconds(),
		})
	}

	fmt.Fprintln(out, r.Summary())
	for _, f := range r.FailedPaths {
		fmt.Fprintf(out, "  ! %s\n", f)
	}
	return nil
}
