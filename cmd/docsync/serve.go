package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/docsync-mcp/internal/mcp"
	"github.com/dshills/docsync-mcp/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the sync operations as MCP tools over stdio",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		// stdout carries the protocol, logs go to stderr or the log file
		a.logger.Info("docsync MCP server starting",
			"version", version,
			"build_mode", storage.BuildMode,
			"driver", storage.DriverName,
			"store", a.cfg.Store.Kind)

		server := mcp.NewServer(a.syncer, a.cfg.Sync.Branch, a.logger)
		err := server.Serve(cmd.Context())
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		a.logger.Info("server stopped")
		return nil
	}),
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "docsync %s\n", version)
		fmt.Fprintf(out, "Build Time: %s\n", buildTime)
		fmt.Fprintf(out, "Build Mode: %s\n", storage.BuildMode)
		fmt.Fprintf(out, "SQLite Driver: %s\n", storage.DriverName)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, versionCmd)
}
