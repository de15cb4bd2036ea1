package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/docsync-mcp/internal/storage"
	"github.com/dshills/docsync-mcp/internal/syncer"
	"github.com/dshills/docsync-mcp/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "docsync-mcp"
	// ServerVersion is the current server version
	ServerVersion = "0.1.0"
)

// Service is the command surface the tools call into. *syncer.Syncer
// implements it.
type Service interface {
	Sync(ctx context.Context, ref types.RepositoryRef, branch string) (*types.SyncReport, error)
	DetectChanges(ctx context.Context, ref types.RepositoryRef, branch string) (*types.ChangeSet, error)
	DeleteRepository(ctx context.Context, repositoryID string) (*syncer.DeleteResult, error)
	ListRepositories(ctx context.Context) ([]types.CatalogSummary, error)
	ListFiles(ctx context.Context, repositoryID string) ([]types.CatalogFile, error)
	Stats(ctx context.Context) (*storage.CatalogStats, error)
}

var _ Service = (*syncer.Syncer)(nil)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp           *server.MCPServer
	service       Service
	defaultBranch string
	logger        *slog.Logger
}

// NewServer creates a new MCP server instance
func NewServer(service Service, defaultBranch string, logger *slog.Logger) *Server {
	if defaultBranch == "" {
		defaultBranch = "main"
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		mcp:           server.NewMCPServer(ServerName, ServerVersion),
		service:       service,
		defaultBranch: defaultBranch,
		logger:        logger,
	}
	s.registerTools()
	return s
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp server started", "name", ServerName, "version", ServerVersion)
	stdio := server.NewStdioServer(s.mcp)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(syncRepositoryTool(), s.handleSyncRepository)
	s.mcp.AddTool(detectChangesTool(), s.handleDetectChanges)
	s.mcp.AddTool(deleteRepositoryTool(), s.handleDeleteRepository)
	s.mcp.AddTool(listRepositoriesTool(), s.handleListRepositories)
	s.mcp.AddTool(listRepositoryFilesTool(), s.handleListRepositoryFiles)
	s.mcp.AddTool(getRepositoryStatsTool(), s.handleGetRepositoryStats)
}
