package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/docsync-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams       = -32602 // Invalid method parameters
	ErrorCodeInternalError       = -32603 // Internal JSON-RPC error
	ErrorCodeRepositoryNotFound  = -32001 // Repository or branch does not exist upstream
	ErrorCodeSyncInProgress      = -32002 // Another sync of the repository is running
	ErrorCodeNotTracked          = -32003 // Repository has never been synced
	ErrorCodeUpstreamUnavailable = -32004 // Upstream rejected credentials or is rate limiting
)

const (
	defaultMaxFailedPaths = 20
	defaultFileLimit      = 100
	maxFileLimit          = 1000
)

// handleSyncRepository handles the sync_repository tool invocation
func (s *Server) handleSyncRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	ref, err := repositoryArg(args)
	if err != nil {
		return nil, err
	}
	branch := getStringDefault(args, "branch", s.defaultBranch)
	maxFailed := getIntDefault(args, "max_failed_paths", defaultMaxFailedPaths)
	if maxFailed < 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "max_failed_paths must not be negative", map[string]interface{}{
			"param": "max_failed_paths",
			"value": maxFailed,
		})
	}

	report, err := s.service.Sync(ctx, ref, branch)
	if err != nil {
		s.logger.Warn("sync tool failed", "repository", ref.ID(), "branch", branch, "error", err)
		return nil, toMCPError("sync failed", err)
	}

	return mcp.NewToolResultText(formatJSON(reportResponse(report, maxFailed))), nil
}

func reportResponse(r *types.SyncReport, maxFailed int) map[string]interface{} {
	response := map[string]interface{}{
		"repository":      r.RepositoryID,
		"branch":          r.Branch,
		"status":          r.Status.String(),
		"no_changes":      r.NoChanges,
		"new":             r.New,
		"modified":        r.Modified,
		"deleted":         r.Deleted,
		"unchanged":       r.Unchanged,
		"fetched":         r.Fetched,
		"ingested":        r.Ingested,
		"chunks_written":  r.ChunksWritten,
		"deleted_records": r.DeletedRecords,
		"succeeded":       r.Succeeded,
		"failed":          r.Failed,
		"duration_ms":     r.Elapsed.Milliseconds(),
		"summary":         r.Summary(),
	}

	if len(r.FailedPaths) > 0 {
		// Include first few failures
		failures := r.FailedPaths
		if len(failures) > maxFailed {
			failures = failures[:maxFailed]
			response["failed_paths_truncated"] = true
		}
		listed := make([]map[string]interface{}, len(failures))
		for i, f := range failures {
			listed[i] = map[string]interface{}{
				"path":   f.Path,
				"step":   string(f.Step),
				"reason": f.Reason(),
			}
		}
		response["failed_paths"] = listed
	}
	if r.Err != nil {
		response["error"] = r.Err.Error()
	}
	return response
}

// handleDetectChanges handles the detect_changes tool invocation
func (s *Server) handleDetectChanges(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	ref, err := repositoryArg(args)
	if err != nil {
		return nil, err
	}
	branch := getStringDefault(args, "branch", s.defaultBranch)
	includeUnchanged := getBoolDefault(args, "include_unchanged", false)

	cs, err := s.service.DetectChanges(ctx, ref, branch)
	if err != nil {
		return nil, toMCPError("change detection failed", err)
	}

	response := map[string]interface{}{
		"repository":  ref.ID(),
		"branch":      branch,
		"has_changes": cs.HasChanges(),
		"counts":      cs.Counts(),
		"new":         cs.New,
		"modified":    cs.Modified,
		"deleted":     cs.Deleted,
	}
	if includeUnchanged {
		response["unchanged"] = cs.Unchanged
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleDeleteRepository handles the delete_repository tool invocation
func (s *Server) handleDeleteRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	ref, err := repositoryArg(args)
	if err != nil {
		return nil, err
	}

	result, err := s.service.DeleteRepository(ctx, ref.ID())
	if err != nil {
		return nil, toMCPError("delete failed", err)
	}

	response := map[string]interface{}{
		"deleted":         true,
		"repository":      result.RepositoryID,
		"files_removed":   result.FilesRemoved,
		"records_deleted": result.RecordsDeleted,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleListRepositories handles the list_repositories tool invocation
func (s *Server) handleListRepositories(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repos, err := s.service.ListRepositories(ctx)
	if err != nil {
		return nil, toMCPError("failed to list repositories", err)
	}

	listed := make([]map[string]interface{}, len(repos))
	for i, r := range repos {
		listed[i] = map[string]interface{}{
			"repository":       r.RepositoryID,
			"branch":           r.Branch,
			"file_count":       r.FileCount,
			"status":           r.Status,
			"tracking_enabled": r.TrackingEnabled,
			"last_updated_at":  r.LastUpdatedAt.Format(time.RFC3339),
		}
	}

	response := map[string]interface{}{
		"count":        len(repos),
		"repositories": listed,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleListRepositoryFiles handles the list_repository_files tool invocation
func (s *Server) handleListRepositoryFiles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	ref, err := repositoryArg(args)
	if err != nil {
		return nil, err
	}
	limit := getIntDefault(args, "limit", defaultFileLimit)
	if limit < 1 || limit > maxFileLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("limit must be between 1 and %d", maxFileLimit), map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	files, err := s.service.ListFiles(ctx, ref.ID())
	if err != nil {
		return nil, toMCPError("failed to list files", err)
	}

	total := len(files)
	if len(files) > limit {
		files = files[:limit]
	}
	listed := make([]map[string]interface{}, len(files))
	for i, f := range files {
		listed[i] = map[string]interface{}{
			"path":             f.Path,
			"hash":             f.Hash,
			"last_ingested_at": f.LastIngestedAt.Format(time.RFC3339),
		}
	}

	response := map[string]interface{}{
		"repository": ref.ID(),
		"total":      total,
		"files":      listed,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetRepositoryStats handles the get_repository_stats tool invocation
func (s *Server) handleGetRepositoryStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.service.Stats(ctx)
	if err != nil {
		return nil, toMCPError("failed to get statistics", err)
	}

	response := map[string]interface{}{
		"repositories":   stats.Repositories,
		"tracked_files":  stats.TrackedFiles,
		"vector_records": stats.VectorRecords,
	}
	if !stats.LastUpdatedAt.IsZero() {
		response["last_updated_at"] = stats.LastUpdatedAt.Format(time.RFC3339)
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

func repositoryArg(args map[string]interface{}) (types.RepositoryRef, error) {
	raw, ok := args["repository"].(string)
	if !ok || raw == "" {
		return types.RepositoryRef{}, newMCPError(ErrorCodeInvalidParams, "repository parameter is required", map[string]interface{}{
			"param":  "repository",
			"reason": "missing or empty",
		})
	}
	ref, err := types.ParseRepositoryRef(raw)
	if err != nil {
		return types.RepositoryRef{}, newMCPError(ErrorCodeInvalidParams, "invalid repository", map[string]interface{}{
			"param":  "repository",
			"reason": err.Error(),
		})
	}
	return ref, nil
}

// toMCPError maps an error kind to its MCP error code
func toMCPError(message string, err error) error {
	data := map[string]interface{}{"error": err.Error()}

	var (
		validation *types.ValidationError
		inProgress *types.SyncInProgressError
		repoErr    *types.RepositoryNotFoundError
		notFound   *types.NotFoundError
		authErr    *types.AuthError
		rateErr    *types.RateLimitError
	)
	switch {
	case errors.As(err, &validation), errors.Is(err, types.ErrInvalidRepository):
		return newMCPError(ErrorCodeInvalidParams, message, data)
	case errors.As(err, &inProgress):
		data["repository"] = inProgress.RepositoryID
		data["branch"] = inProgress.Branch
		return newMCPError(ErrorCodeSyncInProgress, message, data)
	case errors.As(err, &repoErr):
		return newMCPError(ErrorCodeRepositoryNotFound, message, data)
	case errors.As(err, &notFound):
		return newMCPError(ErrorCodeNotTracked, message, data)
	case errors.As(err, &rateErr):
		if !rateErr.ResetAt.IsZero() {
			data["reset_at"] = rateErr.ResetAt.Format(time.RFC3339)
		}
		return newMCPError(ErrorCodeUpstreamUnavailable, message, data)
	case errors.As(err, &authErr):
		return newMCPError(ErrorCodeUpstreamUnavailable, message, data)
	default:
		return newMCPError(ErrorCodeInternalError, message, data)
	}
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok && val != "" {
		return val
	}
	return defaultValue
}
