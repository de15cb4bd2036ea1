package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func repositoryProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "GitHub repository as owner/name, github.com/owner/name or an https URL",
	}
}

func branchProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Branch to read (defaults to the configured branch, usually main)",
	}
}

// syncRepositoryTool returns the tool definition for sync_repository
func syncRepositoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "sync_repository",
		Description: "Sync a GitHub repository's documentation into the vector store, fetching and embedding only files that changed since the last sync",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repository": repositoryProperty(),
				"branch":     branchProperty(),
				"max_failed_paths": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of failed paths listed in the response",
					"default":     20,
					"minimum":     0,
				},
			},
			Required: []string{"repository"},
		},
	}
}

// detectChangesTool returns the tool definition for detect_changes
func detectChangesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "detect_changes",
		Description: "Preview which files a sync would add, update or delete without writing anything",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repository": repositoryProperty(),
				"branch":     branchProperty(),
				"include_unchanged": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, list unchanged paths as well as their count",
					"default":     false,
				},
			},
			Required: []string{"repository"},
		},
	}
}

// deleteRepositoryTool returns the tool definition for delete_repository
func deleteRepositoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "delete_repository",
		Description: "Stop tracking a repository and delete all of its vectors",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repository": repositoryProperty(),
			},
			Required: []string{"repository"},
		},
	}
}

// listRepositoriesTool returns the tool definition for list_repositories
func listRepositoriesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_repositories",
		Description: "List tracked repositories with branch, file count and last sync time",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// listRepositoryFilesTool returns the tool definition for list_repository_files
func listRepositoryFilesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_repository_files",
		Description: "List the files tracked for a repository with their content hash and ingestion time",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repository": repositoryProperty(),
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of files to return (1-1000)",
					"default":     100,
					"minimum":     1,
					"maximum":     1000,
				},
			},
			Required: []string{"repository"},
		},
	}
}

// getRepositoryStatsTool returns the tool definition for get_repository_stats
func getRepositoryStatsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_repository_stats",
		Description: "Report totals across all tracked repositories",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
