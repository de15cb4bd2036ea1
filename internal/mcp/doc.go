// Package mcp exposes the docsync command surface as Model Context Protocol
// tools over stdio.
//
// Tools:
//   - sync_repository: bring the vector store in line with a repository branch
//   - detect_changes: preview the change set of a sync without writing
//   - delete_repository: drop a repository's vectors and catalog entry
//   - list_repositories: list tracked repositories
//   - list_repository_files: list the tracked files of one repository
//   - get_repository_stats: totals across the catalog
//
// Every tool returns a JSON document as text content. Failures are returned
// as *MCPError with one of these codes:
//   - -32602: invalid params
//   - -32603: internal error
//   - -32001: repository or branch not found upstream
//   - -32002: a sync of the repository is already running
//   - -32003: repository not tracked
//   - -32004: upstream rejected credentials or is rate limiting
//
// Logs go to stderr; stdout carries the protocol.
package mcp
