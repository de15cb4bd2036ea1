// Package types provides shared type definitions for the docsync MCP server.
//
// This package defines the domain types passed between the sync engine's
// components: fingerprints produced by the repository scanner, the change set
// produced by the detector, fetched files and documents flowing through the
// ingestion pipeline, and the catalog entries and reports persisted or
// returned at the end of a sync.
//
// # Core Types
//
// FileFingerprint pairs a repository path with an opaque content hash. Two
// fingerprints with equal hashes describe identical content:
//
//	fp := types.FileFingerprint{Path: "docs/api.md", Hash: "3b18e512..."}
//
// ChangeSet partitions every path seen in either the fresh scan or the
// catalog into exactly one of New, Modified, Deleted or Unchanged:
//
//	cs.Additions()  // New followed by Modified
//	cs.HasChanges() // false when only Unchanged is populated
//
// Document is the embeddable record built from a fetched file. Its ID is
// derived from (repository, branch, path) so re-ingesting a path overwrites
// rather than duplicates.
//
// # Errors
//
// Error kinds that drive the orchestrator's control flow are typed so callers
// can classify them with errors.As:
//
//	var inProgress *types.SyncInProgressError
//	if errors.As(err, &inProgress) {
//	    // another sync holds the lock for this repository and branch
//	}
//
// IsFatal reports whether an error must abort a whole sync, and IsRetryable
// whether a per-item operation may be attempted again.
package types
