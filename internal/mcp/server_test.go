package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docsync-mcp/internal/storage"
	"github.com/dshills/docsync-mcp/internal/syncer"
	"github.com/dshills/docsync-mcp/pkg/types"
)

// fakeService records calls and returns canned results
type fakeService struct {
	syncRef    types.RepositoryRef
	syncBranch string
	report     *types.SyncReport
	changes    *types.ChangeSet
	deleted    *syncer.DeleteResult
	repos      []types.CatalogSummary
	files      []types.CatalogFile
	stats      *storage.CatalogStats
	err        error
}

func (f *fakeService) Sync(_ context.Context, ref types.RepositoryRef, branch string) (*types.SyncReport, error) {
	f.syncRef, f.syncBranch = ref, branch
	return f.report, f.err
}

func (f *fakeService) DetectChanges(_ context.Context, ref types.RepositoryRef, branch string) (*types.ChangeSet, error) {
	return f.changes, f.err
}

func (f *fakeService) DeleteRepository(_ context.Context, id string) (*syncer.DeleteResult, error) {
	return f.deleted, f.err
}

func (f *fakeService) ListRepositories(context.Context) ([]types.CatalogSummary, error) {
	return f.repos, f.err
}

func (f *fakeService) ListFiles(context.Context, string) ([]types.CatalogFile, error) {
	return f.files, f.err
}

func (f *fakeService) Stats(context.Context) (*storage.CatalogStats, error) {
	return f.stats, f.err
}

func callRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultJSON(t *testing.T, result *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)

	var text string
	switch c := result.Content[0].(type) {
	case mcp.TextContent:
		text = c.Text
	case *mcp.TextContent:
		text = c.Text
	default:
		t.Fatalf("unexpected content type %T", c)
	}

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	return out
}

func mcpCode(t *testing.T, err error) int {
	t.Helper()
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr), "expected MCPError, got %v", err)
	return mcpErr.Code
}

func TestNewServer_DefaultBranch(t *testing.T) {
	s := NewServer(&fakeService{}, "", nil)
	assert.Equal(t, "main", s.defaultBranch)
	assert.NotNil(t, s.mcp)
}

// TestSyncRepository_Report verifies the report is rendered and the URL form is accepted
func TestSyncRepository_Report(t *testing.T) {
	svc := &fakeService{report: &types.SyncReport{
		RepositoryID: "acme/docs",
		Branch:       "main",
		Status:       types.StateDone,
		New:          2,
		Succeeded:    1,
		Failed:       1,
		Elapsed:      1500 * time.Millisecond,
		FailedPaths: []types.FailedPath{
			{Path: "b.md", Step: types.StepFetch, Err: errors.New("timeout")},
		},
	}}
	s := NewServer(svc, "main", nil)

	result, err := s.handleSyncRepository(context.Background(), callRequest("sync_repository", map[string]interface{}{
		"repository": "https://github.com/acme/docs.git",
	}))
	require.NoError(t, err)

	assert.Equal(t, types.RepositoryRef{Owner: "acme", Name: "docs"}, svc.syncRef)
	assert.Equal(t, "main", svc.syncBranch)

	out := resultJSON(t, result)
	assert.Equal(t, "done", out["status"])
	assert.Equal(t, float64(2), out["new"])
	assert.Equal(t, float64(1500), out["duration_ms"])
	failed := out["failed_paths"].([]interface{})
	require.Len(t, failed, 1)
	assert.Equal(t, "b.md", failed[0].(map[string]interface{})["path"])
	assert.Equal(t, "fetch", failed[0].(map[string]interface{})["step"])
}

// TestSyncRepository_TruncatesFailures verifies max_failed_paths bounds the listing
func TestSyncRepository_TruncatesFailures(t *testing.T) {
	report := &types.SyncReport{RepositoryID: "acme/docs", Branch: "dev", Status: types.StateDone}
	for i := 0; i < 5; i++ {
		report.FailedPaths = append(report.FailedPaths, types.FailedPath{Path: fmt.Sprintf("%d.md", i), Step: types.StepIngest})
	}
	svc := &fakeService{report: report}
	s := NewServer(svc, "main", nil)

	result, err := s.handleSyncRepository(context.Background(), callRequest("sync_repository", map[string]interface{}{
		"repository":       "acme/docs",
		"branch":           "dev",
		"max_failed_paths": float64(2),
	}))
	require.NoError(t, err)
	assert.Equal(t, "dev", svc.syncBranch)

	out := resultJSON(t, result)
	assert.Len(t, out["failed_paths"], 2)
	assert.Equal(t, true, out["failed_paths_truncated"])
}

// TestSyncRepository_InvalidParams verifies argument validation
func TestSyncRepository_InvalidParams(t *testing.T) {
	s := NewServer(&fakeService{}, "main", nil)
	ctx := context.Background()

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"missing repository", map[string]interface{}{}},
		{"bad repository", map[string]interface{}{"repository": "not-a-repo"}},
		{"negative max", map[string]interface{}{"repository": "acme/docs", "max_failed_paths": float64(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.handleSyncRepository(ctx, callRequest("sync_repository", tt.args))
			assert.Equal(t, ErrorCodeInvalidParams, mcpCode(t, err))
		})
	}

	var req mcp.CallToolRequest
	req.Params.Arguments = "nope"
	_, err := s.handleSyncRepository(ctx, req)
	assert.Equal(t, ErrorCodeInvalidParams, mcpCode(t, err))
}

// TestToMCPError verifies every error kind maps to its code, through SyncError wrapping
func TestToMCPError(t *testing.T) {
	wrap := func(err error) error {
		return &types.SyncError{RepositoryID: "acme/docs", Branch: "main", Step: types.StepScan, Err: err}
	}
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"validation", &types.ValidationError{Err: types.ErrDuplicatePath}, ErrorCodeInvalidParams},
		{"in progress", &types.SyncInProgressError{RepositoryID: "acme/docs", Branch: "main"}, ErrorCodeSyncInProgress},
		{"repository not found", wrap(&types.RepositoryNotFoundError{Repository: "acme/docs", Branch: "main", Err: &types.NotFoundError{Resource: "acme/docs"}}), ErrorCodeRepositoryNotFound},
		{"not tracked", &types.NotFoundError{Resource: "repository acme/docs"}, ErrorCodeNotTracked},
		{"auth", wrap(&types.AuthError{StatusCode: 401}), ErrorCodeUpstreamUnavailable},
		{"rate limit", wrap(&types.RateLimitError{ResetAt: time.Unix(1700000000, 0)}), ErrorCodeUpstreamUnavailable},
		{"catalog", wrap(types.ErrCatalogUnavailable), ErrorCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, mcpCode(t, toMCPError("failed", tt.err)))
		})
	}
}

func TestDetectChanges(t *testing.T) {
	svc := &fakeService{changes: &types.ChangeSet{
		New:       []types.FileFingerprint{{Path: "a.md", Hash: "h1"}},
		Unchanged: []types.FileFingerprint{{Path: "b.md", Hash: "h2"}},
	}}
	s := NewServer(svc, "main", nil)

	result, err := s.handleDetectChanges(context.Background(), callRequest("detect_changes", map[string]interface{}{
		"repository": "acme/docs",
	}))
	require.NoError(t, err)
	out := resultJSON(t, result)
	assert.Equal(t, true, out["has_changes"])
	assert.NotContains(t, out, "unchanged")
	assert.Equal(t, float64(1), out["counts"].(map[string]interface{})["unchanged"])

	result, err = s.handleDetectChanges(context.Background(), callRequest("detect_changes", map[string]interface{}{
		"repository":        "acme/docs",
		"include_unchanged": true,
	}))
	require.NoError(t, err)
	assert.Len(t, resultJSON(t, result)["unchanged"], 1)
}

func TestDeleteRepository(t *testing.T) {
	svc := &fakeService{deleted: &syncer.DeleteResult{RepositoryID: "acme/docs", FilesRemoved: 3, RecordsDeleted: 9}}
	s := NewServer(svc, "main", nil)

	result, err := s.handleDeleteRepository(context.Background(), callRequest("delete_repository", map[string]interface{}{
		"repository": "acme/docs",
	}))
	require.NoError(t, err)
	out := resultJSON(t, result)
	assert.Equal(t, float64(9), out["records_deleted"])

	svc.err = &types.SyncInProgressError{RepositoryID: "acme/docs", Branch: "main"}
	_, err = s.handleDeleteRepository(context.Background(), callRequest("delete_repository", map[string]interface{}{
		"repository": "acme/docs",
	}))
	assert.Equal(t, ErrorCodeSyncInProgress, mcpCode(t, err))
}

func TestListRepositories(t *testing.T) {
	updated := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := &fakeService{repos: []types.CatalogSummary{
		{RepositoryID: "acme/docs", Branch: "main", FileCount: 4, Status: types.CatalogStatusComplete, TrackingEnabled: true, LastUpdatedAt: updated},
	}}
	s := NewServer(svc, "main", nil)

	result, err := s.handleListRepositories(context.Background(), callRequest("list_repositories", nil))
	require.NoError(t, err)
	out := resultJSON(t, result)
	assert.Equal(t, float64(1), out["count"])
	repo := out["repositories"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "acme/docs", repo["repository"])
	assert.Equal(t, "2024-03-01T12:00:00Z", repo["last_updated_at"])
}

// TestListRepositoryFiles verifies the limit bound and total count
func TestListRepositoryFiles(t *testing.T) {
	svc := &fakeService{files: []types.CatalogFile{
		{Path: "a.md", Hash: "h1"}, {Path: "b.md", Hash: "h2"}, {Path: "c.md", Hash: "h3"},
	}}
	s := NewServer(svc, "main", nil)

	result, err := s.handleListRepositoryFiles(context.Background(), callRequest("list_repository_files", map[string]interface{}{
		"repository": "acme/docs",
		"limit":      float64(2),
	}))
	require.NoError(t, err)
	out := resultJSON(t, result)
	assert.Equal(t, float64(3), out["total"])
	assert.Len(t, out["files"], 2)

	_, err = s.handleListRepositoryFiles(context.Background(), callRequest("list_repository_files", map[string]interface{}{
		"repository": "acme/docs",
		"limit":      float64(0),
	}))
	assert.Equal(t, ErrorCodeInvalidParams, mcpCode(t, err))

	svc.err = &types.NotFoundError{Resource: "repository acme/docs"}
	_, err = s.handleListRepositoryFiles(context.Background(), callRequest("list_repository_files", map[string]interface{}{
		"repository": "acme/docs",
	}))
	assert.Equal(t, ErrorCodeNotTracked, mcpCode(t, err))
}

func TestGetRepositoryStats(t *testing.T) {
	svc := &fakeService{stats: &storage.CatalogStats{Repositories: 2, TrackedFiles: 10, VectorRecords: 42}}
	s := NewServer(svc, "main", nil)

	result, err := s.handleGetRepositoryStats(context.Background(), callRequest("get_repository_stats", nil))
	require.NoError(t, err)
	out := resultJSON(t, result)
	assert.Equal(t, float64(42), out["vector_records"])
	assert.NotContains(t, out, "last_updated_at")
}
