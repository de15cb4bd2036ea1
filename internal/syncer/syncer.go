package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/facebookgo/clock"
	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/docsync-mcp/internal/detector"
	"github.com/dshills/docsync-mcp/internal/document"
	"github.com/dshills/docsync-mcp/internal/ingest"
	"github.com/dshills/docsync-mcp/internal/observability"
	"github.com/dshills/docsync-mcp/internal/source"
	"github.com/dshills/docsync-mcp/internal/storage"
	"github.com/dshills/docsync-mcp/pkg/types"
)

// Scanner lists the fingerprints of a repository branch
type Scanner interface {
	Scan(ctx context.Context, ref types.RepositoryRef, branch string, extensions []string) ([]types.FileFingerprint, error)
}

// Fetcher retrieves file contents; per-path failures are returned, not raised
type Fetcher interface {
	FetchAll(ctx context.Context, ref types.RepositoryRef, branch string, files []types.FileFingerprint) ([]types.FetchedFile, []types.FailedPath)
}

// Builder turns fetched files into documents
type Builder interface {
	BuildAll(files []types.FetchedFile, repositoryID, branch string) ([]types.Document, []types.FailedPath)
}

// Pipeline writes and removes the vectors of documents
type Pipeline interface {
	Ingest(ctx context.Context, docs []types.Document) (ingest.Result, error)
	DeleteByPaths(ctx context.Context, repositoryID, branch string, paths []string) (int, []types.FailedPath, error)
}

// Deps are the collaborators of a Syncer
type Deps struct {
	Scanner  Scanner
	Fetcher  Fetcher
	Builder  Builder // defaults to document.NewBuilder()
	Pipeline Pipeline
	Catalog  storage.CatalogStore
	Vectors  storage.VectorStore
}

// Options tune a Syncer
type Options struct {
	Extensions []string // defaults to source.DefaultExtensions
	Clock      clock.Clock
	Logger     *slog.Logger
	OnProgress func(types.Progress)
}

// DeleteResult reports what DeleteRepository removed
type DeleteResult struct {
	RepositoryID   string `json:"repository_id"`
	FilesRemoved   int    `json:"files_removed"`
	RecordsDeleted int    `json:"records_deleted"`
}

// Syncer orchestrates scan, detect, fetch, ingest and merge, one branch at a
// time per repository
type Syncer struct {
	scanner  Scanner
	fetcher  Fetcher
	builder  Builder
	pipeline Pipeline
	catalog  storage.CatalogStore
	vectors  storage.VectorStore

	extensions []string
	clock      clock.Clock
	logger     *slog.Logger
	onProgress func(types.Progress)

	locks *LockSet

	mu     sync.Mutex
	states map[string]types.SyncState
}

// New creates a Syncer
func New(deps Deps, opts Options) (*Syncer, error) {
	if deps.Scanner == nil || deps.Fetcher == nil || deps.Pipeline == nil || deps.Catalog == nil || deps.Vectors == nil {
		return nil, errors.New("syncer: scanner, fetcher, pipeline, catalog and vector store are required")
	}
	if deps.Builder == nil {
		deps.Builder = document.NewBuilder()
	}

	extensions := source.NormalizeExtensions(opts.Extensions)
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	return &Syncer{
		scanner:    deps.Scanner,
		fetcher:    deps.Fetcher,
		builder:    deps.Builder,
		pipeline:   deps.Pipeline,
		catalog:    deps.Catalog,
		vectors:    deps.Vectors,
		extensions: extensions,
		clock:      opts.Clock,
		logger:     opts.Logger,
		onProgress: opts.OnProgress,
		locks:      NewLockSet(),
		states:     make(map[string]types.SyncState),
	}, nil
}

// State returns the state of the sync in flight for repositoryID@branch,
// StateIdle when there is none
func (s *Syncer) State(repositoryID, branch string) types.SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[lockKey(repositoryID, branch)]; ok {
		return st
	}
	return types.StateIdle
}

// run carries the mutable state of one Sync call
type run struct {
	s      *Syncer
	ref    types.RepositoryRef
	branch string
	report *types.SyncReport
	logger *slog.Logger
	span   trace.Span
}

func (r *run) transition(state types.SyncState) {
	r.report.States = append(r.report.States, state)
	r.report.Status = state

	r.s.mu.Lock()
	r.s.states[lockKey(r.report.RepositoryID, r.branch)] = state
	r.s.mu.Unlock()

	r.logger.Debug("sync state", "state", state.String())
}

func (r *run) progress(total, processed int) {
	if r.s.onProgress == nil {
		return
	}
	r.s.onProgress(types.Progress{
		RepositoryID: r.report.RepositoryID,
		Branch:       r.branch,
		Phase:        r.report.Status,
		Total:        total,
		Processed:    processed,
		Elapsed:      r.s.clock.Now().Sub(r.report.StartedAt),
	})
}

func (r *run) finish(state types.SyncState) {
	r.transition(state)
	r.report.FinishedAt = r.s.clock.Now()
	r.report.Elapsed = r.report.FinishedAt.Sub(r.report.StartedAt)
	r.report.Failed = len(r.report.FailedPaths)
	sort.SliceStable(r.report.FailedPaths, func(i, j int) bool {
		return r.report.FailedPaths[i].Path < r.report.FailedPaths[j].Path
	})
	observability.RecordSyncReport(r.span, r.report)
}

// fail ends the run with a fatal error wrapped in *types.SyncError
func (r *run) fail(step types.SyncStep, err error) (*types.SyncReport, error) {
	syncErr := &types.SyncError{
		RepositoryID: r.report.RepositoryID,
		Branch:       r.branch,
		Step:         step,
		Err:          err,
	}
	r.report.Err = syncErr
	r.finish(types.StateFailed)
	r.logger.Error("sync failed", "step", string(step), "error", err)
	return r.report, syncErr
}

func (r *run) cancel(err error) (*types.SyncReport, error) {
	r.report.Err = err
	r.finish(types.StateCancelled)
	r.logger.Warn("sync cancelled", "elapsed", r.report.Elapsed, "error", err)
	return r.report, nil
}

// Sync brings the vector store and catalog in line with the current state of
// ref@branch. Fatal errors return the report together with a
// *types.SyncError; a cancelled context yields a report with status
// StateCancelled and a nil error. A call for a repository that is already
// syncing, on any branch, fails immediately with *types.SyncInProgressError.
func (s *Syncer) Sync(ctx context.Context, ref types.RepositoryRef, branch string) (*types.SyncReport, error) {
	if ref.Owner == "" || ref.Name == "" {
		return nil, &types.ValidationError{Err: types.ErrInvalidRepository}
	}
	if branch == "" {
		return nil, &types.ValidationError{Err: errors.New("branch is required")}
	}
	repositoryID := ref.ID()

	release, err := s.locks.TryAcquire(repositoryID, branch)
	if err != nil {
		return nil, err
	}
	defer func() {
		s.mu.Lock()
		delete(s.states, lockKey(repositoryID, branch))
		s.mu.Unlock()
		release()
	}()

	ctx, span := observability.StartSyncSpan(ctx, repositoryID, branch)
	defer span.End()

	r := &run{
		s:      s,
		ref:    ref,
		branch: branch,
		span:   span,
		logger: s.logger.With("repository", repositoryID, "branch", branch),
		report: &types.SyncReport{
			RepositoryID: repositoryID,
			Branch:       branch,
			StartedAt:    s.clock.Now(),
		},
	}
	r.transition(types.StateIdle)
	r.logger.Info("sync started")

	return s.sync(ctx, r)
}

func (s *Syncer) sync(ctx context.Context, r *run) (*types.SyncReport, error) {
	report := r.report

	// 1. scan
	r.transition(types.StateScanning)
	current, err := s.scan(ctx, r.ref, r.branch)
	if err != nil {
		if ctx.Err() != nil {
			return r.cancel(ctx.Err())
		}
		return r.fail(types.StepScan, err)
	}
	r.progress(len(current), 0)

	// 2-3. load catalog and detect
	r.transition(types.StateDetecting)
	plan, err := s.plan(ctx, current, report.RepositoryID, r.branch)
	if err != nil {
		if ctx.Err() != nil {
			return r.cancel(ctx.Err())
		}
		return r.fail(types.StepDetect, err)
	}
	cs := plan.changes
	report.New = len(cs.New)
	report.Modified = len(cs.Modified)
	report.Deleted = len(cs.Deleted)
	report.Unchanged = len(cs.Unchanged)

	// 4. short-circuit
	if !cs.HasChanges() && plan.previousBranch == "" {
		report.NoChanges = true
		r.finish(types.StateDone)
		r.logger.Info("sync complete, no changes", "unchanged", report.Unchanged)
		return report, nil
	}
	if plan.previousBranch != "" {
		r.logger.Info("tracked branch changed, re-ingesting", "previous_branch", plan.previousBranch)
	}

	// 5. fetch
	r.transition(types.StateFetching)
	additions := cs.Additions()
	fetched, fetchFailed := s.fetch(ctx, r, additions)
	report.Fetched = len(fetched)
	report.FailedPaths = append(report.FailedPaths, fetchFailed...)
	r.progress(len(additions), len(fetched)+len(fetchFailed))

	// 6-7. build, ingest and delete
	r.transition(types.StateIngesting)
	docs, buildFailed := s.builder.BuildAll(fetched, report.RepositoryID, r.branch)
	report.FailedPaths = append(report.FailedPaths, buildFailed...)

	result, ingestErr := s.ingest(ctx, docs)
	report.Ingested = len(result.Succeeded)
	report.ChunksWritten = result.ChunksWritten
	report.FailedPaths = append(report.FailedPaths, result.Failed...)
	r.progress(len(docs), len(result.Succeeded)+len(result.Failed))

	// A branch switch is committed once anything was written under the new
	// branch, even when cancelled, so the catalog never mixes two branches.
	switching := plan.previousBranch != ""
	var deleted []string
	if ingestErr == nil || (switching && len(result.Succeeded) > 0) {
		deleted = s.deleteVectors(ctx, r, plan)
	}

	// 8. merge what finished, even when cancelled
	added := make([]types.FileFingerprint, len(result.Succeeded))
	for i, doc := range result.Succeeded {
		added[i] = doc.Fingerprint()
	}
	deleted = withoutPaths(deleted, added)
	report.Succeeded = len(added) + len(deleted)

	// the entry is created by the first sync that changes something
	cancelled := ctx.Err()
	if len(added) > 0 || len(deleted) > 0 || (cancelled == nil && plan.tracked) {
		r.transition(types.StateMerging)
		partial := len(report.FailedPaths) > 0 || cancelled != nil
		if err := s.merge(ctx, r, added, deleted, partial); err != nil {
			return r.fail(types.StepMerge, err)
		}
	}
	if cancelled != nil {
		return r.cancel(cancelled)
	}

	// 9. done
	r.finish(types.StateDone)
	r.logger.Info("sync complete",
		"new", report.New,
		"modified", report.Modified,
		"deleted", report.Deleted,
		"unchanged", report.Unchanged,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"elapsed", report.Elapsed)
	return report, nil
}

func (s *Syncer) scan(ctx context.Context, ref types.RepositoryRef, branch string) ([]types.FileFingerprint, error) {
	ctx, span := observability.StartStepSpan(ctx, types.StepScan, 0)
	defer span.End()

	current, err := s.scanner.Scan(ctx, ref, branch, s.extensions)
	observability.RecordError(span, err)
	return current, err
}

// syncPlan is the outcome of detection
type syncPlan struct {
	changes *types.ChangeSet
	tracked bool // the catalog has an entry for the repository

	// set when the catalog tracks another branch of the repository; every
	// path of that branch is dropped and its vectors deleted
	previousBranch string
	previousPaths  []string
}

func (s *Syncer) plan(ctx context.Context, current []types.FileFingerprint, repositoryID, branch string) (*syncPlan, error) {
	ctx, span := observability.StartStepSpan(ctx, types.StepDetect, len(current))
	defer span.End()

	p, err := s.detect(ctx, current, repositoryID, branch)
	observability.RecordError(span, err)
	return p, err
}

func (s *Syncer) detect(ctx context.Context, current []types.FileFingerprint, repositoryID, branch string) (*syncPlan, error) {
	entry, ok, err := s.catalog.GetEntry(ctx, repositoryID)
	if err != nil {
		return nil, catalogUnavailable(err)
	}

	p := &syncPlan{tracked: ok}
	stored := map[string]string{}
	if ok {
		if entry.Branch == branch {
			stored = entry.Files
		} else {
			p.previousBranch = entry.Branch
			for path := range entry.Files {
				p.previousPaths = append(p.previousPaths, path)
			}
			sort.Strings(p.previousPaths)
		}
	}

	p.changes, err = detector.Detect(current, stored)
	if err != nil {
		return nil, err
	}
	if p.previousBranch != "" {
		p.changes.Deleted = vanished(entry.Files, current)
	}
	return p, nil
}

// vanished lists the previously tracked files absent from the current scan
func vanished(previous map[string]string, current []types.FileFingerprint) []types.FileFingerprint {
	present := make(map[string]struct{}, len(current))
	for _, fp := range current {
		present[fp.Path] = struct{}{}
	}
	var out []types.FileFingerprint
	for path, hash := range previous {
		if _, ok := present[path]; !ok {
			out = append(out, types.FileFingerprint{Path: path, Hash: hash})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (s *Syncer) fetch(ctx context.Context, r *run, files []types.FileFingerprint) ([]types.FetchedFile, []types.FailedPath) {
	ctx, span := observability.StartStepSpan(ctx, types.StepFetch, len(files))
	defer span.End()

	fetched, failed := s.fetcher.FetchAll(ctx, r.ref, r.branch, files)
	observability.RecordStepResult(span, len(fetched), len(failed))
	for _, f := range failed {
		r.logger.Warn("fetch failed", "path", f.Path, "error", f.Err)
	}
	return fetched, failed
}

func (s *Syncer) ingest(ctx context.Context, docs []types.Document) (ingest.Result, error) {
	if len(docs) == 0 {
		return ingest.Result{}, ctx.Err()
	}
	ctx, span := observability.StartStepSpan(ctx, types.StepIngest, len(docs))
	defer span.End()

	result, err := s.pipeline.Ingest(ctx, docs)
	observability.RecordStepResult(span, len(result.Succeeded), len(result.Failed))
	observability.RecordError(span, err)
	return result, err
}

// deleteVectors removes the vectors of deleted paths and returns the paths
// that may leave the catalog
func (s *Syncer) deleteVectors(ctx context.Context, r *run, p *syncPlan) []string {
	paths := p.changes.DeletedPaths()
	if p.previousBranch != "" {
		// nothing is stored under the new branch key yet; the deletions are
		// the previous branch's paths below
		paths = nil
	}
	if len(paths) == 0 && len(p.previousPaths) == 0 {
		return nil
	}
	ctx, span := observability.StartStepSpan(ctx, types.StepDelete, len(paths)+len(p.previousPaths))
	defer span.End()

	var (
		removable []string
		failures  int
	)
	if len(paths) > 0 {
		n, failed, _ := s.pipeline.DeleteByPaths(ctx, r.report.RepositoryID, r.branch, paths)
		r.report.DeletedRecords += n
		r.report.FailedPaths = append(r.report.FailedPaths, failed...)
		removable = append(removable, withoutFailed(paths, failed)...)
		failures += len(failed)
	}

	// Paths of the previous branch always leave the catalog: they are not
	// tracked under the new branch key, so a failed delete is reported and
	// its vectors stay behind. The switch completes after cancellation.
	if len(p.previousPaths) > 0 {
		n, failed, _ := s.pipeline.DeleteByPaths(context.WithoutCancel(ctx), r.report.RepositoryID, p.previousBranch, p.previousPaths)
		r.report.DeletedRecords += n
		failures += len(failed)
		for _, f := range failed {
			r.logger.Warn("stale vectors left behind", "previous_branch", p.previousBranch, "path", f.Path, "error", f.Err)
		}
		removable = append(removable, p.previousPaths...)
	}

	observability.RecordStepResult(span, len(removable), failures)
	return removable
}

func (s *Syncer) merge(ctx context.Context, r *run, added []types.FileFingerprint, deleted []string, partial bool) error {
	// completed work is kept after cancellation
	ctx = context.WithoutCancel(ctx)
	ctx, span := observability.StartStepSpan(ctx, types.StepMerge, len(added)+len(deleted))
	defer span.End()

	repositoryID := r.report.RepositoryID
	if err := s.catalog.MergeEntry(ctx, repositoryID, r.branch, added, deleted); err != nil {
		err = catalogUnavailable(err)
		observability.RecordError(span, err)
		return err
	}
	if partial {
		if err := s.catalog.SetStatus(ctx, repositoryID, types.CatalogStatusPartial); err != nil {
			r.logger.Warn("failed to mark catalog entry partial", "error", err)
		}
	}
	return nil
}

func catalogUnavailable(err error) error {
	if errors.Is(err, types.ErrCatalogUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", types.ErrCatalogUnavailable, err)
}

func withoutFailed(paths []string, failed []types.FailedPath) []string {
	if len(failed) == 0 {
		return paths
	}
	bad := make(map[string]struct{}, len(failed))
	for _, f := range failed {
		bad[f.Path] = struct{}{}
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, ok := bad[p]; !ok {
			out = append(out, p)
		}
	}
	return out
}

func withoutPaths(paths []string, keep []types.FileFingerprint) []string {
	if len(keep) == 0 {
		return paths
	}
	skip := make(map[string]struct{}, len(keep))
	for _, fp := range keep {
		skip[fp.Path] = struct{}{}
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, ok := skip[p]; !ok {
			out = append(out, p)
		}
	}
	return out
}

// DetectChanges classifies the current state of ref@branch against the
// catalog without writing anything. When the catalog tracks another branch,
// its files missing from ref@branch are reported as deleted.
func (s *Syncer) DetectChanges(ctx context.Context, ref types.RepositoryRef, branch string) (*types.ChangeSet, error) {
	if ref.Owner == "" || ref.Name == "" {
		return nil, &types.ValidationError{Err: types.ErrInvalidRepository}
	}
	current, err := s.scan(ctx, ref, branch)
	if err != nil {
		return nil, err
	}
	p, err := s.plan(ctx, current, ref.ID(), branch)
	if err != nil {
		return nil, err
	}
	return p.changes, nil
}

// DeleteRepository removes every vector record of a repository and then its
// catalog entry. It refuses while any sync of the repository is running.
func (s *Syncer) DeleteRepository(ctx context.Context, repositoryID string) (*DeleteResult, error) {
	if repositoryID == "" {
		return nil, &types.ValidationError{Err: types.ErrInvalidRepository}
	}
	release, err := s.locks.TryAcquireRepository(repositoryID)
	if err != nil {
		return nil, err
	}
	defer release()

	logger := s.logger.With("repository", repositoryID)
	result := &DeleteResult{RepositoryID: repositoryID}

	entry, ok, err := s.catalog.GetEntry(ctx, repositoryID)
	if err != nil {
		return nil, catalogUnavailable(err)
	}
	if ok {
		result.FilesRemoved = entry.FileCount
	}

	n, err := s.vectors.DeleteByRepository(ctx, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("delete vectors of %s: %w", repositoryID, err)
	}
	result.RecordsDeleted = n

	if err := s.catalog.DeleteEntry(ctx, repositoryID); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, catalogUnavailable(err)
		}
		if n == 0 {
			return nil, &types.NotFoundError{Resource: "repository " + repositoryID}
		}
	}

	logger.Info("repository deleted", "files", result.FilesRemoved, "records", result.RecordsDeleted)
	return result, nil
}

// ListRepositories returns a summary of every tracked repository
func (s *Syncer) ListRepositories(ctx context.Context) ([]types.CatalogSummary, error) {
	entries, err := s.catalog.ListEntries(ctx)
	if err != nil {
		return nil, catalogUnavailable(err)
	}
	return entries, nil
}

// ListFiles returns the tracked files of one repository
func (s *Syncer) ListFiles(ctx context.Context, repositoryID string) ([]types.CatalogFile, error) {
	files, err := s.catalog.ListFiles(ctx, repositoryID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &types.NotFoundError{Resource: "repository " + repositoryID}
	}
	if err != nil {
		return nil, catalogUnavailable(err)
	}
	return files, nil
}

// Stats returns catalog-wide counters
func (s *Syncer) Stats(ctx context.Context) (*storage.CatalogStats, error) {
	stats, err := s.catalog.Stats(ctx)
	if err != nil {
		return nil, catalogUnavailable(err)
	}
	return stats, nil
}
