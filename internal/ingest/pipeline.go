// Package ingest turns documents into chunk vectors and writes them to the
// vector store, isolating failures per document.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/docsync-mcp/internal/chunker"
	"github.com/dshills/docsync-mcp/internal/document"
	"github.com/dshills/docsync-mcp/internal/embedder"
	"github.com/dshills/docsync-mcp/internal/retry"
	"github.com/dshills/docsync-mcp/internal/storage"
	"github.com/dshills/docsync-mcp/pkg/types"
)

// Defaults
const (
	DefaultBatchSize    = 25
	DefaultBatchDelay   = 500 * time.Millisecond
	DefaultConcurrency  = 1
	DefaultWriteTimeout = 30 * time.Second
)

// Config controls chunking, batching and per-write limits
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int           // documents per batch
	BatchDelay   time.Duration // wait between consecutive batch starts
	Concurrency  int           // batches in flight
	WriteTimeout time.Duration // per store call attempt
	Retry        retry.Policy
}

// ProgressFunc is called after each batch with the number of documents
// processed so far
type ProgressFunc func(processed, total int)

// Result summarizes one Ingest call
type Result struct {
	Succeeded     []types.Document
	Failed        []types.FailedPath
	ChunksWritten int
}

// Pipeline chunks, embeds and stores documents
type Pipeline struct {
	embedder embedder.Embedder
	store    storage.VectorStore
	chunker  *chunker.Chunker
	cfg      Config
	clock    retry.Clock
	logger   *slog.Logger
	progress ProgressFunc
}

// New creates a Pipeline. Zero values in cfg are replaced with defaults.
func New(emb embedder.Embedder, store storage.VectorStore, cfg Config, clk retry.Clock, logger *slog.Logger) (*Pipeline, error) {
	if emb == nil || store == nil {
		return nil, errors.New("ingest: embedder and vector store are required")
	}
	ch, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	if clk == nil {
		clk = retry.SystemClock()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{
		embedder: emb,
		store:    store,
		chunker:  ch,
		cfg:      cfg,
		clock:    clk,
		logger:   logger,
	}, nil
}

// SetProgress installs a progress callback. Not safe to call during Ingest.
func (p *Pipeline) SetProgress(fn ProgressFunc) {
	p.progress = fn
}

// Ingest processes docs in batches. Per-document failures are reported in
// Result.Failed; the error is non-nil only when ctx was cancelled, in which
// case Result still describes the work that finished.
func (p *Pipeline) Ingest(ctx context.Context, docs []types.Document) (Result, error) {
	var (
		mu        sync.Mutex
		result    Result
		processed int
	)
	record := func(br batchResult) {
		mu.Lock()
		defer mu.Unlock()
		result.Succeeded = append(result.Succeeded, br.succeeded...)
		result.Failed = append(result.Failed, br.failed...)
		result.ChunksWritten += br.chunks
		processed += len(br.succeeded) + len(br.failed)
		if p.progress != nil {
			p.progress(processed, len(docs))
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(p.cfg.Concurrency)

	for start := 0; start < len(docs); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(docs))
		batch := docs[start:end]

		if start > 0 {
			if err := retry.Sleep(ctx, p.clock, p.cfg.BatchDelay); err != nil {
				record(batchResult{failed: failAll(docs[start:], types.StepIngest, err)})
				break
			}
		}
		if err := ctx.Err(); err != nil {
			record(batchResult{failed: failAll(docs[start:], types.StepIngest, err)})
			break
		}

		g.Go(func() error {
			record(p.processBatch(ctx, batch))
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(result.Succeeded, func(i, j int) bool { return result.Succeeded[i].Path < result.Succeeded[j].Path })
	sort.Slice(result.Failed, func(i, j int) bool { return result.Failed[i].Path < result.Failed[j].Path })

	p.logger.Debug("ingest complete",
		"documents", len(docs),
		"succeeded", len(result.Succeeded),
		"failed", len(result.Failed),
		"chunks", result.ChunksWritten)

	return result, ctx.Err()
}

type batchResult struct {
	succeeded []types.Document
	failed    []types.FailedPath
	chunks    int
}

func failAll(docs []types.Document, step types.SyncStep, err error) []types.FailedPath {
	failed := make([]types.FailedPath, len(docs))
	for i, d := range docs {
		failed[i] = types.FailedPath{Path: d.Path, Step: step, Err: err}
	}
	return failed
}

// processBatch embeds every chunk of the batch together, falling back to
// one embedding call per document when the combined call fails
func (p *Pipeline) processBatch(ctx context.Context, docs []types.Document) batchResult {
	var br batchResult

	chunks := make([][]types.Chunk, len(docs))
	var texts []string
	for i, d := range docs {
		chunks[i] = p.chunker.Split(d.Content)
		for _, c := range chunks[i] {
			texts = append(texts, c.Content)
		}
	}

	vectors := make([][][]float32, len(docs))
	all, err := p.embedAll(ctx, texts)
	if err == nil {
		off := 0
		for i := range docs {
			vectors[i] = all[off : off+len(chunks[i])]
			off += len(chunks[i])
		}
	} else {
		p.logger.Warn("batch embedding failed, retrying per document",
			"documents", len(docs),
			"error", err)
	}

	for i, d := range docs {
		if err != nil && len(chunks[i]) > 0 {
			texts := make([]string, len(chunks[i]))
			for j, c := range chunks[i] {
				texts[j] = c.Content
			}
			vecs, docErr := p.embedAll(ctx, texts)
			if docErr != nil {
				br.failed = append(br.failed, types.FailedPath{Path: d.Path, Step: types.StepIngest, Err: fmt.Errorf("embed: %w", docErr)})
				continue
			}
			vectors[i] = vecs
		}

		n, writeErr := p.write(ctx, d, chunks[i], vectors[i])
		if writeErr != nil {
			br.failed = append(br.failed, types.FailedPath{Path: d.Path, Step: types.StepIngest, Err: writeErr})
			continue
		}
		br.succeeded = append(br.succeeded, d)
		br.chunks += n
	}
	return br
}

// embedAll embeds texts in sub-batches no larger than the provider limit
func (p *Pipeline) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedder.MaxBatchSize {
		end := min(start+embedder.MaxBatchSize, len(texts))
		vecs, err := retry.Do(ctx, p.cfg.Retry, p.clock, types.IsRetryable,
			func(ctx context.Context) ([][]float32, error) {
				return p.embedder.EmbedBatch(ctx, texts[start:end])
			})
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("%w: %d vectors for %d texts", embedder.ErrProviderFailed, len(vecs), end-start)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// write replaces the stored chunks of one document. Zero chunks clears the path.
func (p *Pipeline) write(ctx context.Context, d types.Document, chunks []types.Chunk, vectors [][]float32) (int, error) {
	key := storage.PathKey{RepositoryID: d.Metadata.RepositoryID, Branch: d.Metadata.Branch, Path: d.Path}
	records := make([]storage.VectorRecord, len(chunks))
	for i, c := range chunks {
		meta := d.Metadata.Map()
		meta["chunk_hash"] = c.ContentHash
		meta["token_count"] = strconv.Itoa(c.TokenCount)
		meta["chunk_count"] = strconv.Itoa(len(chunks))
		records[i] = storage.VectorRecord{
			ID:         document.ChunkID(key.RepositoryID, key.Branch, key.Path, c.Index),
			DocumentID: d.ID,
			Key:        key,
			ChunkIndex: c.Index,
			Content:    c.Content,
			Vector:     vectors[i],
			Metadata:   meta,
		}
	}

	_, err := retry.Do(ctx, p.cfg.Retry, p.clock, retryableWrite,
		func(ctx context.Context) (struct{}, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
			defer cancel()
			return struct{}{}, p.store.ReplacePath(attemptCtx, key, records)
		})
	if err != nil {
		return 0, fmt.Errorf("store: %w", err)
	}
	return len(records), nil
}

// retryableWrite retries store failures other than invalid input and cancellation
func retryableWrite(err error) bool {
	return !errors.Is(err, storage.ErrInvalidRecord) && !errors.Is(err, context.Canceled)
}

// DeleteByPaths removes the vectors of each path. Deleting an absent path is
// a no-op. Per-path failures are returned; the error is non-nil only when
// ctx was cancelled, and the remaining paths are then reported as failed.
func (p *Pipeline) DeleteByPaths(ctx context.Context, repositoryID, branch string, paths []string) (int, []types.FailedPath, error) {
	var (
		deleted int
		failed  []types.FailedPath
	)
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			for _, rest := range paths[i:] {
				failed = append(failed, types.FailedPath{Path: rest, Step: types.StepDelete, Err: err})
			}
			return deleted, failed, err
		}

		key := storage.PathKey{RepositoryID: repositoryID, Branch: branch, Path: path}
		n, err := retry.Do(ctx, p.cfg.Retry, p.clock, retryableWrite,
			func(ctx context.Context) (int, error) {
				attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
				defer cancel()
				return p.store.DeleteByPath(attemptCtx, key)
			})
		if err != nil {
			p.logger.Warn("delete failed", "repository", repositoryID, "path", path, "error", err)
			failed = append(failed, types.FailedPath{Path: path, Step: types.StepDelete, Err: err})
			continue
		}
		deleted += n
	}
	return deleted, failed, ctx.Err()
}
