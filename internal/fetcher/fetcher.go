// Package fetcher retrieves file content for changed paths under a bounded
// concurrency limit. Failures are isolated per path: one bad file never stops
// the others from being fetched.
package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/docsync-mcp/internal/retry"
	"github.com/dshills/docsync-mcp/internal/source"
	"github.com/dshills/docsync-mcp/pkg/types"
)

// Defaults
const (
	DefaultMaxConcurrency = 10
	DefaultTimeout        = 15 * time.Second
)

// ContentSource retrieves one decoded file
type ContentSource interface {
	GetFileContent(ctx context.Context, ref types.RepositoryRef, branch, path string) (*source.FileContent, error)
}

// Observer is notified around every fetch. Calls happen on worker goroutines.
type Observer interface {
	OnStart(path string)
	OnFinish(path string, err error)
}

// Config controls concurrency, per-attempt timeout and retry
type Config struct {
	MaxConcurrency int
	Timeout        time.Duration
	Retry          retry.Policy
	Clock          retry.Clock
	Observer       Observer
}

// Fetcher fetches files concurrently
type Fetcher struct {
	src    ContentSource
	cfg    Config
	logger *slog.Logger
}

// New creates a Fetcher. Zero values in cfg are replaced with defaults.
func New(src ContentSource, cfg Config, logger *slog.Logger) *Fetcher {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	if cfg.Clock == nil {
		cfg.Clock = retry.SystemClock()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Fetcher{src: src, cfg: cfg, logger: logger}
}

// MaxConcurrency returns the effective worker limit
func (f *Fetcher) MaxConcurrency() int {
	return f.cfg.MaxConcurrency
}

// FetchAll fetches every file and returns the successes and failures, both
// sorted by path. It returns once every scheduled fetch has completed.
// Paths not yet scheduled when ctx is cancelled are reported as failed with
// the context error.
func (f *Fetcher) FetchAll(ctx context.Context, ref types.RepositoryRef, branch string, files []types.FileFingerprint) ([]types.FetchedFile, []types.FailedPath) {
	var (
		mu      sync.Mutex
		fetched = make([]types.FetchedFile, 0, len(files))
		failed  []types.FailedPath
	)

	g := new(errgroup.Group)
	g.SetLimit(f.cfg.MaxConcurrency)

	for i, fp := range files {
		if err := ctx.Err(); err != nil {
			mu.Lock()
			for _, rest := range files[i:] {
				failed = append(failed, types.FailedPath{Path: rest.Path, Step: types.StepFetch, Err: err})
			}
			mu.Unlock()
			break
		}

		g.Go(func() error {
			file, err := f.fetchOne(ctx, ref, branch, fp)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, types.FailedPath{Path: fp.Path, Step: types.StepFetch, Err: err})
				return nil
			}
			fetched = append(fetched, file)
			return nil
		})
	}

	// workers never return errors, so Wait only blocks until all are done
	_ = g.Wait()

	sort.Slice(fetched, func(i, j int) bool { return fetched[i].Path < fetched[j].Path })
	sort.Slice(failed, func(i, j int) bool { return failed[i].Path < failed[j].Path })

	f.logger.Debug("fetch complete",
		"repository", ref.ID(),
		"branch", branch,
		"fetched", len(fetched),
		"failed", len(failed))

	return fetched, failed
}

func (f *Fetcher) fetchOne(ctx context.Context, ref types.RepositoryRef, branch string, fp types.FileFingerprint) (file types.FetchedFile, err error) {
	if obs := f.cfg.Observer; obs != nil {
		obs.OnStart(fp.Path)
		defer func() { obs.OnFinish(fp.Path, err) }()
	}

	if err := ctx.Err(); err != nil {
		return types.FetchedFile{}, err
	}

	content, err := retry.Do(ctx, f.cfg.Retry, f.cfg.Clock, types.IsRetryable,
		func(ctx context.Context) (*source.FileContent, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
			defer cancel()
			return f.src.GetFileContent(attemptCtx, ref, branch, fp.Path)
		})
	if err != nil {
		f.logger.Warn("fetch failed",
			"repository", ref.ID(),
			"path", fp.Path,
			"attempts", retry.Attempts(err),
			"error", err)
		return types.FetchedFile{}, fmt.Errorf("fetch %s: %w", fp.Path, err)
	}

	hash := content.SHA
	if hash == "" {
		hash = fp.Hash
	}
	size := content.Size
	if size == 0 {
		size = int64(len(content.Content))
	}

	return types.FetchedFile{
		Path:       fp.Path,
		Hash:       hash,
		Content:    content.Content,
		Size:       size,
		SourceURL:  content.HTMLURL,
		ContentURL: content.DownloadURL,
	}, nil
}
