package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/docsync-mcp/internal/config"
	"github.com/dshills/docsync-mcp/internal/embedder"
	"github.com/dshills/docsync-mcp/internal/fetcher"
	"github.com/dshills/docsync-mcp/internal/ingest"
	"github.com/dshills/docsync-mcp/internal/logging"
	"github.com/dshills/docsync-mcp/internal/observability"
	"github.com/dshills/docsync-mcp/internal/retry"
	"github.com/dshills/docsync-mcp/internal/source"
	"github.com/dshills/docsync-mcp/internal/storage"
	"github.com/dshills/docsync-mcp/internal/storage/qdrant"
	"github.com/dshills/docsync-mcp/internal/syncer"
	"github.com/dshills/docsync-mcp/pkg/types"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:           "docsync",
	Short:         "Keep a vector store in sync with a repository's documentation",
	Long:          "docsync scans a GitHub repository branch, detects changed documentation files and re-embeds only what changed.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default .docsync.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "override log.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("json", false, "print results as JSON")
}

// app holds the wired components for one command invocation
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	syncer  *syncer.Syncer
	closers []func(context.Context) error
}

func newApp(cmd *cobra.Command) (*app, error) {
	ctx := cmd.Context()

	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}

	logger, logCloser, err := logging.New(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	a.onClose(func(context.Context) error { return logCloser.Close() })

	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	if err := a.wire(ctx); err != nil {
		_ = a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	tcfg := observability.DefaultTracingConfig()
	tcfg.ServiceVersion = version
	tcfg.Environment = cfg.Tracing.Environment
	tcfg.OTLPEndpoint = cfg.Tracing.Endpoint
	tcfg.SampleRate = cfg.Tracing.SampleRate
	tp, err := observability.InitTracing(ctx, tcfg)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	a.onClose(tp.Shutdown)

	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		Multiplier:  cfg.Retry.Multiplier,
	}
	clk := retry.SystemClock()

	client := source.NewClient(source.Config{
		BaseURL:           cfg.GitHub.BaseURL,
		Token:             cfg.GitHub.Token,
		UserAgent:         cfg.GitHub.UserAgent,
		RequestsPerSecond: cfg.GitHub.RequestsPerSecond,
		Burst:             cfg.GitHub.Burst,
		Timeout:           cfg.GitHub.Timeout,
	}, a.logger)

	f := fetcher.New(client, fetcher.Config{
		MaxConcurrency: cfg.Sync.MaxFetchConcurrency,
		Timeout:        cfg.Sync.FetchTimeout,
		Retry:          policy,
		Clock:          clk,
		Observer:       fetchLogger{logger: a.logger},
	}, a.logger)

	emb, err := embedder.New(embedder.Config{
		Provider:  cfg.Embedding.Provider,
		APIKey:    cfg.Embedding.APIKey,
		Model:     cfg.Embedding.Model,
		BaseURL:   cfg.Embedding.BaseURL,
		Dimension: cfg.Embedding.Dimension,
		CacheSize: cfg.Embedding.CacheSize,
		Timeout:   cfg.Embedding.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	a.onClose(func(context.Context) error { return emb.Close() })

	catalog, err := storage.NewSQLiteStorage(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	a.onClose(func(context.Context) error { return catalog.Close() })

	var vectors storage.VectorStore = catalog
	if cfg.Store.Kind == config.StoreQdrant {
		qs, err := openQdrant(ctx, cfg.Store.Qdrant, emb)
		if err != nil {
			return err
		}
		a.onClose(func(context.Context) error { return qs.Close() })
		vectors = qs
	}

	pipeline, err := ingest.New(emb, vectors, ingest.Config{
		ChunkSize:    cfg.Sync.ChunkSize,
		ChunkOverlap: cfg.Sync.ChunkOverlap,
		BatchSize:    cfg.Sync.BatchSize,
		BatchDelay:   cfg.Sync.BatchDelay,
		Concurrency:  cfg.Sync.IngestConcurrency,
		WriteTimeout: cfg.Sync.WriteTimeout,
		Retry:        policy,
	}, clk, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	a.syncer, err = syncer.New(syncer.Deps{
		Scanner:  source.NewScanner(client, a.logger),
		Fetcher:  f,
		Pipeline: pipeline,
		Catalog:  catalog,
		Vectors:  vectors,
	}, syncer.Options{
		Extensions: cfg.Sync.ExtensionFilter,
		Logger:     a.logger,
		OnProgress: func(p types.Progress) {
			a.logger.Info("sync progress",
				"repository", p.RepositoryID,
				"branch", p.Branch,
				"phase", p.Phase.String(),
				"processed", p.Processed,
				"total", p.Total,
				"elapsed", p.Elapsed)
		},
	})
	return err
}

// openQdrant connects and creates the collection, probing the embedder when
// its dimension is not known up front
func openQdrant(ctx context.Context, cfg config.QdrantConfig, emb embedder.Embedder) (*qdrant.Store, error) {
	qs, err := qdrant.New(ctx, cfg.Addr(), cfg.Collection)
	if err != nil {
		return nil, err
	}

	dim := emb.Dimension()
	if dim == 0 {
		vec, err := emb.Embed(ctx, "dimension check")
		if err != nil {
			_ = qs.Close()
			return nil, fmt.Errorf("failed to detect embedding dimension: %w", err)
		}
		dim = len(vec)
	}
	if err := qs.EnsureCollection(ctx, dim); err != nil {
		_ = qs.Close()
		return nil, err
	}
	return qs, nil
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// close releases components in reverse order of creation
func (a *app) close() error {
	ctx := context.Background()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// fetchLogger traces individual fetches at debug level
type fetchLogger struct {
	logger *slog.Logger
}

func (l fetchLogger) OnStart(path string) {
	l.logger.Debug("fetching", "path", path)
}

func (l fetchLogger) OnFinish(path string, err error) {
	if err != nil {
		l.logger.Debug("fetch failed", "path", path, "error", err)
	}
}

func jsonOutput(cmd *cobra.Command) bool {
	asJSON, _ := cmd.Flags().GetBool("json")
	return asJSON
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withApp wires the application, runs fn and releases everything afterwards
func withApp(fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := a.close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		return fn(cmd, args, a)
	}
}
