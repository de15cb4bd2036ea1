package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docsync-mcp/internal/document"
	"github.com/dshills/docsync-mcp/internal/embedder"
	"github.com/dshills/docsync-mcp/internal/retry"
	"github.com/dshills/docsync-mcp/internal/storage"
	"github.com/dshills/docsync-mcp/pkg/types"
)

// instantClock fires every timer immediately and counts the waits
type instantClock struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (c *instantClock) Now() time.Time { return time.Unix(0, 0) }

func (c *instantClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Unix(0, 0)
	return ch
}

// fakeEmbedder wraps the local provider and fails on texts containing poison
type fakeEmbedder struct {
	*embedder.LocalProvider
	mu         sync.Mutex
	batchCalls int
	batchSizes []int
	failFirst  int // fail this many calls with a transient error
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{LocalProvider: embedder.NewLocalProvider(8)}
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.batchCalls++
	f.batchSizes = append(f.batchSizes, len(texts))
	transient := f.failFirst > 0
	if transient {
		f.failFirst--
	}
	f.mu.Unlock()

	if transient {
		return nil, &embedder.APIError{Provider: "fake", StatusCode: 503, Body: "busy"}
	}
	for _, t := range texts {
		if strings.Contains(t, "poison") {
			return nil, &embedder.APIError{Provider: "fake", StatusCode: 400, Body: "bad input"}
		}
	}
	return f.LocalProvider.EmbedBatch(ctx, texts)
}

// memStore is an in-memory VectorStore with per-path failure injection
type memStore struct {
	mu       sync.Mutex
	records  map[storage.PathKey]map[int]storage.VectorRecord
	failPath map[string]error
	calls    map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		records:  make(map[storage.PathKey]map[int]storage.VectorRecord),
		failPath: make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (m *memStore) ReplacePath(_ context.Context, key storage.PathKey, records []storage.VectorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[key.Path]++
	if err := m.failPath[key.Path]; err != nil {
		return err
	}
	chunks := m.records[key]
	if chunks == nil {
		chunks = make(map[int]storage.VectorRecord)
		m.records[key] = chunks
	}
	for _, r := range records {
		chunks[r.ChunkIndex] = r
	}
	for idx := range chunks {
		if idx >= len(records) {
			delete(chunks, idx)
		}
	}
	return nil
}

func (m *memStore) Upsert(ctx context.Context, records []storage.VectorRecord) error {
	for _, r := range records {
		if err := m.ReplacePath(ctx, r.Key, []storage.VectorRecord{r}); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStore) DeleteByPath(_ context.Context, key storage.PathKey) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[key.Path]++
	if err := m.failPath[key.Path]; err != nil {
		return 0, err
	}
	n := len(m.records[key])
	delete(m.records, key)
	return n, nil
}

func (m *memStore) DeleteByRepository(_ context.Context, repositoryID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, v := range m.records {
		if k.RepositoryID == repositoryID {
			n += len(v)
			delete(m.records, k)
		}
	}
	return n, nil
}

func (m *memStore) CountByPath(_ context.Context, key storage.PathKey) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records[key]), nil
}

func (m *memStore) Search(context.Context, []float32, storage.SearchFilter, int) ([]storage.SearchResult, error) {
	return nil, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) count(path string) int {
	n, _ := m.CountByPath(context.Background(), storage.PathKey{RepositoryID: "acme/docs", Branch: "main", Path: path})
	return n
}

func doc(path, content string) types.Document {
	return types.Document{
		ID:      document.DocumentID("acme/docs", "main", path),
		Path:    path,
		Content: content,
		Metadata: types.DocumentMetadata{
			RepositoryID: "acme/docs",
			Branch:       "main",
			Hash:         "h-" + path,
			FileName:     path,
		},
	}
}

func testConfig() Config {
	return Config{
		ChunkSize:    64,
		ChunkOverlap: 0,
		BatchSize:    2,
		BatchDelay:   500 * time.Millisecond,
		Concurrency:  1,
		Retry:        retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	}
}

func newTestPipeline(t *testing.T, emb embedder.Embedder, store storage.VectorStore, clk *instantClock) *Pipeline {
	t.Helper()
	p, err := New(emb, store, testConfig(), clk, nil)
	require.NoError(t, err)
	return p
}

// TestIngest_WritesChunks verifies every document is chunked, embedded and stored
func TestIngest_WritesChunks(t *testing.T) {
	store := newMemStore()
	p := newTestPipeline(t, newFakeEmbedder(), store, &instantClock{})

	long := strings.Repeat("word ", 40) // 200 bytes, several chunks
	res, err := p.Ingest(context.Background(), []types.Document{doc("b.md", "short"), doc("a.md", long)})
	require.NoError(t, err)

	require.Len(t, res.Succeeded, 2)
	assert.Equal(t, "a.md", res.Succeeded[0].Path)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 1, store.count("b.md"))
	assert.Greater(t, store.count("a.md"), 1)
	assert.Equal(t, store.count("a.md")+1, res.ChunksWritten)

	key := storage.PathKey{RepositoryID: "acme/docs", Branch: "main", Path: "b.md"}
	rec := store.records[key][0]
	assert.Equal(t, document.ChunkID("acme/docs", "main", "b.md", 0), rec.ID)
	assert.Equal(t, "h-b.md", rec.Metadata["hash"])
	assert.Equal(t, "1", rec.Metadata["chunk_count"])
}

// TestIngest_ShrinkLeavesNoOrphans verifies re-ingesting a shorter file drops old chunks
func TestIngest_ShrinkLeavesNoOrphans(t *testing.T) {
	store := newMemStore()
	p := newTestPipeline(t, newFakeEmbedder(), store, &instantClock{})
	ctx := context.Background()

	_, err := p.Ingest(ctx, []types.Document{doc("a.md", strings.Repeat("word ", 40))})
	require.NoError(t, err)
	require.Greater(t, store.count("a.md"), 1)

	_, err = p.Ingest(ctx, []types.Document{doc("a.md", "tiny")})
	require.NoError(t, err)
	assert.Equal(t, 1, store.count("a.md"))
}

// TestIngest_EmptyDocumentClearsPath verifies zero-chunk documents succeed and remove old records
func TestIngest_EmptyDocumentClearsPath(t *testing.T) {
	store := newMemStore()
	p := newTestPipeline(t, newFakeEmbedder(), store, &instantClock{})
	ctx := context.Background()

	_, err := p.Ingest(ctx, []types.Document{doc("a.md", "content")})
	require.NoError(t, err)

	res, err := p.Ingest(ctx, []types.Document{doc("a.md", "   \n")})
	require.NoError(t, err)
	assert.Len(t, res.Succeeded, 1)
	assert.Zero(t, res.ChunksWritten)
	assert.Zero(t, store.count("a.md"))
}

// TestIngest_PoisonDocumentIsolated verifies a failing document does not fail its batch mates
func TestIngest_PoisonDocumentIsolated(t *testing.T) {
	store := newMemStore()
	emb := newFakeEmbedder()
	p := newTestPipeline(t, emb, store, &instantClock{})

	res, err := p.Ingest(context.Background(), []types.Document{doc("good.md", "fine text"), doc("bad.md", "poison pill")})
	require.NoError(t, err)

	require.Len(t, res.Succeeded, 1)
	assert.Equal(t, "good.md", res.Succeeded[0].Path)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "bad.md", res.Failed[0].Path)
	assert.Equal(t, types.StepIngest, res.Failed[0].Step)
	var apiErr *embedder.APIError
	assert.ErrorAs(t, res.Failed[0].Err, &apiErr)

	// one combined call, then one call per document
	assert.Equal(t, 3, emb.batchCalls)
	assert.Equal(t, 1, store.count("good.md"))
	assert.Zero(t, store.count("bad.md"))
}

// TestIngest_TransientEmbedErrorRetried verifies 5xx embedding failures are retried
func TestIngest_TransientEmbedErrorRetried(t *testing.T) {
	emb := newFakeEmbedder()
	emb.failFirst = 2
	p := newTestPipeline(t, emb, newMemStore(), &instantClock{})

	res, err := p.Ingest(context.Background(), []types.Document{doc("a.md", "text")})
	require.NoError(t, err)
	assert.Len(t, res.Succeeded, 1)
	assert.Equal(t, 3, emb.batchCalls)
}

// TestIngest_StoreFailureIsolated verifies a write error only fails its own document
func TestIngest_StoreFailureIsolated(t *testing.T) {
	store := newMemStore()
	store.failPath["b.md"] = errors.New("disk full")
	p := newTestPipeline(t, newFakeEmbedder(), store, &instantClock{})

	res, err := p.Ingest(context.Background(), []types.Document{doc("a.md", "x"), doc("b.md", "y"), doc("c.md", "z")})
	require.NoError(t, err)

	assert.Len(t, res.Succeeded, 2)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "b.md", res.Failed[0].Path)
	assert.Equal(t, 3, store.calls["b.md"])
	assert.Equal(t, 3, retry.Attempts(res.Failed[0].Err))
}

// TestIngest_BatchingAndDelay verifies batch sizes and the delay between batch starts
func TestIngest_BatchingAndDelay(t *testing.T) {
	emb := newFakeEmbedder()
	clk := &instantClock{}
	p := newTestPipeline(t, emb, newMemStore(), clk)

	var progress []int
	p.SetProgress(func(processed, total int) {
		assert.Equal(t, 5, total)
		progress = append(progress, processed)
	})

	docs := make([]types.Document, 5)
	for i := range docs {
		docs[i] = doc(fmt.Sprintf("%d.md", i), "text")
	}
	res, err := p.Ingest(context.Background(), docs)
	require.NoError(t, err)

	assert.Len(t, res.Succeeded, 5)
	assert.Equal(t, []int{2, 2, 1}, emb.batchSizes)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, clk.waits)
	assert.Equal(t, []int{2, 4, 5}, progress)
}

// TestIngest_LargeBatchSplitForProvider verifies embed calls never exceed the provider limit
func TestIngest_LargeBatchSplitForProvider(t *testing.T) {
	emb := newFakeEmbedder()
	cfg := testConfig()
	cfg.BatchSize = 150
	p, err := New(emb, newMemStore(), cfg, &instantClock{}, nil)
	require.NoError(t, err)

	docs := make([]types.Document, 150)
	for i := range docs {
		docs[i] = doc(fmt.Sprintf("%03d.md", i), "text")
	}
	res, err := p.Ingest(context.Background(), docs)
	require.NoError(t, err)
	assert.Len(t, res.Succeeded, 150)
	assert.Equal(t, []int{embedder.MaxBatchSize, 50}, emb.batchSizes)
}

// TestIngest_Cancelled verifies cancellation is reported and every document accounted for
func TestIngest_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := newTestPipeline(t, newFakeEmbedder(), newMemStore(), &instantClock{})

	res, err := p.Ingest(ctx, []types.Document{doc("a.md", "x"), doc("b.md", "y"), doc("c.md", "z")})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.Succeeded)
	assert.Len(t, res.Failed, 3)
}

// TestDeleteByPaths_Idempotent verifies deletes count records and tolerate absent paths
func TestDeleteByPaths_Idempotent(t *testing.T) {
	store := newMemStore()
	p := newTestPipeline(t, newFakeEmbedder(), store, &instantClock{})
	ctx := context.Background()

	_, err := p.Ingest(ctx, []types.Document{doc("a.md", strings.Repeat("word ", 40)), doc("b.md", "x")})
	require.NoError(t, err)
	want := store.count("a.md")

	n, failed, err := p.DeleteByPaths(ctx, "acme/docs", "main", []string{"a.md", "never.md"})
	require.NoError(t, err)
	assert.Empty(t, failed)
	assert.Equal(t, want, n)

	n, failed, err = p.DeleteByPaths(ctx, "acme/docs", "main", []string{"a.md"})
	require.NoError(t, err)
	assert.Empty(t, failed)
	assert.Zero(t, n)
	assert.Equal(t, 1, store.count("b.md"))
}

// TestDeleteByPaths_PartialFailure verifies one failing delete does not stop the others
func TestDeleteByPaths_PartialFailure(t *testing.T) {
	store := newMemStore()
	store.failPath["b.md"] = storage.ErrInvalidRecord
	p := newTestPipeline(t, newFakeEmbedder(), store, &instantClock{})

	_, failed, err := p.DeleteByPaths(context.Background(), "acme/docs", "main", []string{"a.md", "b.md", "c.md"})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "b.md", failed[0].Path)
	assert.Equal(t, types.StepDelete, failed[0].Step)
	assert.Equal(t, 1, store.calls["b.md"])
	assert.Equal(t, 1, store.calls["c.md"])
}

// TestNew_Validation covers missing collaborators and bad chunker settings
func TestNew_Validation(t *testing.T) {
	_, err := New(nil, newMemStore(), Config{}, nil, nil)
	assert.Error(t, err)

	_, err = New(newFakeEmbedder(), newMemStore(), Config{ChunkSize: 100, ChunkOverlap: 60}, nil, nil)
	assert.Error(t, err)

	p, err := New(newFakeEmbedder(), newMemStore(), Config{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultBatchSize, p.cfg.BatchSize)
	assert.Equal(t, DefaultWriteTimeout, p.cfg.WriteTimeout)
}
