package embedder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Provider configuration
const (
	ProviderOpenAI = "openai"
	ProviderJina   = "jina"
	ProviderNebius = "nebius"
	ProviderLocal  = "local"

	// Default models
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultNebiusModel = "BAAI/bge-en-icl"
	DefaultLocalModel  = "local-hash"

	// Dimensions
	OpenAIDimension = 1536
	JinaDimension   = 1024
	NebiusDimension = 4096
	LocalDimension  = 384

	// Batch limits
	MaxBatchSize = 100

	DefaultTimeout = 30 * time.Second
)

// Environment variables consulted for API keys
const (
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvNebiusAPIKey = "NEBIUS_API_KEY"
)

// preset describes an OpenAI-compatible embeddings endpoint
type preset struct {
	url       string
	model     string
	dimension int
	envKey    string
}

var presets = map[string]preset{
	ProviderOpenAI: {"https://api.openai.com/v1/embeddings", DefaultOpenAIModel, OpenAIDimension, EnvOpenAIAPIKey},
	ProviderJina:   {"https://api.jina.ai/v1/embeddings", DefaultJinaModel, JinaDimension, EnvJinaAPIKey},
	ProviderNebius: {"https://api.studio.nebius.com/v1/embeddings", DefaultNebiusModel, NebiusDimension, EnvNebiusAPIKey},
}

// HTTPProvider implements Embedder against an OpenAI-compatible /v1/embeddings API
type HTTPProvider struct {
	provider   string
	url        string
	apiKey     string
	model      string
	httpClient *http.Client
	cache      *Cache

	mu        sync.Mutex
	dimension int
}

// NewHTTPProvider creates an embedder for one of the hosted providers.
// A zero dimension is learned from the first response.
func NewHTTPProvider(provider, url, apiKey, model string, dimension int, timeout time.Duration, cache *Cache) (*HTTPProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoAPIKey, provider)
	}
	if url == "" {
		return nil, fmt.Errorf("%w: no endpoint for %s", ErrUnsupportedProvider, provider)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPProvider{
		provider:  provider,
		url:       url,
		apiKey:    apiKey,
		model:     model,
		dimension: dimension,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		cache: cache,
	}, nil
}

func (p *HTTPProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch sends only cache misses upstream
func (p *HTTPProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ValidateTexts(texts, MaxBatchSize); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if p.cache != nil {
			if vec, ok := p.cache.Get(ComputeHash(p.model, text)); ok {
				out[i] = vec
				continue
			}
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := p.callAPI(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, vec := range vecs {
		if err := p.checkDimension(len(vec)); err != nil {
			return nil, err
		}
		out[missingIdx[j]] = vec
		if p.cache != nil {
			p.cache.Set(ComputeHash(p.model, missing[j]), vec)
		}
	}
	return out, nil
}

func (p *HTTPProvider) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := map[string]interface{}{
		"input": texts,
		"model": p.model,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s api call: %w", p.provider, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{Provider: p.provider, StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: %s returned %d embeddings for %d texts", ErrProviderFailed, p.provider, len(apiResp.Data), len(texts))
	}

	// Providers may return items out of order
	sort.Slice(apiResp.Data, func(i, j int) bool {
		return apiResp.Data[i].Index < apiResp.Data[j].Index
	})

	vecs := make([][]float32, len(apiResp.Data))
	for i, data := range apiResp.Data {
		vecs[i] = data.Embedding
	}
	return vecs, nil
}

func (p *HTTPProvider) checkDimension(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dimension == 0 {
		p.dimension = n
	}
	if n != p.dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, n, p.dimension)
	}
	return nil
}

func (p *HTTPProvider) Dimension() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dimension
}

func (p *HTTPProvider) Provider() string {
	return p.provider
}

func (p *HTTPProvider) Model() string {
	return p.model
}

func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// LocalProvider derives a deterministic vector from the text hash.
// It needs no network access and is used for tests and offline runs.
type LocalProvider struct {
	dimension int
}

// NewLocalProvider creates a local embedder
func NewLocalProvider(dimension int) *LocalProvider {
	if dimension <= 0 {
		dimension = LocalDimension
	}
	return &LocalProvider{dimension: dimension}
}

func (l *LocalProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vector := make([]float32, l.dimension)
	seed := sha256.Sum256([]byte(text))
	block := seed
	for i := 0; i < l.dimension; i++ {
		off := (i * 4) % len(block)
		if i > 0 && off == 0 {
			block = sha256.Sum256(block[:])
		}
		u := binary.LittleEndian.Uint32(block[off : off+4])
		vector[i] = float32(u)/float32(math.MaxUint32)*2 - 1
	}
	return NormalizeVector(vector), nil
}

func (l *LocalProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ValidateTexts(texts, MaxBatchSize); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := l.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return DefaultLocalModel
}

func (l *LocalProvider) Close() error {
	return nil
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}
