package embedder

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds embedder configuration
type Config struct {
	Provider  string
	APIKey    string
	Model     string
	BaseURL   string
	Dimension int
	CacheSize int
	Timeout   time.Duration
}

// New creates an embedder with explicit configuration.
// An empty APIKey falls back to the provider's environment variable.
func New(cfg Config) (Embedder, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = DetectProvider()
	}

	if provider == ProviderLocal {
		return NewLocalProvider(cfg.Dimension), nil
	}

	p, ok := presets[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(p.envKey)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoAPIKey, p.envKey)
	}

	url := p.url
	if cfg.BaseURL != "" {
		url = cfg.BaseURL
	}

	model := p.model
	dimension := p.dimension
	if cfg.Model != "" && cfg.Model != p.model {
		model = cfg.Model
		// dimension of a non-default model is learned from the first response
		dimension = cfg.Dimension
	} else if cfg.Dimension > 0 {
		dimension = cfg.Dimension
	}

	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	return NewHTTPProvider(provider, url, apiKey, model, dimension, cfg.Timeout, cache)
}

// DetectProvider picks a provider from the API keys present in the environment
func DetectProvider() string {
	switch {
	case os.Getenv(EnvOpenAIAPIKey) != "":
		return ProviderOpenAI
	case os.Getenv(EnvJinaAPIKey) != "":
		return ProviderJina
	case os.Getenv(EnvNebiusAPIKey) != "":
		return ProviderNebius
	default:
		return ProviderLocal
	}
}
