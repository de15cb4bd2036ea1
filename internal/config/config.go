// Package config loads docsync configuration from a YAML file, DOCSYNC_*
// environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override
const EnvPrefix = "DOCSYNC"

// Store kinds
const (
	StoreSQLite = "sqlite"
	StoreQdrant = "qdrant"
)

// Config holds all application configuration.
type Config struct {
	GitHub    GitHubConfig    `mapstructure:"github"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Store     StoreConfig     `mapstructure:"store"`
	Log       LogConfig       `mapstructure:"log"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

type GitHubConfig struct {
	Token             string        `mapstructure:"token"`
	BaseURL           string        `mapstructure:"base_url"`
	UserAgent         string        `mapstructure:"user_agent"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// SyncConfig controls the sync pipeline
type SyncConfig struct {
	Branch              string        `mapstructure:"branch"`
	MaxFetchConcurrency int           `mapstructure:"max_fetch_concurrency"`
	ChunkSize           int           `mapstructure:"chunk_size"`
	ChunkOverlap        int           `mapstructure:"chunk_overlap"`
	BatchSize           int           `mapstructure:"batch_size"`
	BatchDelay          time.Duration `mapstructure:"batch_delay"`
	FetchTimeout        time.Duration `mapstructure:"fetch_timeout"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	IngestConcurrency   int           `mapstructure:"ingest_concurrency"`
	ExtensionFilter     []string      `mapstructure:"extension_filter"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
}

type EmbeddingConfig struct {
	Provider  string        `mapstructure:"provider"` // empty detects from API key env vars
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	BaseURL   string        `mapstructure:"base_url"`
	Dimension int           `mapstructure:"dimension"`
	CacheSize int           `mapstructure:"cache_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type StoreConfig struct {
	Kind   string       `mapstructure:"kind"`
	Path   string       `mapstructure:"path"` // SQLite file, also the catalog when kind is qdrant
	Qdrant QdrantConfig `mapstructure:"qdrant"`
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
}

// Addr returns host:port
func (q QdrantConfig) Addr() string {
	return fmt.Sprintf("%s:%d", q.Host, q.Port)
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Environment string  `mapstructure:"environment"`
}

// setDefaults registers every key so AutomaticEnv can override it
func setDefaults(v *viper.Viper) {
	v.SetDefault("github.token", "")
	v.SetDefault("github.base_url", "https://api.github.com")
	v.SetDefault("github.user_agent", "docsync-mcp")
	v.SetDefault("github.requests_per_second", 10.0)
	v.SetDefault("github.burst", 10)
	v.SetDefault("github.timeout", 30*time.Second)

	v.SetDefault("sync.branch", "main")
	v.SetDefault("sync.max_fetch_concurrency", 10)
	v.SetDefault("sync.chunk_size", 3072)
	v.SetDefault("sync.chunk_overlap", 200)
	v.SetDefault("sync.batch_size", 25)
	v.SetDefault("sync.batch_delay", 500*time.Millisecond)
	v.SetDefault("sync.fetch_timeout", 15*time.Second)
	v.SetDefault("sync.write_timeout", 30*time.Second)
	v.SetDefault("sync.ingest_concurrency", 1)
	v.SetDefault("sync.extension_filter", []string{".md", ".mdx"})

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", 200*time.Millisecond)
	v.SetDefault("retry.max_delay", 5*time.Second)
	v.SetDefault("retry.multiplier", 2.0)

	v.SetDefault("embedding.provider", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.model", "")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.dimension", 0)
	v.SetDefault("embedding.cache_size", 10000)
	v.SetDefault("embedding.timeout", 30*time.Second)

	v.SetDefault("store.kind", StoreSQLite)
	v.SetDefault("store.path", "docsync.db")
	v.SetDefault("store.qdrant.host", "localhost")
	v.SetDefault("store.qdrant.port", 6334)
	v.SetDefault("store.qdrant.collection", "docsync")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", false)

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.environment", "development")
}

// Load reads configuration from path, or from .docsync.yaml in the working
// or home directory when path is empty. Environment variables override file
// values; GITHUB_TOKEN is honoured when DOCSYNC_GITHUB_TOKEN is unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("github.token", EnvPrefix+"_GITHUB_TOKEN", "GITHUB_TOKEN"); err != nil {
		return nil, fmt.Errorf("binding env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	} else {
		v.SetConfigName(".docsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	s := c.Sync

	if s.MaxFetchConcurrency < 1 {
		errs = append(errs, fmt.Errorf("sync.max_fetch_concurrency must be >= 1, got %d", s.MaxFetchConcurrency))
	}
	if s.IngestConcurrency < 1 {
		errs = append(errs, fmt.Errorf("sync.ingest_concurrency must be >= 1, got %d", s.IngestConcurrency))
	}
	if s.ChunkSize < 64 {
		errs = append(errs, fmt.Errorf("sync.chunk_size must be >= 64, got %d", s.ChunkSize))
	}
	if s.ChunkOverlap < 0 || s.ChunkOverlap*2 >= s.ChunkSize {
		errs = append(errs, fmt.Errorf("sync.chunk_overlap must be in [0, chunk_size/2), got %d", s.ChunkOverlap))
	}
	if s.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("sync.batch_size must be >= 1, got %d", s.BatchSize))
	}
	if s.BatchDelay < 0 {
		errs = append(errs, errors.New("sync.batch_delay must not be negative"))
	}
	if s.FetchTimeout <= 0 || s.WriteTimeout <= 0 {
		errs = append(errs, errors.New("sync.fetch_timeout and sync.write_timeout must be positive"))
	}
	if len(s.ExtensionFilter) == 0 {
		errs = append(errs, errors.New("sync.extension_filter must list at least one extension"))
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("retry.multiplier must be >= 1, got %.2f", c.Retry.Multiplier))
	}

	switch c.Store.Kind {
	case StoreSQLite:
	case StoreQdrant:
		if c.Store.Qdrant.Host == "" || c.Store.Qdrant.Collection == "" {
			errs = append(errs, errors.New("store.qdrant.host and store.qdrant.collection are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.kind must be %q or %q, got %q", StoreSQLite, StoreQdrant, c.Store.Kind))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_rate must be in [0, 1], got %.2f", c.Tracing.SampleRate))
	}

	return errors.Join(errs...)
}

// Warnings reports settings that work but are probably unintended.
func (c *Config) Warnings() []string {
	var warnings []string

	if c.GitHub.Token == "" {
		warnings = append(warnings, "github.token is empty, requests are unauthenticated and limited to 60 per hour")
	}
	if c.Embedding.Provider != "" && c.Embedding.Provider != "local" && c.Embedding.APIKey == "" {
		warnings = append(warnings, fmt.Sprintf("embedding provider '%s' is configured but api_key is empty, falling back to the provider's environment variable", c.Embedding.Provider))
	}
	if c.Sync.BatchDelay == 0 {
		warnings = append(warnings, "sync.batch_delay is zero, embedding requests are not spaced")
	}

	return warnings
}
