// Package embeddings turns text into fixed-dimension vectors. Providers are
// selected once by name at construction: an OpenAI-compatible API or Ollama
// through langchaingo, a Text Embeddings Inference server, or local ONNX
// models through fastembed.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/articler/docindex/internal/logging"
	"go.uber.org/zap"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider names accepted by NewProvider.
const (
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderTEI       = "tei"
	ProviderFastEmbed = "fastembed"
)

// Embedder embeds documents in batches and queries one at a time.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Provider is an Embedder with a known output dimension.
type Provider interface {
	Embedder
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is one of openai, ollama, tei or fastembed.
	Provider string
	Model    string
	BaseURL  string
	APIKey   string

	// Dimension overrides model-based detection. Zero means look the model
	// up, then probe the provider with one query.
	Dimension int

	// BatchSize caps texts per upstream request. Zero uses the provider default.
	BatchSize int

	// CacheDir is the model cache directory (fastembed only).
	CacheDir string

	// RateLimit is requests per second across all callers. Zero disables limiting.
	RateLimit float64
	Burst     int
}

// Validate checks the provider name and required fields.
func (c ProviderConfig) Validate() error {
	var errs []error
	switch strings.ToLower(c.Provider) {
	case ProviderOpenAI:
		if c.APIKey == "" && c.BaseURL == "" {
			errs = append(errs, errors.New("openai needs an api key or a compatible base url"))
		}
	case ProviderOllama, ProviderTEI:
		if c.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s needs a base url", c.Provider))
		}
	case ProviderFastEmbed:
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider))
	}
	if c.Model == "" {
		errs = append(errs, errors.New("model is required"))
	}
	if c.Dimension < 0 {
		errs = append(errs, fmt.Errorf("dimension must not be negative, got %d", c.Dimension))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate limit must not be negative, got %v", c.RateLimit))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// NewProvider builds the configured provider and wraps it with rate limiting
// and instrumentation. ctx bounds the dimension probe, if one is needed.
func NewProvider(ctx context.Context, cfg ProviderConfig, logger *logging.Logger) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Nop()
	}

	var (
		p   Provider
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		p, err = newOpenAIProvider(ctx, cfg)
	case ProviderOllama:
		p, err = newOllamaProvider(ctx, cfg)
	case ProviderTEI:
		p, err = NewTEIProvider(ctx, cfg)
	case ProviderFastEmbed:
		p, err = NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	}
	if err != nil {
		return nil, err
	}

	if cfg.RateLimit > 0 {
		p = WithRateLimit(p, cfg.RateLimit, cfg.Burst)
	}
	logger.Info(ctx, "embedding provider ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Int("dimension", p.Dimension()))
	return Instrument(p, cfg.Provider, cfg.Model, logger), nil
}

// knownDimensions lists output sizes of common models so construction
// does not need a network round trip.
var knownDimensions = map[string]int{
	"text-embedding-3-small":                 1536,
	"text-embedding-3-large":                 3072,
	"text-embedding-ada-002":                 1536,
	"nomic-embed-text":                       768,
	"mxbai-embed-large":                      1024,
	"all-minilm":                             384,
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-large-en-v1.5":                 1024,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
}

// resolveDimension returns the configured dimension, a known model's
// dimension, or the length of a probe embedding, in that order.
func resolveDimension(ctx context.Context, cfg ProviderConfig, probe func(context.Context, string) ([]float32, error)) (int, error) {
	if cfg.Dimension > 0 {
		return cfg.Dimension, nil
	}
	if dim, ok := knownDimensions[cfg.Model]; ok {
		return dim, nil
	}
	vec, err := probe(ctx, "dimension probe")
	if err != nil {
		return 0, fmt.Errorf("probing dimension of %s: %w", cfg.Model, err)
	}
	if len(vec) == 0 {
		return 0, fmt.Errorf("%w: probe of %s returned an empty vector", ErrEmbeddingFailed, cfg.Model)
	}
	return len(vec), nil
}
