package embeddings

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// defaultLangchainBatch matches the OpenAI per-request input limit with room
// to spare for long chunks.
const defaultLangchainBatch = 256

// langchainProvider adapts a langchaingo embedder.
type langchainProvider struct {
	embedder  embeddings.Embedder
	dimension int
}

func newOpenAIProvider(ctx context.Context, cfg ProviderConfig) (*langchainProvider, error) {
	token := cfg.APIKey
	if token == "" {
		// OpenAI-compatible servers without auth still need a non-empty token.
		token = "unused"
	}
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	return newLangchainProvider(ctx, cfg, llm)
}

func newOllamaProvider(ctx context.Context, cfg ProviderConfig) (*langchainProvider, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}
	return newLangchainProvider(ctx, cfg, llm)
}

func newLangchainProvider(ctx context.Context, cfg ProviderConfig, client embeddings.EmbedderClient) (*langchainProvider, error) {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultLangchainBatch
	}
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(batch))
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	p := &langchainProvider{embedder: embedder}
	p.dimension, err = resolveDimension(ctx, cfg, p.EmbedQuery)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// EmbedDocuments generates embeddings for multiple texts.
func (p *langchainProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *langchainProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vector, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	return vector, nil
}

func (p *langchainProvider) Dimension() int { return p.dimension }

// Close is a no-op; the underlying clients are plain HTTP.
func (p *langchainProvider) Close() error { return nil }
