package embeddings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	dim     int
	vectors [][]float32
	err     error
	calls   int
}

func (s *stubProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	s.calls++
	return s.vectors, s.err
}

func (s *stubProvider) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.vectors[0], nil
}

func (s *stubProvider) Dimension() int { return s.dim }
func (s *stubProvider) Close() error   { return nil }

func TestProviderConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ProviderConfig
		wantErr string
	}{
		{"openai with key", ProviderConfig{Provider: "openai", Model: "text-embedding-3-small", APIKey: "k"}, ""},
		{"openai compatible", ProviderConfig{Provider: "OpenAI", Model: "m", BaseURL: "http://x"}, ""},
		{"openai bare", ProviderConfig{Provider: "openai", Model: "m"}, "api key"},
		{"tei without url", ProviderConfig{Provider: "tei", Model: "m"}, "base url"},
		{"ollama", ProviderConfig{Provider: "ollama", Model: "m", BaseURL: "http://x"}, ""},
		{"fastembed", ProviderConfig{Provider: "fastembed", Model: "BAAI/bge-small-en-v1.5"}, ""},
		{"unknown provider", ProviderConfig{Provider: "cohere", Model: "m"}, "unknown provider"},
		{"missing model", ProviderConfig{Provider: "fastembed"}, "model is required"},
		{"negative dimension", ProviderConfig{Provider: "fastembed", Model: "m", Dimension: -1}, "dimension"},
		{"negative rate", ProviderConfig{Provider: "fastembed", Model: "m", RateLimit: -1}, "rate limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestResolveDimension(t *testing.T) {
	probeCalled := false
	probe := func(context.Context, string) ([]float32, error) {
		probeCalled = true
		return make([]float32, 5), nil
	}
	ctx := context.Background()

	dim, err := resolveDimension(ctx, ProviderConfig{Model: "text-embedding-3-small", Dimension: 256}, probe)
	require.NoError(t, err)
	assert.Equal(t, 256, dim)

	dim, err = resolveDimension(ctx, ProviderConfig{Model: "text-embedding-3-small"}, probe)
	require.NoError(t, err)
	assert.Equal(t, 1536, dim)
	assert.False(t, probeCalled)

	dim, err = resolveDimension(ctx, ProviderConfig{Model: "mystery"}, probe)
	require.NoError(t, err)
	assert.Equal(t, 5, dim)
	assert.True(t, probeCalled)

	_, err = resolveDimension(ctx, ProviderConfig{Model: "mystery"}, func(context.Context, string) ([]float32, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestInstrument_ChecksDimension(t *testing.T) {
	stub := &stubProvider{dim: 3, vectors: [][]float32{{1, 0, 0}, {0, 1}}}
	p := Instrument(stub, "stub", "m", nil)

	_, err := p.EmbedDocuments(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)

	v, err := p.EmbedQuery(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, v)
}

func TestInstrument_PassesErrorsThrough(t *testing.T) {
	boom := errors.New("boom")
	p := Instrument(&stubProvider{dim: 3, err: boom}, "stub", "m", nil)

	_, err := p.EmbedDocuments(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, boom)
}

func TestWithRateLimit(t *testing.T) {
	stub := &stubProvider{dim: 1, vectors: [][]float32{{1}}}
	p := WithRateLimit(stub, 1, 1)

	ctx := context.Background()
	_, err := p.EmbedQuery(ctx, "first")
	require.NoError(t, err)

	// The burst is spent, so the next call must wait about a second.
	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = p.EmbedQuery(short, "second")
	assert.Error(t, err)
	assert.Equal(t, 1, stub.calls)
	assert.Equal(t, 1, p.Dimension())
}

func TestNewProvider_InvalidConfig(t *testing.T) {
	_, err := NewProvider(context.Background(), ProviderConfig{Provider: "nope", Model: "m"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
