package embeddings

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// rateLimited waits for a token before every upstream call.
type rateLimited struct {
	Provider
	limiter *rate.Limiter
}

// WithRateLimit wraps p so that calls are admitted at most rps times per
// second, with bursts of up to burst calls.
func WithRateLimit(p Provider, rps float64, burst int) Provider {
	if burst <= 0 {
		burst = 1
	}
	return &rateLimited{Provider: p, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *rateLimited) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.Provider.EmbedDocuments(ctx, texts)
}

func (r *rateLimited) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.Provider.EmbedQuery(ctx, text)
}
