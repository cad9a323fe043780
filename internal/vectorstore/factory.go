package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/articler/docindex/internal/logging"
	"github.com/articler/docindex/internal/qdrant"
)

// Provider names accepted by New.
const (
	ProviderQdrant   = "qdrant"
	ProviderChromem  = "chromem"
	ProviderPgvector = "pgvector"
)

// Config selects and configures a backend.
type Config struct {
	Provider   string
	Collection string
	Qdrant     qdrant.ClientConfig
	Chromem    ChromemConfig
	Postgres   PostgresConfig
}

// New opens the configured backend for a collection of the given
// dimension. The collection itself is created lazily by EnsureCollection.
func New(ctx context.Context, cfg Config, dimension int, logger *logging.Logger) (Store, error) {
	if err := ValidateCollectionName(cfg.Collection); err != nil {
		return nil, err
	}
	switch strings.ToLower(cfg.Provider) {
	case ProviderQdrant:
		qcfg := cfg.Qdrant
		qcfg.ApplyDefaults()
		client, err := qdrant.NewGRPCClient(&qcfg, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to qdrant: %w", err)
		}
		return NewQdrantStore(client, cfg.Collection, dimension, logger)
	case ProviderChromem, "":
		return NewChromemStore(cfg.Chromem, cfg.Collection, dimension, logger)
	case ProviderPgvector:
		return NewPgVectorStore(ctx, cfg.Postgres, cfg.Collection, dimension, logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
