package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/articler/docindex/internal/budget"
	"github.com/articler/docindex/internal/config"
	"github.com/articler/docindex/internal/embeddings"
	httpserver "github.com/articler/docindex/internal/http"
	"github.com/articler/docindex/internal/ingest"
	"github.com/articler/docindex/internal/logging"
	"github.com/articler/docindex/internal/pdftext"
	"github.com/articler/docindex/internal/qdrant"
	"github.com/articler/docindex/internal/registry"
	"github.com/articler/docindex/internal/retrieval"
	"github.com/articler/docindex/internal/sanitize"
	"github.com/articler/docindex/internal/storage"
	"github.com/articler/docindex/internal/telemetry"
	"github.com/articler/docindex/internal/vectorstore"
)

// app holds every long-lived component and closes them in reverse order.
type app struct {
	logger     *logging.Logger
	telemetry  *telemetry.Telemetry
	server     *httpserver.Server
	service    *ingest.Service
	collection string

	closers []func() error
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse construction order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// newApp wires the components described by cfg. On error everything built
// so far is closed.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.telemetry, err = telemetry.New(ctx, &cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	a.onClose(func() error { return a.telemetry.Shutdown(context.Background()) })

	a.logger, err = logging.NewLogger(loggingConfig(cfg.Logging), global.GetLoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	a.onClose(func() error {
		_ = a.logger.Sync()
		return nil
	})
	if degraded := a.telemetry.Degraded(); degraded != nil {
		a.logger.Warn(ctx, "telemetry degraded", zap.Error(degraded))
	}

	provider, err := embeddings.NewProvider(ctx, embeddingsConfig(cfg.Embeddings), a.logger)
	if err != nil {
		return nil, fmt.Errorf("initializing embeddings: %w", err)
	}
	a.onClose(provider.Close)
	a.logger.Debug(ctx, "embedding credentials",
		logging.Secret("api_key", cfg.Embeddings.APIKey))

	a.collection = collectionName(cfg.VectorStore, cfg.Embeddings.Provider, provider.Dimension())
	store, err := vectorstore.New(ctx, vectorStoreConfig(cfg.VectorStore, a.collection), provider.Dimension(), a.logger)
	if err != nil {
		return nil, fmt.Errorf("initializing vector store: %w", err)
	}
	a.onClose(store.Close)

	pipeline, err := retrieval.New(provider, store, retrieval.Config{
		ChunkSize:     cfg.Chunking.Size,
		ChunkOverlap:  cfg.Chunking.Overlap,
		DefaultTop:    cfg.Retrieval.DefaultTop,
		RemoveScanCap: cfg.Retrieval.RemoveScanCap,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("initializing pipeline: %w", err)
	}
	// The collection is ensured again on every write, so an unreachable
	// store at startup is not fatal.
	if err := pipeline.EnsureCollection(ctx); err != nil {
		a.logger.Warn(ctx, "collection not ready", zap.String("collection", a.collection), zap.Error(err))
	}

	var db *sql.DB
	if usesBackend(cfg.Storage, config.BackendSQLite) {
		db, err = storage.OpenSQLite(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("initializing sqlite: %w", err)
		}
		a.onClose(db.Close)
	}

	balances := budget.Balances(cfg.Budget.Balances)
	accounts, err := newAccountStore(ctx, cfg.Storage, db, balances)
	if err != nil {
		return nil, err
	}
	a.onClose(accounts.Close)

	reg, err := newRegistry(ctx, cfg.Storage, db)
	if err != nil {
		return nil, err
	}
	a.onClose(reg.Close)

	gate := budget.NewGate(budget.NewTiktokenCounter(cfg.Budget.TokenizerModel), accounts, a.logger)

	opts := []ingest.Option{ingest.WithLogger(a.logger)}
	if cfg.PDF.Enabled {
		opts = append(opts, ingest.WithFetcher(pdftext.NewExtractor(pdftext.Config{
			Timeout:   cfg.PDF.Timeout,
			MaxBytes:  cfg.PDF.MaxBytes,
			UserAgent: cfg.PDF.UserAgent,
		}, nil, a.logger)))
	}
	a.service, err = ingest.NewService(pipeline, gate, accounts, reg, opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing ingest service: %w", err)
	}

	a.server, err = httpserver.NewServer(a.service, a.logger, &httpserver.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		BodyLimit:       cfg.Server.BodyLimit,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing http server: %w", err)
	}
	return a, nil
}

func loggingConfig(c config.LoggingConfig) *logging.Config {
	lc := logging.NewDefaultConfig()
	lc.Level = c.Level
	lc.Format = c.Format
	lc.Caller = c.Caller
	lc.Stacktrace = c.Stacktrace
	lc.Sampling.Enabled = c.Sampling
	lc.Output.OTEL = c.OTEL
	if len(c.RedactFields) > 0 {
		lc.Redaction.Enabled = true
		lc.Redaction.Fields = c.RedactFields
	}
	return lc
}

func embeddingsConfig(c config.EmbeddingsConfig) embeddings.ProviderConfig {
	return embeddings.ProviderConfig{
		Provider:  c.Provider,
		Model:     c.Model,
		BaseURL:   c.BaseURL,
		APIKey:    c.APIKey.Value(),
		Dimension: c.Dimension,
		BatchSize: c.BatchSize,
		CacheDir:  c.CacheDir,
		RateLimit: c.RateLimit,
		Burst:     c.Burst,
	}
}

// collectionName returns the configured collection or
// docindex_<provider>_<dimension>.
func collectionName(c config.VectorStoreConfig, provider string, dimension int) string {
	if c.Collection != "" {
		return c.Collection
	}
	return sanitize.CollectionName(provider, dimension)
}

func vectorStoreConfig(c config.VectorStoreConfig, collection string) vectorstore.Config {
	return vectorstore.Config{
		Provider:   c.Provider,
		Collection: collection,
		Qdrant: qdrant.ClientConfig{
			Host:          c.Qdrant.Host,
			Port:          c.Qdrant.Port,
			UseTLS:        c.Qdrant.UseTLS,
			APIKey:        c.Qdrant.APIKey.Value(),
			DialTimeout:   c.Qdrant.DialTimeout,
			RetryAttempts: c.Qdrant.RetryAttempts,
		},
		Chromem: vectorstore.ChromemConfig{
			Path:     c.Chromem.Path,
			Compress: c.Chromem.Compress,
		},
		Postgres: vectorstore.PostgresConfig{
			DSN:          c.Postgres.DSN.Value(),
			MaxOpenConns: c.Postgres.MaxOpenConns,
		},
	}
}

func usesBackend(c config.StorageConfig, backend string) bool {
	return strings.EqualFold(c.Registry, backend) || strings.EqualFold(c.Accounts, backend)
}

func newAccountStore(ctx context.Context, c config.StorageConfig, db *sql.DB, balances budget.Balances) (budget.AccountStore, error) {
	if strings.EqualFold(c.Accounts, config.BackendSQLite) {
		s, err := budget.NewSQLiteAccountStore(ctx, db, balances)
		if err != nil {
			return nil, fmt.Errorf("initializing account store: %w", err)
		}
		return s, nil
	}
	return budget.NewMemoryAccountStore(balances), nil
}

func newRegistry(ctx context.Context, c config.StorageConfig, db *sql.DB) (registry.Registry, error) {
	switch strings.ToLower(c.Registry) {
	case config.BackendSQLite:
		r, err := registry.NewSQLiteRegistry(ctx, db)
		if err != nil {
			return nil, fmt.Errorf("initializing registry: %w", err)
		}
		return r, nil
	case config.BackendFile:
		r, err := registry.NewFileRegistry(c.RegistryFile)
		if err != nil {
			return nil, fmt.Errorf("initializing registry: %w", err)
		}
		return r, nil
	default:
		return registry.NewMemoryRegistry(), nil
	}
}
