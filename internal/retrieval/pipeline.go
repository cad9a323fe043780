// Package retrieval composes the chunker, an embedding provider and a
// vector store into the three document operations: store, search and
// remove. The pipeline holds no per-tenant state; every call is scoped by
// a tenant key or filter and may run concurrently with any other.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/articler/docindex/internal/chunker"
	"github.com/articler/docindex/internal/embeddings"
	"github.com/articler/docindex/internal/logging"
	"github.com/articler/docindex/internal/tenant"
	"github.com/articler/docindex/internal/vectorstore"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Defaults for Config fields left at zero.
const (
	DefaultTop           = 3
	DefaultRemoveScanCap = 100000
)

var tracer = otel.Tracer("docindex.retrieval")

// Config tunes chunking and retrieval.
type Config struct {
	ChunkSize     int
	ChunkOverlap  int
	DefaultTop    int
	RemoveScanCap int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = chunker.DefaultSize
		if c.ChunkOverlap == 0 {
			c.ChunkOverlap = chunker.DefaultOverlap
		}
	}
	if c.DefaultTop <= 0 {
		c.DefaultTop = DefaultTop
	}
	if c.RemoveScanCap <= 0 {
		c.RemoveScanCap = DefaultRemoveScanCap
	}
}

// Pipeline implements store, search and remove over one collection.
type Pipeline struct {
	embedder embeddings.Embedder
	store    vectorstore.Store
	cfg      Config
	logger   *logging.Logger
}

// New validates cfg and returns a pipeline.
func New(embedder embeddings.Embedder, store vectorstore.Store, cfg Config, logger *logging.Logger) (*Pipeline, error) {
	if embedder == nil || store == nil {
		return nil, errors.New("retrieval: embedder and store are required")
	}
	cfg.ApplyDefaults()
	if _, err := chunker.Count(0, cfg.ChunkSize, cfg.ChunkOverlap); err != nil {
		return nil, fmt.Errorf("retrieval: %w", err)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Pipeline{embedder: embedder, store: store, cfg: cfg, logger: logger.Named("retrieval")}, nil
}

// EnsureCollection creates the backing collection if it does not exist.
func (p *Pipeline) EnsureCollection(ctx context.Context) error {
	if err := p.store.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// StoreText chunks text, embeds every chunk in one batch, and upserts the
// chunk records in one batch. key must carry a document id. Nothing is
// written unless every chunk has an embedding.
func (p *Pipeline) StoreText(ctx context.Context, key tenant.Key, title, text string) (_ DocumentHandle, err error) {
	ctx, span := tracer.Start(ctx, "Pipeline.StoreText")
	defer span.End()
	defer func() { OperationsTotal.WithLabelValues("store", outcome(err)).Inc() }()

	if err := key.RequireDocument(); err != nil {
		return DocumentHandle{}, fail(span, err)
	}
	log := p.logger.With(append(logging.TenantFields(key), zap.String("op", "store"))...)
	if strings.TrimSpace(text) == "" {
		return DocumentHandle{}, fail(span, fmt.Errorf("%w: text is blank", ErrEmptyInput))
	}

	if err := p.EnsureCollection(ctx); err != nil {
		log.Error(ctx, "ensure collection failed", zap.Error(err))
		return DocumentHandle{}, fail(span, err)
	}

	chunks, err := chunker.Chunk(text, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	if err != nil {
		return DocumentHandle{}, fail(span, err)
	}
	if len(chunks) == 0 {
		return DocumentHandle{}, fail(span, fmt.Errorf("%w: text produced no chunks", ErrEmptyInput))
	}
	span.SetAttributes(attribute.Int("chunk_count", len(chunks)), attribute.Int("text_length", len(text)))
	log.Debug(ctx, "text chunked", zap.Int("chunks", len(chunks)), zap.Int("text_length", len(text)))

	vectors, err := p.embedder.EmbedDocuments(ctx, chunks)
	if err != nil {
		log.Error(ctx, "embedding failed", zap.Int("chunks", len(chunks)), zap.Error(err))
		return DocumentHandle{}, fail(span, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err))
	}
	if len(vectors) != len(chunks) {
		ProviderMismatches.Inc()
		log.DPanic(ctx, "embedding count does not match chunk count",
			zap.Int("chunks", len(chunks)),
			zap.Int("embeddings", len(vectors)))
		return DocumentHandle{}, fail(span, fmt.Errorf("%w: %d vectors for %d chunks",
			ErrProviderMismatch, len(vectors), len(chunks)))
	}

	records := make([]vectorstore.ChunkRecord, len(chunks))
	for i, chunk := range chunks {
		records[i] = vectorstore.ChunkRecord{
			ID:         uuid.New(),
			UserID:     key.UserID,
			ProjectID:  key.ProjectID,
			DocumentID: key.DocumentID,
			Title:      title,
			Text:       chunk,
			Embedding:  vectors[i],
		}
	}
	if err := p.store.Upsert(ctx, records); err != nil {
		log.Error(ctx, "upsert failed", zap.Int("records", len(records)), zap.Error(err))
		return DocumentHandle{}, fail(span, fmt.Errorf("%w: %w", ErrStoreUnavailable, err))
	}

	ChunksPerDocument.Observe(float64(len(records)))
	log.Info(ctx, "document stored", zap.Int("records", len(records)))
	return DocumentHandle{Type: DocumentText, ID: key.DocumentID, Title: title}, nil
}

// Search returns the texts of the top chunks most similar to query within
// filter, most relevant first. top <= 0 uses the configured default.
//
// Search never fails: a blank query, an invalid filter, or any provider or
// store error yields an empty slice. Failures are logged and counted.
func (p *Pipeline) Search(ctx context.Context, filter tenant.Filter, query string, top int) []string {
	ctx, span := tracer.Start(ctx, "Pipeline.Search")
	defer span.End()

	if strings.TrimSpace(query) == "" {
		OperationsTotal.WithLabelValues("search", "empty_query").Inc()
		return []string{}
	}
	if top <= 0 {
		top = p.cfg.DefaultTop
	}
	span.SetAttributes(attribute.Int("top", top), attribute.Int("query_length", len(query)))

	log := p.logger.With(
		zap.String("op", "search"),
		zap.String("user_id", filter.UserID),
		zap.Stringer("project_id", filter.ProjectID),
	)
	degrade := func(stage string, err error) []string {
		OperationsTotal.WithLabelValues("search", "degraded").Inc()
		_ = fail(span, err)
		log.Error(ctx, "search degraded",
			zap.String("stage", stage),
			zap.NamedError("degraded", ErrSearchDegraded),
			zap.Error(err))
		return []string{}
	}

	if err := filter.Validate(); err != nil {
		return degrade("filter", err)
	}
	if err := p.EnsureCollection(ctx); err != nil {
		return degrade("ensure_collection", err)
	}
	vector, err := p.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return degrade("embed", err)
	}
	hits, err := p.store.Search(ctx, filter, vector, top)
	if err != nil {
		return degrade("store", err)
	}

	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Text
		log.Trace(ctx, "search hit", zap.Float32("score", h.Score), zap.Int("text_length", len(h.Text)))
	}
	OperationsTotal.WithLabelValues("search", "success").Inc()
	log.Debug(ctx, "search completed", zap.Int("top", top), zap.Int("results", len(texts)))
	return texts
}

// Remove deletes every chunk of the document named by key in one batch.
// A document with no chunks is ErrNotFound. Enumeration is bounded by the
// configured scan cap; a document larger than the cap is not partially
// removed.
func (p *Pipeline) Remove(ctx context.Context, key tenant.Key) (_ DocumentHandle, err error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Remove")
	defer span.End()
	defer func() { OperationsTotal.WithLabelValues("remove", outcome(err)).Inc() }()

	if err := key.RequireDocument(); err != nil {
		return DocumentHandle{}, fail(span, err)
	}
	log := p.logger.With(append(logging.TenantFields(key), zap.String("op", "remove"))...)

	if err := p.EnsureCollection(ctx); err != nil {
		log.Error(ctx, "ensure collection failed", zap.Error(err))
		return DocumentHandle{}, fail(span, err)
	}

	records, err := p.store.Scan(ctx, key.Filter(), p.cfg.RemoveScanCap)
	if err != nil {
		log.Error(ctx, "scan failed", zap.Error(err))
		return DocumentHandle{}, fail(span, fmt.Errorf("%w: %w", ErrStoreUnavailable, err))
	}
	if len(records) == 0 {
		log.Info(ctx, "no chunks to remove")
		return DocumentHandle{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	ids := make([]uuid.UUID, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	if err := p.store.Delete(ctx, ids); err != nil {
		log.Error(ctx, "delete failed", zap.Int("records", len(ids)), zap.Error(err))
		return DocumentHandle{}, fail(span, fmt.Errorf("%w: %w", ErrStoreUnavailable, err))
	}

	span.SetAttributes(attribute.Int("deleted", len(ids)))
	log.Info(ctx, "document removed", zap.Int("records", len(ids)))
	return DocumentHandle{Type: DocumentText, ID: key.DocumentID, Title: records[0].Title}, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
