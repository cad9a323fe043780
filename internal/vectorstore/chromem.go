package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/articler/docindex/internal/logging"
	"github.com/articler/docindex/internal/tenant"
	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const backendChromem = "chromem"

var chromemTracer = otel.Tracer("docindex.vectorstore.chromem")

// ChromemConfig configures the embedded chromem-go store.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty keeps the
	// collection in memory only.
	Path string `koanf:"path"`

	// Compress enables gzip compression of persisted documents.
	Compress bool `koanf:"compress"`
}

// ChromemStore is a Store backed by chromem-go. Embeddings are always
// supplied by the caller, so the collection's embedding function refuses
// to run.
type ChromemStore struct {
	db         *chromem.DB
	collection string
	dimension  int
	logger     *logging.Logger

	mu   sync.RWMutex
	coll *chromem.Collection
}

// NewChromemStore opens a chromem database and binds it to collection.
func NewChromemStore(cfg ChromemConfig, collection string, dimension int, logger *logging.Logger) (*ChromemStore, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.Nop()
	}

	var (
		db  *chromem.DB
		err error
	)
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		path, perr := expandPath(cfg.Path)
		if perr != nil {
			return nil, perr
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("creating chromem directory: %w", err)
		}
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("opening chromem database: %w", err)
		}
	}

	logger.Info(context.Background(), "chromem store opened",
		zap.String("path", cfg.Path),
		zap.String("collection", collection),
		zap.Int("dimension", dimension))

	return &ChromemStore{db: db, collection: collection, dimension: dimension, logger: logger}, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding %q: %w", path, err)
		}
		path = filepath.Join(home, path[2:])
	}
	return filepath.Clean(path), nil
}

func refuseEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem store requires precomputed embeddings")
}

// Collection implements Store.
func (s *ChromemStore) Collection() string { return s.collection }

// EnsureCollection implements Store.
func (s *ChromemStore) EnsureCollection(ctx context.Context) (err error) {
	defer observe(backendChromem, "ensure_collection", time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.coll != nil {
		return nil
	}
	meta := map[string]string{"dimension": fmt.Sprint(s.dimension)}
	coll, err := s.db.GetOrCreateCollection(s.collection, meta, refuseEmbedding)
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.collection, err)
	}
	s.coll = coll
	return nil
}

func (s *ChromemStore) collectionHandle() (*chromem.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.coll == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, s.collection)
	}
	return s.coll, nil
}

// Upsert implements Store.
func (s *ChromemStore) Upsert(ctx context.Context, records []ChunkRecord) (err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()
	defer observe(backendChromem, "upsert", time.Now(), &err)
	span.SetAttributes(attribute.Int("record_count", len(records)))

	if len(records) == 0 {
		return nil
	}
	if err := checkDimensions(records, s.dimension); err != nil {
		return err
	}
	coll, err := s.collectionHandle()
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		docs[i] = chromem.Document{
			ID:        r.ID.String(),
			Metadata:  payload(r),
			Embedding: r.Embedding,
			Content:   r.Text,
		}
	}
	if err := coll.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "add documents failed")
		return fmt.Errorf("adding documents: %w", err)
	}
	RecordsWritten.WithLabelValues(backendChromem).Add(float64(len(records)))
	return nil
}

func chromemWhere(filter tenant.Filter) map[string]string {
	conds := filter.Conditions()
	where := make(map[string]string, len(conds))
	for _, c := range conds {
		where[c.Field] = c.Value
	}
	return where
}

// Search implements Store.
func (s *ChromemStore) Search(ctx context.Context, filter tenant.Filter, vector []float32, top int) (_ []ScoredChunk, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()
	defer observe(backendChromem, "search", time.Now(), &err)
	span.SetAttributes(attribute.Int("top", top))

	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection has %d",
			ErrDimensionMismatch, len(vector), s.dimension)
	}
	coll, err := s.collectionHandle()
	if err != nil {
		return nil, err
	}
	if top <= 0 {
		return []ScoredChunk{}, nil
	}

	results, err := s.query(ctx, coll, filter, vector, top)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, err
	}
	out := make([]ScoredChunk, 0, len(results))
	for _, r := range results {
		rec, err := recordFromPayload(r.ID, r.Metadata)
		if err != nil {
			return nil, err
		}
		out = append(out, ScoredChunk{ChunkRecord: rec, Score: r.Similarity})
	}
	span.SetAttributes(attribute.Int("result_count", len(out)))
	return out, nil
}

// query caps n at the collection size, which chromem rejects otherwise.
func (s *ChromemStore) query(ctx context.Context, coll *chromem.Collection, filter tenant.Filter, vector []float32, n int) ([]chromem.Result, error) {
	count := coll.Count()
	if count == 0 {
		return nil, nil
	}
	if n > count {
		n = count
	}
	results, err := coll.QueryEmbedding(ctx, vector, n, chromemWhere(filter), nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", s.collection, err)
	}
	return results, nil
}

// Scan implements Store. chromem has no scroll API, so Scan ranks the
// filtered set against a fixed unit vector and keeps every hit.
func (s *ChromemStore) Scan(ctx context.Context, filter tenant.Filter, limit int) (_ []ChunkRecord, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Scan")
	defer span.End()
	defer observe(backendChromem, "scan", time.Now(), &err)

	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: scan limit must be positive", ErrInvalidConfig)
	}
	coll, err := s.collectionHandle()
	if err != nil {
		return nil, err
	}

	probe := make([]float32, s.dimension)
	probe[0] = 1
	results, err := s.query(ctx, coll, filter, probe, limit+1)
	if err != nil {
		return nil, err
	}
	if len(results) > limit {
		return nil, fmt.Errorf("%w: more than %d records match", ErrScanLimit, limit)
	}
	out := make([]ChunkRecord, 0, len(results))
	for _, r := range results {
		rec, err := recordFromPayload(r.ID, r.Metadata)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Delete implements Store.
func (s *ChromemStore) Delete(ctx context.Context, ids []uuid.UUID) (err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Delete")
	defer span.End()
	defer observe(backendChromem, "delete", time.Now(), &err)
	span.SetAttributes(attribute.Int("id_count", len(ids)))

	if len(ids) == 0 {
		return nil
	}
	coll, err := s.collectionHandle()
	if err != nil {
		return err
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	if err := coll.Delete(ctx, nil, nil, strs...); err != nil {
		return fmt.Errorf("deleting %d documents: %w", len(ids), err)
	}
	RecordsDeleted.WithLabelValues(backendChromem).Add(float64(len(ids)))
	return nil
}

// Close implements Store. chromem persists on every write.
func (s *ChromemStore) Close() error { return nil }
