package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/articler/docindex/internal/logging"
	"github.com/articler/docindex/internal/qdrant"
	"github.com/articler/docindex/internal/tenant"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	backendQdrant = "qdrant"

	// scrollPageSize bounds each Scroll request during Scan.
	scrollPageSize = 256
)

var qdrantTracer = otel.Tracer("docindex.vectorstore.qdrant")

// payloadIndexes are created with the collection. Tenant fields are
// keyword indexed for exact filtering; chunk text gets a full-text index.
var payloadIndexes = []struct {
	field string
	kind  qdrant.IndexKind
}{
	{tenant.FieldUserID, qdrant.KeywordIndex},
	{tenant.FieldProjectID, qdrant.KeywordIndex},
	{tenant.FieldDocumentID, qdrant.KeywordIndex},
	{tenant.FieldTitle, qdrant.KeywordIndex},
	{tenant.FieldText, qdrant.TextIndex},
}

// QdrantStore is a Store backed by a Qdrant collection.
type QdrantStore struct {
	client     qdrant.Client
	collection string
	dimension  int
	logger     *logging.Logger

	mu      sync.Mutex
	ensured bool
}

// NewQdrantStore binds client to collection. The store does not own the
// client's lifecycle beyond Close.
func NewQdrantStore(client qdrant.Client, collection string, dimension int, logger *logging.Logger) (*QdrantStore, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: qdrant client is required", ErrInvalidConfig)
	}
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &QdrantStore{client: client, collection: collection, dimension: dimension, logger: logger}, nil
}

// Collection implements Store.
func (s *QdrantStore) Collection() string { return s.collection }

// EnsureCollection implements Store. A collection created concurrently by
// another process counts as success, and an existing collection must have
// the configured dimension.
func (s *QdrantStore) EnsureCollection(ctx context.Context) (err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.EnsureCollection")
	defer span.End()
	defer observe(backendQdrant, "ensure_collection", time.Now(), &err)
	span.SetAttributes(attribute.String("collection", s.collection))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured {
		return nil
	}

	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", s.collection, err)
	}
	if exists {
		dim, err := s.client.CollectionDimension(ctx, s.collection)
		if err != nil {
			return fmt.Errorf("reading collection %s: %w", s.collection, err)
		}
		if int(dim) != s.dimension {
			return fmt.Errorf("%w: collection %s has dimension %d, expected %d",
				ErrDimensionMismatch, s.collection, dim, s.dimension)
		}
	} else {
		err := s.client.CreateCollection(ctx, s.collection, uint64(s.dimension))
		if err != nil && status.Code(err) != grpccodes.AlreadyExists {
			span.RecordError(err)
			span.SetStatus(codes.Error, "create collection failed")
			return fmt.Errorf("creating collection %s: %w", s.collection, err)
		}
		s.logger.Info(ctx, "qdrant collection created",
			zap.String("collection", s.collection),
			zap.Int("dimension", s.dimension))
	}

	for _, idx := range payloadIndexes {
		if err := s.client.CreateFieldIndex(ctx, s.collection, idx.field, idx.kind); err != nil {
			return fmt.Errorf("indexing %s.%s: %w", s.collection, idx.field, err)
		}
	}
	s.ensured = true
	return nil
}

// Upsert implements Store.
func (s *QdrantStore) Upsert(ctx context.Context, records []ChunkRecord) (err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Upsert")
	defer span.End()
	defer observe(backendQdrant, "upsert", time.Now(), &err)
	span.SetAttributes(attribute.Int("record_count", len(records)))

	if len(records) == 0 {
		return nil
	}
	if err := checkDimensions(records, s.dimension); err != nil {
		return err
	}

	points := make([]*qdrant.Point, len(records))
	for i, r := range records {
		p := payload(r)
		pl := make(map[string]interface{}, len(p))
		for k, v := range p {
			pl[k] = v
		}
		points[i] = &qdrant.Point{ID: r.ID.String(), Vector: r.Embedding, Payload: pl}
	}
	if err := s.client.Upsert(ctx, s.collection, points); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert failed")
		return fmt.Errorf("upserting %d points: %w", len(points), err)
	}
	RecordsWritten.WithLabelValues(backendQdrant).Add(float64(len(records)))
	return nil
}

func qdrantFilter(filter tenant.Filter) *qdrant.Filter {
	conds := filter.Conditions()
	f := &qdrant.Filter{Must: make([]qdrant.Condition, len(conds))}
	for i, c := range conds {
		f.Must[i] = qdrant.Condition{Field: c.Field, Keyword: c.Value}
	}
	return f
}

// Search implements Store.
func (s *QdrantStore) Search(ctx context.Context, filter tenant.Filter, vector []float32, top int) (_ []ScoredChunk, err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Search")
	defer span.End()
	defer observe(backendQdrant, "search", time.Now(), &err)
	span.SetAttributes(attribute.Int("top", top))

	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection has %d",
			ErrDimensionMismatch, len(vector), s.dimension)
	}
	if top <= 0 {
		return []ScoredChunk{}, nil
	}

	hits, err := s.client.Search(ctx, s.collection, vector, uint64(top), qdrantFilter(filter))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, fmt.Errorf("searching %s: %w", s.collection, err)
	}
	out := make([]ScoredChunk, 0, len(hits))
	for _, h := range hits {
		rec, err := recordFromPayload(h.ID, stringPayload(h.Payload))
		if err != nil {
			return nil, err
		}
		out = append(out, ScoredChunk{ChunkRecord: rec, Score: h.Score})
	}
	span.SetAttributes(attribute.Int("result_count", len(out)))
	return out, nil
}

// Scan implements Store by paging through Scroll until the filter is
// exhausted or the limit is passed.
func (s *QdrantStore) Scan(ctx context.Context, filter tenant.Filter, limit int) (_ []ChunkRecord, err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Scan")
	defer span.End()
	defer observe(backendQdrant, "scan", time.Now(), &err)

	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: scan limit must be positive", ErrInvalidConfig)
	}

	qf := qdrantFilter(filter)
	var (
		out    []ChunkRecord
		offset string
	)
	for {
		page, next, err := s.client.Scroll(ctx, s.collection, qf, scrollPageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("scrolling %s: %w", s.collection, err)
		}
		for _, p := range page {
			rec, err := recordFromPayload(p.ID, stringPayload(p.Payload))
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		if len(out) > limit {
			return nil, fmt.Errorf("%w: more than %d records match", ErrScanLimit, limit)
		}
		if next == "" {
			break
		}
		offset = next
	}
	span.SetAttributes(attribute.Int("result_count", len(out)))
	return out, nil
}

// Delete implements Store.
func (s *QdrantStore) Delete(ctx context.Context, ids []uuid.UUID) (err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Delete")
	defer span.End()
	defer observe(backendQdrant, "delete", time.Now(), &err)
	span.SetAttributes(attribute.Int("id_count", len(ids)))

	if len(ids) == 0 {
		return nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	if err := s.client.Delete(ctx, s.collection, strs); err != nil {
		return fmt.Errorf("deleting %d points: %w", len(ids), err)
	}
	RecordsDeleted.WithLabelValues(backendQdrant).Add(float64(len(ids)))
	return nil
}

// Close implements Store.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func stringPayload(p map[string]interface{}) map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
