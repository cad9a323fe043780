package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/articler/docindex/internal/qdrant"
	"github.com/articler/docindex/internal/tenant"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fakeQdrant is an in-memory qdrant.Client that honours keyword filters
// and pages Scroll results.
type fakeQdrant struct {
	mu         sync.Mutex
	exists     bool
	dimension  uint64
	createErr  error
	upsertErr  error
	points     []*qdrant.Point
	indexes    map[string]qdrant.IndexKind
	createCall int
	scrollCall int
	closed     bool
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{indexes: map[string]qdrant.IndexKind{}}
}

func (f *fakeQdrant) CreateCollection(_ context.Context, _ string, size uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCall++
	if f.createErr != nil {
		return f.createErr
	}
	f.exists, f.dimension = true, size
	return nil
}

func (f *fakeQdrant) CollectionExists(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists, nil
}

func (f *fakeQdrant) CollectionDimension(context.Context, string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dimension, nil
}

func (f *fakeQdrant) CreateFieldIndex(_ context.Context, _ string, field string, kind qdrant.IndexKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexes[field] = kind
	return nil
}

func (f *fakeQdrant) Upsert(_ context.Context, _ string, points []*qdrant.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.points = append(f.points, points...)
	return nil
}

func matches(p *qdrant.Point, filter *qdrant.Filter) bool {
	for _, c := range filter.Must {
		if p.Payload[c.Field] != c.Keyword {
			return false
		}
	}
	return true
}

func (f *fakeQdrant) Search(_ context.Context, _ string, _ []float32, limit uint64, filter *qdrant.Filter) ([]*qdrant.ScoredPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*qdrant.ScoredPoint
	for _, p := range f.points {
		if matches(p, filter) && uint64(len(out)) < limit {
			out = append(out, &qdrant.ScoredPoint{Point: *p, Score: 1 - float32(len(out))*0.1})
		}
	}
	return out, nil
}

func (f *fakeQdrant) Scroll(_ context.Context, _ string, filter *qdrant.Filter, limit uint32, offset string) ([]*qdrant.Point, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scrollCall++
	var all []*qdrant.Point
	for _, p := range f.points {
		if matches(p, filter) {
			all = append(all, p)
		}
	}
	start := 0
	if offset != "" {
		fmt.Sscanf(offset, "%d", &start)
	}
	end := start + int(limit)
	if end >= len(all) {
		return all[start:], "", nil
	}
	return all[start:end], fmt.Sprint(end), nil
}

func (f *fakeQdrant) Delete(_ context.Context, _ string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	drop := map[string]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	kept := f.points[:0]
	for _, p := range f.points {
		if !drop[p.ID] {
			kept = append(kept, p)
		}
	}
	f.points = kept
	return nil
}

func (f *fakeQdrant) Health(context.Context) error { return nil }

func (f *fakeQdrant) Close() error {
	f.closed = true
	return nil
}

func unit(dim int) []float32 {
	v := make([]float32, dim)
	v[0] = 1
	return v
}

func newQdrantTestStore(t *testing.T, fake *fakeQdrant) *QdrantStore {
	t.Helper()
	s, err := NewQdrantStore(fake, "chunks", 4, nil)
	require.NoError(t, err)
	return s
}

func TestQdrantStore_EnsureCollection(t *testing.T) {
	ctx := context.Background()
	fake := newFakeQdrant()
	s := newQdrantTestStore(t, fake)

	require.NoError(t, s.EnsureCollection(ctx))
	require.NoError(t, s.EnsureCollection(ctx))

	assert.Equal(t, 1, fake.createCall)
	assert.Equal(t, uint64(4), fake.dimension)
	assert.Equal(t, qdrant.KeywordIndex, fake.indexes[tenant.FieldUserID])
	assert.Equal(t, qdrant.KeywordIndex, fake.indexes[tenant.FieldProjectID])
	assert.Equal(t, qdrant.KeywordIndex, fake.indexes[tenant.FieldDocumentID])
	assert.Equal(t, qdrant.KeywordIndex, fake.indexes[tenant.FieldTitle])
	assert.Equal(t, qdrant.TextIndex, fake.indexes[tenant.FieldText])
}

func TestQdrantStore_EnsureCollectionToleratesRace(t *testing.T) {
	fake := newFakeQdrant()
	fake.createErr = status.Error(grpccodes.AlreadyExists, "collection exists")
	s := newQdrantTestStore(t, fake)

	assert.NoError(t, s.EnsureCollection(context.Background()))
}

func TestQdrantStore_EnsureCollectionDimensionMismatch(t *testing.T) {
	fake := newFakeQdrant()
	fake.exists, fake.dimension = true, 768
	s := newQdrantTestStore(t, fake)

	err := s.EnsureCollection(context.Background())
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Zero(t, fake.createCall)
}

func TestQdrantStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := newFakeQdrant()
	s := newQdrantTestStore(t, fake)
	require.NoError(t, s.EnsureCollection(ctx))

	project, doc := uuid.New(), uuid.New()
	rec := ChunkRecord{
		ID: uuid.New(), UserID: "alice", ProjectID: project, DocumentID: doc,
		Title: "Guide", Text: "hello", Embedding: unit(4),
	}
	other := rec
	other.ID, other.UserID = uuid.New(), "bob"
	require.NoError(t, s.Upsert(ctx, []ChunkRecord{rec, other}))

	hits, err := s.Search(ctx, tenant.NewFilter("alice", project), unit(4), 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, rec.ID, hits[0].ID)
	assert.Equal(t, "Guide", hits[0].Title)
	assert.Equal(t, "hello", hits[0].Text)
	assert.Equal(t, doc, hits[0].DocumentID)
}

func TestQdrantStore_UpsertError(t *testing.T) {
	fake := newFakeQdrant()
	fake.upsertErr = errors.New("boom")
	s := newQdrantTestStore(t, fake)

	rec := ChunkRecord{ID: uuid.New(), UserID: "a", ProjectID: uuid.New(), DocumentID: uuid.New(), Embedding: unit(4)}
	assert.Error(t, s.Upsert(context.Background(), []ChunkRecord{rec}))
}

func TestQdrantStore_ScanPagesAndCaps(t *testing.T) {
	ctx := context.Background()
	fake := newFakeQdrant()
	s := newQdrantTestStore(t, fake)

	project, doc := uuid.New(), uuid.New()
	recs := make([]ChunkRecord, scrollPageSize*2+10)
	for i := range recs {
		recs[i] = ChunkRecord{
			ID: uuid.New(), UserID: "alice", ProjectID: project, DocumentID: doc,
			Text: "t", Embedding: unit(4),
		}
	}
	require.NoError(t, s.Upsert(ctx, recs))

	filter := tenant.NewFilter("alice", project).WithDocument(doc)
	found, err := s.Scan(ctx, filter, len(recs))
	require.NoError(t, err)
	assert.Len(t, found, len(recs))
	assert.Equal(t, 3, fake.scrollCall)

	_, err = s.Scan(ctx, filter, scrollPageSize)
	assert.ErrorIs(t, err, ErrScanLimit)
}

func TestQdrantStore_Delete(t *testing.T) {
	ctx := context.Background()
	fake := newFakeQdrant()
	s := newQdrantTestStore(t, fake)

	project := uuid.New()
	rec := ChunkRecord{ID: uuid.New(), UserID: "alice", ProjectID: project, DocumentID: uuid.New(), Embedding: unit(4)}
	require.NoError(t, s.Upsert(ctx, []ChunkRecord{rec}))
	require.NoError(t, s.Delete(ctx, []uuid.UUID{rec.ID}))
	require.NoError(t, s.Delete(ctx, nil))

	found, err := s.Scan(ctx, tenant.NewFilter("alice", project), 10)
	require.NoError(t, err)
	assert.Empty(t, found)

	require.NoError(t, s.Close())
	assert.True(t, fake.closed)
}

func TestQdrantStore_CorruptPayload(t *testing.T) {
	fake := newFakeQdrant()
	s := newQdrantTestStore(t, fake)
	project := uuid.New()
	fake.points = []*qdrant.Point{{
		ID: uuid.NewString(),
		Payload: map[string]interface{}{
			tenant.FieldUserID:     "alice",
			tenant.FieldProjectID:  project.String(),
			tenant.FieldDocumentID: "not-a-uuid",
		},
	}}

	_, err := s.Search(context.Background(), tenant.NewFilter("alice", project), unit(4), 1)
	assert.Error(t, err)
}
